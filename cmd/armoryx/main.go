// armoryx - cloud inventory admin
// Export. Inspect. Sync.
package main

func main() {
	Execute()
}
