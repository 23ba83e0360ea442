package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "armoryx",
		Short: "Cloud inventory admin",
		Long: `armoryx - cloud inventory admin

armoryx keeps an inventory of cloud instances and VPCs and serves an admin
API over it: filtered exports to JSON, Excel and CSV, read-only detail
fragments and a changelist API. Inventory can be generated for demos or
synced from AWS.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`armoryx {{.Version}} - cloud inventory admin
`)
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to the YAML config file")

	root.AddCommand(
		newServeCmd(a),
		newGenerateCmd(a),
		newSyncCmd(a),
		newExportCmd(a),
	)
	return root
}

// Execute runs the root command
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
