package storage

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/yairfalse/armoryx/pkg/inventory"
)

// indexEntry maps a secondary key to a primary key. Entries sharing a key are
// ordered by primary key.
type indexEntry struct {
	Key string
	PK  int64
}

func lessEntry(a, b indexEntry) bool {
	if a.Key != b.Key {
		return a.Key < b.Key
	}
	return a.PK < b.PK
}

const createTimeLayout = "2006-01-02T15:04:05.000000000"

func instanceIDKey(id string) string { return "instance/instance_id/" + id }

func instanceAccountRegionKey(account, region string) string {
	return "instance/account_region/" + account + "\x00" + region
}

func instanceStateKey(state inventory.State) string { return "instance/state/" + string(state) }

func instanceCreateTimeKey(t time.Time) string {
	return "instance/create_time/" + t.UTC().Format(createTimeLayout)
}

func instanceVpcKey(vpcPK int64) string { return fmt.Sprintf("instance/vpc/%020d", vpcPK) }

func vpcIDKey(id string) string { return "vpc/vpc_id/" + id }

func vpcAccountRegionKey(account, region string) string {
	return "vpc/account_region/" + account + "\x00" + region
}

func instanceKeys(in *inventory.Instance) []string {
	keys := []string{
		instanceIDKey(in.InstanceID),
		instanceAccountRegionKey(in.Account, in.Region),
		instanceStateKey(in.State),
		instanceCreateTimeKey(in.CreateTime),
	}
	if in.VpcPK != nil {
		keys = append(keys, instanceVpcKey(*in.VpcPK))
	}
	return keys
}

func vpcKeys(v *inventory.Vpc) []string {
	return []string{vpcIDKey(v.VpcID), vpcAccountRegionKey(v.Account, v.Region)}
}

// Callers hold s.mu for writing.
func (s *Store) indexInstance(in *inventory.Instance) {
	for _, k := range instanceKeys(in) {
		s.index.ReplaceOrInsert(indexEntry{Key: k, PK: in.ID})
	}
}

func (s *Store) unindexInstance(in *inventory.Instance) {
	for _, k := range instanceKeys(in) {
		s.index.Delete(indexEntry{Key: k, PK: in.ID})
	}
}

func (s *Store) indexVpc(v *inventory.Vpc) {
	for _, k := range vpcKeys(v) {
		s.index.ReplaceOrInsert(indexEntry{Key: k, PK: v.ID})
	}
}

func (s *Store) unindexVpc(v *inventory.Vpc) {
	for _, k := range vpcKeys(v) {
		s.index.Delete(indexEntry{Key: k, PK: v.ID})
	}
}

// lookup returns the primary keys stored under exactly key. Callers hold s.mu.
func (s *Store) lookup(key string) []int64 {
	var pks []int64
	s.index.AscendGreaterOrEqual(indexEntry{Key: key, PK: math.MinInt64}, func(e indexEntry) bool {
		if e.Key != key {
			return false
		}
		pks = append(pks, e.PK)
		return true
	})
	return pks
}

// countPrefix counts entries whose key starts with prefix. Callers hold s.mu.
func (s *Store) countPrefix(prefix string) int {
	n := 0
	s.index.AscendGreaterOrEqual(indexEntry{Key: prefix, PK: math.MinInt64}, func(e indexEntry) bool {
		if !strings.HasPrefix(e.Key, prefix) {
			return false
		}
		n++
		return true
	})
	return n
}

// descendPrefix walks keys with prefix from highest to lowest. Callers hold s.mu.
func (s *Store) descendPrefix(prefix string, fn func(indexEntry) bool) {
	// "\xff" sorts after every byte that can follow the prefix in our keys
	upper := indexEntry{Key: prefix + "\xff", PK: math.MinInt64}
	s.index.DescendLessOrEqual(upper, func(e indexEntry) bool {
		if !strings.HasPrefix(e.Key, prefix) {
			return false
		}
		return fn(e)
	})
}
