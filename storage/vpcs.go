package storage

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/yairfalse/armoryx/pkg/inventory"
)

// CreateVpc validates and inserts a single Vpc.
func (s *Store) CreateVpc(v *inventory.Vpc) error {
	return s.CreateVpcs([]*inventory.Vpc{v})
}

// CreateVpcs validates and inserts VPCs atomically. The batch is only
// modified once the transaction has committed.
func (s *Store) CreateVpcs(batch []*inventory.Vpc) error {
	_, _, err := s.writeVpcs(batch, false)
	return err
}

// UpsertVpcs inserts new VPCs and updates existing ones matched by vpc_id in
// one transaction.
func (s *Store) UpsertVpcs(batch []*inventory.Vpc) (created, updated int, err error) {
	return s.writeVpcs(batch, true)
}

type vpcWrite struct {
	v   *inventory.Vpc
	rec inventory.Vpc
	old *inventory.Vpc
}

func (s *Store) writeVpcs(batch []*inventory.Vpc, upsert bool) (created, updated int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(batch))
	for _, v := range batch {
		if err := v.Validate(); err != nil {
			return 0, 0, err
		}
		if seen[v.VpcID] {
			return 0, 0, fmt.Errorf("%w: vpc_id %q", ErrDuplicate, v.VpcID)
		}
		seen[v.VpcID] = true
	}

	writes := make([]vpcWrite, 0, len(batch))
	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketVpcs)

		for _, v := range batch {
			w := vpcWrite{v: v, rec: *v}

			if pks := s.lookup(vpcIDKey(v.VpcID)); len(pks) > 0 {
				if !upsert {
					return fmt.Errorf("%w: vpc_id %q", ErrDuplicate, v.VpcID)
				}
				var old inventory.Vpc
				if err := getJSON(bucket, pks[0], &old); err != nil {
					return fmt.Errorf("vpc %d: %w", pks[0], err)
				}
				w.old = &old
				w.rec.ID = pks[0]
			} else {
				seq, err := bucket.NextSequence()
				if err != nil {
					return err
				}
				w.rec.ID = int64(seq)
			}

			if err := putJSON(bucket, w.rec.ID, &w.rec); err != nil {
				return err
			}
			writes = append(writes, w)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	for _, w := range writes {
		if w.old != nil {
			s.unindexVpc(w.old)
			updated++
		} else {
			created++
		}
		*w.v = w.rec
		s.indexVpc(w.v)
	}
	return created, updated, nil
}

// GetVpc returns the Vpc with primary key pk.
func (s *Store) GetVpc(pk int64) (*inventory.Vpc, error) {
	var v inventory.Vpc
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(bucketVpcs), pk, &v)
	})
	if err != nil {
		return nil, fmt.Errorf("vpc %d: %w", pk, err)
	}
	return &v, nil
}

// VpcByVpcID returns the Vpc with the given cloud vpc id.
func (s *Store) VpcByVpcID(id string) (*inventory.Vpc, error) {
	s.mu.RLock()
	pks := s.lookup(vpcIDKey(id))
	s.mu.RUnlock()

	if len(pks) == 0 {
		return nil, fmt.Errorf("vpc %q: %w", id, ErrNotFound)
	}
	return s.GetVpc(pks[0])
}

// ListVpcs returns all VPCs, highest primary key first.
func (s *Store) ListVpcs() ([]*inventory.Vpc, error) {
	var out []*inventory.Vpc
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketVpcs).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var vpc inventory.Vpc
			if err := json.Unmarshal(v, &vpc); err != nil {
				return err
			}
			out = append(out, &vpc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountVpcsByAccount counts VPCs in account across all regions.
func (s *Store) CountVpcsByAccount(account string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countPrefix("vpc/account_region/" + account + "\x00")
}

// CountVpcsByRegion counts VPCs in region across all accounts.
func (s *Store) CountVpcsByRegion(region string) (int, error) {
	vpcs, err := s.ListVpcs()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, v := range vpcs {
		if v.Region == region {
			n++
		}
	}
	return n, nil
}

// DeleteVpc removes a Vpc. Instances referencing it keep existing with their
// vpc reference cleared, in the same transaction.
func (s *Store) DeleteVpc(pk int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	refs := s.lookup(instanceVpcKey(pk))

	var (
		old      inventory.Vpc
		detached []*inventory.Instance
	)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		vpcs := tx.Bucket(bucketVpcs)
		if err := getJSON(vpcs, pk, &old); err != nil {
			return err
		}

		instances := tx.Bucket(bucketInstances)
		for _, ipk := range refs {
			var in inventory.Instance
			if err := getJSON(instances, ipk, &in); err != nil {
				return fmt.Errorf("instance %d: %w", ipk, err)
			}
			in.VpcPK = nil
			if err := putJSON(instances, ipk, &in); err != nil {
				return err
			}
			detached = append(detached, &in)
		}

		return vpcs.Delete(itob(pk))
	})
	if err != nil {
		return fmt.Errorf("vpc %d: %w", pk, err)
	}

	s.unindexVpc(&old)
	for _, in := range detached {
		s.index.Delete(indexEntry{Key: instanceVpcKey(pk), PK: in.ID})
	}
	return nil
}
