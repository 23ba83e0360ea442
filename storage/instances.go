package storage

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/yairfalse/armoryx/pkg/inventory"
)

// CreateInstance validates and inserts a single instance.
func (s *Store) CreateInstance(in *inventory.Instance) error {
	return s.CreateInstances([]*inventory.Instance{in})
}

// CreateInstances validates and inserts instances atomically. Primary keys
// are assigned; a zero CreateTime is set to the current time. The batch is
// only modified once the transaction has committed.
func (s *Store) CreateInstances(batch []*inventory.Instance) error {
	_, _, err := s.writeInstances(batch, false)
	return err
}

// UpdateInstance rewrites an existing instance. CreateTime is immutable and
// always kept from the stored record.
func (s *Store) UpdateInstance(in *inventory.Instance) error {
	if err := in.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateInstanceLocked(in)
}

func (s *Store) updateInstanceLocked(in *inventory.Instance) error {
	for _, pk := range s.lookup(instanceIDKey(in.InstanceID)) {
		if pk != in.ID {
			return fmt.Errorf("%w: instance_id %q", ErrDuplicate, in.InstanceID)
		}
	}

	var old inventory.Instance
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketInstances)
		if err := getJSON(bucket, in.ID, &old); err != nil {
			return fmt.Errorf("instance %d: %w", in.ID, err)
		}
		if err := checkVpcRef(tx.Bucket(bucketVpcs), in.VpcPK); err != nil {
			return err
		}
		in.CreateTime = old.CreateTime
		return putJSON(bucket, in.ID, in)
	})
	if err != nil {
		return err
	}

	s.unindexInstance(&old)
	s.indexInstance(in)
	return nil
}

// UpsertInstances inserts new instances and updates existing ones matched by
// instance_id in one transaction. It returns how many were created and
// updated. CreateTime of existing instances is kept.
func (s *Store) UpsertInstances(batch []*inventory.Instance) (created, updated int, err error) {
	return s.writeInstances(batch, true)
}

// instanceWrite is one pending write: the caller's record, the version to
// store and, for updates, the version it replaces.
type instanceWrite struct {
	in  *inventory.Instance
	rec inventory.Instance
	old *inventory.Instance
}

// writeInstances stores batch in a single bbolt transaction. Existing
// instance_ids are updated when upsert is set and rejected otherwise.
func (s *Store) writeInstances(batch []*inventory.Instance, upsert bool) (created, updated int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make([]inventory.Instance, len(batch))
	seen := make(map[string]bool, len(batch))
	for i, in := range batch {
		recs[i] = *in
		if err := recs[i].Validate(); err != nil {
			return 0, 0, err
		}
		if seen[in.InstanceID] {
			return 0, 0, fmt.Errorf("%w: instance_id %q", ErrDuplicate, in.InstanceID)
		}
		seen[in.InstanceID] = true
	}

	now := s.now()
	writes := make([]instanceWrite, 0, len(batch))
	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketInstances)
		vpcs := tx.Bucket(bucketVpcs)

		for i, in := range batch {
			w := instanceWrite{in: in, rec: recs[i]}

			if pks := s.lookup(instanceIDKey(in.InstanceID)); len(pks) > 0 {
				if !upsert {
					return fmt.Errorf("%w: instance_id %q", ErrDuplicate, in.InstanceID)
				}
				var old inventory.Instance
				if err := getJSON(bucket, pks[0], &old); err != nil {
					return fmt.Errorf("instance %d: %w", pks[0], err)
				}
				w.old = &old
				w.rec.ID = pks[0]
				w.rec.CreateTime = old.CreateTime
			} else {
				seq, err := bucket.NextSequence()
				if err != nil {
					return err
				}
				w.rec.ID = int64(seq)
				if w.rec.CreateTime.IsZero() {
					w.rec.CreateTime = now
				}
			}

			if err := checkVpcRef(vpcs, w.rec.VpcPK); err != nil {
				return err
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
			s.unindexInstance(w.old)
			updated++
		} else {
			created++
		}
		*w.in = w.rec
		s.indexInstance(w.in)
	}
	return created, updated, nil
}

// GetInstance returns the instance with primary key pk.
func (s *Store) GetInstance(pk int64) (*inventory.Instance, error) {
	var in inventory.Instance
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(bucketInstances), pk, &in)
	})
	if err != nil {
		return nil, fmt.Errorf("instance %d: %w", pk, err)
	}
	return &in, nil
}

// InstanceByInstanceID returns the instance with the given cloud instance id.
func (s *Store) InstanceByInstanceID(id string) (*inventory.Instance, error) {
	s.mu.RLock()
	pks := s.lookup(instanceIDKey(id))
	s.mu.RUnlock()

	if len(pks) == 0 {
		return nil, fmt.Errorf("instance %q: %w", id, ErrNotFound)
	}
	return s.GetInstance(pks[0])
}

// ListInstances returns all instances, newest create_time first.
func (s *Store) ListInstances() ([]*inventory.Instance, error) {
	s.mu.RLock()
	var pks []int64
	s.descendPrefix("instance/create_time/", func(e indexEntry) bool {
		pks = append(pks, e.PK)
		return true
	})
	s.mu.RUnlock()

	return s.instancesByPK(pks)
}

// InstancesByVpc returns the instances referencing the Vpc with primary key vpcPK.
func (s *Store) InstancesByVpc(vpcPK int64) ([]*inventory.Instance, error) {
	s.mu.RLock()
	pks := s.lookup(instanceVpcKey(vpcPK))
	s.mu.RUnlock()

	return s.instancesByPK(pks)
}

// CountInstancesByAccount counts instances in account across all regions.
func (s *Store) CountInstancesByAccount(account string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countPrefix("instance/account_region/" + account + "\x00")
}

// CountInstancesByState counts instances in state.
func (s *Store) CountInstancesByState(state inventory.State) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lookup(instanceStateKey(state)))
}

// DeleteInstance removes the instance with primary key pk.
func (s *Store) DeleteInstance(pk int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var old inventory.Instance
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketInstances)
		if err := getJSON(bucket, pk, &old); err != nil {
			return err
		}
		return bucket.Delete(itob(pk))
	})
	if err != nil {
		return fmt.Errorf("instance %d: %w", pk, err)
	}

	s.unindexInstance(&old)
	return nil
}

func (s *Store) instancesByPK(pks []int64) ([]*inventory.Instance, error) {
	out := make([]*inventory.Instance, 0, len(pks))
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketInstances)
		for _, pk := range pks {
			data := bucket.Get(itob(pk))
			if data == nil {
				// deleted between index read and this transaction
				continue
			}
			var in inventory.Instance
			if err := json.Unmarshal(data, &in); err != nil {
				return fmt.Errorf("decode instance %d: %w", pk, err)
			}
			out = append(out, &in)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func checkVpcRef(vpcs *bbolt.Bucket, pk *int64) error {
	if pk == nil {
		return nil
	}
	if vpcs.Get(itob(*pk)) == nil {
		return fmt.Errorf("%w: vpc %d does not exist", inventory.ErrValidation, *pk)
	}
	return nil
}
