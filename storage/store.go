// Package storage persists inventory records in bbolt and keeps secondary
// indexes in an in-memory btree.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/armoryx/pkg/inventory"
)

// Bucket names in bbolt
var (
	bucketInstances = []byte("instances")
	bucketVpcs      = []byte("vpcs")
	bucketMeta      = []byte("meta")
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("duplicate key")
)

// Store is the inventory database.
type Store struct {
	mu sync.RWMutex

	// Secondary indexes, rebuilt from disk on open
	index *btree.BTreeG[indexEntry]

	db   *bbolt.DB
	path string

	now func() time.Time
}

// Open opens (or creates) the database file at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketInstances, bucketVpcs, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMeta).Put([]byte("schema_version"), []byte("1"))
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		index: btree.NewG[indexEntry](32, lessEntry),
		db:    db,
		path:  path,
		now:   time.Now,
	}

	if err := s.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("rebuild index: %w", err)
	}

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Ping checks the database file is usable.
func (s *Store) Ping() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketMeta).Get([]byte("schema_version")) == nil {
			return errors.New("storage: schema version missing")
		}
		return nil
	})
}

// Counts returns the number of stored instances and VPCs.
func (s *Store) Counts() (instances, vpcs int, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		instances = tx.Bucket(bucketInstances).Stats().KeyN
		vpcs = tx.Bucket(bucketVpcs).Stats().KeyN
		return nil
	})
	return instances, vpcs, err
}

func (s *Store) rebuildIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.index.Clear(false)

	return s.db.View(func(tx *bbolt.Tx) error {
		err := tx.Bucket(bucketVpcs).ForEach(func(_, v []byte) error {
			var vpc inventory.Vpc
			if err := json.Unmarshal(v, &vpc); err != nil {
				return err
			}
			s.indexVpc(&vpc)
			return nil
		})
		if err != nil {
			return err
		}

		return tx.Bucket(bucketInstances).ForEach(func(_, v []byte) error {
			var in inventory.Instance
			if err := json.Unmarshal(v, &in); err != nil {
				return err
			}
			s.indexInstance(&in)
			return nil
		})
	})
}

func putJSON(b *bbolt.Bucket, pk int64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(itob(pk), data)
}

func getJSON(b *bbolt.Bucket, pk int64, v any) error {
	data := b.Get(itob(pk))
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}
