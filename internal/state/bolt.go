package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// stateBucket holds one bbolt key per state entry.
var stateBucket = []byte("state")

// boltOpenTimeout bounds the wait for the file lock held by another process.
const boltOpenTimeout = time.Second

// BoltBackend stores each entry as its own key in a bbolt bucket.
// A flush rewrites the bucket inside one transaction, so it commits fully or not at all.
type BoltBackend struct {
	db *bolt.DB
}

// OpenBoltBackend opens or creates the bbolt database at path.
func OpenBoltBackend(path string) (*BoltBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrStateLoad, path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(stateBucket)
		return err
	})
	if err != nil {
		db.Close() //nolint:errcheck // best-effort cleanup on init failure
		return nil, fmt.Errorf("creating state bucket: %w", err)
	}

	return &BoltBackend{db: db}, nil
}

// Load reads every entry. A value that is not valid JSON makes the whole load fail.
func (b *BoltBackend) Load() (map[string]json.RawMessage, error) {
	values := make(map[string]json.RawMessage)
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(stateBucket)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			if !json.Valid(v) {
				return fmt.Errorf("key %q holds invalid JSON", k)
			}
			// Slices returned by bbolt are only valid inside the transaction.
			values[string(k)] = append(json.RawMessage(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStateLoad, err)
	}
	return values, nil
}

// Save makes the bucket hold exactly values.
func (b *BoltBackend) Save(values map[string]json.RawMessage) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(stateBucket)
		if err != nil {
			return err
		}

		var stale [][]byte
		err = bucket.ForEach(func(k, _ []byte) error {
			if _, keep := values[string(k)]; !keep {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}

		for k, v := range values {
			if err := bucket.Put([]byte(k), v); err != nil {
				return fmt.Errorf("writing %q: %w", k, err)
			}
		}
		return nil
	})
}

// Close closes the database file.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}
