// Package stats implements the per-cache-dir statistics counters: one
// monotonically-incrementing counter per codes.StatKind, persisted in
// a bbolt database, read by --show-stats/--print-stats and cleared by
// --zero-stats.
package stats

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/cacheline/ccwrap/internal/codes"
)

const (
	dbFileName = "stats.db"
	bucketName = "counters"
)

// Store is a bbolt-backed counter table keyed by codes.StatKind.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if needed) the stats database under cacheDir.
func Open(cacheDir string) (*Store, error) {
	path := filepath.Join(cacheDir, dbFileName)
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("stats: opening %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("stats: creating bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func keyFor(k codes.StatKind) []byte {
	return []byte(fmt.Sprintf("stat:%d", k))
}

// Increment bumps the counter for k by one, per-invocation called
// exactly once by the orchestrator with whichever outcome it settled
// on.
func (s *Store) Increment(k codes.StatKind) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		key := keyFor(k)
		cur := decodeCount(b.Get(key))
		return b.Put(key, encodeCount(cur+1))
	})
}

// Get returns the current counter value for k.
func (s *Store) Get(k codes.StatKind) (uint64, error) {
	var v uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		v = decodeCount(b.Get(keyFor(k)))
		return nil
	})
	return v, err
}

// All returns the current value of every StatKind listed by
// codes.AllStatKinds, as an unordered map, for
// --show-stats/--print-stats.
func (s *Store) All() (map[codes.StatKind]uint64, error) {
	out := make(map[codes.StatKind]uint64, len(codes.AllStatKinds()))
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		for _, k := range codes.AllStatKinds() {
			out[k] = decodeCount(b.Get(keyFor(k)))
		}
		return nil
	})
	return out, err
}

// Zero resets every counter to zero, for --zero-stats.
func (s *Store) Zero() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketName)); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket([]byte(bucketName))
		return err
	})
}

func encodeCount(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func decodeCount(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
