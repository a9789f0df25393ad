// Package cachedir implements the on-disk cache layout:
// <cache_dir>/<hex0>/<hex1>/<rest>.{manifest,result}, the CACHEDIR.TAG
// marker, and a per-hex0-directory file/byte counter that the stores
// add to on every write and internal/janitor subtracts from on
// eviction.
package cachedir

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/cacheline/ccwrap/internal/digest"
)

// cacheDirTag is the standard Cache Directory Tagging Specification
// signature, written once per cache_dir so backup tools skip it.
const cacheDirTag = "Signature: 8a477f597d28d172789f06886806bc55\n" +
	"# This file is a cache directory tag created by ccwrap.\n" +
	"# For information about cache directory tags, see:\n" +
	"#\thttp://www.brynosaurus.com/cachedir/\n"

const counterFileName = ".ccwrap-counter.bolt"
const counterBucket = "counters"

var counterKeyFiles = []byte("files")
var counterKeyBytes = []byte("bytes")

// EnsureTag writes CACHEDIR.TAG under cacheDir if it isn't already
// present.
func EnsureTag(cacheDir string) error {
	tagPath := filepath.Join(cacheDir, "CACHEDIR.TAG")
	if _, err := os.Stat(tagPath); err == nil {
		return nil
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("cachedir: create %s: %w", cacheDir, err)
	}
	return os.WriteFile(tagPath, []byte(cacheDirTag), 0o644)
}

// ShardDirs splits a digest into its hex0/hex1 shard directory
// components.
func ShardDirs(d digest.Digest) (hex0, hex1 string) {
	s := d.String()
	return s[0:2], s[2:4]
}

// PathFor returns the on-disk path for a cache object of the given
// extension ("manifest" or "result"), relative to cacheDir.
func PathFor(cacheDir string, d digest.Digest, ext string) string {
	s := d.String()
	hex0, hex1 := s[0:2], s[2:4]
	rest := s[4:]
	return filepath.Join(cacheDir, hex0, hex1, rest+"."+ext)
}

// EnsureShardDir makes sure the hex0/hex1 directories for d exist
// under cacheDir.
func EnsureShardDir(cacheDir string, d digest.Digest) (string, error) {
	hex0, hex1 := ShardDirs(d)
	dir := filepath.Join(cacheDir, hex0, hex1)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("cachedir: mkdir %s: %w", dir, err)
	}
	return dir, nil
}

// Counter tracks file-count and byte-size totals for one hex0 shard,
// backed by a small bbolt database so reads don't require walking the
// shard's two directory levels.
type Counter struct {
	db *bbolt.DB
}

// OpenCounter opens (creating if needed) the counter database for the
// hex0 shard directory under cacheDir.
func OpenCounter(cacheDir, hex0 string) (*Counter, error) {
	dir := filepath.Join(cacheDir, hex0)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cachedir: mkdir %s: %w", dir, err)
	}
	db, err := bbolt.Open(filepath.Join(dir, counterFileName), 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("cachedir: open counter db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(counterBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Counter{db: db}, nil
}

// Close closes the counter database.
func (c *Counter) Close() error {
	return c.db.Close()
}

// Add adjusts the shard's running file-count and byte-size totals by
// deltaFiles/deltaBytes (either may be negative, e.g. on eviction).
func (c *Counter) Add(deltaFiles int64, deltaBytes int64) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(counterBucket))
		if err := addInt64(b, counterKeyFiles, deltaFiles); err != nil {
			return err
		}
		return addInt64(b, counterKeyBytes, deltaBytes)
	})
}

// Totals returns the shard's current (files, bytes) totals.
func (c *Counter) Totals() (files int64, bytes int64, err error) {
	err = c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(counterBucket))
		files = readInt64(b, counterKeyFiles)
		bytes = readInt64(b, counterKeyBytes)
		return nil
	})
	return files, bytes, err
}

func addInt64(b *bbolt.Bucket, key []byte, delta int64) error {
	cur := readInt64(b, key)
	next := cur + delta
	if next < 0 {
		next = 0
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(next))
	return b.Put(key, buf)
}

func readInt64(b *bbolt.Bucket, key []byte) int64 {
	v := b.Get(key)
	if len(v) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(v))
}

// IsCounterFile reports whether name is the counter database file, so
// directory walks (janitor, recompress) can skip it.
func IsCounterFile(name string) bool {
	return name == counterFileName
}

// RecordWrite signals a cache-file write to the owning shard's
// counters: +1 file when the write created a new path, plus the byte
// delta versus what the path held before. Best-effort: a counter that
// can't be opened (e.g. lock contention from a concurrent invocation)
// just loses one delta, and the next janitor walk re-derives truth.
func RecordWrite(cacheDir string, d digest.Digest, newFile bool, deltaBytes int64) {
	hex0, _ := ShardDirs(d)
	c, err := OpenCounter(cacheDir, hex0)
	if err != nil {
		return
	}
	defer c.Close()
	var deltaFiles int64
	if newFile {
		deltaFiles = 1
	}
	c.Add(deltaFiles, deltaBytes)
}

// RecordRemove signals a cache-file deletion to the owning shard's
// counters. Best-effort, same as RecordWrite.
func RecordRemove(cacheDir string, d digest.Digest, freedBytes int64) {
	hex0, _ := ShardDirs(d)
	c, err := OpenCounter(cacheDir, hex0)
	if err != nil {
		return
	}
	defer c.Close()
	c.Add(-1, -freedBytes)
}
