package kv

import (
	"bytes"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// BoltStore implements Store using bbolt, one bucket per named tree. It
// mirrors the teacher's BoltStore: open-then-create-buckets-up-front, then
// db.Update/db.View per operation so every write is fsynced before the call
// returns (spec.md §4.1 durability requirement).
type BoltStore struct {
	db *bolt.DB
}

// Open creates (or reopens) a BoltStore rooted at dataDir/datafold.db,
// ensuring every tree in TreeNames exists as a bucket.
func Open(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "datafold.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("kv: failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range TreeNames {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("kv: failed to create tree %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Tree returns a handle onto the named bucket.
func (s *BoltStore) Tree(name string) (Tree, error) {
	found := false
	for _, n := range TreeNames {
		if n == name {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("kv: unknown tree %q", name)
	}
	return &boltTree{db: s.db, name: []byte(name)}, nil
}

type boltTree struct {
	db   *bolt.DB
	name []byte
}

func (t *boltTree) Get(key []byte) ([]byte, bool, error) {
	var value []byte
	err := t.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(t.name)
		v := b.Get(key)
		if v == nil {
			return nil
		}
		value = make([]byte, len(v))
		copy(value, v)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, value != nil, nil
}

func (t *boltTree) Put(key, value []byte) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(t.name)
		return b.Put(key, value)
	})
}

func (t *boltTree) Delete(key []byte) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(t.name)
		return b.Delete(key)
	})
}

func (t *boltTree) ScanPrefix(prefix []byte) ([]Entry, error) {
	var entries []Entry
	err := t.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(t.name).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			entries = append(entries, copyEntry(k, v))
		}
		return nil
	})
	return entries, err
}

func (t *boltTree) ScanRange(start, end []byte) ([]Entry, error) {
	var entries []Entry
	err := t.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(t.name).Cursor()
		var k, v []byte
		if start == nil {
			k, v = c.First()
		} else {
			k, v = c.Seek(start)
		}
		for ; k != nil; k, v = c.Next() {
			if end != nil && bytes.Compare(k, end) > 0 {
				break
			}
			entries = append(entries, copyEntry(k, v))
		}
		return nil
	})
	return entries, err
}

func copyEntry(k, v []byte) Entry {
	key := make([]byte, len(k))
	copy(key, k)
	val := make([]byte, len(v))
	copy(val, v)
	return Entry{Key: key, Value: val}
}
