// Package kv provides the named-tree key/value abstraction DataFold's
// higher-level components are built on (spec.md §4.1), backed by an
// embedded ordered KV engine (bbolt).
package kv

// Entry is a single key/value pair as returned by a prefix scan.
type Entry struct {
	Key   []byte
	Value []byte
}

// Tree is one logical ordered key/value namespace.
type Tree interface {
	// Get fetches the value stored at key, or (nil, false) if absent.
	Get(key []byte) ([]byte, bool, error)
	// Put persists value at key. The write is durable before Put returns.
	Put(key, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key []byte) error
	// ScanPrefix returns every entry whose key starts with prefix, in
	// lexicographic key order. A nil/empty prefix scans the whole tree.
	ScanPrefix(prefix []byte) ([]Entry, error)
	// ScanRange returns every entry with start <= key <= end, in
	// lexicographic key order. A nil start/end bound is unbounded on that
	// side.
	ScanRange(start, end []byte) ([]Entry, error)
}

// TreeNames enumerates the named trees spec.md §4.1 requires to exist.
var TreeNames = []string{
	"main",
	"metadata",
	"schemas",
	"atoms",
	"atom_refs",
	"transform_state",
	"public_key_registrations",
	"client_key_index",
	"nonces",
}

// Store owns the set of named trees over one embedded database.
type Store interface {
	Tree(name string) (Tree, error)
	Close() error
}
