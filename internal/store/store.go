package store

// Store is a bucketed key-value storage interface. Settings backends (bbolt,
// TOML preference file, SQLite, memory) implement it so the accessor never
// depends on a concrete engine.
//
// A missing bucket behaves like an empty one: Get returns (nil, nil), Delete
// is a no-op and ForEach visits nothing. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(bucket, key []byte) ([]byte, error)
	Set(bucket, key, value []byte) error
	Delete(bucket, key []byte) error
	ForEach(bucket []byte, fn func(key, value []byte) error) error
	Snapshot(bucket []byte) (map[string][]byte, error)
	Close() error
}
