package bolt

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"settingsd/internal/logging"

	bolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
)

var log = logging.For("store.bolt")

// MaxKeySize is the largest key bbolt accepts.
const MaxKeySize = bolt.MaxKeySize

// lockTimeout bounds how long Open waits for another process holding the file lock.
const lockTimeout = time.Second

// ErrLocked is returned by Open when another handle, usually a running
// settingsd serve, holds the database file.
var ErrLocked = errors.New("bolt db is locked by another process")

// Store implements store.Store using bbolt (embedded B+ tree).
type Store struct {
	db   *bolt.DB
	path string
}

// Open creates or opens a bbolt database at the given path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: lockTimeout})
	if errors.Is(err, berrors.ErrTimeout) {
		return nil, fmt.Errorf("opening bolt db %s: %w", path, ErrLocked)
	}
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}
	log.Debug("opened", "path", path)
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Get returns a copy of the value under key, or nil if the key or bucket
// does not exist. A stored empty value comes back as a non-nil empty slice.
func (s *Store) Get(bucket, key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		k, v := b.Cursor().Seek(key)
		if k == nil || !bytes.Equal(k, key) || v == nil {
			return nil
		}
		val = make([]byte, len(v))
		copy(val, v)
		return nil
	})
	return val, err
}

func (s *Store) Set(bucket, key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucket)
		if err != nil {
			return fmt.Errorf("creating bucket: %w", err)
		}
		if value == nil {
			value = []byte{}
		}
		return b.Put(key, value)
	})
}

func (s *Store) Delete(bucket, key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		return b.Delete(key)
	})
}

// ForEach calls fn for every key in bucket in byte order. key and value are
// only valid for the duration of the call.
func (s *Store) ForEach(bucket []byte, fn func(key, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		return b.ForEach(fn)
	})
}

func (s *Store) Snapshot(bucket []byte) (map[string][]byte, error) {
	result := make(map[string][]byte)
	err := s.ForEach(bucket, func(k, v []byte) error {
		val := make([]byte, len(v))
		copy(val, v)
		result[string(k)] = val
		return nil
	})
	return result, err
}

func (s *Store) Close() error {
	log.Debug("closing", "path", s.path)
	return s.db.Close()
}
