package memory

import (
	"errors"
	"sort"
	"sync"

	"settingsd/internal/store"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("memory store closed")

var _ store.Store = (*Store)(nil)

// Store is an in-memory store.Store. Nothing survives the process.
type Store struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
	closed  bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{buckets: make(map[string]map[string][]byte)}
}

func clone(v []byte) []byte {
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

func (s *Store) Get(bucket, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	v, ok := s.buckets[string(bucket)][string(key)]
	if !ok {
		return nil, nil
	}
	return clone(v), nil
}

func (s *Store) Set(bucket, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	b, ok := s.buckets[string(bucket)]
	if !ok {
		b = make(map[string][]byte)
		s.buckets[string(bucket)] = b
	}
	b[string(key)] = clone(value)
	return nil
}

func (s *Store) Delete(bucket, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.buckets[string(bucket)], string(key))
	return nil
}

// ForEach visits keys in byte order over a copy of the bucket, so fn may
// call back into the store.
func (s *Store) ForEach(bucket []byte, fn func(key, value []byte) error) error {
	snap, err := s.Snapshot(bucket)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), snap[k]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Snapshot(bucket []byte) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	b := s.buckets[string(bucket)]
	result := make(map[string][]byte, len(b))
	for k, v := range b {
		result[k] = clone(v)
	}
	return result, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	return nil
}
