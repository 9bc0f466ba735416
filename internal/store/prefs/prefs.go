// Package prefs stores settings in a single human-editable TOML document,
// the way desktop preference stores keep one file per application.
//
// Each bucket is a TOML table and each key a string entry of that table:
//
//	[myapp]
//	theme = "dark"
//	"window.width" = "1280"
//
// The file is read on every operation and rewritten atomically on every
// mutation, so edits made by other processes between calls are picked up.
// Handles on the same file, in this process or another, serialize their
// read-modify-write cycles through an advisory lock on <file>.lock.
package prefs

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"unicode/utf8"

	"settingsd/internal/logging"
	"settingsd/internal/store"

	"github.com/BurntSushi/toml"
)

var log = logging.For("store.prefs")

// FileName is the document name used by DefaultPath.
const FileName = "settings.toml"

// LockSuffix is appended to the document path to name its lock file.
const LockSuffix = ".lock"

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("prefs store closed")
	// ErrNotText is returned when a key or value is not valid UTF-8.
	ErrNotText = errors.New("prefs store holds UTF-8 text only")
)

var _ store.Store = (*Store)(nil)

type document map[string]map[string]string

// Store implements store.Store on top of a TOML file.
type Store struct {
	path string
	lock *fileLock

	mu     sync.Mutex
	closed bool
}

// DefaultPath returns the per-user preference file for app, under the
// platform's user configuration directory.
func DefaultPath(app string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating user config dir: %w", err)
	}
	return filepath.Join(dir, app, FileName), nil
}

// Open returns a Store backed by the file at path. The file and its parent
// directory are created on the first write. An existing file must parse.
func Open(path string) (*Store, error) {
	s := &Store{path: path, lock: newFileLock(path + LockSuffix)}
	if err := s.locked(false, func() error {
		_, err := s.load()
		return err
	}); err != nil {
		return nil, err
	}
	log.Debug("opened", "path", path)
	return s, nil
}

// Path returns the preference file path.
func (s *Store) Path() string { return s.path }

// locked runs fn under the file lock, exclusive when the caller writes. A
// reader whose directory does not exist yet has nothing to lock.
func (s *Store) locked(exclusive bool, fn func() error) error {
	dir := filepath.Dir(s.path)
	acquire := s.lock.rlock
	if exclusive {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating prefs dir: %w", err)
		}
		acquire = s.lock.lock
	} else if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return fn()
	}
	if err := acquire(); err != nil {
		return fmt.Errorf("locking prefs file: %w", err)
	}
	defer func() { _ = s.lock.unlock() }()
	return fn()
}

func (s *Store) load() (document, error) {
	doc := make(document)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading prefs file: %w", err)
	}
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return nil, fmt.Errorf("parsing prefs file %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *Store) save(doc document) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("encoding prefs: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating prefs dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.toml")
	if err != nil {
		return fmt.Errorf("creating temp prefs file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("writing prefs: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing prefs: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp prefs file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("chmod prefs: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing prefs file: %w", err)
	}
	return nil
}

func (s *Store) Get(bucket, key []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []byte
	err := s.locked(false, func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		if v, ok := doc[string(bucket)][string(key)]; ok {
			out = make([]byte, len(v))
			copy(out, v)
		}
		return nil
	})
	return out, err
}

func (s *Store) Set(bucket, key, value []byte) error {
	if !utf8.Valid(bucket) || !utf8.Valid(key) || !utf8.Valid(value) {
		return ErrNotText
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.locked(true, func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		table, ok := doc[string(bucket)]
		if !ok {
			table = make(map[string]string)
			doc[string(bucket)] = table
		}
		table[string(key)] = string(value)
		return s.save(doc)
	})
}

func (s *Store) Delete(bucket, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.locked(true, func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		table, ok := doc[string(bucket)]
		if !ok {
			return nil
		}
		if _, ok := table[string(key)]; !ok {
			return nil
		}
		delete(table, string(key))
		if len(table) == 0 {
			delete(doc, string(bucket))
		}
		return s.save(doc)
	})
}

// ForEach visits keys in byte order over a copy of the table.
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
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	result := make(map[string][]byte)
	err := s.locked(false, func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		for k, v := range doc[string(bucket)] {
			result[k] = []byte(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
