// Package settings stores, retrieves and removes string settings through a
// backend chosen once at startup.
//
// Callers either build an Accessor around a store.Store they already hold
// (NewAccessor) or let a Registry resolve one from Options (Open). There is
// no global lookup: the Accessor is passed to whoever needs it.
//
//	acc, err := settings.Open(settings.Options{App: "myapp"})
//	if err != nil { ... }
//	defer acc.Close()
//	_ = acc.Store("theme", "dark")
//	v, ok, _ := acc.Retrieve("theme") // "dark", true
//	_ = acc.Remove("theme")
//
// Keys must be non-empty UTF-8 of at most MaxKeySize bytes without NUL or
// newline characters. Values may be any UTF-8 string, including empty.
// Accessors and every built-in backend are safe for concurrent use.
package settings

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxKeySize is the largest key accepted by every backend. It matches bbolt's
// limit so settings can move between backends unchanged.
const MaxKeySize = 32768

var (
	ErrInvalidKey         = errors.New("invalid setting key")
	ErrInvalidValue       = errors.New("invalid setting value")
	ErrUnsupportedBackend = errors.New("unsupported settings backend")
	ErrClosed             = errors.New("settings accessor closed")
)

// Service is the settings contract.
type Service interface {
	// Store persists value under key, overwriting any previous value.
	Store(key, value string) error
	// Retrieve returns the value stored under key. ok is false when no
	// value was ever stored or it has been removed; that is not an error.
	Retrieve(key string) (value string, ok bool, err error)
	// Remove deletes the setting for key. Removing an absent key is a no-op.
	Remove(key string) error
}

// Catalog is a Service that can also enumerate its settings.
type Catalog interface {
	Service
	// List returns every setting sorted by key.
	List() ([]Setting, error)
}

// Setting is a persisted string key-value pair.
type Setting struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// ValidateKey reports whether key may be used as a setting key.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case len(key) > MaxKeySize:
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidKey, len(key), MaxKeySize)
	case !utf8.ValidString(key):
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidKey)
	case strings.ContainsAny(key, "\x00\n\r"):
		return fmt.Errorf("%w: contains NUL or newline", ErrInvalidKey)
	}
	return nil
}

// ValidateValue reports whether value may be stored.
func ValidateValue(value string) error {
	if !utf8.ValidString(value) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidValue)
	}
	return nil
}
