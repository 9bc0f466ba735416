package settings

import (
	"fmt"
	"sort"
	"sync"

	"settingsd/internal/logging"
	"settingsd/internal/store"
)

var log = logging.For("settings")

var _ Catalog = (*Accessor)(nil)

// Accessor implements Catalog on a store.Store. All of its settings live in
// one bucket named after the application. It keeps no cache; every call goes
// to the backend.
type Accessor struct {
	st      store.Store
	app     string
	bucket  []byte
	backend Backend

	mu     sync.RWMutex
	closed bool
}

// NewAccessor returns an Accessor over st for app. The Accessor owns st and
// closes it on Close.
func NewAccessor(st store.Store, app string) (*Accessor, error) {
	if st == nil {
		return nil, fmt.Errorf("settings: nil store")
	}
	if err := ValidateApp(app); err != nil {
		return nil, err
	}
	return &Accessor{st: st, app: app, bucket: []byte(app)}, nil
}

// ValidateApp reports whether app may name a settings namespace.
func ValidateApp(app string) error {
	if err := ValidateKey(app); err != nil {
		return fmt.Errorf("settings: app name: %w", err)
	}
	return nil
}

// App returns the application namespace.
func (a *Accessor) App() string { return a.app }

// Backend returns the backend the Accessor was opened with, or "" when it was
// built directly with NewAccessor.
func (a *Accessor) Backend() Backend { return a.backend }

func (a *Accessor) Store(key, value string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ValidateValue(value); err != nil {
		return err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	if err := a.st.Set(a.bucket, []byte(key), []byte(value)); err != nil {
		log.Warn("store failed", "app", a.app, "key", key, "err", err)
		return fmt.Errorf("storing %q: %w", key, err)
	}
	log.Debug("stored", "app", a.app, "key", key)
	return nil
}

func (a *Accessor) Retrieve(key string) (string, bool, error) {
	if err := ValidateKey(key); err != nil {
		return "", false, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return "", false, ErrClosed
	}
	val, err := a.st.Get(a.bucket, []byte(key))
	if err != nil {
		log.Warn("retrieve failed", "app", a.app, "key", key, "err", err)
		return "", false, fmt.Errorf("retrieving %q: %w", key, err)
	}
	if val == nil {
		return "", false, nil
	}
	return string(val), true, nil
}

func (a *Accessor) Remove(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	if err := a.st.Delete(a.bucket, []byte(key)); err != nil {
		log.Warn("remove failed", "app", a.app, "key", key, "err", err)
		return fmt.Errorf("removing %q: %w", key, err)
	}
	log.Debug("removed", "app", a.app, "key", key)
	return nil
}

func (a *Accessor) List() ([]Setting, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, ErrClosed
	}
	snap, err := a.st.Snapshot(a.bucket)
	if err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	out := make([]Setting, 0, len(snap))
	for k, v := range snap {
		out = append(out, Setting{Key: k, Value: string(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close releases the backend. Later calls return ErrClosed.
func (a *Accessor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.st.Close()
}
