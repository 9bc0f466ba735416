package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"settingsd/internal/store"
	"settingsd/internal/store/memory"
	"settingsd/internal/store/prefs"
)

// Backend names a persistence backend.
type Backend string

const (
	// Bolt keeps settings in an embedded bbolt database file. bbolt locks
	// the file exclusively while open, so a second process (a CLI call
	// during settingsd serve) fails after a second with bolt.ErrLocked.
	Bolt Backend = "bolt"
	// Prefs keeps settings in a per-user TOML preference file. Processes
	// sharing the file take turns through an advisory lock.
	Prefs Backend = "prefs"
	// SQLite keeps settings in a SQLite database file; concurrent
	// processes are serialized by SQLite itself.
	SQLite Backend = "sqlite"
	// Memory keeps settings in process memory only.
	Memory Backend = "memory"
)

func (b Backend) String() string { return string(b) }

// ParseBackend maps a configuration string to a Backend. The empty string
// selects DefaultBackend.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return DefaultBackend(), nil
	case Bolt, Prefs, SQLite, Memory:
		return b, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedBackend, s)
	}
}

// File names used under Options.DataDir.
const (
	BoltFile   = "settings.db"
	SQLiteFile = "settings.sqlite"
)

// Options selects and locates a backend.
type Options struct {
	// Backend to open. Empty means DefaultBackend().
	Backend Backend
	// App is the namespace all settings are stored under.
	App string
	// DataDir holds the bolt and sqlite database files.
	DataDir string
	// Path overrides the backend file location derived from DataDir or,
	// for prefs, from the user config directory.
	Path string
}

// Opener opens the store.Store behind a backend.
type Opener func(opts Options) (store.Store, error)

// Registry maps backends to openers. The zero value is not usable; start
// from NewRegistry or DefaultRegistry.
type Registry struct {
	mu      sync.RWMutex
	openers map[Backend]Opener
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{openers: make(map[Backend]Opener)}
}

// DefaultRegistry returns a Registry holding every backend built for the
// current platform.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Memory, openMemory)
	r.Register(Prefs, openPrefs)
	registerPlatformBackends(r)
	return r
}

// Register installs o for b, replacing any previous opener.
func (r *Registry) Register(b Backend, o Opener) {
	if o == nil {
		panic("settings: Register called with nil opener for " + string(b))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openers[b] = o
}

// Lookup returns the opener for b. ok is false when no implementation is
// registered for b on this platform.
func (r *Registry) Lookup(b Backend) (Opener, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.openers[b]
	return o, ok
}

// Backends lists registered backends sorted by name.
func (r *Registry) Backends() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Backend, 0, len(r.openers))
	for b := range r.openers {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Open resolves opts.Backend and wraps the opened store in an Accessor.
func (r *Registry) Open(opts Options) (*Accessor, error) {
	if opts.Backend == "" {
		opts.Backend = DefaultBackend()
	}
	if err := ValidateApp(opts.App); err != nil {
		return nil, err
	}
	open, ok := r.Lookup(opts.Backend)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, opts.Backend)
	}
	st, err := open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening %s backend: %w", opts.Backend, err)
	}
	acc, err := NewAccessor(st, opts.App)
	if err != nil {
		st.Close()
		return nil, err
	}
	acc.backend = opts.Backend
	log.Info("settings opened", "backend", opts.Backend, "app", opts.App)
	return acc, nil
}

// Open is DefaultRegistry().Open(opts).
func Open(opts Options) (*Accessor, error) {
	return DefaultRegistry().Open(opts)
}

func openMemory(Options) (store.Store, error) {
	return memory.New(), nil
}

func openPrefs(opts Options) (store.Store, error) {
	path := opts.Path
	if path == "" {
		var err error
		if path, err = prefs.DefaultPath(opts.App); err != nil {
			return nil, err
		}
	}
	return prefs.Open(path)
}

// dataFile resolves the database file for file-backed backends, creating the
// data directory when needed.
func dataFile(opts Options, name string) (string, error) {
	path := opts.Path
	if path == "" {
		if opts.DataDir == "" {
			return "", fmt.Errorf("data dir required for %s backend", opts.Backend)
		}
		path = filepath.Join(opts.DataDir, name)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("creating data dir: %w", err)
	}
	return path, nil
}
