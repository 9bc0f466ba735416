package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"settingsd/internal/logging"
	"settingsd/internal/settings"

	"github.com/BurntSushi/toml"
)

// DefaultPath is the config file read when Load is given no path.
const DefaultPath = "~/.settingsd/config.toml"

type Config struct {
	Settings SettingsConfig `toml:"settings"`
	SSH      SSHConfig      `toml:"ssh"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Logging  LoggingConfig  `toml:"logging"`
}

type SettingsConfig struct {
	Backend string `toml:"backend"` // empty selects the platform default
	App     string `toml:"app"`
	DataDir string `toml:"data_dir"`
	Path    string `toml:"path"` // overrides the backend file location
}

type SSHConfig struct {
	Listen         string `toml:"listen"`
	AuthorizedKeys string `toml:"authorized_keys"` // default: <data_dir>/authorized_keys
}

type MetricsConfig struct {
	Listen string `toml:"listen"` // empty disables the /metrics endpoint
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Environment variables applied over the file by Load.
const (
	EnvBackend  = "SETTINGSD_BACKEND"
	EnvApp      = "SETTINGSD_APP"
	EnvDataDir  = "SETTINGSD_DATA_DIR"
	EnvLogLevel = "SETTINGSD_LOG_LEVEL"
)

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Settings: SettingsConfig{
			App:     "settingsd",
			DataDir: "~/.settingsd",
		},
		SSH: SSHConfig{
			Listen: "127.0.0.1:2222",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a TOML config file over the defaults, then applies environment
// overrides. If path is empty, DefaultPath is used when it exists.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = ExpandHome(DefaultPath)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			cfg.ApplyEnv(os.LookupEnv)
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("parsing config: unknown keys: %s", strings.Join(keys, ", "))
	}

	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvBackend); ok && v != "" {
		c.Settings.Backend = v
	}
	if v, ok := lookup(EnvApp); ok && v != "" {
		c.Settings.App = v
	}
	if v, ok := lookup(EnvDataDir); ok && v != "" {
		c.Settings.DataDir = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
}

// ExpandPaths resolves a leading ~/ in every path field.
func (c *Config) ExpandPaths() {
	c.Settings.DataDir = ExpandHome(c.Settings.DataDir)
	c.Settings.Path = ExpandHome(c.Settings.Path)
	c.SSH.AuthorizedKeys = ExpandHome(c.SSH.AuthorizedKeys)
}

// AuthorizedKeysPath returns the console's authorized_keys file.
func (c *Config) AuthorizedKeysPath() string {
	if c.SSH.AuthorizedKeys != "" {
		return c.SSH.AuthorizedKeys
	}
	return filepath.Join(c.Settings.DataDir, "authorized_keys")
}

// SettingsOptions converts the [settings] section for settings.Open.
// Call Validate first; an unparsable backend is passed through verbatim.
func (c *Config) SettingsOptions() settings.Options {
	b, err := settings.ParseBackend(c.Settings.Backend)
	if err != nil {
		b = settings.Backend(c.Settings.Backend)
	}
	return settings.Options{
		Backend: b,
		App:     c.Settings.App,
		DataDir: c.Settings.DataDir,
		Path:    c.Settings.Path,
	}
}

// Validate reports every invalid field, each error naming its TOML key.
func (c *Config) Validate() error {
	var errs []error

	backend, err := settings.ParseBackend(c.Settings.Backend)
	if err != nil {
		errs = append(errs, fmt.Errorf("settings.backend: unsupported backend %q", c.Settings.Backend))
	}
	if err := settings.ValidateApp(c.Settings.App); err != nil {
		errs = append(errs, fmt.Errorf("settings.app: %w", err))
	}
	if (backend == settings.Bolt || backend == settings.SQLite) && c.Settings.DataDir == "" && c.Settings.Path == "" {
		errs = append(errs, fmt.Errorf("settings.data_dir: required for %s backend", backend))
	}
	if c.SSH.Listen != "" {
		if err := validateListenAddr(c.SSH.Listen); err != nil {
			errs = append(errs, fmt.Errorf("ssh.listen: %w", err))
		}
	}
	if c.Metrics.Listen != "" {
		if err := validateListenAddr(c.Metrics.Listen); err != nil {
			errs = append(errs, fmt.Errorf("metrics.listen: %w", err))
		}
	}
	if !logging.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if !logging.ValidFormat(c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q (want text or json)", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// validateListenAddr requires an explicit host and a numeric port.
func validateListenAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %v", addr, err)
	}
	if host == "" {
		return fmt.Errorf("invalid address %q: missing host", addr)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("invalid address %q: bad port %q", addr, port)
	}
	return nil
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
