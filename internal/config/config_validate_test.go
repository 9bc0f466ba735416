package config

import (
	"strings"
	"testing"
)

const errExpectedValErr = "expected validation error"

func TestConfigValidate_Valid(t *testing.T) {
	cfg := Defaults()
	cfg.Settings.Backend = "bolt"
	cfg.SSH.Listen = "0.0.0.0:2222"
	cfg.Metrics.Listen = "127.0.0.1:9464"
	cfg.Logging.Level = "debug"

	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config should pass validation: %v", err)
	}
}

func TestConfigValidate_EmptyOptionalFields(t *testing.T) {
	cfg := Defaults()
	cfg.SSH.Listen = ""
	cfg.Metrics.Listen = ""
	cfg.Logging.Level = ""
	cfg.Logging.Format = ""

	if err := cfg.Validate(); err != nil {
		t.Errorf("config with empty optional fields should be valid: %v", err)
	}
}

func TestConfigValidate_Backend(t *testing.T) {
	tests := []struct {
		backend string
		wantErr bool
	}{
		{"", false},
		{"bolt", false},
		{"prefs", false},
		{"sqlite", false},
		{"Memory", false},
		{"redis", true},
		{"bolt ", false},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := Defaults()
			cfg.Settings.Backend = tt.backend
			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal(errExpectedValErr)
				}
				if !strings.Contains(err.Error(), "settings.backend") {
					t.Errorf("error should mention 'settings.backend': %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestConfigValidate_App(t *testing.T) {
	for _, app := range []string{"", "bad\napp"} {
		cfg := Defaults()
		cfg.Settings.App = app
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("app %q: %s", app, errExpectedValErr)
		}
		if !strings.Contains(err.Error(), "settings.app") {
			t.Errorf("error should mention 'settings.app': %v", err)
		}
	}
}

func TestConfigValidate_DataDirRequired(t *testing.T) {
	for _, backend := range []string{"bolt", "sqlite"} {
		cfg := Defaults()
		cfg.Settings.Backend = backend
		cfg.Settings.DataDir = ""
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "settings.data_dir") {
			t.Errorf("%s without data dir: got %v", backend, err)
		}

		cfg.Settings.Path = "/explicit/file"
		if err := cfg.Validate(); err != nil {
			t.Errorf("%s with explicit path should be valid: %v", backend, err)
		}
	}

	cfg := Defaults()
	cfg.Settings.Backend = "memory"
	cfg.Settings.DataDir = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("memory backend needs no data dir: %v", err)
	}
}

func TestConfigValidate_InvalidListen(t *testing.T) {
	tests := []struct {
		name   string
		listen string
	}{
		{"missing port", "localhost"},
		{"colon only", ":"},
		{"empty host", ":2222"},
		{"bad port", "127.0.0.1:http"},
		{"port out of range", "127.0.0.1:70000"},
	}
	for _, tt := range tests {
		t.Run("ssh "+tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.SSH.Listen = tt.listen
			err := cfg.Validate()
			if err == nil {
				t.Fatal(errExpectedValErr)
			}
			if !strings.Contains(err.Error(), "ssh.listen") {
				t.Errorf("error should mention 'ssh.listen': %v", err)
			}
		})
		t.Run("metrics "+tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Metrics.Listen = tt.listen
			err := cfg.Validate()
			if err == nil {
				t.Fatal(errExpectedValErr)
			}
			if !strings.Contains(err.Error(), "metrics.listen") {
				t.Errorf("error should mention 'metrics.listen': %v", err)
			}
		})
	}
}

func TestConfigValidate_Logging(t *testing.T) {
	tests := []struct {
		level, format string
		wantSubstr    string
	}{
		{"verbose", "text", "logging.level"},
		{"info", "xml", "logging.format"},
	}
	for _, tt := range tests {
		cfg := Defaults()
		cfg.Logging.Level = tt.level
		cfg.Logging.Format = tt.format
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tt.wantSubstr) {
			t.Errorf("level=%q format=%q: got %v, want mention of %s", tt.level, tt.format, err, tt.wantSubstr)
		}
	}
}

func TestConfigValidate_MultipleErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Settings.Backend = "redis"
	cfg.SSH.Listen = "nope"
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal(errExpectedValErr)
	}
	for _, expected := range []string{"settings.backend", "ssh.listen", "logging.level"} {
		if !strings.Contains(err.Error(), expected) {
			t.Errorf("error should mention %q: %v", expected, err)
		}
	}
}

func TestValidateListenAddr(t *testing.T) {
	valid := []string{"127.0.0.1:2222", "0.0.0.0:0", "[::]:9000", "localhost:8080"}
	for _, addr := range valid {
		if err := validateListenAddr(addr); err != nil {
			t.Errorf("validateListenAddr(%q): unexpected error: %v", addr, err)
		}
	}
}
