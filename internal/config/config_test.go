package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Server.APIBaseURL = "http://example.test/api"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.Server.APIBaseURL != "http://example.test/api" {
		t.Errorf("APIBaseURL = %q, want %q", loaded.Server.APIBaseURL, "http://example.test/api")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadKeepsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(path, []byte("default_session = \"main\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Server.SocketURL == "" {
		t.Error("SocketURL default lost on partial load")
	}
	if got := cfg.DebounceInterval(); got != 300*time.Millisecond {
		t.Errorf("DebounceInterval() = %v, want 300ms", got)
	}
}

func TestDebounceInterval(t *testing.T) {
	tests := []struct {
		name string
		ms   int
		want time.Duration
	}{
		{"default when zero", 0, 300 * time.Millisecond},
		{"default when negative", -5, 300 * time.Millisecond},
		{"explicit", 150, 150 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Search: Search{DebounceMS: tt.ms}}
			if got := cfg.DebounceInterval(); got != tt.want {
				t.Errorf("DebounceInterval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBackoffBounds(t *testing.T) {
	cfg := &Config{}
	min, max := cfg.BackoffBounds()
	if min != 500*time.Millisecond {
		t.Errorf("min = %v, want 500ms", min)
	}
	if max != 30*time.Second {
		t.Errorf("max = %v, want 30s", max)
	}

	cfg = &Config{Reconnect: Reconnect{MinBackoffMS: 1000, MaxBackoffMS: 100}}
	min, max = cfg.BackoffBounds()
	if max < min {
		t.Errorf("inverted bounds not corrected: min=%v max=%v", min, max)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
