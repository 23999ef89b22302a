package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatd/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	Server    Server    `toml:"server"`
	Search    Search    `toml:"search"`
	Reconnect Reconnect `toml:"reconnect"`
}

// Server holds the messaging backend endpoints.
type Server struct {
	// APIBaseURL is the HTTP base URL of the message store, e.g.
	// "http://localhost:3001/api".
	APIBaseURL string `toml:"api_base_url"`
	// SocketURL is the websocket endpoint for the live transport, e.g.
	// "ws://localhost:3001/ws".
	SocketURL string `toml:"socket_url"`
}

// Search tunes the user-search collaborator.
type Search struct {
	// DebounceMS is the trailing-edge debounce applied to search queries.
	DebounceMS int `toml:"debounce_ms"`
}

// Reconnect bounds the transport reconnect backoff.
type Reconnect struct {
	MinBackoffMS int `toml:"min_backoff_ms"`
	MaxBackoffMS int `toml:"max_backoff_ms"`
}

// Default returns a config with usable local-development values.
func Default() *Config {
	return &Config{
		Server: Server{
			APIBaseURL: "http://localhost:3001/api",
			SocketURL:  "ws://localhost:3001/ws",
		},
		Search:    Search{DebounceMS: 300},
		Reconnect: Reconnect{MinBackoffMS: 500, MaxBackoffMS: 30000},
	}
}

// DebounceInterval returns the search debounce as a duration, falling back to
// 300ms when unset.
func (c *Config) DebounceInterval() time.Duration {
	if c.Search.DebounceMS <= 0 {
		return 300 * time.Millisecond
	}
	return time.Duration(c.Search.DebounceMS) * time.Millisecond
}

// BackoffBounds returns the reconnect backoff window, with defaults for
// unset or inverted values.
func (c *Config) BackoffBounds() (min, max time.Duration) {
	min = time.Duration(c.Reconnect.MinBackoffMS) * time.Millisecond
	max = time.Duration(c.Reconnect.MaxBackoffMS) * time.Millisecond
	if min <= 0 {
		min = 500 * time.Millisecond
	}
	if max < min {
		max = 30 * time.Second
	}
	return min, max
}

// Load reads config from the given path. Returns error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
