// Package config loads and persists the application configuration from
// the platform config directory.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/codefionn/deskbridge/internal/remote"
	"github.com/codefionn/deskbridge/internal/tokenstore"
)

// Config represents application configuration
type Config struct {
	// ServerURL is the backend origin for remote mode
	ServerURL string `json:"server_url"`
	// TokenPath overrides the token slot location; empty uses the default
	// state directory
	TokenPath string `json:"token_path,omitempty"`
	// ConnectTimeoutSeconds bounds the pre-flight and the socket dial
	ConnectTimeoutSeconds int `json:"connect_timeout_seconds"`
	// RequestTimeoutSeconds is the fixed per-request expiry
	RequestTimeoutSeconds int `json:"request_timeout_seconds"`
	// ReconnectDelaySeconds is the backoff base between reconnect attempts
	ReconnectDelaySeconds int `json:"reconnect_delay_seconds"`
	// ReconnectMaxDelaySeconds caps the backoff
	ReconnectMaxDelaySeconds int `json:"reconnect_max_delay_seconds"`
	// LogLevel is one of debug, info, warn, error, none
	LogLevel string `json:"log_level"`
	// LogPath is the log file location; empty disables file logging.
	// Defaults to a file in the state directory, overridable by flag.
	LogPath string `json:"-"`

	path string
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		ServerURL:                "http://127.0.0.1:8936",
		ConnectTimeoutSeconds:    10,
		RequestTimeoutSeconds:    30,
		ReconnectDelaySeconds:    2,
		ReconnectMaxDelaySeconds: 30,
		LogLevel:                 "info",
		LogPath:                  DefaultLogPath(),
	}
}

// DefaultLogPath returns the default log file location in the state
// directory
func DefaultLogPath() string {
	if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
		return filepath.Join(stateHome, "deskbridge", "deskbridge.log")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".local", "state", "deskbridge", "deskbridge.log")
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "deskbridge")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "deskbridge")
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, "deskbridge")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "deskbridge")
	}
}

// DefaultPath returns the default config file location
func DefaultPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

// Load reads the configuration at path, falling back to defaults for a
// missing file. An empty path uses the default location.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration back to its file
func (c *Config) Save() error {
	path := c.path
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ResolvedTokenPath returns the token slot location for this config
func (c *Config) ResolvedTokenPath() string {
	if c.TokenPath != "" {
		return c.TokenPath
	}
	return tokenstore.DefaultPath()
}

// RemoteConfig maps the persisted settings onto the connection config
func (c *Config) RemoteConfig() *remote.Config {
	rc := remote.DefaultConfig()
	if c.ServerURL != "" {
		rc.BaseURL = strings.TrimSuffix(c.ServerURL, "/")
	}
	if c.ConnectTimeoutSeconds > 0 {
		rc.ConnectTimeout = time.Duration(c.ConnectTimeoutSeconds) * time.Second
	}
	if c.RequestTimeoutSeconds > 0 {
		rc.RequestTimeout = time.Duration(c.RequestTimeoutSeconds) * time.Second
	}
	if c.ReconnectDelaySeconds > 0 {
		rc.ReconnectDelay = time.Duration(c.ReconnectDelaySeconds) * time.Second
	}
	if c.ReconnectMaxDelaySeconds > 0 {
		rc.ReconnectMaxDelay = time.Duration(c.ReconnectMaxDelaySeconds) * time.Second
	}
	return rc
}
