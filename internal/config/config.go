// Package config handles ddpcli configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order. An explicit
// path (from -config) is checked first by FindConfig; these are the
// fallback locations: ./config.yaml, ~/.config/ddpcli/config.yaml,
// /config/config.yaml, /etc/ddpcli/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "ddpcli", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/ddpcli/config.yaml")
	return paths
}

// searchPathsFunc is DefaultSearchPaths by default; tests override it to
// avoid picking up real config files on the developer/deploy machine.
var searchPathsFunc = DefaultSearchPaths

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise, searches searchPathsFunc()'s paths and returns the
// first that exists. Returns the path found, or an error if nothing was
// found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	paths := searchPathsFunc()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Config holds all ddpcli configuration.
type Config struct {
	Server   ServerConfig `yaml:"server"`
	Login    LoginConfig  `yaml:"login"`
	LogLevel string       `yaml:"log_level"`
}

// ServerConfig identifies the DDP endpoint to connect to and which
// protocol versions to offer during negotiation.
type ServerConfig struct {
	// URL is the ws:// or wss:// endpoint of the DDP server.
	URL string `yaml:"url"`
	// Versions overrides ddp.SupportedVersions when non-empty, most
	// preferred first.
	Versions []string `yaml:"versions"`
}

// LoginConfig carries the arguments for an optional "login" method call
// issued automatically right after negotiation completes. Left zero,
// ddpcli connects anonymously.
type LoginConfig struct {
	Method   string `yaml:"method"` // default: "login"
	Token    string `yaml:"token"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Configured reports whether enough information is present to attempt a
// login call: either a resume token, or a username/password pair.
func (c LoginConfig) Configured() bool {
	return c.Token != "" || (c.Username != "" && c.Password != "")
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults (see applyDefaults), and validates the
// result. Fields without a default (login credentials, server.versions,
// log_level) may still be empty after a successful Load.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${DDP_TOKEN}). Convenience for
	// container deployments; putting values directly in the file also
	// works.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load.
func (c *Config) applyDefaults() {
	if c.Login.Method == "" {
		c.Login.Method = "login"
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration pointed at a local server on
// the conventional Meteor DDP path. All defaults are already applied.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{URL: "ws://localhost:3000/websocket"},
	}
	cfg.applyDefaults()
	return cfg
}
