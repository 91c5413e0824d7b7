// Package config provides configuration management for the AetherBridge proxy.
// It handles loading and parsing the optional YAML configuration file, applies
// environment variable overrides, and provides structured access to server
// settings including listen address, project pool, proxy URL, and logging.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file
// and overlaid with environment variables.
type Config struct {
	// Port is the network port on which the proxy will listen.
	Port int `yaml:"port"`

	// Host is the address the proxy binds to. Defaults to loopback; the
	// proxy performs no client authentication, trust is positional.
	Host string `yaml:"host"`

	// ProjectID is an optional comma-separated pool of Cloud project IDs.
	// When set, project discovery is skipped and one element is chosen at
	// random per upstream client.
	ProjectID string `yaml:"project-id"`

	// ProxyURL is the URL of an optional proxy server to use for outbound
	// requests (http, https, or socks5).
	ProxyURL string `yaml:"proxy-url"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`

	// LoggingToFile redirects logs to rotating files instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file"`

	// RequestRetry defines how many extra accounts the fallback layer may
	// rotate through after the first failure. 0 means rotate through the
	// whole pool.
	RequestRetry int `yaml:"request-retry"`

	// BrowserProfile names the browser profile opened for OAuth login.
	BrowserProfile string `yaml:"browser-profile"`

	// Provider selects the default API surface announced on the landing
	// page ("claude" or "openai"). Purely informational.
	Provider string `yaml:"provider"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Port: 8045,
		Host: "127.0.0.1",
	}
}

// LoadConfig reads a YAML configuration file from the given path, unmarshals
// it into a Config struct, and applies environment variable overrides. A
// missing file is not an error; defaults plus environment apply.
//
// Parameters:
//   - configFile: The path to the YAML configuration file
//
// Returns:
//   - *Config: The loaded configuration
//   - error: An error if the configuration could not be parsed
func LoadConfig(configFile string) (*Config, error) {
	config := DefaultConfig()

	if configFile != "" {
		data, err := os.ReadFile(expandHome(configFile))
		if err == nil {
			if err = yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	applyEnvOverrides(config)

	if config.Port <= 0 || config.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", config.Port)
	}
	return config, nil
}

// applyEnvOverrides overlays AETHER_* and GOOGLE_CLOUD_PROJECT variables on
// top of the file-derived configuration.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("AETHER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Port = port
		}
	}
	if v := os.Getenv("AETHER_HOST"); v != "" {
		config.Host = v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		config.ProjectID = v
	}
	if v := os.Getenv("AETHER_BROWSER_PROFILE"); v != "" {
		config.BrowserProfile = v
	}
	if v := os.Getenv("AETHER_PROVIDER"); v != "" {
		config.Provider = strings.ToLower(v)
	}
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}
