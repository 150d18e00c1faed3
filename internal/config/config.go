// Package config provides configuration management for the Antigravity proxy
// server. It handles loading and parsing YAML configuration files, and
// provides structured access to application settings including the listen
// address, client API key, upstream endpoint order, and model routing.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Server holds the inbound HTTP listener settings.
	Server ServerConfig `yaml:"server"`

	// Proxy holds upstream routing and failover behavior.
	Proxy ProxyConfig `yaml:"proxy"`

	// AccountsFile is the path to the persisted account records. A ".db" or
	// ".bolt" extension selects the bbolt store, anything else the JSON file
	// store.
	AccountsFile string `yaml:"accounts-file"`

	// Routes maps client-supplied model names onto catalog ids. Keys may use
	// a single "*" wildcard with prefix+suffix semantics.
	Routes map[string]string `yaml:"routes"`

	// DefaultModel is the catalog id used for unknown client model names.
	DefaultModel string `yaml:"default-model"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`

	// RequestLog enables the rotating request log file.
	RequestLog bool `yaml:"request-log"`
}

// ServerConfig describes the inbound HTTP listener.
type ServerConfig struct {
	// Host is the interface the server binds to.
	Host string `yaml:"host"`

	// Port is the network port on which the API server will listen.
	Port int `yaml:"port"`

	// APIKey is an optional shared secret. When set, every request must carry
	// it as "Authorization: Bearer <key>" or "x-api-key: <key>".
	APIKey string `yaml:"api-key"`
}

// ProxyConfig describes how requests are forwarded upstream.
type ProxyConfig struct {
	// Endpoints is the ordered list of upstream endpoint aliases tried on
	// endpoint-level failures. Known aliases: "sandbox-daily", "daily",
	// "prod".
	Endpoints []string `yaml:"endpoints"`

	// DefaultEndpoint is the alias tried first when Endpoints is empty.
	DefaultEndpoint string `yaml:"default-endpoint"`

	// SwitchPreviewModel enables the model fallback chain when a model's
	// quota is exhausted.
	SwitchPreviewModel bool `yaml:"switch-preview-model"`

	// DefaultProjectID is a last-resort upstream project id used when an
	// account record carries none. Using it is logged as a warning.
	DefaultProjectID string `yaml:"default-project-id"`

	// ProxyURL is the URL of an optional proxy server (http, https or
	// socks5) for outbound requests.
	ProxyURL string `yaml:"proxy-url"`

	// RequestTimeoutSeconds caps a single request end to end. Zero means no
	// timeout.
	RequestTimeoutSeconds int `yaml:"request-timeout-seconds"`
}

// LoadConfig reads a YAML configuration file from the given path, unmarshals
// it into a Config struct, applies defaults, and returns it.
//
// Parameters:
//   - configFile: The path to the YAML configuration file
//
// Returns:
//   - *Config: The loaded configuration
//   - error: An error if the configuration could not be loaded
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8317
	}
	if c.AccountsFile == "" {
		c.AccountsFile = "accounts.json"
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "gemini-2.5-pro"
	}
	if len(c.Proxy.Endpoints) == 0 {
		if c.Proxy.DefaultEndpoint != "" {
			c.Proxy.Endpoints = []string{c.Proxy.DefaultEndpoint}
		} else {
			c.Proxy.Endpoints = []string{"sandbox-daily", "daily", "prod"}
		}
	}
}
