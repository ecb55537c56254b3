// Package config defines the Taskdeck application configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Taskdeck configuration, shared by the server
// daemon and the dashboard client.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	Dashboard DashboardConfig `json:"dashboard" yaml:"dashboard"`
	Agents    []AgentSeed     `json:"agents" yaml:"agents"`
	DataDir   string          `json:"data_dir" yaml:"data_dir"`
	LogLevel  string          `json:"log_level" yaml:"log_level"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // listen address, e.g., ":9090"
}

// AuthConfig controls API authentication.
type AuthConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
	AdminUser string `json:"admin_user" yaml:"admin_user"`
	AdminPass string `json:"admin_pass" yaml:"admin_pass"` // bcrypt hash or plain value
}

// DashboardConfig controls the terminal dashboard.
type DashboardConfig struct {
	ServerURL     string   `json:"server_url" yaml:"server_url"`
	AgentType     string   `json:"agent_type" yaml:"agent_type"`
	PollInterval  Duration `json:"poll_interval" yaml:"poll_interval"`
	PageSize      int      `json:"page_size" yaml:"page_size"`
	ActivityLimit int      `json:"activity_limit" yaml:"activity_limit"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// AgentSeed defines one agent in the configured roster.
type AgentSeed struct {
	ID   string `json:"id,omitempty" yaml:"id"`
	Type string `json:"type" yaml:"type"`
	Name string `json:"name,omitempty" yaml:"name"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":9090",
		},
		Auth: AuthConfig{
			AdminUser: "admin",
		},
		Dashboard: DashboardConfig{
			ServerURL:     "http://localhost:9090",
			AgentType:     "blog",
			PollInterval:  Duration(5 * time.Second),
			PageSize:      10,
			ActivityLimit: 20,
		},
		Agents: []AgentSeed{
			{ID: "blog-1", Type: "blog", Name: "Blog Writer"},
		},
		DataDir:  "./data",
		LogLevel: "info",
	}
}

// Load reads a YAML config file over the defaults and returns the parsed
// configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
