// Package config provides configuration management for the codexgate server.
// It handles loading and parsing YAML configuration files and provides structured
// access to listener ports, credential storage, OAuth settings and gateway behaviour.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 8317
	DefaultCallbackPort   = 1455
	DefaultAuthTimeout    = 5 * time.Minute
	DefaultRequestTimeout = 120 * time.Second
	DefaultMaxAttempts    = 3
	DefaultAuthDir        = "~/.codexgate"
	DefaultCredentialFile = "codex.json"
	DefaultIssuer         = "https://auth.openai.com"
	DefaultCompletionURL  = "https://chatgpt.com/backend-api/codex/responses"
	DefaultStoreType      = "file"
	DefaultPostgresTable  = "credential_store"
)

// DefaultFallbackModels is the fixed priority list appended after the requested model.
var DefaultFallbackModels = []string{"gpt-5.2", "gpt-5.1", "gpt-5.1-codex-mini"}

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	SDKConfig `yaml:",inline"`

	// Host is the interface the management API binds to. Empty binds all interfaces.
	Host string `yaml:"host" json:"host"`

	// Port is the management API port.
	Port int `yaml:"port" json:"port"`

	// AuthDir is the directory holding the file-backed credential record.
	AuthDir string `yaml:"auth-dir" json:"auth-dir"`

	// Debug enables debug level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile routes logs to a rotating file instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// ManagementKey, when set, is required on every management and gateway request.
	ManagementKey string `yaml:"management-key" json:"-"`

	// RemoteManagement controls access from non-loopback clients.
	RemoteManagement RemoteManagement `yaml:"remote-management" json:"remote-management"`

	// Store selects and configures the credential persistence backend.
	Store StoreConfig `yaml:"store" json:"store"`

	// OAuth configures the authorization flow.
	OAuth OAuthConfig `yaml:"oauth" json:"oauth"`

	// Gateway configures the streaming completion gateway.
	Gateway GatewayConfig `yaml:"gateway" json:"gateway"`
}

// RemoteManagement holds the options under 'remote-management'.
type RemoteManagement struct {
	// AllowRemote admits non-loopback clients. It has no effect without a management key.
	AllowRemote bool `yaml:"allow-remote" json:"allow-remote"`
}

// StoreConfig selects the credential backend.
type StoreConfig struct {
	// Type is one of "file", "postgres" or "object".
	Type     string              `yaml:"type" json:"type"`
	Postgres PostgresStoreConfig `yaml:"postgres" json:"postgres"`
	Object   ObjectStoreConfig   `yaml:"object" json:"object"`
}

// PostgresStoreConfig configures the PostgreSQL credential backend.
type PostgresStoreConfig struct {
	DSN    string `yaml:"dsn" json:"-"`
	Schema string `yaml:"schema" json:"schema"`
	Table  string `yaml:"table" json:"table"`
}

// ObjectStoreConfig configures the S3-compatible credential backend.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	AccessKey string `yaml:"access-key" json:"-"`
	SecretKey string `yaml:"secret-key" json:"-"`
	Region    string `yaml:"region" json:"region"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	UseSSL    bool   `yaml:"use-ssl" json:"use-ssl"`
	PathStyle bool   `yaml:"path-style" json:"path-style"`
}

// OAuthConfig configures the authorization code flow.
type OAuthConfig struct {
	// Issuer is the identity provider base URL.
	Issuer string `yaml:"issuer" json:"issuer"`

	// CallbackPort is the fixed port of the local redirect listener.
	CallbackPort int `yaml:"callback-port" json:"callback-port"`

	// Timeout bounds a single authorization attempt.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// RefreshLead treats credentials expiring within the lead as already expired.
	RefreshLead time.Duration `yaml:"refresh-lead" json:"refresh-lead"`
}

// GatewayConfig configures the completion gateway.
type GatewayConfig struct {
	// Endpoint is the streaming completion URL.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// FallbackModels is the fixed priority list tried after the requested model.
	FallbackModels []string `yaml:"fallback-models" json:"fallback-models"`

	// MaxAttempts caps attempts per candidate model.
	MaxAttempts int `yaml:"max-attempts" json:"max-attempts"`

	// RequestTimeout bounds each HTTP attempt independently.
	RequestTimeout time.Duration `yaml:"request-timeout" json:"request-timeout"`

	// Instructions replaces the baseline instruction when non-empty.
	Instructions string `yaml:"instructions" json:"instructions"`
}

// LoadConfig reads a YAML configuration file from the given path and applies defaults.
// A missing file yields the default configuration.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigWithEnv(configFile, nil)
}

// LoadConfigWithEnv reads configFile, overlays the environment read through lookup,
// then applies defaults and validates the result. A nil lookup skips the overlay.
func LoadConfigWithEnv(configFile string, lookup LookupFunc) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(configFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		data = nil
	}
	if len(data) > 0 {
		if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	ApplyEnvironment(cfg, lookup)
	cfg.ApplyDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if strings.TrimSpace(c.AuthDir) == "" {
		c.AuthDir = DefaultAuthDir
	}
	c.Store.Type = strings.ToLower(strings.TrimSpace(c.Store.Type))
	if c.Store.Type == "" {
		c.Store.Type = DefaultStoreType
	}
	if c.Store.Postgres.Table == "" {
		c.Store.Postgres.Table = DefaultPostgresTable
	}
	if c.OAuth.Issuer == "" {
		c.OAuth.Issuer = DefaultIssuer
	}
	c.OAuth.Issuer = strings.TrimSuffix(c.OAuth.Issuer, "/")
	if c.OAuth.CallbackPort <= 0 {
		c.OAuth.CallbackPort = DefaultCallbackPort
	}
	if c.OAuth.Timeout <= 0 {
		c.OAuth.Timeout = DefaultAuthTimeout
	}
	if c.OAuth.RefreshLead < 0 {
		c.OAuth.RefreshLead = 0
	}
	c.Gateway.ApplyDefaults()
}

// ApplyDefaults fills zero gateway values with their defaults.
func (g *GatewayConfig) ApplyDefaults() {
	if g.Endpoint == "" {
		g.Endpoint = DefaultCompletionURL
	}
	if len(g.FallbackModels) == 0 {
		g.FallbackModels = append([]string(nil), DefaultFallbackModels...)
	}
	if g.MaxAttempts <= 0 {
		g.MaxAttempts = DefaultMaxAttempts
	}
	if g.RequestTimeout <= 0 {
		g.RequestTimeout = DefaultRequestTimeout
	}
}

// Validate reports configuration combinations that cannot work.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "file":
	case "postgres":
		if strings.TrimSpace(c.Store.Postgres.DSN) == "" {
			return fmt.Errorf("config: store.postgres.dsn is required for the postgres store")
		}
	case "object":
		if strings.TrimSpace(c.Store.Object.Endpoint) == "" || strings.TrimSpace(c.Store.Object.Bucket) == "" {
			return fmt.Errorf("config: store.object.endpoint and store.object.bucket are required for the object store")
		}
	default:
		return fmt.Errorf("config: unsupported store type %q", c.Store.Type)
	}
	return nil
}
