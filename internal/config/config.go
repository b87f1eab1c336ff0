// ABOUTME: Configuration loading and parsing for querynox
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default values applied when a field is left empty.
const (
	DefaultSearchEndpoint   = "https://api.tavily.com/search"
	DefaultSearchMaxResults = 5
	DefaultMaxFiles         = 5
	DefaultMaxFileBytes     = 5 << 20
	DefaultMaxCharsPerFile  = 20_000
	DefaultSaveTimeout      = 5 * time.Second
	DefaultMetricsPath      = "/metrics"
)

// Config represents the complete querynox configuration
type Config struct {
	Server       ServerConfig              `yaml:"server" toml:"server"`
	Database     DatabaseConfig            `yaml:"database" toml:"database"`
	Auth         AuthConfig                `yaml:"auth" toml:"auth"`
	Providers    map[string]ProviderConfig `yaml:"providers" toml:"providers"`
	Models       []ModelConfig             `yaml:"models" toml:"models"`
	UtilityModel string                    `yaml:"utility_model" toml:"utility_model"`
	Search       SearchConfig              `yaml:"search" toml:"search"`
	Extraction   ExtractionConfig          `yaml:"extraction" toml:"extraction"`
	Generation   GenerationConfig          `yaml:"generation" toml:"generation"`
	Logging      LoggingConfig             `yaml:"logging" toml:"logging"`
	Metrics      MetricsConfig             `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// GRPCAddr serves the standard gRPC health service. Empty disables it.
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
	// Driver is "sqlite" (pure Go, default) or "sqlite3" (cgo).
	Driver string `yaml:"driver" toml:"driver"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// ProviderConfig describes one OpenAI-compatible model backend
type ProviderConfig struct {
	BaseURL string        `yaml:"base_url" toml:"base_url"`
	APIKey  string        `yaml:"api_key" toml:"api_key"`
	Timeout time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// ModelConfig is a catalog entry
type ModelConfig struct {
	Name          string `yaml:"name" toml:"name"`
	Category      string `yaml:"category" toml:"category"`
	Description   string `yaml:"description" toml:"description"`
	Provider      string `yaml:"provider" toml:"provider"`
	UpstreamModel string `yaml:"upstream_model" toml:"upstream_model"`
}

// SearchConfig holds web search provider configuration
type SearchConfig struct {
	Endpoint   string        `yaml:"endpoint" toml:"endpoint"`
	APIKey     string        `yaml:"api_key" toml:"api_key"`
	MaxResults int           `yaml:"max_results" toml:"max_results"`
	Retries    int           `yaml:"retries" toml:"retries"`
	Timeout    time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// ExtractionConfig holds upload and document extraction limits
type ExtractionConfig struct {
	MaxFiles        int   `yaml:"max_files" toml:"max_files"`
	MaxFileBytes    int64 `yaml:"max_file_bytes" toml:"max_file_bytes"`
	MaxCharsPerFile int   `yaml:"max_chars_per_file" toml:"max_chars_per_file"`
}

// GenerationConfig holds timing for the generation relay
type GenerationConfig struct {
	// Timeout bounds a single generation. Zero means no limit.
	Timeout time.Duration `yaml:"-" toml:"-"`
	// SaveTimeout bounds turn persistence after generation completes.
	SaveTimeout time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw     string `yaml:"timeout" toml:"timeout"`
	SaveTimeoutRaw string `yaml:"save_timeout" toml:"save_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw configuration content. It applies env expansion,
// defaults, duration parsing and validation in the same order as Load.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Search.Endpoint == "" {
		c.Search.Endpoint = DefaultSearchEndpoint
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = DefaultSearchMaxResults
	}
	if c.Extraction.MaxFiles <= 0 {
		c.Extraction.MaxFiles = DefaultMaxFiles
	}
	if c.Extraction.MaxFileBytes <= 0 {
		c.Extraction.MaxFileBytes = DefaultMaxFileBytes
	}
	if c.Extraction.MaxCharsPerFile <= 0 {
		c.Extraction.MaxCharsPerFile = DefaultMaxCharsPerFile
	}
	if c.Generation.SaveTimeout <= 0 {
		c.Generation.SaveTimeout = DefaultSaveTimeout
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	for i, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("models[%d].name is required", i)
		}
		if m.Provider == "" {
			return fmt.Errorf("models[%d].provider is required", i)
		}
		if _, ok := c.Providers[m.Provider]; !ok {
			return fmt.Errorf("models[%d] references unknown provider %q", i, m.Provider)
		}
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	for name, p := range cfg.Providers {
		if p.TimeoutRaw == "" {
			continue
		}
		p.Timeout, err = time.ParseDuration(p.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing providers.%s.timeout %q: %w", name, p.TimeoutRaw, err)
		}
		cfg.Providers[name] = p
	}

	if cfg.Search.TimeoutRaw != "" {
		cfg.Search.Timeout, err = time.ParseDuration(cfg.Search.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing search.timeout %q: %w", cfg.Search.TimeoutRaw, err)
		}
	}

	if cfg.Generation.TimeoutRaw != "" {
		cfg.Generation.Timeout, err = time.ParseDuration(cfg.Generation.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing generation.timeout %q: %w", cfg.Generation.TimeoutRaw, err)
		}
	}

	if cfg.Generation.SaveTimeoutRaw != "" {
		cfg.Generation.SaveTimeout, err = time.ParseDuration(cfg.Generation.SaveTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing generation.save_timeout %q: %w", cfg.Generation.SaveTimeoutRaw, err)
		}
	}

	return nil
}
