// Package config loads concept-runner configuration from an optional
// config.yaml with environment variable overrides. Secrets (API keys, the
// database password) come from the environment only.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/loaderland/concept-runner/pkg/models"
)

// Config holds all configuration for concept-runner.
type Config struct {
	// Env selects logger encoding: "local" uses the development encoder.
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"`

	// Transport is "stdio" (default, matches how MCP agents spawn the server)
	// or "http" for the streamable HTTP transport.
	Transport string `yaml:"transport" env:"TRANSPORT" env-default:"stdio"`
	BindAddr  string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port      string `yaml:"port" env:"PORT" env-default:"8321"`

	Database DatabaseConfig `yaml:"database"`
	PubMed   PubMedConfig   `yaml:"pubmed"`
	Tavily   TavilyConfig   `yaml:"tavily"`
	Analysis AnalysisConfig `yaml:"analysis"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"concepts"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"concept_runner"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// URL returns a PostgreSQL connection string.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// PubMedConfig holds NCBI E-utilities settings. NCBI asks for a contact email
// on every request; an API key raises the rate limit but is optional.
type PubMedConfig struct {
	Email      string `yaml:"email" env:"NCBI_EMAIL" env-default:"research@loader.land"`
	APIKey     string `yaml:"-" env:"NCBI_API_KEY"`
	MaxResults int    `yaml:"max_results" env:"PUBMED_MAX_RESULTS" env-default:"15"`
}

// TavilyConfig holds web search/extract settings. The API key is required
// only when a concept uses the web or both source modes.
type TavilyConfig struct {
	APIKey     string `yaml:"-" env:"TAVILY_API_KEY"`
	BaseURL    string `yaml:"base_url" env:"TAVILY_BASE_URL" env-default:"https://api.tavily.com"`
	MaxResults int    `yaml:"max_results" env:"TAVILY_MAX_RESULTS" env-default:"5"`
}

// Configured reports whether the web search provider can be used.
func (c *TavilyConfig) Configured() bool {
	return c.APIKey != ""
}

// AnalysisConfig selects the analysis provider and model.
type AnalysisConfig struct {
	// Provider is one of "gemini", "openai", "anthropic".
	Provider string `yaml:"provider" env:"ANALYSIS_PROVIDER" env-default:"gemini"`
	Model    string `yaml:"model" env:"ANALYSIS_MODEL" env-default:"gemini-2.5-flash"`
	APIKey   string `yaml:"-" env:"ANALYSIS_API_KEY"`
	// BaseURL overrides the endpoint for OpenAI-compatible servers.
	BaseURL string `yaml:"base_url" env:"ANALYSIS_BASE_URL" env-default:""`
}

// Load reads configuration from config.yaml (if present) with environment
// variable overrides, then validates provider settings.
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("unknown transport %q (want stdio or http)", c.Transport)
	}

	switch c.Analysis.Provider {
	case "gemini", "openai", "anthropic":
	default:
		return fmt.Errorf("unknown analysis provider %q", c.Analysis.Provider)
	}

	if c.PubMed.Email == "" {
		return errors.New("pubmed contact email must not be empty")
	}
	return nil
}

// SupportsMode reports whether the configured credentials cover the given
// source mode. PubMed needs no credential; web search needs the Tavily key.
func (c *Config) SupportsMode(mode models.SourceMode) bool {
	if mode.IncludesWeb() && !c.Tavily.Configured() {
		return false
	}
	return true
}
