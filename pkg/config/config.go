package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultConfigPath is read by Load.
const DefaultConfigPath = "config.yaml"

// Config holds all configuration for vibelab-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, API keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// ShutdownTimeout bounds graceful shutdown, including in-flight model calls.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"30s"`

	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Templates TemplatesConfig `yaml:"templates"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// Enabled requires a bearer token on every API route. When false, tokens
	// are still read if present so rankings can record the evaluator.
	Enabled bool `yaml:"enabled" env:"AUTH_ENABLED" env-default:"false"`

	// EnableVerification controls whether JWT signatures are validated.
	// Set to false for local development without an auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// Audience, when set, must appear in the token's aud claim.
	Audience string `yaml:"audience" env:"AUTH_AUDIENCE" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"vibelab"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"vibelab"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// LLMConfig configures the model providers.
type LLMConfig struct {
	// OpenAIBaseURL points at any OpenAI-compatible chat completions API.
	OpenAIBaseURL string `yaml:"openai_base_url" env:"OPENAI_BASE_URL" env-default:"https://api.openai.com/v1"`
	OpenAIAPIKey  string `yaml:"-" env:"OPENAI_API_KEY"` // Secret - not in YAML

	AnthropicBaseURL string `yaml:"anthropic_base_url" env:"ANTHROPIC_BASE_URL" env-default:""`
	AnthropicAPIKey  string `yaml:"-" env:"ANTHROPIC_API_KEY"` // Secret - not in YAML

	// MaxTokens caps each completion.
	MaxTokens int `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"4096"`

	// Circuit breaker per provider.
	CircuitBreakerThreshold int           `yaml:"circuit_breaker_threshold" env:"LLM_CIRCUIT_BREAKER_THRESHOLD" env-default:"5"`
	CircuitBreakerReset     time.Duration `yaml:"circuit_breaker_reset" env:"LLM_CIRCUIT_BREAKER_RESET" env-default:"30s"`
}

// ExecutorConfig sizes the generation worker pool.
type ExecutorConfig struct {
	// MaxConcurrent is the number of model calls in flight. 0 means max(4, 2*NumCPU).
	MaxConcurrent int `yaml:"max_concurrent" env:"EXECUTOR_MAX_CONCURRENT" env-default:"0"`
	// QueueLimit is how many submissions may wait for a slot before new ones are rejected.
	QueueLimit int `yaml:"queue_limit" env:"EXECUTOR_QUEUE_LIMIT" env-default:"64"`
	// CallTimeout is the wall-clock budget of one model call.
	CallTimeout time.Duration `yaml:"call_timeout" env:"EXECUTOR_CALL_TIMEOUT" env-default:"120s"`
}

// TemplatesConfig points at the optional template seed file.
type TemplatesConfig struct {
	SeedFile string `yaml:"seed_file" env:"TEMPLATES_SEED_FILE" env-default:""`
}

// MCPConfig toggles the MCP endpoint.
type MCPConfig struct {
	Enabled bool `yaml:"enabled" env:"MCP_ENABLED" env-default:"true"`
}

// Load reads DefaultConfigPath with environment variable overrides.
func Load(version string) (*Config, error) {
	return LoadFrom(DefaultConfigPath, version)
}

// LoadFrom reads the YAML file at path with environment variable overrides.
// A missing file is not an error: the configuration then comes from the
// environment and defaults alone.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, fs.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	cfg.Auth.JWKSEndpoints = parseJWKSEndpoints(cfg.Auth.JWKSEndpointsStr)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if err := c.validateTLS(); err != nil {
		return fmt.Errorf("invalid TLS configuration: %w", err)
	}
	if c.Executor.QueueLimit < 0 {
		return fmt.Errorf("executor.queue_limit must not be negative, got %d", c.Executor.QueueLimit)
	}
	if c.Executor.MaxConcurrent < 0 {
		return fmt.Errorf("executor.max_concurrent must not be negative, got %d", c.Executor.MaxConcurrent)
	}
	if c.Auth.Enabled && c.Auth.EnableVerification && len(c.Auth.JWKSEndpoints) == 0 {
		return fmt.Errorf("auth.enabled with verification requires auth.jwks_endpoints")
	}
	return nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// parseJWKSEndpoints parses "issuer1=url1,issuer2=url2". Only the first "="
// splits a pair, so JWKS URLs may carry query strings.
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	for _, pair := range strings.Split(value, ",") {
		issuer, jwksURL, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		issuer, jwksURL = strings.TrimSpace(issuer), strings.TrimSpace(jwksURL)
		if issuer != "" && jwksURL != "" {
			endpoints[issuer] = jwksURL
		}
	}
	return endpoints
}

// URL returns a PostgreSQL connection URL for pgxpool. The host is resolved
// for Docker so a database on the host machine stays reachable.
func (c *DatabaseConfig) URL() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", ResolveHostForDocker(c.Host), c.Port),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.BindAddr + ":" + c.Port
}
