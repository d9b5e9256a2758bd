// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	agenterrors "github.com/tombee/agentrun/pkg/errors"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Process modes.
const (
	ModeAPI    = "api"
	ModeWorker = "worker"
	ModeAll    = "all"
)

// Backend types.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// MinJWTSecretLength is the shortest accepted HMAC signing secret.
const MinJWTSecretLength = 32

// Config represents the complete agentrun configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Log           LogConfig           `yaml:"log"`
	Backend       BackendConfig       `yaml:"backend"`
	Worker        WorkerConfig        `yaml:"worker"`
	LLM           LLMConfig           `yaml:"llm"`
	Tasks         TasksConfig         `yaml:"tasks"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the HTTP request layer.
type ServerConfig struct {
	// Host is the interface the API binds to. Empty binds all interfaces.
	Host string `yaml:"host,omitempty"`

	// Port is the TCP port the API listens on.
	Port int `yaml:"port"`

	// TLSCertFile and TLSKeyFile serve HTTPS when both are set.
	TLSCertFile string `yaml:"tls_cert_file,omitempty"`
	TLSKeyFile  string `yaml:"tls_key_file,omitempty"`

	// APIPrefix is prepended to every run route (default /api/v1).
	APIPrefix string `yaml:"api_prefix"`

	// ShutdownTimeout bounds graceful shutdown of the HTTP server.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxBodyBytes limits request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// CORSOrigins lists the origins allowed to call the API from a browser.
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	// JWTSecret is the HMAC secret for HS256 tokens. Required in api mode.
	JWTSecret string `yaml:"jwt_secret"`

	Issuer   string `yaml:"issuer,omitempty"`
	Audience string `yaml:"audience,omitempty"`

	// ClockSkew is the leeway applied to exp and nbf claims.
	ClockSkew time.Duration `yaml:"clock_skew"`

	// TokenTTL is the lifetime of tokens minted by `agentrun token`.
	TokenTTL time.Duration `yaml:"token_ttl"`

	// AccessTTL is the lifetime of access tokens issued at login.
	AccessTTL time.Duration `yaml:"access_ttl"`

	// RefreshSecret signs refresh tokens. It defaults to JWTSecret.
	RefreshSecret string `yaml:"refresh_secret,omitempty"`

	// RefreshTTL is the lifetime of refresh tokens.
	RefreshTTL time.Duration `yaml:"refresh_ttl"`

	// Registration enables POST /auth/register. It defaults to true.
	Registration *bool `yaml:"registration,omitempty"`
}

// RegistrationEnabled reports whether new accounts may register.
func (a AuthConfig) RegistrationEnabled() bool {
	return a.Registration == nil || *a.Registration
}

// SigningRefreshSecret returns the secret used for refresh tokens.
func (a AuthConfig) SigningRefreshSecret() string {
	if a.RefreshSecret != "" {
		return a.RefreshSecret
	}
	return a.JWTSecret
}

// RateLimitConfig configures per-user request limits.
type RateLimitConfig struct {
	Enabled     *bool         `yaml:"enabled,omitempty"`
	Window      time.Duration `yaml:"window"`
	MaxRequests int           `yaml:"max_requests"`
}

// IsEnabled reports whether rate limiting is on. It defaults to true.
func (r RateLimitConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// BackendConfig selects the run store and job queue.
type BackendConfig struct {
	Type     string         `yaml:"type"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig configures the embedded backend.
type SQLiteConfig struct {
	Path string `yaml:"path"`
	WAL  *bool  `yaml:"wal,omitempty"`
}

// WALEnabled reports whether write-ahead logging is on. It defaults to true.
func (s SQLiteConfig) WALEnabled() bool {
	return s.WAL == nil || *s.WAL
}

// PostgresConfig configures the server backend.
type PostgresConfig struct {
	ConnectionString string        `yaml:"connection_string"`
	MaxOpenConns     int           `yaml:"max_open_conns"`
	MaxIdleConns     int           `yaml:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `yaml:"conn_max_lifetime"`
}

// WorkerConfig configures the worker pool.
type WorkerConfig struct {
	ID           string        `yaml:"id,omitempty"`
	Concurrency  int           `yaml:"concurrency"`
	PollInterval time.Duration `yaml:"poll_interval"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// LLMConfig configures the reasoning client used by llm steps.
type LLMConfig struct {
	Provider       string        `yaml:"provider"`
	Model          string        `yaml:"model"`
	MaxTokens      int           `yaml:"max_tokens"`
	APIKey         string        `yaml:"api_key,omitempty"`
	BaseURL        string        `yaml:"base_url,omitempty"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// TasksConfig lists declarative task definition files.
type TasksConfig struct {
	// Files are doublestar glob patterns.
	Files []string `yaml:"files,omitempty"`
}

// ObservabilityConfig configures tracing and metrics.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// TracingConfig configures OpenTelemetry trace export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporter is otlp (gRPC), otlp-http or console.
	Exporter    string            `yaml:"exporter"`
	Endpoint    string            `yaml:"endpoint,omitempty"`
	Insecure    bool              `yaml:"insecure,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	ServiceName string            `yaml:"service_name"`
	SampleRate  float64           `yaml:"sample_rate"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

// IsEnabled reports whether /metrics is served. It defaults to true.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3000,
			APIPrefix:       "/api/v1",
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Auth: AuthConfig{
			ClockSkew:  30 * time.Second,
			TokenTTL:   24 * time.Hour,
			AccessTTL:  time.Hour,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Window:      15 * time.Minute,
			MaxRequests: 100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Backend: BackendConfig{
			Type:   BackendMemory,
			SQLite: SQLiteConfig{Path: "agentrun.db"},
		},
		Worker: WorkerConfig{
			Concurrency:  5,
			PollInterval: time.Second,
			DrainTimeout: 30 * time.Second,
		},
		LLM: LLMConfig{
			Provider:       "anthropic",
			Model:          "claude-sonnet-4-20250514",
			MaxTokens:      1024,
			RequestTimeout: 2 * time.Minute,
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Exporter:    "otlp",
				ServiceName: "agentrun",
				SampleRate:  1.0,
			},
		},
	}
}

// Load loads configuration from an optional .env file, an optional YAML
// file and environment variables, in that order of increasing precedence.
// If configPath is empty, only environment variables are used.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, &agenterrors.ConfigError{
			Key:    "env_file",
			Reason: "failed to load .env file",
			Cause:  err,
		}
	}

	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &agenterrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	// Apply defaults to any zero values (handles minimal configs)
	cfg.applyDefaults()

	if err := cfg.loadFromEnv(); err != nil {
		return nil, &agenterrors.ConfigError{
			Key:    "environment",
			Reason: "invalid environment variable",
			Cause:  err,
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, &agenterrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// loadDotEnv loads AGENTRUN_ENV_FILE, or ./.env, when it exists. Variables
// already present in the environment are never overridden.
func loadDotEnv() error {
	path := os.Getenv("AGENTRUN_ENV_FILE")
	if path == "" {
		path = ".env"
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil
		}
	}
	return godotenv.Load(path)
}

// applyDefaults fills in zero values with defaults.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Server.Port == 0 {
		c.Server.Port = defaults.Server.Port
	}
	if c.Server.APIPrefix == "" {
		c.Server.APIPrefix = defaults.Server.APIPrefix
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = defaults.Server.MaxBodyBytes
	}

	if c.Auth.ClockSkew == 0 {
		c.Auth.ClockSkew = defaults.Auth.ClockSkew
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = defaults.Auth.TokenTTL
	}
	if c.Auth.AccessTTL == 0 {
		c.Auth.AccessTTL = defaults.Auth.AccessTTL
	}
	if c.Auth.RefreshTTL == 0 {
		c.Auth.RefreshTTL = defaults.Auth.RefreshTTL
	}

	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = defaults.RateLimit.Window
	}
	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = defaults.RateLimit.MaxRequests
	}

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}

	if c.Backend.Type == "" {
		c.Backend.Type = defaults.Backend.Type
	}
	if c.Backend.SQLite.Path == "" {
		c.Backend.SQLite.Path = defaults.Backend.SQLite.Path
	}

	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = defaults.Worker.Concurrency
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = defaults.Worker.PollInterval
	}
	if c.Worker.DrainTimeout == 0 {
		c.Worker.DrainTimeout = defaults.Worker.DrainTimeout
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = defaults.LLM.Provider
	}
	if c.LLM.Model == "" && c.LLM.Provider == defaults.LLM.Provider {
		c.LLM.Model = defaults.LLM.Model
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = defaults.LLM.MaxTokens
	}
	if c.LLM.RequestTimeout == 0 {
		c.LLM.RequestTimeout = defaults.LLM.RequestTimeout
	}

	if c.Observability.Tracing.Exporter == "" {
		c.Observability.Tracing.Exporter = defaults.Observability.Tracing.Exporter
	}
	if c.Observability.Tracing.ServiceName == "" {
		c.Observability.Tracing.ServiceName = defaults.Observability.Tracing.ServiceName
	}
	if c.Observability.Tracing.SampleRate == 0 {
		c.Observability.Tracing.SampleRate = defaults.Observability.Tracing.SampleRate
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	// Expand home directory if present
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// envReader collects parse failures so every bad variable is reported.
type envReader struct {
	errs []error
}

func (r *envReader) string(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func (r *envReader) int(key string, dst *int) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: expected an integer, got %q", key, val))
		return
	}
	*dst = n
}

func (r *envReader) bool(key string, dst *bool) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: expected a boolean, got %q", key, val))
		return
	}
	*dst = b
}

func (r *envReader) boolPtr(key string, dst **bool) {
	if os.Getenv(key) == "" {
		return
	}
	n := len(r.errs)
	var b bool
	r.bool(key, &b)
	if len(r.errs) == n {
		*dst = &b
	}
}

// duration accepts Go duration syntax, a whole number of days such as "7d",
// or a bare integer number of milliseconds.
func (r *envReader) duration(key string, dst *time.Duration) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	if ms, err := strconv.ParseInt(val, 10, 64); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
		return
	}
	if days, ok := strings.CutSuffix(val, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil {
			*dst = time.Duration(n) * 24 * time.Hour
			return
		}
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: expected a duration, got %q", key, val))
		return
	}
	*dst = d
}

func (r *envReader) list(key string, dst *[]string) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

// loadFromEnv overrides configuration from environment variables.
func (c *Config) loadFromEnv() error {
	var r envReader

	r.string("HOST", &c.Server.Host)
	r.int("PORT", &c.Server.Port)
	r.string("TLS_CERT_FILE", &c.Server.TLSCertFile)
	r.string("TLS_KEY_FILE", &c.Server.TLSKeyFile)
	r.string("API_PREFIX", &c.Server.APIPrefix)
	r.duration("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)
	r.list("CORS_ORIGINS", &c.Server.CORSOrigins)

	r.string("JWT_SECRET", &c.Auth.JWTSecret)
	r.string("JWT_ISSUER", &c.Auth.Issuer)
	r.string("JWT_AUDIENCE", &c.Auth.Audience)
	r.duration("JWT_EXPIRES_IN", &c.Auth.AccessTTL)
	r.string("JWT_REFRESH_SECRET", &c.Auth.RefreshSecret)
	r.duration("JWT_REFRESH_EXPIRES_IN", &c.Auth.RefreshTTL)
	r.boolPtr("REGISTRATION_ENABLED", &c.Auth.Registration)

	r.boolPtr("RATE_LIMIT_ENABLED", &c.RateLimit.Enabled)
	r.duration("RATE_LIMIT_WINDOW_MS", &c.RateLimit.Window)
	r.int("RATE_LIMIT_MAX_REQUESTS", &c.RateLimit.MaxRequests)

	r.string("LOG_LEVEL", &c.Log.Level)
	r.string("LOG_FORMAT", &c.Log.Format)
	r.bool("LOG_SOURCE", &c.Log.AddSource)
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)

	r.string("AGENTRUN_BACKEND", &c.Backend.Type)
	r.string("SQLITE_PATH", &c.Backend.SQLite.Path)
	r.string("DATABASE_URL", &c.Backend.Postgres.ConnectionString)

	r.string("WORKER_ID", &c.Worker.ID)
	r.int("WORKER_CONCURRENCY", &c.Worker.Concurrency)
	r.duration("WORKER_POLL_INTERVAL", &c.Worker.PollInterval)
	r.duration("WORKER_DRAIN_TIMEOUT", &c.Worker.DrainTimeout)

	r.string("LLM_PROVIDER", &c.LLM.Provider)
	r.string("LLM_MODEL", &c.LLM.Model)
	r.int("LLM_MAX_TOKENS", &c.LLM.MaxTokens)
	r.duration("LLM_REQUEST_TIMEOUT", &c.LLM.RequestTimeout)
	if key := os.Getenv(apiKeyEnv(c.LLM.Provider)); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
	}

	r.list("AGENTRUN_TASK_FILES", &c.Tasks.Files)

	r.bool("AGENTRUN_TRACING_ENABLED", &c.Observability.Tracing.Enabled)
	r.string("AGENTRUN_TRACING_EXPORTER", &c.Observability.Tracing.Exporter)
	r.string("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Observability.Tracing.Endpoint)
	r.string("OTEL_SERVICE_NAME", &c.Observability.Tracing.ServiceName)
	r.boolPtr("AGENTRUN_METRICS_ENABLED", &c.Observability.Metrics.Enabled)

	return errors.Join(r.errs...)
}

// apiKeyEnv returns the environment variable holding the provider's API key.
func apiKeyEnv(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "gemini":
		return "GOOGLE_API_KEY"
	default:
		return "ANTHROPIC_API_KEY"
	}
}

// Validate checks that the configuration is valid. Mode-specific
// requirements are checked by ValidateMode.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if !strings.HasPrefix(c.Server.APIPrefix, "/") {
		errs = append(errs, fmt.Sprintf("server.api_prefix must start with '/', got %q", c.Server.APIPrefix))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("server.shutdown_timeout must be positive, got %v", c.Server.ShutdownTimeout))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Sprintf("server.max_body_bytes must be positive, got %d", c.Server.MaxBodyBytes))
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, "server.tls_cert_file and server.tls_key_file must be set together")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < MinJWTSecretLength {
		errs = append(errs, fmt.Sprintf("auth.jwt_secret must be at least %d bytes, got %d", MinJWTSecretLength, len(c.Auth.JWTSecret)))
	}
	if c.Auth.RefreshSecret != "" && len(c.Auth.RefreshSecret) < MinJWTSecretLength {
		errs = append(errs, fmt.Sprintf("auth.refresh_secret must be at least %d bytes, got %d", MinJWTSecretLength, len(c.Auth.RefreshSecret)))
	}
	if c.Auth.ClockSkew < 0 {
		errs = append(errs, "auth.clock_skew must not be negative")
	}
	if c.Auth.AccessTTL < 0 || c.Auth.RefreshTTL < 0 {
		errs = append(errs, "auth.access_ttl and auth.refresh_ttl must not be negative")
	}

	if c.RateLimit.IsEnabled() {
		if c.RateLimit.Window <= 0 {
			errs = append(errs, fmt.Sprintf("rate_limit.window must be positive, got %v", c.RateLimit.Window))
		}
		if c.RateLimit.MaxRequests <= 0 {
			errs = append(errs, fmt.Sprintf("rate_limit.max_requests must be positive, got %d", c.RateLimit.MaxRequests))
		}
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	switch c.Backend.Type {
	case BackendMemory:
	case BackendSQLite:
		if c.Backend.SQLite.Path == "" {
			errs = append(errs, "backend.sqlite.path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Backend.Postgres.ConnectionString == "" {
			errs = append(errs, "backend.postgres.connection_string is required for the postgres backend (set DATABASE_URL)")
		}
	default:
		errs = append(errs, fmt.Sprintf("backend.type must be one of [memory, sqlite, postgres], got %q", c.Backend.Type))
	}

	if c.Worker.Concurrency < 1 {
		errs = append(errs, fmt.Sprintf("worker.concurrency must be at least 1, got %d", c.Worker.Concurrency))
	}
	if c.Worker.PollInterval <= 0 {
		errs = append(errs, fmt.Sprintf("worker.poll_interval must be positive, got %v", c.Worker.PollInterval))
	}
	if c.Worker.DrainTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("worker.drain_timeout must be positive, got %v", c.Worker.DrainTimeout))
	}

	switch c.LLM.Provider {
	case "anthropic", "openai", "gemini", "mock":
	default:
		errs = append(errs, fmt.Sprintf("llm.provider must be one of [anthropic, openai, gemini, mock], got %q", c.LLM.Provider))
	}
	if c.LLM.MaxTokens < 1 {
		errs = append(errs, fmt.Sprintf("llm.max_tokens must be at least 1, got %d", c.LLM.MaxTokens))
	}

	switch c.Observability.Tracing.Exporter {
	case "otlp", "otlp-http", "console":
	default:
		errs = append(errs, fmt.Sprintf("observability.tracing.exporter must be one of [otlp, otlp-http, console], got %q", c.Observability.Tracing.Exporter))
	}
	if c.Observability.Tracing.SampleRate < 0 || c.Observability.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("observability.tracing.sample_rate must be between 0 and 1, got %v", c.Observability.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateMode checks the requirements of running in the given process mode.
func (c *Config) ValidateMode(mode string) error {
	var errs []string

	switch mode {
	case ModeAPI, ModeWorker, ModeAll:
	default:
		return fmt.Errorf("%w: mode must be one of [api, worker, all], got %q", ErrInvalidConfig, mode)
	}

	if mode != ModeWorker && c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret is required to serve the API (set JWT_SECRET)")
	}
	if mode != ModeAll && c.Backend.Type == BackendMemory {
		errs = append(errs, fmt.Sprintf("backend.type memory cannot be shared between processes; use sqlite or postgres with --mode %s", mode))
	}
	if mode != ModeAPI && c.LLM.Provider != "mock" && c.LLM.APIKey == "" {
		errs = append(errs, fmt.Sprintf("llm.api_key is required for provider %s (set %s)", c.LLM.Provider, apiKeyEnv(c.LLM.Provider)))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}
