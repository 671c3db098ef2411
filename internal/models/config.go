// Package models - Service configuration and operational settings.
// This file defines the configuration structures for every service component.
//
// Configuration layout:
// - Server: HTTP listener and timeouts
// - Proxy: upstream forwarded to after admission
// - RateLimit / CircuitBreaker: admission engine thresholds
// - Security: admin API authentication and client identification
// - Storage: audit event persistence
// - Logging / Metrics / Observability: operational output
package models

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"admission/internal/circuit"
	"admission/internal/ratelimit"
)

// Storage type constants
const (
	StorageTypeJSON     = "json"
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
	StorageTypeRedis    = "redis"
)

// Config is the root configuration structure containing all service settings.
type Config struct {
	Server         ServerConfig         `yaml:"server" json:"server"`
	Proxy          ProxyConfig          `yaml:"proxy" json:"proxy"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit" json:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
	Security       SecurityConfig       `yaml:"security" json:"security"`
	Storage        StorageConfig        `yaml:"storage" json:"storage"`
	Logging        LoggingConfig        `yaml:"logging" json:"logging"`
	Metrics        MetricsConfig        `yaml:"metrics" json:"metrics"`
	Observability  ObservabilityConfig  `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

// ProxyConfig describes the upstream that admitted requests are forwarded to.
// An empty UpstreamURL disables forwarding.
type ProxyConfig struct {
	UpstreamURL    string        `yaml:"upstream_url" json:"upstream_url"`
	DependencyName string        `yaml:"dependency_name" json:"dependency_name"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
}

type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int           `yaml:"requests_per_hour" json:"requests_per_hour"`
	RequestsPerDay    int           `yaml:"requests_per_day" json:"requests_per_day"`
	BurstLimit        int           `yaml:"burst_limit" json:"burst_limit"`
	BlockDuration     time.Duration `yaml:"block_duration" json:"block_duration"`
	Retention         time.Duration `yaml:"retention" json:"retention"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int                        `yaml:"failure_threshold" json:"failure_threshold"`
	RecoveryTimeout  time.Duration              `yaml:"recovery_timeout" json:"recovery_timeout"`
	Dependencies     map[string]CircuitSettings `yaml:"dependencies" json:"dependencies"`
}

// CircuitSettings overrides the breaker defaults for one dependency. Zero
// fields inherit the defaults.
type CircuitSettings struct {
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
}

type SecurityConfig struct {
	EnableAuth        bool     `yaml:"enable_auth" json:"enable_auth"`
	APIKeys           []APIKey `yaml:"api_keys" json:"api_keys"`
	TrustProxyHeaders bool     `yaml:"trust_proxy_headers" json:"trust_proxy_headers"`
}

type StorageConfig struct {
	Type      string         `yaml:"type" json:"type"`
	Path      string         `yaml:"path" json:"path"`
	MaxEvents int            `yaml:"max_events" json:"max_events"`
	Database  DatabaseConfig `yaml:"database" json:"database"`
	Redis     RedisConfig    `yaml:"redis" json:"redis"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	Key      string `yaml:"key" json:"key"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with the documented defaults:
// 60/min, 1000/hour, 10000/day, burst 10, 300s block, circuits opening
// after 5 failures with a 30s recovery timeout.
func NewDefaultConfig() *Config {
	limits := ratelimit.DefaultConfig()
	breaker := circuit.DefaultSettings()

	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Proxy: ProxyConfig{
			DependencyName: "upstream",
			Timeout:        15 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: limits.RequestsPerMinute,
			RequestsPerHour:   limits.RequestsPerHour,
			RequestsPerDay:    limits.RequestsPerDay,
			BurstLimit:        limits.BurstLimit,
			BlockDuration:     limits.BlockDuration,
			Retention:         24 * time.Hour,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: breaker.FailureThreshold,
			RecoveryTimeout:  breaker.RecoveryTimeout,
			Dependencies:     make(map[string]CircuitSettings),
		},
		Security: SecurityConfig{
			APIKeys: []APIKey{},
		},
		Storage: StorageConfig{
			Type:      StorageTypeMemory,
			MaxEvents: 10000,
			Database: DatabaseConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 5 * time.Minute,
			},
			Redis: RedisConfig{
				Key: "admission:events",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "admission",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Proxy.Validate(); err != nil {
		return fmt.Errorf("invalid proxy config: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}

	if err := c.CircuitBreaker.Validate(); err != nil {
		return fmt.Errorf("invalid circuit breaker config: %w", err)
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (pc *ProxyConfig) Validate() error {
	if pc.UpstreamURL == "" {
		return nil
	}

	u, err := url.Parse(pc.UpstreamURL)
	if err != nil {
		return fmt.Errorf("invalid upstream url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream url must be http or https: %s", pc.UpstreamURL)
	}
	if u.Host == "" {
		return errors.New("upstream url must include a host")
	}

	if pc.DependencyName == "" {
		return errors.New("dependency name cannot be empty")
	}

	if pc.Timeout < 0 {
		return errors.New("proxy timeout cannot be negative")
	}

	return nil
}

// Validate rejects non-positive thresholds. Invalid limits must fail
// startup rather than silently fall back to defaults.
func (rc *RateLimitConfig) Validate() error {
	if !rc.Enabled {
		return nil
	}

	if err := rc.Limiter().Validate(); err != nil {
		return err
	}

	if rc.Retention < 0 {
		return errors.New("retention cannot be negative")
	}

	return nil
}

// Limiter converts the configuration to limiter settings.
func (rc *RateLimitConfig) Limiter() ratelimit.Config {
	return ratelimit.Config{
		RequestsPerMinute: rc.RequestsPerMinute,
		RequestsPerHour:   rc.RequestsPerHour,
		RequestsPerDay:    rc.RequestsPerDay,
		BurstLimit:        rc.BurstLimit,
		BlockDuration:     rc.BlockDuration,
	}
}

func (cc *CircuitBreakerConfig) Validate() error {
	if err := cc.Defaults().Validate(); err != nil {
		return err
	}

	for name, dep := range cc.Dependencies {
		if name == "" {
			return errors.New("dependency name cannot be empty")
		}
		if dep.FailureThreshold < 0 || dep.RecoveryTimeout < 0 {
			return fmt.Errorf("dependency %s: thresholds cannot be negative", name)
		}
	}

	return nil
}

// Defaults returns the breaker-wide settings.
func (cc *CircuitBreakerConfig) Defaults() circuit.Settings {
	return circuit.Settings{
		FailureThreshold: cc.FailureThreshold,
		RecoveryTimeout:  cc.RecoveryTimeout,
	}
}

// Overrides returns per-dependency settings with zero fields filled from
// the defaults.
func (cc *CircuitBreakerConfig) Overrides() map[string]circuit.Settings {
	out := make(map[string]circuit.Settings, len(cc.Dependencies))
	for name, dep := range cc.Dependencies {
		s := cc.Defaults()
		if dep.FailureThreshold > 0 {
			s.FailureThreshold = dep.FailureThreshold
		}
		if dep.RecoveryTimeout > 0 {
			s.RecoveryTimeout = dep.RecoveryTimeout
		}
		out[name] = s
	}
	return out
}

func (sec *SecurityConfig) Validate() error {
	for _, apiKey := range sec.APIKeys {
		if apiKey.Key == "" {
			return errors.New("API key cannot be empty")
		}
		if apiKey.Name == "" {
			return errors.New("API key name cannot be empty")
		}
	}

	if sec.EnableAuth && !slices.ContainsFunc(sec.APIKeys, func(k APIKey) bool {
		return k.HasPermission(PermissionAdmin)
	}) {
		return errors.New("at least one enabled admin API key is required when auth is enabled")
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	validTypes := []string{StorageTypeJSON, StorageTypeMemory, StorageTypePostgres, StorageTypeSQLite, StorageTypeRedis}
	if !slices.Contains(validTypes, stc.Type) {
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}

	if stc.MaxEvents < 0 {
		return errors.New("max events cannot be negative")
	}

	switch stc.Type {
	case StorageTypeJSON:
		if stc.Path == "" {
			return errors.New("path is required for JSON storage")
		}
	case StorageTypePostgres, StorageTypeSQLite:
		if stc.Database.DSN == "" {
			return errors.New("database DSN is required for database storage")
		}
	case StorageTypeRedis:
		if stc.Redis.Addr == "" {
			return errors.New("redis address is required for redis storage")
		}
	}

	return nil
}

func (lc *LoggingConfig) Validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, lc.Level) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if !slices.Contains([]string{"json", "text"}, lc.Format) {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	if !slices.Contains([]string{"stdout", "stderr", "file"}, lc.Output) {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if !oc.Tracing.Enabled {
		return nil
	}

	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("OTLP endpoint is required when exporter is otlp")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}
