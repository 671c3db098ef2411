package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"admission/internal/models"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	if err := loadFromEnvironment(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// deprecatedConfig mirrors renamed config keys for detecting stale operator configs.
type deprecatedConfig struct {
	Security struct {
		RateLimit interface{} `yaml:"rate_limit"`
	} `yaml:"security"`
	RateLimit struct {
		BurstSize            *int `yaml:"burst_size"`
		BlockDurationSeconds *int `yaml:"block_duration_seconds"`
	} `yaml:"rate_limit"`
	CircuitBreaker struct {
		RecoveryTimeoutSeconds *int `yaml:"recovery_timeout_seconds"`
	} `yaml:"circuit_breaker"`
}

// warnDeprecatedKeys logs a warning for each renamed config key found in the YAML data.
// The main decoder ignores these keys, so the defaults stay in effect.
func warnDeprecatedKeys(data []byte) {
	var dep deprecatedConfig
	if err := yaml.Unmarshal(data, &dep); err != nil {
		return
	}
	if dep.Security.RateLimit != nil {
		slog.Warn("Config key has moved; configure limits under the top-level rate_limit section.", "config_key", "security.rate_limit")
	}
	if dep.RateLimit.BurstSize != nil {
		slog.Warn("Config key has been renamed to rate_limit.burst_limit and is ignored.", "config_key", "rate_limit.burst_size")
	}
	if dep.RateLimit.BlockDurationSeconds != nil {
		slog.Warn("Config key has been replaced by rate_limit.block_duration (e.g. 300s) and is ignored.", "config_key", "rate_limit.block_duration_seconds")
	}
	if dep.CircuitBreaker.RecoveryTimeoutSeconds != nil {
		slog.Warn("Config key has been replaced by circuit_breaker.recovery_timeout (e.g. 30s) and is ignored.", "config_key", "circuit_breaker.recovery_timeout_seconds")
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnDeprecatedKeys(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// envLoader applies environment overrides and collects every value that
// fails to parse, so a bad deployment reports all of its mistakes at once.
type envLoader struct {
	errs []error
}

func (l *envLoader) lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	return v, ok && v != ""
}

func (l *envLoader) fail(name, value string, err error) {
	l.errs = append(l.errs, fmt.Errorf("%s=%q: %w", name, value, err))
}

func (l *envLoader) str(name string, dst *string) {
	if v, ok := l.lookup(name); ok {
		*dst = v
	}
}

func (l *envLoader) int(name string, dst *int) {
	v, ok := l.lookup(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.fail(name, v, err)
		return
	}
	*dst = n
}

func (l *envLoader) bool(name string, dst *bool) {
	v, ok := l.lookup(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.fail(name, v, err)
		return
	}
	*dst = b
}

func (l *envLoader) float(name string, dst *float64) {
	v, ok := l.lookup(name)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		l.fail(name, v, err)
		return
	}
	*dst = f
}

func (l *envLoader) duration(name string, dst *time.Duration) {
	v, ok := l.lookup(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.fail(name, v, err)
		return
	}
	*dst = d
}

// seconds reads a whole number of seconds.
func (l *envLoader) seconds(name string, dst *time.Duration) {
	v, ok := l.lookup(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.fail(name, v, err)
		return
	}
	*dst = time.Duration(n) * time.Second
}

func (l *envLoader) err() error {
	return errors.Join(l.errs...)
}

// loadFromEnvironment loads configuration from environment variables.
// Engine thresholds use their historical unprefixed names; everything else
// is prefixed with ADMISSION_.
func loadFromEnvironment(config *models.Config) error {
	env := &envLoader{}

	// Rate limiting thresholds
	env.int("RATE_LIMIT_PER_MINUTE", &config.RateLimit.RequestsPerMinute)
	env.int("RATE_LIMIT_PER_HOUR", &config.RateLimit.RequestsPerHour)
	env.int("RATE_LIMIT_PER_DAY", &config.RateLimit.RequestsPerDay)
	env.int("RATE_LIMIT_BURST", &config.RateLimit.BurstLimit)
	env.seconds("RATE_LIMIT_BLOCK_DURATION_SECONDS", &config.RateLimit.BlockDuration)
	env.bool("ADMISSION_RATE_LIMIT_ENABLED", &config.RateLimit.Enabled)
	env.duration("ADMISSION_RATE_LIMIT_RETENTION", &config.RateLimit.Retention)

	// Circuit breaker defaults
	env.int("CIRCUIT_BREAKER_FAILURE_THRESHOLD", &config.CircuitBreaker.FailureThreshold)
	env.seconds("CIRCUIT_BREAKER_RECOVERY_TIMEOUT_SECONDS", &config.CircuitBreaker.RecoveryTimeout)

	// Server configuration
	env.int("ADMISSION_PORT", &config.Server.Port)
	env.str("ADMISSION_HOST", &config.Server.Host)
	env.duration("ADMISSION_READ_TIMEOUT", &config.Server.ReadTimeout)
	env.duration("ADMISSION_WRITE_TIMEOUT", &config.Server.WriteTimeout)
	env.duration("ADMISSION_IDLE_TIMEOUT", &config.Server.IdleTimeout)
	env.bool("ADMISSION_TLS_ENABLED", &config.Server.TLSEnabled)
	env.str("ADMISSION_TLS_CERT_FILE", &config.Server.TLSCertFile)
	env.str("ADMISSION_TLS_KEY_FILE", &config.Server.TLSKeyFile)

	// Proxy configuration
	env.str("ADMISSION_UPSTREAM_URL", &config.Proxy.UpstreamURL)
	env.str("ADMISSION_DEPENDENCY_NAME", &config.Proxy.DependencyName)
	env.duration("ADMISSION_PROXY_TIMEOUT", &config.Proxy.Timeout)

	// Security configuration
	env.bool("ADMISSION_ENABLE_AUTH", &config.Security.EnableAuth)
	env.bool("ADMISSION_TRUST_PROXY_HEADERS", &config.Security.TrustProxyHeaders)

	// Admin key from environment
	if key, ok := env.lookup("ADMISSION_ADMIN_KEY"); ok {
		config.Security.APIKeys = append(config.Security.APIKeys, models.APIKey{
			Key:         key,
			Name:        "env-admin",
			Permissions: []string{models.PermissionAdmin},
			Enabled:     true,
		})
	}

	// Storage configuration
	env.str("ADMISSION_STORAGE_TYPE", &config.Storage.Type)
	env.str("ADMISSION_STORAGE_PATH", &config.Storage.Path)
	env.int("ADMISSION_STORAGE_MAX_EVENTS", &config.Storage.MaxEvents)
	env.str("ADMISSION_DATABASE_DSN", &config.Storage.Database.DSN)
	env.int("ADMISSION_DATABASE_MAX_OPEN_CONNS", &config.Storage.Database.MaxOpenConns)
	env.int("ADMISSION_DATABASE_MAX_IDLE_CONNS", &config.Storage.Database.MaxIdleConns)
	env.str("ADMISSION_REDIS_ADDR", &config.Storage.Redis.Addr)
	env.str("ADMISSION_REDIS_PASSWORD", &config.Storage.Redis.Password)
	env.int("ADMISSION_REDIS_DB", &config.Storage.Redis.DB)
	env.str("ADMISSION_REDIS_KEY", &config.Storage.Redis.Key)

	// Logging configuration
	env.str("ADMISSION_LOG_LEVEL", &config.Logging.Level)
	env.str("ADMISSION_LOG_FORMAT", &config.Logging.Format)
	env.str("ADMISSION_LOG_OUTPUT", &config.Logging.Output)
	env.str("ADMISSION_LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics configuration
	env.bool("ADMISSION_METRICS_ENABLED", &config.Metrics.Enabled)
	env.str("ADMISSION_METRICS_PATH", &config.Metrics.Path)
	env.int("ADMISSION_METRICS_PORT", &config.Metrics.Port)

	// Tracing configuration
	env.str("ADMISSION_SERVICE_NAME", &config.Observability.ServiceName)
	env.bool("ADMISSION_TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	env.str("ADMISSION_TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	env.str("ADMISSION_OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
	env.float("ADMISSION_TRACING_SAMPLE_RATE", &config.Observability.Tracing.SampleRate)

	return env.err()
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Get default config with some example values
	config := models.NewDefaultConfig()

	// Example upstream behind the admission gate
	config.Proxy.UpstreamURL = "http://localhost:9000"

	// Example per-dependency override
	config.CircuitBreaker.Dependencies["news"] = models.CircuitSettings{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
	}

	// Enable authentication with an example admin key
	config.Security.EnableAuth = true
	config.Security.APIKeys = []models.APIKey{{
		Key:         "adm_your-admin-key-here",
		Name:        "ops",
		Permissions: []string{models.PermissionAdmin},
		Enabled:     true,
	}}

	// Example TLS configuration
	config.Server.TLSEnabled = false
	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"

	// Marshal to YAML
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// Write to file
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
