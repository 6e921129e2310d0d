package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete flowkit configuration.
type Config struct {
	// Executor tunes the flow executor.
	Executor ExecutorConfig `yaml:"executor" env:"EXECUTOR"`

	// Store selects and configures run persistence.
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures trace export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics configures the Prometheus channel.
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// ExecutorConfig tunes run execution.
type ExecutorConfig struct {
	// DefaultTimeout bounds nodes that declare no timeout of their own;
	// zero leaves them unbounded.
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	// RateLimitPerSec bounds node invocations per second; zero disables
	// limiting.
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" env:"RATE_LIMIT_PER_SEC"`
	// RateLimitBurst is the limiter burst size.
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// ForeachConcurrency is the default fan-out width of control.foreach.
	ForeachConcurrency int `yaml:"foreach_concurrency" env:"FOREACH_CONCURRENCY"`
}

// StoreConfig selects the RunStore backend.
type StoreConfig struct {
	// Backend is one of "memory", "redis", "sql", "mongo".
	Backend string `yaml:"backend" env:"BACKEND"`

	Redis RedisConfig `yaml:"redis" env:"REDIS"`
	SQL   SQLConfig   `yaml:"sql" env:"SQL"`
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	PoolSize  int    `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// SQLConfig configures the GORM backend.
type SQLConfig struct {
	// Driver is one of "sqlite", "mysql", "postgres".
	Driver       string `yaml:"driver" env:"DRIVER"`
	DSN          string `yaml:"dsn" env:"DSN"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns int    `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// Migrate runs the embedded schema migrations before the store opens,
	// for deployments that manage schema outside GORM AutoMigrate.
	Migrate bool `yaml:"migrate" env:"MIGRATE"`
}

// MongoConfig configures the MongoDB backend.
type MongoConfig struct {
	URI        string `yaml:"uri" env:"URI"`
	Database   string `yaml:"database" env:"DATABASE"`
	Collection string `yaml:"collection" env:"COLLECTION"`
}

// LogConfig configures zap.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths are zap sink URLs.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// EnableCaller annotates entries with the call site.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig configures the Prometheus channel.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// Loader loads configuration with precedence defaults → YAML file →
// environment variables.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the FLOWKIT env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "FLOWKIT",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load builds the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

// MustLoad loads configuration from the given path, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate applies the built-in sanity checks.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Backend {
	case "", "memory", "redis", "sql", "mongo":
	default:
		errs = append(errs, fmt.Sprintf("unknown store backend %q", c.Store.Backend))
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown log level %q", c.Log.Level))
	}
	if c.Executor.RateLimitPerSec < 0 {
		errs = append(errs, "rate_limit_per_sec must not be negative")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry sample_rate must be within [0, 1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
