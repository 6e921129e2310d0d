package config

// DefaultConfig returns the defaults every load starts from.
func DefaultConfig() *Config {
	return &Config{
		Executor:  DefaultExecutorConfig(),
		Store:     DefaultStoreConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// DefaultExecutorConfig returns the default executor tuning.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		DefaultTimeout:     0,
		RateLimitPerSec:    0,
		RateLimitBurst:     1,
		ForeachConcurrency: 4,
	}
}

// DefaultStoreConfig keeps runs in memory unless told otherwise.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Backend: "memory",
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "flowkit:",
		},
		SQL: SQLConfig{
			Driver:       "sqlite",
			DSN:          "flowkit.db",
			MaxOpenConns: 10,
			MaxIdleConns: 2,
		},
		Mongo: MongoConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "flowkit",
			Collection: "run",
		},
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: false,
	}
}

// DefaultTelemetryConfig keeps tracing off until an endpoint is configured.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "flowkit",
		SampleRate:   1.0,
	}
}

// DefaultMetricsConfig returns the default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Namespace: "flowkit",
	}
}
