// =============================================================================
// Default configuration
// =============================================================================
package config

import "time"

// DefaultConfig returns a Config with every section defaulted to values safe
// for local development (in-memory state store, no external services).
func DefaultConfig() *Config {
	return &Config{
		Scheduler:  DefaultSchedulerConfig(),
		StateStore: DefaultStateStoreConfig(),
		Redis:      DefaultRedisConfig(),
		Database:   DefaultDatabaseConfig(),
		Log:        DefaultLogConfig(),
	}
}

// DefaultSchedulerConfig mirrors the runner's own zero-value fallbacks
// (DefaultMaxConcurrency, DefaultCheckpointRetention) so a config file that
// omits the section behaves identically to one that sets it explicitly.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrency:         10,
		DefaultWorkflowTimeout: 15 * time.Minute,
		CheckpointRetention:    10,
	}
}

// DefaultStateStoreConfig defaults to the in-memory backend, which needs no
// external service to run against.
func DefaultStateStoreConfig() StateStoreConfig {
	return StateStoreConfig{
		Backend:   "memory",
		KeyPrefix: "orchestrator",
		Pool: PoolConfig{
			MaxIdleConns:    5,
			MaxOpenConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
	}
}

// DefaultRedisConfig returns the conventional local redis address.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     "localhost:6379",
		Password: "",
		DB:       0,
	}
}

// DefaultDatabaseConfig returns connection parameters for a local postgres.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:   "postgres",
		Host:     "localhost",
		Port:     5432,
		User:     "orchestrator",
		Password: "",
		Name:     "orchestrator",
		SSLMode:  "disable",
	}
}

// DefaultLogConfig returns production-shaped JSON logging to stdout.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}
