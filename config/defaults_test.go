package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, SchedulerConfig{}, cfg.Scheduler)
	assert.NotEqual(t, StateStoreConfig{}, cfg.StateStore)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
}

func TestDefaultSchedulerConfig(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	assert.Equal(t, 10, cfg.MaxConcurrency)
	assert.Equal(t, 15*time.Minute, cfg.DefaultWorkflowTimeout)
	assert.Equal(t, 10, cfg.CheckpointRetention)
}

func TestDefaultStateStoreConfig(t *testing.T) {
	cfg := DefaultStateStoreConfig()
	assert.Equal(t, "memory", cfg.Backend)
	assert.Equal(t, "orchestrator", cfg.KeyPrefix)
	assert.Equal(t, 5, cfg.Pool.MaxIdleConns)
	assert.Equal(t, 25, cfg.Pool.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, cfg.Pool.ConnMaxLifetime)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, 0, cfg.DB)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.Equal(t, "postgres", cfg.Driver)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "orchestrator", cfg.User)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, "orchestrator", cfg.Name)
	assert.Equal(t, "disable", cfg.SSLMode)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
}
