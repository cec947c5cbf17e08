package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/llmdevops/orchestrator/config"
	"github.com/llmdevops/orchestrator/internal/database"
	"github.com/llmdevops/orchestrator/statestore"
	"github.com/llmdevops/orchestrator/statestore/redisstore"
	"github.com/llmdevops/orchestrator/statestore/relational"
)

// buildStateStore constructs the statestore.Store selected by
// cfg.StateStore.Backend, wiring it to the matching connection config
// section. Every backend is a real, already-wired constructor — there is
// no in-between abstraction here, just a switch over the three backends
// statestore/* implements.
func buildStateStore(cfg *config.Config, logger *zap.Logger) (statestore.Store, error) {
	switch cfg.StateStore.Backend {
	case "memory":
		return statestore.NewMemoryStore(), nil

	case "relational":
		dialector, err := dialectorFor(cfg.Database)
		if err != nil {
			return nil, err
		}
		poolCfg := database.PoolConfig{
			MaxIdleConns:        cfg.StateStore.Pool.MaxIdleConns,
			MaxOpenConns:        cfg.StateStore.Pool.MaxOpenConns,
			ConnMaxLifetime:     cfg.StateStore.Pool.ConnMaxLifetime,
			ConnMaxIdleTime:     cfg.StateStore.Pool.ConnMaxIdleTime,
			HealthCheckInterval: cfg.StateStore.Pool.HealthCheckInterval,
		}
		return relational.NewStore(dialector, poolCfg, logger)

	case "redis":
		return redisstore.NewStore(context.Background(), redisstore.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.StateStore.KeyPrefix,
		})

	default:
		return nil, fmt.Errorf("unknown state store backend: %s", cfg.StateStore.Backend)
	}
}

func dialectorFor(dbCfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch dbCfg.Driver {
	case "postgres":
		return postgres.Open(dbCfg.DSN()), nil
	case "mysql":
		return mysql.Open(dbCfg.DSN()), nil
	case "sqlite":
		return sqlite.Open(dbCfg.DSN()), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", dbCfg.Driver)
	}
}
