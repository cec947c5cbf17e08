// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package database provides GORM-based connection pool management, with
health checking, statistics collection, and transaction retry.

# Overview

PoolManager wraps GORM's and database/sql's connection pool configuration
to manage connection lifetime, idle reclamation, and open-connection
limits in one place. A background health check pings on a fixed interval
and logs failures through zap for diagnosis. statestore/relational builds
one of these around whichever dialector the configured backend selects.

# Core types

  - PoolManager: the pool manager — holds the GORM DB instance and its
    underlying sql.DB, exposing DB()/Ping()/Stats()/Close() lifecycle
    methods.
  - PoolConfig: pool configuration — max idle connections, max open
    connections, connection max lifetime, idle timeout, health-check
    interval. Validate() rejects a configuration that could never produce
    a usable pool.
  - PoolStats: a JSON-friendly view of the pool's runtime statistics.
  - TransactionFunc: the transaction callback signature WithTransaction
    and WithTransactionRetry both accept.

# Core capabilities

  - Pool tuning: fine control via MaxIdleConns/MaxOpenConns/
    ConnMaxLifetime/ConnMaxIdleTime.
  - Health checking: a background PingContext loop on HealthCheckInterval,
    logging connection/idle counts at debug and failures at error.
  - Transaction management: WithTransaction runs a single transaction;
    WithTransactionRetry adds exponential backoff for deadlocks,
    serialization failures, and similar transient conditions.
  - Statistics: GetStats returns a structured snapshot of pool metrics.
*/
package database
