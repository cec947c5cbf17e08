// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package migration manages database schema migrations for the relational
state store backend (postgres, mysql, sqlite), built on golang-migrate.

# Overview

Schema migration files for each dialect are embedded via embed.FS and
applied through golang-migrate's engine, giving statestore/relational a
versioned schema history independent of GORM's own AutoMigrate. Supported
operations are forward migration, rollback, stepping by a fixed count,
jumping to a specific version, and forcing a version when the migration
table has drifted from actual schema state.

# Core types

  - Migrator: the full operation set — Up/Down/DownAll/Steps/Goto/Force/
    Version/Status/Info/Close.
  - DefaultMigrator: the concrete Migrator, wrapping a golang-migrate
    instance and its underlying database connection.
  - Config: migration configuration — database type, connection URL,
    migration table name, lock timeout.
  - DatabaseType: the supported dialect enum (postgres/mysql/sqlite).
  - MigrationStatus / MigrationInfo: current version and applied-migration
    summaries.
  - CLI: the terminal-facing wrapper cmd/orchestrator's migrate subcommand
    calls into for formatted output.

# Entry points

NewMigratorFromConfig, NewMigratorFromDatabaseConfig, and
NewMigratorFromURL build a Migrator from, respectively, a migration.Config,
a config.DatabaseConfig (the shape cmd/orchestrator already loads), or a
raw dialect+URL pair. ParseDatabaseType and BuildDatabaseURL are the
supporting string/URL helpers those factories use.
*/
package migration
