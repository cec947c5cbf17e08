// =============================================================================
// Configuration loader
// =============================================================================
// Unified configuration loading: YAML file, then environment variable
// overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("ORCHESTRATOR").
//	    Load()
//
// Precedence: defaults -> YAML file -> environment variables
// =============================================================================
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

// =============================================================================
// Core configuration structure
// =============================================================================

// Config is the orchestrator's complete configuration surface.
type Config struct {
	// Scheduler governs admission concurrency and per-run defaults.
	Scheduler SchedulerConfig `yaml:"scheduler" env:"SCHEDULER"`

	// StateStore selects which Store backend the runner and recovery
	// controller persist execution state to.
	StateStore StateStoreConfig `yaml:"state_store" env:"STATE_STORE"`

	// Redis backs the redis state store backend.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database backs the relational state store backend and the
	// migration CLI.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log controls the zap logger every component is handed.
	Log LogConfig `yaml:"log" env:"LOG"`
}

// SchedulerConfig controls the runner's admission loop. cmd/orchestrator
// copies these fields into the scheduler.Options of every run it starts.
type SchedulerConfig struct {
	// MaxConcurrency bounds how many steps the runner admits at once.
	MaxConcurrency int `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	// DefaultWorkflowTimeout becomes Options.WorkflowTimeout, so a non-zero
	// value takes the place of the workflow's own declared timeout for every
	// run cmd/orchestrator starts.
	DefaultWorkflowTimeout time.Duration `yaml:"default_workflow_timeout" env:"DEFAULT_WORKFLOW_TIMEOUT"`
	// CheckpointRetention bounds checkpoints kept per state_id; it becomes
	// Options.CheckpointRetention.
	CheckpointRetention int `yaml:"checkpoint_retention" env:"CHECKPOINT_RETENTION"`
}

// StateStoreConfig selects and parameterizes the Store backend.
type StateStoreConfig struct {
	// Backend is one of "memory", "relational", "redis".
	Backend string `yaml:"backend" env:"BACKEND"`
	// KeyPrefix namespaces redis keys when Backend is "redis".
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// Pool configures the relational backend's connection pool when
	// Backend is "relational".
	Pool PoolConfig `yaml:"pool" env:"POOL"`
}

// PoolConfig mirrors internal/database.PoolConfig field-for-field so it can
// be populated by the same loader/env mechanism as the rest of Config; the
// relational store's internal/database.PoolConfig is built from these
// fields directly by the cmd package that wires the two together.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	MaxOpenConns        int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	ConnMaxLifetime     time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime     time.Duration `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// RedisConfig configures the redis state store backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

// DatabaseConfig configures the relational state store backend and the
// migration CLI's connection.
type DatabaseConfig struct {
	// Driver selects the dialect: postgres, mysql, sqlite.
	Driver string `yaml:"driver" env:"DRIVER"`
	// Host, Port, User, Password, Name are ignored for sqlite, where Name
	// is instead the database file path.
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	Name     string `yaml:"name" env:"NAME"`
	SSLMode  string `yaml:"ssl_mode" env:"SSL_MODE"`
}

// LogConfig controls zap logger construction.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is one of json, console.
	Format      string   `yaml:"format" env:"FORMAT"`
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// =============================================================================
// Loader
// =============================================================================

// Loader loads a Config via the builder pattern.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with its environment prefix defaulted.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "ORCHESTRATOR",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file to load defaults from.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator registers an additional validation pass run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load applies defaults, then the YAML file if configured, then environment
// variable overrides, then runs every registered validator.
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

// setFieldsFromEnv walks a struct's fields by their env tag, recursing into
// nested structs, and overwrites any field whose corresponding environment
// variable is set.
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

		if field.Kind() == reflect.Struct {
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

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

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

// =============================================================================
// Helpers
// =============================================================================

// MustLoad loads from path and panics on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads defaults overridden only by environment variables.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks the fields every backend selection actually needs.
func (c *Config) Validate() error {
	var errs []string

	if c.Scheduler.MaxConcurrency <= 0 {
		errs = append(errs, "scheduler.max_concurrency must be positive")
	}
	if c.Scheduler.CheckpointRetention <= 0 {
		errs = append(errs, "scheduler.checkpoint_retention must be positive")
	}

	switch c.StateStore.Backend {
	case "memory":
	case "relational":
		if c.Database.Driver == "" {
			errs = append(errs, "database.driver is required for the relational state store backend")
		}
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis state store backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("state_store.backend %q must be one of memory, relational, redis", c.StateStore.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN renders a dialect-appropriate connection string. For sqlite, Name is
// returned as-is: it holds the database file path, not a name to embed in a
// DSN template.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
