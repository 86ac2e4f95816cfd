package config

import (
	"time"

	"github.com/knadh/koanf/v2"
)

// Config represents the overall configuration of a txnest-based program.
// Sections not modelled here (for example "observability") remain reachable
// through Unmarshal and the typed getters.
type Config struct {
	App         AppConfig         `koanf:"app" json:"app" yaml:"app"`
	Log         LogConfig         `koanf:"log" json:"log" yaml:"log"`
	Database    DatabaseConfig    `koanf:"database" json:"database" yaml:"database"`
	Transaction TransactionConfig `koanf:"transaction" json:"transaction" yaml:"transaction"`

	k *koanf.Koanf `json:"-" yaml:"-"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name string `koanf:"name" json:"name" yaml:"name" validate:"required"`
	Env  string `koanf:"env" json:"env" yaml:"env" validate:"oneof=development staging production"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level" validate:"oneof=trace debug info warn error disabled"`
	Pretty bool   `koanf:"pretty" json:"pretty" yaml:"pretty"`
}

// DatabaseConfig holds database connection settings.
// ConnectionString, when set, takes precedence over the discrete fields.
type DatabaseConfig struct {
	Type     string `koanf:"type" json:"type" yaml:"type"`
	Host     string `koanf:"host" json:"host" yaml:"host"`
	Port     int    `koanf:"port" json:"port" yaml:"port" validate:"gte=0,lte=65535"`
	Database string `koanf:"database" json:"database" yaml:"database"`
	Username string `koanf:"username" json:"username" yaml:"username"`
	Password string `koanf:"password" json:"-" yaml:"password"`

	ConnectionString string `koanf:"connectionstring" json:"-" yaml:"connectionstring"`

	Pool   PoolConfig   `koanf:"pool" json:"pool" yaml:"pool"`
	SQLite SQLiteConfig `koanf:"sqlite" json:"sqlite" yaml:"sqlite"`
	Oracle OracleConfig `koanf:"oracle" json:"oracle" yaml:"oracle"`
	Mongo  MongoConfig  `koanf:"mongo" json:"mongo" yaml:"mongo"`
}

// PoolConfig holds connection pool settings.
// Defaults applied by Load:
//   - Max.Connections: 25
//   - Idle.Connections: 2
//   - Idle.Time: 5m
//   - Lifetime.Max: 30m
type PoolConfig struct {
	Max      PoolMaxConfig  `koanf:"max" json:"max" yaml:"max"`
	Idle     PoolIdleConfig `koanf:"idle" json:"idle" yaml:"idle"`
	Lifetime LifetimeConfig `koanf:"lifetime" json:"lifetime" yaml:"lifetime"`
}

// PoolMaxConfig holds maximum connections settings.
type PoolMaxConfig struct {
	Connections int32 `koanf:"connections" json:"connections" yaml:"connections" validate:"gte=0"`
}

// PoolIdleConfig holds idle connections settings.
type PoolIdleConfig struct {
	Connections int32 `koanf:"connections" json:"connections" yaml:"connections" validate:"gte=0"`

	// Time is the maximum duration an idle connection may remain unused before closing.
	Time time.Duration `koanf:"time" json:"time" yaml:"time" validate:"gte=0"`
}

// LifetimeConfig holds maximum lifetime settings for connections.
type LifetimeConfig struct {
	// Max is the maximum duration a connection may be reused. Zero disables the limit.
	Max time.Duration `koanf:"max" json:"max" yaml:"max" validate:"gte=0"`
}

// SQLiteConfig holds SQLite settings. An empty Path selects a private in-memory database.
type SQLiteConfig struct {
	Path string `koanf:"path" json:"path" yaml:"path"`
}

// OracleConfig holds Oracle-specific database settings.
type OracleConfig struct {
	Service ServiceConfig `koanf:"service" json:"service" yaml:"service"`
}

// ServiceConfig holds Oracle service connection settings.
// Name and SID are mutually exclusive.
type ServiceConfig struct {
	Name string `koanf:"name" json:"name" yaml:"name"`
	SID  string `koanf:"sid" json:"sid" yaml:"sid"`
}

// MongoConfig holds MongoDB-specific settings.
type MongoConfig struct {
	URI string `koanf:"uri" json:"-" yaml:"uri"`
}

// TransactionConfig holds the options applied to every physical transaction.
type TransactionConfig struct {
	ReadOnly  bool          `koanf:"readonly" json:"readonly" yaml:"readonly"`
	Isolation string        `koanf:"isolation" json:"isolation" yaml:"isolation" validate:"omitempty,oneof=default read_uncommitted read_committed repeatable_read serializable"`
	Acquire   AcquireConfig `koanf:"acquire" json:"acquire" yaml:"acquire"`
}

// AcquireConfig bounds how long Begin may wait for a pooled connection.
type AcquireConfig struct {
	Timeout time.Duration `koanf:"timeout" json:"timeout" yaml:"timeout" validate:"gte=0"`
}
