// Package config loads environment-driven settings for the approvals service.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config stores all environment-driven settings.
type Config struct {
	Service  ServiceConfig
	Server   ServerConfig
	Database DatabaseConfig
	NATS     NATSConfig
	Identity IdentityConfig
	Engine   EngineConfig
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string `env:"SERVICE_NAME" envDefault:"be-plt-approvals"`
	Version     string `env:"SERVICE_VERSION" envDefault:"dev"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port            int           `env:"HTTP_PORT" envDefault:"8086"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig controls the Postgres connection pool.
type DatabaseConfig struct {
	Host        string        `env:"DB_HOST" envDefault:"localhost"`
	Port        int           `env:"DB_PORT" envDefault:"5432"`
	User        string        `env:"DB_USER" envDefault:"postgres"`
	Password    string        `env:"DB_PASSWORD" envDefault:""`
	Database    string        `env:"DB_NAME" envDefault:"approvals"`
	SSLMode     string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns    int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	MinConns    int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	MaxConnTime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	MaxIdleTime time.Duration `env:"DB_MAX_CONN_IDLE" envDefault:"30m"`
	HealthCheck time.Duration `env:"DB_HEALTHCHECK_PERIOD" envDefault:"1m"`
}

// NATSConfig controls the notification publisher. Empty URL disables publishing.
type NATSConfig struct {
	URL string `env:"NATS_URL" envDefault:""`
}

// IdentityConfig points at the platform identity service.
type IdentityConfig struct {
	BaseURL string        `env:"IDENTITY_URL" envDefault:"http://localhost:9081"`
	Timeout time.Duration `env:"IDENTITY_TIMEOUT" envDefault:"5s"`
}

// EngineConfig carries approval-engine policy knobs.
type EngineConfig struct {
	// Storage selects the backing store: postgres | memory.
	Storage string `env:"APPROVALS_STORAGE" envDefault:"postgres"`
	// LockTimeout bounds the wait for the per-request decision lock.
	LockTimeout time.Duration `env:"APPROVALS_LOCK_TIMEOUT" envDefault:"5s"`
	// DispatchTimeout bounds each downstream side-effect call.
	DispatchTimeout time.Duration `env:"APPROVALS_DISPATCH_TIMEOUT" envDefault:"10s"`
	// DelegatedAuthority selects whose limit applies when acting under a
	// delegation: "own" (the delegate's limit) or "delegator" (the widest
	// delegator limit also applies).
	DelegatedAuthority string `env:"APPROVALS_DELEGATED_AUTHORITY" envDefault:"own"`
	// DelegateRoles lists role names eligible to receive a delegation.
	DelegateRoles []string `env:"APPROVALS_DELEGATE_ROLES" envDefault:"MANAGER,FINANCE_MANAGER,CFO" envSeparator:","`
	// SweepInterval controls the delegation expiry sweeper; 0 disables it.
	SweepInterval time.Duration `env:"APPROVALS_SWEEP_INTERVAL" envDefault:"10m"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
