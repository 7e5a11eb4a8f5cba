// Package config provides hierarchical configuration loading for Toolgate.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the Toolgate core service.
type Config struct {
	Server   Server   `yaml:"server"`
	Postgres Postgres `yaml:"postgres"`
	NATS     NATS     `yaml:"nats"`
	Logging  Logging  `yaml:"logging"`
	Breaker  Breaker  `yaml:"breaker"`
	Cache    Cache    `yaml:"cache"`
	Policy   Policy   `yaml:"policy"`
	Approval Approval `yaml:"approval"`
	Otel     Otel     `yaml:"otel"`
	Webhook  Webhook  `yaml:"webhook"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Postgres holds PostgreSQL connection configuration. An empty DSN selects
// the in-memory approval store and audit log.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds NATS JetStream configuration. An empty URL disables the NATS
// dispatch channel and decision subscriber.
type NATS struct {
	URL string `yaml:"url"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Breaker holds the per-channel dispatch circuit breaker configuration.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Cache holds verdict cache configuration.
type Cache struct {
	MaxSizeMB int64         `yaml:"max_size_mb"`
	TTL       time.Duration `yaml:"ttl"`
}

// Policy holds permission policy configuration.
type Policy struct {
	File string `yaml:"file"`
}

// Approval holds approval orchestration configuration.
type Approval struct {
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	HistoryEntries int           `yaml:"history_entries"`
}

// Otel holds OpenTelemetry export configuration. An empty endpoint
// disables export.
type Otel struct {
	Endpoint string `yaml:"endpoint"`
}

// Webhook holds the generic webhook dispatch channel configuration.
// An empty URL disables the channel.
type Webhook struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		Logging: Logging{
			Level:   "info",
			Service: "toolgate",
		},
		Breaker: Breaker{
			MaxFailures: 3,
			Timeout:     30 * time.Second,
		},
		Cache: Cache{
			MaxSizeMB: 16,
			TTL:       10 * time.Minute,
		},
		Policy: Policy{
			File: "policy.yaml",
		},
		Approval: Approval{
			SweepInterval:  15 * time.Second,
			HistoryEntries: 1000,
		},
	}
}
