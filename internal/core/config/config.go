// Package config provides configuration management for propfilter services.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config is the complete process configuration.
type Config struct {
	Server ServerConfig
	Query  QueryConfig
	DB     DBConfig
	Log    LogConfig
}

// ServerConfig holds configuration for the gRPC compiler service.
type ServerConfig struct {
	Host           string
	Port           int
	MaxConnections int
	RequestTimeout time.Duration
}

// QueryConfig holds process-wide compilation defaults. Team rows override
// SessionTTLDays and may enable PersonOnEvents per team.
type QueryConfig struct {
	PersonOnEvents bool
	SessionTTLDays int
	Lookback       time.Duration
	Combinator     string
}

// DBConfig holds the action and team store location.
// URL is a postgres:// URL or a sqlite file path.
type DBConfig struct {
	URL string
}

// LogConfig selects the logrus level and formatter.
type LogConfig struct {
	Level  string
	Format string
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           50051,
			MaxConnections: 1000,
			RequestTimeout: 30 * time.Second,
		},
		Query: QueryConfig{
			SessionTTLDays: 30,
			Lookback:       7 * 24 * time.Hour,
			Combinator:     "AND",
		},
		DB: DBConfig{
			URL: "./data/propfilter.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Address returns host:port for net.Listen.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
