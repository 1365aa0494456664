package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/solatis/propfilter/internal/types"
)

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"host":             "server.host",
	"port":             "server.port",
	"db-url":           "db.url",
	"log-level":        "log.level",
	"log-format":       "log.format",
	"person-on-events": "query.person_on_events",
	"combinator":       "query.combinator",
}

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
// flags may be nil; only flags present in the set are bound.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	def := DefaultConfig()
	v.SetDefault("server.host", def.Server.Host)
	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("server.max_connections", def.Server.MaxConnections)
	v.SetDefault("server.request_timeout", def.Server.RequestTimeout.String())
	v.SetDefault("query.person_on_events", def.Query.PersonOnEvents)
	v.SetDefault("query.session_ttl_days", def.Query.SessionTTLDays)
	v.SetDefault("query.lookback", def.Query.Lookback.String())
	v.SetDefault("query.combinator", def.Query.Combinator)
	v.SetDefault("db.url", def.DB.URL)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)

	// Bind environment variables with PF_ prefix
	v.SetEnvPrefix("PF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Credentials must come from the environment, never a config file
	if err := validateNoCredentialsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			MaxConnections: v.GetInt("server.max_connections"),
			RequestTimeout: v.GetDuration("server.request_timeout"),
		},
		Query: QueryConfig{
			PersonOnEvents: v.GetBool("query.person_on_events"),
			SessionTTLDays: v.GetInt("query.session_ttl_days"),
			Lookback:       v.GetDuration("query.lookback"),
			Combinator:     strings.ToUpper(v.GetString("query.combinator")),
		},
		DB: DBConfig{
			URL: v.GetString("db.url"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig reports every invalid setting at once.
func validateConfig(cfg *Config) error {
	var errs *multierror.Error
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = multierror.Append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port))
	}
	if cfg.Server.MaxConnections <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("server.max_connections must be positive, got %d", cfg.Server.MaxConnections))
	}
	if cfg.Server.RequestTimeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("server.request_timeout must be positive, got %v", cfg.Server.RequestTimeout))
	}
	if cfg.Query.SessionTTLDays <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("query.session_ttl_days must be positive, got %d", cfg.Query.SessionTTLDays))
	}
	if cfg.Query.Lookback <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("query.lookback must be positive, got %v", cfg.Query.Lookback))
	}
	if !types.Combinator(cfg.Query.Combinator).Valid() {
		errs = multierror.Append(errs, fmt.Errorf("query.combinator: %w: %q", types.ErrInvalidCombinator, cfg.Query.Combinator))
	}
	if cfg.DB.URL == "" {
		errs = multierror.Append(errs, fmt.Errorf("db.url must not be empty"))
	}
	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("log.level: %w", err))
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		errs = multierror.Append(errs, fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format))
	}
	return errs.ErrorOrNil()
}

// validateNoCredentialsInConfig rejects a database password in the config file.
func validateNoCredentialsInConfig(v *viper.Viper) error {
	if !v.InConfig("db.url") {
		return nil
	}
	u, err := url.Parse(v.GetString("db.url"))
	if err != nil || u.User == nil {
		return nil
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		return fmt.Errorf("database credentials not allowed in config files (use PF_DB_URL environment variable)")
	}
	return nil
}
