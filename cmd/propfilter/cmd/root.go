package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/solatis/propfilter/internal/core/api"
	"github.com/solatis/propfilter/internal/core/config"
	"github.com/solatis/propfilter/internal/core/db"
	"github.com/solatis/propfilter/internal/filters"
	"github.com/solatis/propfilter/internal/types"
)

const Version = "0.1.0"

var (
	configFile string
	dbURL      string
	logLevel   string
	logFormat  string

	// set by PersistentPreRunE before any subcommand runs
	cfg    *config.Config
	logger = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "propfilter",
	Short: "Property filter to query compiler",
	Long: `propfilter compiles analytics property filters, actions and entities into
ClickHouse-style SQL over the events table, routing cohort and person
conditions through distinct_id subqueries.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database connection URL (sqlite://path, a file path or postgres://...)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, text)")
	rootCmd.Version = Version
}

func Execute() error {
	return rootCmd.Execute()
}

func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.LoadConfig(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg = loaded

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	logger.SetOutput(os.Stderr)
	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// settings maps the query section onto compiler defaults.
func settings(c *config.Config) filters.Settings {
	return filters.Settings{
		Combinator:     types.Combinator(c.Query.Combinator),
		SessionTTLDays: c.Query.SessionTTLDays,
		Lookback:       c.Query.Lookback,
		PersonOnEvents: c.Query.PersonOnEvents,
	}
}

// openStore opens the configured database and refuses to continue while
// migrations are pending.
func openStore() (*db.Store, func(), error) {
	database, err := db.Open(cfg.DB.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	closeDB := func() { _ = database.Close() }

	statuses, err := db.MigrateStatus(database)
	if err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("failed to check migrations: %w", err)
	}
	for _, s := range statuses {
		if !s.Applied {
			closeDB()
			return nil, nil, fmt.Errorf("migration %s not applied - run 'propfilter migrate up' first", s.ID)
		}
	}

	store, err := db.NewStore(database, logger)
	if err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("failed to load queries: %w", err)
	}
	return store, closeDB, nil
}

// newService opens the store and builds the compiler service over it.
func newService() (*api.CompilerService, func(), error) {
	store, closeDB, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	service, err := api.NewCompilerService(store, settings(cfg), cfg.Server.RequestTimeout, logger)
	if err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("failed to create service: %w", err)
	}
	return service, closeDB, nil
}
