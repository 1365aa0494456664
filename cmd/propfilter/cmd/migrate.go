package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/solatis/propfilter/internal/core/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the action and team store schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := db.EnsureDir(cfg.DB.URL); err != nil {
			return err
		}
		database, err := db.Open(cfg.DB.URL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()

		ran, err := db.MigrateUp(database, logger)
		if err != nil {
			return err
		}
		if len(ran) == 0 {
			fmt.Println("No pending migrations")
			return nil
		}
		for _, id := range ran {
			fmt.Printf("%s %s\n", color.GreenString("applied"), id)
		}
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(cfg.DB.URL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()

		statuses, err := db.MigrateStatus(database)
		if err != nil {
			return err
		}

		table := tablewriter.NewTable(os.Stdout)
		table.Header([]string{"Migration", "Status", "Applied At", "Duration"})
		for _, s := range statuses {
			state, appliedAt, duration := color.YellowString("pending"), "", ""
			if s.Applied {
				state = color.GreenString("applied")
				duration = (time.Duration(s.ExecutionMs) * time.Millisecond).String()
				if s.AppliedAt != nil {
					appliedAt = s.AppliedAt.Format(time.RFC3339)
				}
			}
			if err := table.Append([]string{s.ID, state, appliedAt, duration}); err != nil {
				return err
			}
		}
		return table.Render()
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}
