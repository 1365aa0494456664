package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/solatis/propfilter/internal/core/db"
	"github.com/solatis/propfilter/internal/types"
)

// importFile is the document accepted by the import command.
type importFile struct {
	Teams   []importTeam   `json:"teams"`
	Actions []types.Action `json:"actions"`
}

type importTeam struct {
	ID                 int64            `json:"id"`
	Name               string           `json:"name"`
	TestAccountFilters []map[string]any `json:"test_account_filters"`
	PersonOnEvents     bool             `json:"person_on_events"`
	SessionTTLDays     int              `json:"session_ttl_days"`
}

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Load teams and actions from a JSON file",
	Long: `Import inserts the teams and actions of a JSON document of the form

  {"teams": [{"id": 1, "name": "...", "test_account_filters": [...]}],
   "actions": [{"id": 10, "team_id": 1, "name": "...", "steps": [...]}]}`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var deleteActionTeam int64

var deleteActionCmd = &cobra.Command{
	Use:   "delete-action ID",
	Short: "Soft-delete an action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid action id %q: %w", args[0], err)
		}
		store, closeDB, err := openStore()
		if err != nil {
			return err
		}
		defer closeDB()

		if err := store.DeleteAction(context.Background(), deleteActionTeam, id); err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{"team_id": deleteActionTeam, "action_id": id}).Info("Deleted action")
		return nil
	},
}

func init() {
	deleteActionCmd.Flags().Int64Var(&deleteActionTeam, "team", 0, "team owning the action")
	_ = deleteActionCmd.MarkFlagRequired("team")
	rootCmd.AddCommand(importCmd, deleteActionCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var doc importFile
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode %s: %w", args[0], err)
	}

	store, closeDB, err := openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	// all or nothing
	ctx := context.Background()
	err = store.InTx(ctx, func(tx *db.Store) error {
		for _, t := range doc.Teams {
			team := &types.Team{
				ID:                 t.ID,
				Name:               t.Name,
				TestAccountFilters: t.TestAccountFilters,
				PersonOnEvents:     t.PersonOnEvents,
				SessionTTLDays:     t.SessionTTLDays,
			}
			if err := tx.CreateTeam(ctx, team); err != nil {
				return err
			}
		}
		for i := range doc.Actions {
			if err := tx.CreateAction(ctx, &doc.Actions[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("import of %s rolled back: %w", args[0], err)
	}

	logger.WithFields(logrus.Fields{
		"teams":   len(doc.Teams),
		"actions": len(doc.Actions),
	}).Info("Imported")
	return nil
}
