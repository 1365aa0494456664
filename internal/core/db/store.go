package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/solatis/propfilter/internal/filters"
	"github.com/solatis/propfilter/internal/types"
)

/*
 * Read side of the action and team tables.
 *
 * Actions and teams are owned by the product database; the compiler only
 * reads them. Step properties and team test-account filters are stored as
 * JSON text and decoded here, so callers receive fully typed values.
 *
 * Writes exist for seeding. An action and its steps are written in one
 * transaction: an action row without its steps would compile to "true" and
 * match every event.
 *
 * Lookups are team scoped: an action id that exists for another team is
 * reported as not found, the same as one that does not exist.
 */

// Store reads actions and teams.
type Store struct {
	q   *Queries
	db  *sqlx.DB // nil when bound to a transaction
	log logrus.FieldLogger
}

type actionRow struct {
	ID     int64  `db:"id"`
	TeamID int64  `db:"team_id"`
	Name   string `db:"name"`
}

type stepRow struct {
	types.ActionStep
	PropertiesJSON string `db:"properties"`
}

type teamRow struct {
	ID                 int64  `db:"id"`
	Name               string `db:"name"`
	PersonOnEvents     bool   `db:"person_on_events"`
	SessionTTLDays     int    `db:"session_ttl_days"`
	TestAccountFilters string `db:"test_account_filters"`
}

// NewStore loads the named queries for db.
func NewStore(db *sqlx.DB, log logrus.FieldLogger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	q, err := LoadQueries(db)
	if err != nil {
		return nil, err
	}
	return &Store{q: q, db: db, log: log}, nil
}

// InTx runs fn with a store bound to a single transaction, committing when fn
// succeeds and rolling back otherwise. A store already bound to a transaction
// runs fn inside it.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&Store{q: s.q.WithTx(tx), log: s.log}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetAction loads an action with its steps in order.
// Returns *types.ActionNotFoundError for unknown, deleted or foreign ids.
func (s *Store) GetAction(ctx context.Context, teamID, id int64) (*types.Action, error) {
	var row actionRow
	if err := s.q.Get(ctx, "get-action", &row, teamID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &types.ActionNotFoundError{ID: id}
		}
		return nil, fmt.Errorf("failed to get action %d: %w", id, err)
	}

	var rows []stepRow
	if err := s.q.Select(ctx, "list-action-steps", &rows, id); err != nil {
		return nil, fmt.Errorf("failed to list steps of action %d: %w", id, err)
	}

	action := &types.Action{ID: row.ID, TeamID: row.TeamID, Name: row.Name}
	for i, r := range rows {
		step := r.ActionStep
		if r.PropertiesJSON != "" {
			if err := json.Unmarshal([]byte(r.PropertiesJSON), &step.Properties); err != nil {
				return nil, fmt.Errorf("action %d step %d: invalid properties: %w", id, i, err)
			}
		}
		action.Steps = append(action.Steps, step)
	}

	s.log.WithFields(logrus.Fields{
		"team_id":   teamID,
		"action_id": id,
		"steps":     len(action.Steps),
	}).Debug("Loaded action")

	return action, nil
}

// GetTeam loads a team's compilation settings.
// Returns an error matching types.ErrTeamNotFound for unknown ids.
func (s *Store) GetTeam(ctx context.Context, id int64) (*types.Team, error) {
	var row teamRow
	if err := s.q.Get(ctx, "get-team", &row, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", types.ErrTeamNotFound, id)
		}
		return nil, fmt.Errorf("failed to get team %d: %w", id, err)
	}

	team := &types.Team{
		ID:             row.ID,
		Name:           row.Name,
		PersonOnEvents: row.PersonOnEvents,
		SessionTTLDays: row.SessionTTLDays,
	}
	if row.TestAccountFilters != "" {
		if err := json.Unmarshal([]byte(row.TestAccountFilters), &team.TestAccountFilters); err != nil {
			return nil, fmt.Errorf("team %d: invalid test account filters: %w", id, err)
		}
	}
	return team, nil
}

// CreateTeam inserts a team row.
func (s *Store) CreateTeam(ctx context.Context, team *types.Team) error {
	testFilters := team.TestAccountFilters
	if testFilters == nil {
		testFilters = []map[string]any{}
	}
	encoded, err := json.Marshal(testFilters)
	if err != nil {
		return fmt.Errorf("failed to encode test account filters: %w", err)
	}
	if _, err := s.q.Exec(ctx, "insert-team", team.ID, team.Name, team.PersonOnEvents, team.SessionTTLDays, string(encoded)); err != nil {
		return fmt.Errorf("failed to insert team %d: %w", team.ID, err)
	}
	return nil
}

// CreateAction inserts an action and its steps in order, atomically.
func (s *Store) CreateAction(ctx context.Context, action *types.Action) error {
	return s.InTx(ctx, func(tx *Store) error {
		return tx.insertAction(ctx, action)
	})
}

func (s *Store) insertAction(ctx context.Context, action *types.Action) error {
	if _, err := s.q.Exec(ctx, "insert-action", action.ID, action.TeamID, action.Name); err != nil {
		return fmt.Errorf("failed to insert action %d: %w", action.ID, err)
	}
	for i, step := range action.Steps {
		props := step.Properties
		if props == nil {
			props = []types.PropertyLeaf{}
		}
		encoded, err := json.Marshal(props)
		if err != nil {
			return fmt.Errorf("action %d step %d: failed to encode properties: %w", action.ID, i, err)
		}
		_, err = s.q.Exec(ctx, "insert-action-step",
			action.ID, i, step.Event,
			step.URL, string(step.URLMatching),
			step.Text, string(step.TextMatching),
			step.Href, string(step.HrefMatching),
			step.Selector, step.TagName, string(encoded),
		)
		if err != nil {
			return fmt.Errorf("failed to insert step %d of action %d: %w", i, action.ID, err)
		}
	}
	return nil
}

// DeleteAction soft-deletes an action; later lookups report it as not found.
func (s *Store) DeleteAction(ctx context.Context, teamID, id int64) error {
	res, err := s.q.Exec(ctx, "delete-action", teamID, id)
	if err != nil {
		return fmt.Errorf("failed to delete action %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &types.ActionNotFoundError{ID: id}
	}
	return nil
}

// Actions returns the action lookup for one team.
func (s *Store) Actions(teamID int64) filters.ActionLookup {
	return &TeamActions{store: s, teamID: teamID}
}

// TeamActions resolves action ids within a single team.
type TeamActions struct {
	store  *Store
	teamID int64
}

// GetAction loads an action of the bound team.
func (t *TeamActions) GetAction(ctx context.Context, id int64) (*types.Action, error) {
	return t.store.GetAction(ctx, t.teamID, id)
}
