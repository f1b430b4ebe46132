package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/inference-sim/agentsim/sim"
)

// SQLiteStore is a Store backed by a SQLite database file.
// Unscoped properties are stored with step -1 and participant '' so the
// key tuple can carry a UNIQUE constraint.
type SQLiteStore struct {
	db *sql.DB
}

// migrations are applied in order and recorded in schema_migrations.
var migrations = []struct {
	version string
	sql     string
}{
	{"001_initial", `
		CREATE TABLE runs (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			scenario     TEXT NOT NULL,
			parameters   TEXT NOT NULL DEFAULT '{}',
			state        TEXT NOT NULL,
			finish_time  INTEGER NOT NULL DEFAULT 0,
			current_step INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE properties (
			run_id      INTEGER NOT NULL REFERENCES runs(id),
			key         TEXT NOT NULL,
			step        INTEGER NOT NULL DEFAULT -1,
			participant TEXT NOT NULL DEFAULT '',
			value       TEXT NOT NULL,
			UNIQUE (run_id, key, step, participant)
		);
		CREATE INDEX idx_properties_run ON properties(run_id);
	`},
}

// OpenSQLite opens (creating if needed) the database at path and runs
// pending migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	for _, m := range migrations {
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version).Scan(&count); err != nil {
			return fmt.Errorf("failed to check migration %s: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// CreateRun implements Store.
func (s *SQLiteStore) CreateRun(ctx context.Context, run sim.Run) (int64, error) {
	params, err := json.Marshal(copyParams(run.Parameters))
	if err != nil {
		return 0, fmt.Errorf("encoding parameters: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (scenario, parameters, state, finish_time, current_step) VALUES (?, ?, ?, ?, 0)`,
		run.Scenario, string(params), string(sim.RunNotStarted), run.FinishTime)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	return res.LastInsertId()
}

// GetRun implements Store.
func (s *SQLiteStore) GetRun(ctx context.Context, id int64) (sim.Run, error) {
	var (
		run    sim.Run
		params string
		state  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, scenario, parameters, state, finish_time, current_step FROM runs WHERE id = ?`, id).
		Scan(&run.ID, &run.Scenario, &params, &state, &run.FinishTime, &run.CurrentStep)
	if errors.Is(err, sql.ErrNoRows) {
		return sim.Run{}, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	if err != nil {
		return sim.Run{}, fmt.Errorf("querying run %d: %w", id, err)
	}
	run.State = sim.RunState(state)
	if err := json.Unmarshal([]byte(params), &run.Parameters); err != nil {
		return sim.Run{}, fmt.Errorf("decoding parameters of run %d: %w", id, err)
	}
	if run.Parameters == nil {
		run.Parameters = sim.Parameters{}
	}
	return run, nil
}

// UpdateRunState implements Store.
func (s *SQLiteStore) UpdateRunState(ctx context.Context, id int64, state sim.RunState) error {
	if !state.Valid() {
		return fmt.Errorf("invalid run state %q", state)
	}
	return s.updateRun(ctx, id, `UPDATE runs SET state = ? WHERE id = ?`, string(state), id)
}

// UpdateRunProgress implements Store.
func (s *SQLiteStore) UpdateRunProgress(ctx context.Context, id int64, step int64) error {
	return s.updateRun(ctx, id, `UPDATE runs SET current_step = ? WHERE id = ?`, step, id)
}

func (s *SQLiteStore) updateRun(ctx context.Context, id int64, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating run %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	return nil
}

// PutProperty implements Store.
func (s *SQLiteStore) PutProperty(ctx context.Context, p Property) error {
	if p.Key == "" {
		return fmt.Errorf("property key must not be empty")
	}
	if err := s.exists(ctx, p.RunID); err != nil {
		return err
	}
	k := keyOf(p)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO properties (run_id, key, step, participant, value) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id, key, step, participant) DO UPDATE SET value = excluded.value`,
		p.RunID, k.key, k.step, k.participant, p.Value)
	if err != nil {
		return fmt.Errorf("writing property %s of run %d: %w", p.Key, p.RunID, err)
	}
	return nil
}

// Properties implements Store.
func (s *SQLiteStore) Properties(ctx context.Context, runID int64, filter PropertyFilter) ([]Property, error) {
	if err := s.exists(ctx, runID); err != nil {
		return nil, err
	}
	where := []string{"run_id = ?"}
	args := []any{runID}
	if filter.Key != "" {
		where = append(where, "key = ?")
		args = append(args, filter.Key)
	}
	if filter.Step != nil {
		where = append(where, "step = ?")
		args = append(args, *filter.Step)
	}
	if filter.Participant != nil {
		where = append(where, "participant = ?")
		args = append(args, *filter.Participant)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, step, participant, value FROM properties WHERE `+strings.Join(where, " AND ")+
			` ORDER BY key, step, participant`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying properties of run %d: %w", runID, err)
	}
	defer rows.Close()

	var out []Property
	for rows.Next() {
		var (
			p           = Property{RunID: runID}
			step        int64
			participant string
		)
		if err := rows.Scan(&p.Key, &step, &participant, &p.Value); err != nil {
			return nil, err
		}
		if step >= 0 {
			p.Step = StepOf(step)
		}
		if participant != "" {
			p.Participant = ParticipantOf(participant)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) exists(ctx context.Context, id int64) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, id).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
