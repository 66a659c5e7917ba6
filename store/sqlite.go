// ABOUTME: SQLite-backed checkpoint saver for single-host deployments.
// ABOUTME: One row per checkpoint; the latest row per run answers resume and listing queries.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/trendloom/trendloom/graph"
)

// SqliteSaver persists checkpoints in a local SQLite database.
type SqliteSaver struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite checkpoint database at the given path.
func OpenSqlite(path string) (*SqliteSaver, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			superstep INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			state TEXT NOT NULL,
			frontier TEXT NOT NULL,
			pending TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_checkpoints_run
			ON checkpoints(run_id, superstep);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SqliteSaver{db: db}, nil
}

// Close closes the database connection.
func (s *SqliteSaver) Close() error {
	return s.db.Close()
}

// Put stores one checkpoint row.
func (s *SqliteSaver) Put(ctx context.Context, cp *graph.Checkpoint) error {
	state, err := encodeState(cp.State)
	if err != nil {
		return err
	}
	frontier, err := encodeFrontier(cp.Frontier)
	if err != nil {
		return err
	}
	pending, err := encodePending(cp.Pending)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, run_id, superstep, created_at, state, frontier, pending)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.RunID, cp.Superstep, cp.CreatedAt.Format(time.RFC3339Nano),
		state, frontier, pending)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// Latest returns the newest checkpoint for a run. ULIDs are time-ordered, so
// the id breaks ties between rows at the same superstep.
func (s *SqliteSaver) Latest(ctx context.Context, runID string) (*graph.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, superstep, created_at, state, frontier, pending
		 FROM checkpoints WHERE run_id = ?
		 ORDER BY superstep DESC, id DESC LIMIT 1`,
		runID)
	cp, err := scanCheckpoint(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, graph.ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("query latest checkpoint: %w", err)
	}
	return cp, nil
}

// List returns the full checkpoint lineage for a run in superstep order.
func (s *SqliteSaver) List(ctx context.Context, runID string) ([]*graph.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, superstep, created_at, state, frontier, pending
		 FROM checkpoints WHERE run_id = ?
		 ORDER BY superstep ASC, id ASC`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cps []*graph.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

// Runs summarizes every run from its latest checkpoint, newest first.
func (s *SqliteSaver) Runs(ctx context.Context) ([]graph.RunInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.run_id, c.superstep, c.created_at, c.pending IS NOT NULL
		 FROM checkpoints c
		 WHERE c.id = (
			SELECT id FROM checkpoints c2 WHERE c2.run_id = c.run_id
			ORDER BY c2.superstep DESC, c2.id DESC LIMIT 1)
		 ORDER BY c.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var infos []graph.RunInfo
	for rows.Next() {
		var info graph.RunInfo
		var createdAt string
		if err := rows.Scan(&info.RunID, &info.Superstep, &createdAt, &info.Suspended); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		if err := info.UpdatedAt.UnmarshalText([]byte(createdAt)); err != nil {
			return nil, fmt.Errorf("parse run updated_at: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// scanCheckpoint decodes one checkpoint row through the given Scan func.
func scanCheckpoint(scan func(...any) error) (*graph.Checkpoint, error) {
	var (
		id, runID, createdAt, state, frontier string
		superstep                             int
		pending                               *string
	)
	if err := scan(&id, &runID, &superstep, &createdAt, &state, &frontier, &pending); err != nil {
		return nil, err
	}
	return decodeCheckpoint(id, runID, superstep, createdAt, state, frontier, pending)
}
