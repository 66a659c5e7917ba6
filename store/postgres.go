// ABOUTME: Postgres-backed checkpoint saver for shared deployments where several hosts serve one run store.
// ABOUTME: Opens through database/sql with the pgx driver; checkpoint payloads live in JSONB columns.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/trendloom/trendloom/graph"
)

// PostgresConfig tunes the connection pool for a shared checkpoint database.
type PostgresConfig struct {
	URL             string
	PingTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPostgresConfig returns pool settings suitable for a small deployment.
func DefaultPostgresConfig(url string) PostgresConfig {
	return PostgresConfig{
		URL:             url,
		PingTimeout:     2 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// PostgresSaver persists checkpoints in a Postgres database.
type PostgresSaver struct {
	db *sql.DB
}

// OpenPostgres connects, verifies the connection, and ensures the schema.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresSaver, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgres: connection URL is required")
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 2 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			superstep INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			state JSONB NOT NULL,
			frontier JSONB NOT NULL,
			pending JSONB
		);

		CREATE INDEX IF NOT EXISTS idx_checkpoints_run
			ON checkpoints(run_id, superstep);`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &PostgresSaver{db: db}, nil
}

// Close closes the connection pool.
func (p *PostgresSaver) Close() error {
	return p.db.Close()
}

// Put stores one checkpoint row.
func (p *PostgresSaver) Put(ctx context.Context, cp *graph.Checkpoint) error {
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

	_, err = p.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, run_id, superstep, created_at, state, frontier, pending)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		cp.ID, cp.RunID, cp.Superstep, cp.CreatedAt, state, frontier, pending)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// Latest returns the newest checkpoint for a run.
func (p *PostgresSaver) Latest(ctx context.Context, runID string) (*graph.Checkpoint, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, run_id, superstep, created_at, state, frontier, pending
		 FROM checkpoints WHERE run_id = $1
		 ORDER BY superstep DESC, id DESC LIMIT 1`,
		runID)
	cp, err := scanPgCheckpoint(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, graph.ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("query latest checkpoint: %w", err)
	}
	return cp, nil
}

// List returns the full checkpoint lineage for a run in superstep order.
func (p *PostgresSaver) List(ctx context.Context, runID string) ([]*graph.Checkpoint, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, run_id, superstep, created_at, state, frontier, pending
		 FROM checkpoints WHERE run_id = $1
		 ORDER BY superstep ASC, id ASC`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cps []*graph.Checkpoint
	for rows.Next() {
		cp, err := scanPgCheckpoint(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

// Runs summarizes every run from its latest checkpoint, newest first.
func (p *PostgresSaver) Runs(ctx context.Context) ([]graph.RunInfo, error) {
	rows, err := p.db.QueryContext(ctx,
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
		if err := rows.Scan(&info.RunID, &info.Superstep, &info.UpdatedAt, &info.Suspended); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func scanPgCheckpoint(scan func(...any) error) (*graph.Checkpoint, error) {
	var (
		cp              graph.Checkpoint
		state, frontier []byte
		pending         []byte
	)
	if err := scan(&cp.ID, &cp.RunID, &cp.Superstep, &cp.CreatedAt, &state, &frontier, &pending); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(state, &cp.State); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	if err := json.Unmarshal(frontier, &cp.Frontier); err != nil {
		return nil, fmt.Errorf("unmarshal frontier: %w", err)
	}
	if pending != nil {
		cp.Pending = &graph.PendingInterrupt{}
		if err := json.Unmarshal(pending, cp.Pending); err != nil {
			return nil, fmt.Errorf("unmarshal pending interrupt: %w", err)
		}
	}
	return &cp, nil
}
