// ABOUTME: Shared saver tests run against the memory and SQLite backends.
// ABOUTME: Postgres runs the same suite when TRENDLOOM_TEST_POSTGRES_URL is set.
package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/trendloom/trendloom/graph"
)

func savers(t *testing.T) map[string]graph.Saver {
	t.Helper()
	out := map[string]graph.Saver{
		"memory": NewMemorySaver(),
	}

	sq, err := OpenSqlite(filepath.Join(t.TempDir(), "checkpoints.db"))
	if err != nil {
		t.Fatalf("OpenSqlite: %v", err)
	}
	out["sqlite"] = sq

	if url := os.Getenv("TRENDLOOM_TEST_POSTGRES_URL"); url != "" {
		pg, err := OpenPostgres(context.Background(), DefaultPostgresConfig(url))
		if err != nil {
			t.Fatalf("OpenPostgres: %v", err)
		}
		out["postgres"] = pg
	}
	return out
}

func checkpoint(runID string, superstep int, pending *graph.PendingInterrupt) *graph.Checkpoint {
	st := graph.State{
		"query":            "spring denim",
		"content_analysis": []any{map[string]any{"trend": "wide leg"}},
		"execution_status": map[string]any{"data_collector": "completed"},
	}
	return graph.NewCheckpoint(runID, superstep, st, []string{"content_analyzer"}, pending)
}

func TestSaverRoundTrip(t *testing.T) {
	for name, s := range savers(t) {
		t.Run(name, func(t *testing.T) {
			defer func() { _ = s.Close() }()
			ctx := context.Background()

			if _, err := s.Latest(ctx, "missing"); !errors.Is(err, graph.ErrNoCheckpoint) {
				t.Fatalf("Latest(missing) = %v, want ErrNoCheckpoint", err)
			}

			for step := 0; step <= 2; step++ {
				var pending *graph.PendingInterrupt
				if step == 2 {
					pending = &graph.PendingInterrupt{
						Node:    "outfit_reviewer",
						Payload: map[string]any{"question": "approve?"},
					}
				}
				if err := s.Put(ctx, checkpoint("run-1", step, pending)); err != nil {
					t.Fatalf("Put step %d: %v", step, err)
				}
			}

			latest, err := s.Latest(ctx, "run-1")
			if err != nil {
				t.Fatalf("Latest: %v", err)
			}
			if latest.Superstep != 2 {
				t.Errorf("latest superstep = %d, want 2", latest.Superstep)
			}
			if latest.Pending == nil || latest.Pending.Node != "outfit_reviewer" {
				t.Errorf("pending = %+v, want outfit_reviewer", latest.Pending)
			}
			if got := latest.State.GetString("query", ""); got != "spring denim" {
				t.Errorf("state query = %q", got)
			}
			if len(latest.Frontier) != 1 || latest.Frontier[0] != "content_analyzer" {
				t.Errorf("frontier = %v", latest.Frontier)
			}

			list, err := s.List(ctx, "run-1")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(list) != 3 {
				t.Fatalf("lineage length = %d, want 3", len(list))
			}
			for i, cp := range list {
				if cp.Superstep != i {
					t.Errorf("lineage[%d].Superstep = %d", i, cp.Superstep)
				}
			}
		})
	}
}

func TestSaverRunsSummary(t *testing.T) {
	for name, s := range savers(t) {
		t.Run(name, func(t *testing.T) {
			defer func() { _ = s.Close() }()
			ctx := context.Background()

			if err := s.Put(ctx, checkpoint("run-a", 0, nil)); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := s.Put(ctx, checkpoint("run-a", 1, nil)); err != nil {
				t.Fatalf("Put: %v", err)
			}
			pending := &graph.PendingInterrupt{Node: "user_input_collector", Payload: map[string]any{}}
			if err := s.Put(ctx, checkpoint("run-b", 0, pending)); err != nil {
				t.Fatalf("Put: %v", err)
			}

			infos, err := s.Runs(ctx)
			if err != nil {
				t.Fatalf("Runs: %v", err)
			}
			byID := make(map[string]graph.RunInfo)
			for _, info := range infos {
				byID[info.RunID] = info
			}
			if len(byID) != 2 {
				t.Fatalf("runs = %d, want 2", len(byID))
			}
			if a := byID["run-a"]; a.Superstep != 1 || a.Suspended {
				t.Errorf("run-a = %+v, want superstep 1, not suspended", a)
			}
			if b := byID["run-b"]; !b.Suspended {
				t.Errorf("run-b = %+v, want suspended", b)
			}
		})
	}
}

func TestSqliteReopenPreservesLineage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	ctx := context.Background()

	s, err := OpenSqlite(path)
	if err != nil {
		t.Fatalf("OpenSqlite: %v", err)
	}
	if err := s.Put(ctx, checkpoint("run-r", 0, nil)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = OpenSqlite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s.Close() }()
	cp, err := s.Latest(ctx, "run-r")
	if err != nil {
		t.Fatalf("Latest after reopen: %v", err)
	}
	if cp.Superstep != 0 || cp.RunID != "run-r" {
		t.Errorf("checkpoint = %+v", cp)
	}
}
