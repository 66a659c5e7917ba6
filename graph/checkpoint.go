// ABOUTME: Checkpoint model and the Saver interface for durable, per-run execution snapshots.
// ABOUTME: A checkpoint captures state, the next frontier, and any pending interrupt after each superstep.
package graph

import (
	"context"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// PendingInterrupt records a stage waiting on a human resume value.
type PendingInterrupt struct {
	Node    string         `json:"node"`
	Payload map[string]any `json:"payload"`
}

// Checkpoint is an immutable snapshot of a run's execution state, written
// after every superstep and immediately before every interrupt suspension.
// Supersteps increase monotonically within a run; loading the latest
// checkpoint reconstructs the state visible to the next unexecuted stage.
type Checkpoint struct {
	ID        string            `json:"id"`
	RunID     string            `json:"run_id"`
	Superstep int               `json:"superstep"`
	CreatedAt time.Time         `json:"created_at"`
	State     State             `json:"state"`
	Frontier  []string          `json:"frontier"`
	Pending   *PendingInterrupt `json:"pending,omitempty"`
}

// NewCheckpoint builds a checkpoint with a fresh ULID. ULIDs sort by creation
// time, so checkpoint IDs order consistently with supersteps.
func NewCheckpoint(runID string, superstep int, st State, frontier []string, pending *PendingInterrupt) *Checkpoint {
	now := time.Now().UTC()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(now.UnixNano())), 0)
	return &Checkpoint{
		ID:        ulid.MustNew(ulid.Timestamp(now), entropy).String(),
		RunID:     runID,
		Superstep: superstep,
		CreatedAt: now,
		State:     st.Clone(),
		Frontier:  append([]string(nil), frontier...),
		Pending:   pending,
	}
}

// RunInfo summarizes one run for listing surfaces.
type RunInfo struct {
	RunID     string    `json:"run_id"`
	Superstep int       `json:"superstep"`
	UpdatedAt time.Time `json:"updated_at"`
	Suspended bool      `json:"suspended"`
}

// Saver persists checkpoints keyed by run id. Writes for a single run are
// serialized by the engine loop driving that run; implementations only need
// to isolate runs from each other.
type Saver interface {
	// Put stores a checkpoint.
	Put(ctx context.Context, cp *Checkpoint) error

	// Latest returns the highest-superstep checkpoint for a run, or
	// ErrNoCheckpoint when the run has none.
	Latest(ctx context.Context, runID string) (*Checkpoint, error)

	// List returns all checkpoints for a run ordered by superstep.
	List(ctx context.Context, runID string) ([]*Checkpoint, error)

	// Runs enumerates known runs, most recently updated first.
	Runs(ctx context.Context) ([]RunInfo, error)

	// Close releases underlying resources.
	Close() error
}
