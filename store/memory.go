// ABOUTME: In-memory checkpoint saver for tests and one-shot runs without durability requirements.
// ABOUTME: Checkpoints round-trip through JSON so persisted-type fidelity matches the SQL backends.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/trendloom/trendloom/graph"
)

// MemorySaver keeps checkpoint lineages in process memory. Safe for
// concurrent use by multiple runs.
type MemorySaver struct {
	mu   sync.RWMutex
	runs map[string][]*graph.Checkpoint
}

// NewMemorySaver creates an empty in-memory saver.
func NewMemorySaver() *MemorySaver {
	return &MemorySaver{runs: make(map[string][]*graph.Checkpoint)}
}

// Put stores a checkpoint. The stored copy is detached from the caller via a
// JSON round-trip, which also normalizes value types the way a SQL backend
// would.
func (m *MemorySaver) Put(_ context.Context, cp *graph.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	var stored graph.Checkpoint
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("unmarshal checkpoint: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[cp.RunID] = append(m.runs[cp.RunID], &stored)
	return nil
}

// Latest returns the checkpoint with the highest superstep for the run.
func (m *MemorySaver) Latest(_ context.Context, runID string) (*graph.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.runs[runID]
	if len(list) == 0 {
		return nil, graph.ErrNoCheckpoint
	}
	latest := list[0]
	for _, cp := range list[1:] {
		if cp.Superstep > latest.Superstep ||
			(cp.Superstep == latest.Superstep && cp.ID > latest.ID) {
			latest = cp
		}
	}
	return latest, nil
}

// List returns the full checkpoint lineage for a run in superstep order.
func (m *MemorySaver) List(_ context.Context, runID string) ([]*graph.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*graph.Checkpoint, len(m.runs[runID]))
	copy(out, m.runs[runID])
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Superstep != out[j].Superstep {
			return out[i].Superstep < out[j].Superstep
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Runs summarizes every known run from its latest checkpoint, most recently
// updated first.
func (m *MemorySaver) Runs(ctx context.Context) ([]graph.RunInfo, error) {
	m.mu.RLock()
	runIDs := make([]string, 0, len(m.runs))
	for id := range m.runs {
		runIDs = append(runIDs, id)
	}
	m.mu.RUnlock()

	infos := make([]graph.RunInfo, 0, len(runIDs))
	for _, id := range runIDs {
		cp, err := m.Latest(ctx, id)
		if err != nil {
			continue
		}
		infos = append(infos, graph.RunInfo{
			RunID:     cp.RunID,
			Superstep: cp.Superstep,
			UpdatedAt: cp.CreatedAt,
			Suspended: cp.Pending != nil,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})
	return infos, nil
}

// Close is a no-op.
func (m *MemorySaver) Close() error { return nil }
