// ABOUTME: Shared row codec for checkpoint savers: state, frontier, and pending interrupts travel as JSON.
// ABOUTME: Both SQL backends reuse these helpers so their persisted shapes stay interchangeable.
package store

import (
	"encoding/json"
	"fmt"

	"github.com/trendloom/trendloom/graph"
)

func encodeState(st graph.State) (string, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	return string(data), nil
}

func encodeFrontier(frontier []string) (string, error) {
	if frontier == nil {
		frontier = []string{}
	}
	data, err := json.Marshal(frontier)
	if err != nil {
		return "", fmt.Errorf("marshal frontier: %w", err)
	}
	return string(data), nil
}

// encodePending returns nil for no interrupt so the column stays NULL and
// "is the run suspended" is answerable in SQL.
func encodePending(p *graph.PendingInterrupt) (*string, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal pending interrupt: %w", err)
	}
	s := string(data)
	return &s, nil
}

func decodeCheckpoint(id, runID string, superstep int, createdAt, state, frontier string, pending *string) (*graph.Checkpoint, error) {
	cp := &graph.Checkpoint{ID: id, RunID: runID, Superstep: superstep}
	if err := cp.CreatedAt.UnmarshalText([]byte(createdAt)); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if err := json.Unmarshal([]byte(state), &cp.State); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	if err := json.Unmarshal([]byte(frontier), &cp.Frontier); err != nil {
		return nil, fmt.Errorf("unmarshal frontier: %w", err)
	}
	if pending != nil {
		cp.Pending = &graph.PendingInterrupt{}
		if err := json.Unmarshal([]byte(*pending), cp.Pending); err != nil {
			return nil, fmt.Errorf("unmarshal pending interrupt: %w", err)
		}
	}
	return cp, nil
}
