// ABOUTME: Engine-level error types: configuration errors that abort a run and checkpoint sentinels.
// ABOUTME: Remote-call failure classification lives in retry.go; these cover the graph itself.
package graph

import "errors"

// ConfigurationError marks a structural defect in the graph or its routing
// tables (unmapped label, unknown stage reference). It is fatal: the run
// aborts immediately and is never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// ErrNoCheckpoint is returned by Saver.Latest when a run has no checkpoints.
var ErrNoCheckpoint = errors.New("graph: no checkpoint for run")

// ErrNotSuspended is returned by Engine.Resume when the latest checkpoint has
// no pending interrupt and a resume value was supplied anyway.
var ErrNotSuspended = errors.New("graph: run is not awaiting a resume value")
