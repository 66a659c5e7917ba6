// ABOUTME: Stage invocation surface: NodeContext inputs, StageResult outputs, and execution status values.
// ABOUTME: Stages signal ordinary updates, skips, and interrupt suspension through StageResult.
package graph

// Reserved state fields managed cooperatively by the engine and stages. Both
// carry the DictMerge policy so concurrent branch writes are unioned, never
// clobbered.
const (
	FieldExecutionStatus = "execution_status"
	FieldErrors          = "errors"
)

// Stage execution statuses recorded under FieldExecutionStatus.
const (
	StatusPending       = "pending"
	StatusCompleted     = "completed"
	StatusFailed        = "failed"
	StatusSkipped       = "skipped"
	StatusRejected      = "rejected"
	StatusEditRequested = "edit_requested"
)

// RunConfig is run-scoped configuration handed to every stage invocation.
// Tunables travel here rather than in process-global state.
type RunConfig struct {
	// RunID identifies the run; it keys the checkpoint lineage.
	RunID string
	// ThreadID is a per-run session identifier passed through to remote calls.
	ThreadID string
	// Values carries arbitrary host tunables for stages.
	Values map[string]any
}

// NodeContext is what a stage invocation sees: an isolated state snapshot,
// the run config, and the resume value when the stage is being re-entered
// after an interrupt.
type NodeContext struct {
	Node   string
	State  State
	Config RunConfig

	resume    map[string]any
	hasResume bool
}

// Resume returns the resume value supplied for this stage invocation, and
// whether one is present. A value is delivered at most once; a fresh
// interrupt from the same stage invalidates any stale value.
func (nc *NodeContext) Resume() (map[string]any, bool) {
	return nc.resume, nc.hasResume
}

// StageResult is the outcome of one stage invocation.
//
// Exactly one shape is meaningful per return:
//   - Update only: ordinary completion; the partial state is merged.
//   - Interrupt non-nil: the run suspends at this stage. Update, if also set,
//     is merged before suspension (used to surface validation errors while
//     re-presenting a gate).
//   - SkipReason non-empty: the stage declined to run for lack of upstream
//     data; recorded as skipped, not failed.
type StageResult struct {
	Update     PartialState
	Interrupt  map[string]any
	SkipReason string
}

// Complete builds an ordinary completion result.
func Complete(update PartialState) *StageResult {
	return &StageResult{Update: update}
}

// Suspend builds an interrupt result carrying the payload surfaced to the
// human actor. The run checkpoints and halts until Resume is called.
func Suspend(payload map[string]any) *StageResult {
	return &StageResult{Interrupt: payload}
}

// Skip builds a skipped result for a stage whose required input is absent.
func Skip(reason string) *StageResult {
	return &StageResult{SkipReason: reason}
}
