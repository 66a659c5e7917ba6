// ABOUTME: Superstep execution engine: frontier scheduling, barrier joins, conditional routing, and resume.
// ABOUTME: Runs ready stages concurrently, merges their updates in declaration order, and checkpoints each superstep.
package graph

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the terminal shape of one engine invocation.
type RunStatus string

const (
	// RunCompleted means the graph reached End.
	RunCompleted RunStatus = "completed"
	// RunSuspended means a stage interrupted and the run awaits a resume value.
	RunSuspended RunStatus = "suspended"
	// RunStalled means no stage is ready and End was not reached; a failed
	// stage has blocked all of its dependents.
	RunStalled RunStatus = "stalled"
)

// RunResult is the outcome of Run or Resume.
type RunResult struct {
	RunID     string
	Status    RunStatus
	Superstep int
	State     State
	// Pending is set when Status is RunSuspended.
	Pending *PendingInterrupt
}

// ExecutionStatus returns the per-stage outcome map from the final state.
func (r *RunResult) ExecutionStatus() map[string]string {
	out := make(map[string]string)
	for k, v := range r.State.GetMap(FieldExecutionStatus) {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// Errors returns the per-stage error map from the final state.
func (r *RunResult) Errors() map[string]string {
	out := make(map[string]string)
	for k, v := range r.State.GetMap(FieldErrors) {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// EngineConfig holds engine dependencies.
type EngineConfig struct {
	// Saver persists checkpoints. Nil disables durability (tests only).
	Saver Saver
	// EventHandler receives lifecycle events. Optional.
	EventHandler EventHandler
}

// Engine drives runs of a single static graph. One engine may drive many
// runs concurrently; each run owns its own state lineage and its checkpoint
// writes are serialized by its own scheduler loop.
type Engine struct {
	graph  *Graph
	config EngineConfig
}

// NewEngine validates the graph and returns an engine for it.
func NewEngine(g *Graph, config EngineConfig) (*Engine, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &Engine{graph: g, config: config}, nil
}

// Run starts a fresh run from the initial state. An empty runID generates one.
func (e *Engine) Run(ctx context.Context, runID string, initial State, rc RunConfig) (*RunResult, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	rc.RunID = runID

	st := e.graph.schema.Merge(State{}, PartialState(initial))
	pendingStatus := make(map[string]any, len(e.graph.nodeOrder))
	for _, name := range e.graph.nodeOrder {
		pendingStatus[name] = StatusPending
	}
	st = e.graph.schema.Merge(st, PartialState{FieldExecutionStatus: pendingStatus})

	frontier := e.graph.entryNodes()
	e.emit(Event{Type: EventRunStarted, RunID: runID})
	if err := e.save(ctx, NewCheckpoint(runID, 0, st, frontier, nil)); err != nil {
		return nil, err
	}
	return e.loop(ctx, runID, st, frontier, 0, rc, nil)
}

// Resume continues a run from its latest checkpoint. When the run is
// suspended at an interrupt gate, resume re-enters the same stage with the
// supplied value so the stage's own validation runs against it. Supplying a
// value to a run that is not suspended is an error.
func (e *Engine) Resume(ctx context.Context, runID string, resume map[string]any, rc RunConfig) (*RunResult, error) {
	if e.config.Saver == nil {
		return nil, fmt.Errorf("graph: resume requires a checkpoint saver")
	}
	cp, err := e.config.Saver.Latest(ctx, runID)
	if err != nil {
		return nil, err
	}
	rc.RunID = runID

	var rv *resumeDelivery
	if cp.Pending != nil {
		rv = &resumeDelivery{node: cp.Pending.Node, value: resume}
	} else if resume != nil {
		return nil, ErrNotSuspended
	}

	e.emit(Event{Type: EventRunStarted, RunID: runID, Superstep: cp.Superstep, Data: map[string]any{"resumed": true}})
	return e.loop(ctx, runID, cp.State.Clone(), cp.Frontier, cp.Superstep, rc, rv)
}

// resumeDelivery scopes a resume value to one stage re-entry. It is consumed
// by the first superstep; a later interrupt at the same stage starts clean.
type resumeDelivery struct {
	node  string
	value map[string]any
}

type stageExec struct {
	node *Node
	res  *StageResult
	err  error
}

// maxSupersteps guards against unbounded revision loops in a misrouted graph.
const maxSupersteps = 1000

func (e *Engine) loop(
	ctx context.Context,
	runID string,
	st State,
	frontier []string,
	step int,
	rc RunConfig,
	rv *resumeDelivery,
) (*RunResult, error) {
	endReached := false

	for len(frontier) > 0 {
		step++
		if step > maxSupersteps {
			return nil, fmt.Errorf("run %s exceeded %d supersteps, possible routing loop", runID, maxSupersteps)
		}
		if err := ctx.Err(); err != nil {
			e.emit(Event{Type: EventRunFailed, RunID: runID, Superstep: step, Data: map[string]any{"error": err.Error()}})
			return nil, err
		}

		execs := make([]stageExec, len(frontier))
		var wg sync.WaitGroup
		for i, name := range frontier {
			node := e.graph.find(name)
			if node == nil {
				return nil, &ConfigurationError{Reason: fmt.Sprintf("frontier references unknown stage %q", name)}
			}
			e.emit(Event{Type: EventStageStarted, RunID: runID, Node: name, Superstep: step})

			nc := &NodeContext{Node: name, State: st.Clone(), Config: rc}
			if rv != nil && rv.node == name && rv.value != nil {
				nc.resume = rv.value
				nc.hasResume = true
			}

			wg.Add(1)
			go func(idx int, n *Node, nodeCtx *NodeContext) {
				defer wg.Done()
				res, err := safeExecute(ctx, n.Fn, nodeCtx)
				execs[idx] = stageExec{node: n, res: res, err: err}
			}(i, node, nc)
		}
		wg.Wait()
		// A resume value is delivered at most once; a fresh interrupt at the
		// same stage must not see a stale value from a previous cycle.
		rv = nil

		sort.SliceStable(execs, func(i, j int) bool {
			return execs[i].node.order < execs[j].node.order
		})

		var pending []*PendingInterrupt
		finished := make([]string, 0, len(execs))

		for _, ex := range execs {
			name := ex.node.Name
			switch {
			case ex.err != nil:
				var cfgErr *ConfigurationError
				if errors.As(ex.err, &cfgErr) {
					e.emit(Event{Type: EventRunFailed, RunID: runID, Node: name, Superstep: step, Data: map[string]any{"error": ex.err.Error()}})
					return nil, ex.err
				}
				st = e.graph.schema.Merge(st, PartialState{
					FieldErrors:          map[string]any{name: ex.err.Error()},
					FieldExecutionStatus: map[string]any{name: StatusFailed},
				})
				e.emit(Event{Type: EventStageFailed, RunID: runID, Node: name, Superstep: step, Data: map[string]any{"reason": ex.err.Error()}})
				finished = append(finished, name)

			case ex.res != nil && ex.res.Interrupt != nil:
				if ex.res.Update != nil {
					st = e.graph.schema.Merge(st, ex.res.Update)
				}
				pending = append(pending, &PendingInterrupt{Node: name, Payload: ex.res.Interrupt})
				e.emit(Event{Type: EventStageSuspended, RunID: runID, Node: name, Superstep: step})

			case ex.res != nil && ex.res.SkipReason != "":
				if ex.res.Update != nil {
					st = e.graph.schema.Merge(st, ex.res.Update)
				}
				st = e.graph.schema.Merge(st, PartialState{
					FieldExecutionStatus: map[string]any{name: StatusSkipped},
				})
				e.emit(Event{Type: EventStageSkipped, RunID: runID, Node: name, Superstep: step, Data: map[string]any{"reason": ex.res.SkipReason}})
				finished = append(finished, name)

			default:
				if ex.res != nil && ex.res.Update != nil {
					st = e.graph.schema.Merge(st, ex.res.Update)
				}
				// The stage may have recorded its own terminal status (e.g.
				// rejected); only default to completed when it did not.
				if stageStatus(st, name) == StatusPending {
					st = e.graph.schema.Merge(st, PartialState{
						FieldExecutionStatus: map[string]any{name: StatusCompleted},
					})
				}
				e.emit(Event{Type: EventStageCompleted, RunID: runID, Node: name, Superstep: step})
				finished = append(finished, name)
			}
		}

		if len(pending) > 0 {
			next, _, routeErr := e.nextFrontier(finished, st)
			if routeErr != nil {
				e.emit(Event{Type: EventRunFailed, RunID: runID, Superstep: step, Data: map[string]any{"error": routeErr.Error()}})
				return nil, routeErr
			}
			suspended := make([]string, 0, len(pending))
			for _, p := range pending {
				suspended = append(suspended, p.Node)
			}
			frontierOut := append(suspended, next...)
			if err := e.save(ctx, NewCheckpoint(runID, step, st, frontierOut, pending[0])); err != nil {
				return nil, err
			}
			e.emit(Event{Type: EventRunSuspended, RunID: runID, Node: pending[0].Node, Superstep: step})
			return &RunResult{RunID: runID, Status: RunSuspended, Superstep: step, State: st, Pending: pending[0]}, nil
		}

		next, reached, routeErr := e.nextFrontier(finished, st)
		if routeErr != nil {
			e.emit(Event{Type: EventRunFailed, RunID: runID, Superstep: step, Data: map[string]any{"error": routeErr.Error()}})
			return nil, routeErr
		}
		endReached = endReached || reached

		if err := e.save(ctx, NewCheckpoint(runID, step, st, next, nil)); err != nil {
			return nil, err
		}
		frontier = next
	}

	if endReached {
		e.emit(Event{Type: EventRunCompleted, RunID: runID, Superstep: step})
		return &RunResult{RunID: runID, Status: RunCompleted, Superstep: step, State: st}, nil
	}
	e.emit(Event{Type: EventRunStalled, RunID: runID, Superstep: step})
	return &RunResult{RunID: runID, Status: RunStalled, Superstep: step, State: st}, nil
}

// nextFrontier computes the stages to execute in the next superstep from the
// set that finished in this one. Routed targets are enqueued directly;
// declared successors are enqueued once all their hard predecessors have
// finished (join barriers wait for every declared branch, success or failure,
// while single-predecessor dependents stay blocked behind a failure).
func (e *Engine) nextFrontier(finished []string, st State) ([]string, bool, error) {
	seen := make(map[string]bool)
	var next []string
	reachedEnd := false

	for _, name := range finished {
		if ce := e.graph.conditional[name]; ce != nil {
			label := ce.router(st)
			target, ok := ce.table[label]
			if !ok {
				return nil, false, &ConfigurationError{
					Reason: fmt.Sprintf("router for stage %q returned unmapped label %q", name, label),
				}
			}
			if target == End {
				reachedEnd = true
				continue
			}
			if !seen[target] {
				seen[target] = true
				next = append(next, target)
			}
			continue
		}

		for _, succ := range e.graph.successors[name] {
			if succ == End {
				reachedEnd = true
				continue
			}
			if seen[succ] {
				continue
			}
			if e.ready(succ, st) {
				seen[succ] = true
				next = append(next, succ)
			}
		}
	}
	return next, reachedEnd, nil
}

// ready reports whether all hard predecessors of a stage have finished. A
// join stage (more than one predecessor) proceeds regardless of predecessor
// success; any other stage is blocked by a failed predecessor.
func (e *Engine) ready(name string, st State) bool {
	preds := e.graph.hardPredecessors(name)
	join := len(preds) > 1
	for _, pred := range preds {
		switch stageStatus(st, pred) {
		case StatusPending:
			return false
		case StatusFailed:
			if !join {
				return false
			}
		}
	}
	return true
}

// stageStatus reads a stage's status from state, defaulting to pending.
func stageStatus(st State, name string) string {
	statuses := st.GetMap(FieldExecutionStatus)
	if s, ok := statuses[name].(string); ok {
		return s
	}
	return StatusPending
}

func (e *Engine) save(ctx context.Context, cp *Checkpoint) error {
	if e.config.Saver == nil {
		return nil
	}
	if err := e.config.Saver.Put(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint for run %s superstep %d: %w", cp.RunID, cp.Superstep, err)
	}
	e.emit(Event{Type: EventCheckpointSaved, RunID: cp.RunID, Superstep: cp.Superstep})
	return nil
}

func (e *Engine) emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if e.config.EventHandler != nil {
		e.config.EventHandler(evt)
	}
}

// safeExecute wraps a stage function with panic recovery so a misbehaving
// stage is recorded as failed instead of crashing the scheduler.
func safeExecute(ctx context.Context, fn StageFunc, nc *NodeContext) (res *StageResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("stage panic in %q: %v\n%s", nc.Node, r, debug.Stack())
		}
	}()
	return fn(ctx, nc)
}
