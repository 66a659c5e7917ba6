// ABOUTME: Wires the nine fashion pipeline stages into the execution graph and exposes run entry points.
// ABOUTME: Holds the shared stage dependencies: LLM client, tool registry, artifact store, video generator.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/trendloom/trendloom/artifact"
	"github.com/trendloom/trendloom/graph"
	"github.com/trendloom/trendloom/llm"
	"github.com/trendloom/trendloom/tools"
)

// Deps are the external collaborators stages invoke. All are owned by the
// host process; the pipeline never constructs remote clients itself.
type Deps struct {
	LLM       llm.Client
	Tools     *tools.Registry
	Artifacts artifact.Store
	Videos    VideoGenerator
	Saver     graph.Saver
	Events    graph.EventHandler
	Logger    *slog.Logger
}

// Pipeline is the fixed fashion-analysis topology bound to one set of deps.
type Pipeline struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	retry  *graph.Executor
	engine *graph.Engine
}

// New builds and validates the pipeline graph.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	cfg.Normalize()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{cfg: cfg, deps: deps, logger: logger}
	p.retry = &graph.Executor{
		OnRetry: func(attempt int, kind graph.ErrorKind, delay time.Duration, err error) {
			logger.Warn("retrying remote call",
				"attempt", attempt, "kind", kind.String(), "delay", delay, "error", err)
		},
	}

	engine, err := graph.NewEngine(p.build(), graph.EngineConfig{
		Saver:        deps.Saver,
		EventHandler: deps.Events,
	})
	if err != nil {
		return nil, err
	}
	p.engine = engine
	return p, nil
}

// build wires the stage graph:
//
//	Start → user_input_collector (gate)
//	      → data_collector → content_analyzer ─┐
//	      → video_analyzer ────────────────────┤
//	                              coordination ┴→ final_processor
//	      → outfit_designer → outfit_reviewer (gate)
//	      → {approve: video_generator → End, edit: outfit_designer,
//	         reject: End, else: stay}
func (p *Pipeline) build() *graph.Graph {
	g := graph.New(StateSchema())

	g.AddNode(StageUserInput, p.userInputCollector)
	g.AddNode(StageDataCollector, p.dataCollector)
	g.AddNode(StageContentAnalyzer, p.contentAnalyzer)
	g.AddNode(StageVideoAnalyzer, p.videoAnalyzer)
	g.AddNode(StageCoordination, p.coordination)
	g.AddNode(StageFinalProcessor, p.finalProcessor)
	g.AddNode(StageOutfitDesigner, p.outfitDesigner)
	g.AddNode(StageOutfitReviewer, p.outfitReviewer)
	g.AddNode(StageVideoGenerator, p.videoGenerator)

	g.AddEdge(graph.Start, StageUserInput)
	g.AddEdge(StageUserInput, StageDataCollector)
	g.AddEdge(StageUserInput, StageVideoAnalyzer)
	g.AddEdge(StageDataCollector, StageContentAnalyzer)
	g.AddEdge(StageContentAnalyzer, StageCoordination)
	g.AddEdge(StageVideoAnalyzer, StageCoordination)
	g.AddEdge(StageCoordination, StageFinalProcessor)
	g.AddEdge(StageFinalProcessor, StageOutfitDesigner)
	g.AddEdge(StageOutfitDesigner, StageOutfitReviewer)
	g.AddConditionalEdges(StageOutfitReviewer, routeAfterReview, map[string]string{
		labelAdvance:       StageVideoGenerator,
		labelRetryUpstream: StageOutfitDesigner,
		labelStay:          StageOutfitReviewer,
		labelTerminate:     graph.End,
	})
	g.AddEdge(StageVideoGenerator, graph.End)

	return g
}

// Run starts a fresh run. The run suspends at the user input gate almost
// immediately; callers resume it with the collected input.
func (p *Pipeline) Run(ctx context.Context, runID, query string) (*graph.RunResult, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	initial := graph.State{}
	if query != "" {
		initial[FieldQuery] = query
	}
	return p.engine.Run(ctx, runID, initial, p.runConfig(runID))
}

// Resume continues a suspended or interrupted run.
func (p *Pipeline) Resume(ctx context.Context, runID string, value map[string]any) (*graph.RunResult, error) {
	return p.engine.Resume(ctx, runID, value, p.runConfig(runID))
}

func (p *Pipeline) runConfig(runID string) graph.RunConfig {
	return graph.RunConfig{
		RunID:    runID,
		ThreadID: "fashion_analysis_" + runID,
	}
}

// complete invokes the LLM under the run's retry policy. Partial responses
// from failed attempts are discarded by the executor.
func (p *Pipeline) complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if req.Model == "" {
		req.Model = p.cfg.Model
	}
	return graph.Execute(ctx, p.retry, p.cfg.RetryPolicy(), func(attemptCtx context.Context) (*llm.Response, error) {
		return p.deps.LLM.Complete(attemptCtx, req)
	})
}

// usageMemory records token accounting for a stage under agent memory.
// Telemetry only: it augments a stage's update and never fails one.
func usageMemory(stage string, usage llm.Usage, extra map[string]any) graph.PartialState {
	entry := map[string]any{
		"token_usage": map[string]any{
			"input_tokens":  usage.InputTokens,
			"output_tokens": usage.OutputTokens,
			"total_tokens":  usage.TotalTokens,
		},
	}
	for k, v := range extra {
		entry[k] = v
	}
	return memoryUpdate(stage, entry)
}

// mergeUpdates folds several partial updates into one stage result update.
func mergeUpdates(updates ...graph.PartialState) graph.PartialState {
	schema := StateSchema()
	st := graph.State{}
	for _, u := range updates {
		st = schema.Merge(st, u)
	}
	return graph.PartialState(st)
}
