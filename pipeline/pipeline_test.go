// ABOUTME: End-to-end pipeline tests over a scripted LLM, a stub video backend, and in-memory checkpoints.
// ABOUTME: Covers the approve, reject, edit-loop, invalid-verdict, and crash-resume paths.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/trendloom/trendloom/artifact"
	"github.com/trendloom/trendloom/graph"
	"github.com/trendloom/trendloom/llm"
	"github.com/trendloom/trendloom/store"
)

// scriptedLLM answers each request from a canned object keyed by the
// requested schema name, and counts invocations per schema.
type scriptedLLM struct {
	mu      sync.Mutex
	objects map[string]map[string]any
	calls   map[string]int
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{
		objects: map[string]map[string]any{
			"data_collection": {
				"url_list":       []any{"https://example.com/fw26"},
				"video_urls":     []any{},
				"search_queries": []any{"fall 2026 street style"},
				"self_analysis":  "primary sources preferred",
			},
			"trend_signals": {
				"trends":   []any{"oversized tailoring"},
				"colors":   []any{"burgundy"},
				"styles":   []any{"quiet luxury"},
				"insights": "tailoring is loosening",
			},
			"trend_report": {
				"trend_analysis": "Oversized tailoring in burgundy dominates.",
				"key_trends":     []any{"oversized tailoring"},
				"color_palette":  []any{"burgundy", "cream"},
				"summary":        "relaxed formality",
			},
			"outfit_designs": {
				"outfits": []any{
					map[string]any{
						"outfit_id":    "outfit_1",
						"name":         "Boardroom Drift",
						"description":  "oversized burgundy blazer over cream knit",
						"colors":       []any{"burgundy", "cream"},
						"style":        "quiet luxury",
						"image_prompt": "editorial photo of oversized burgundy blazer",
					},
					map[string]any{
						"outfit_id":    "outfit_2",
						"name":         "After Hours",
						"description":  "draped trousers with a structured coat",
						"colors":       []any{"charcoal"},
						"style":        "minimal",
						"image_prompt": "editorial photo of draped trousers",
					},
				},
			},
		},
		calls: map[string]int{},
	}
}

func (s *scriptedLLM) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	if req.Schema == nil {
		return nil, errors.New("scripted client requires a schema")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[req.Schema.Name]
	if !ok {
		return nil, fmt.Errorf("no script for schema %q", req.Schema.Name)
	}
	s.calls[req.Schema.Name]++
	return &llm.Response{
		Object: obj,
		Usage:  llm.Usage{InputTokens: 100, OutputTokens: 50, TotalTokens: 150},
		Model:  req.Model,
	}, nil
}

func (s *scriptedLLM) callCount(schema string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[schema]
}

// stubVideos renders instantly and can be told to fail specific outfits.
type stubVideos struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (v *stubVideos) Generate(_ context.Context, req VideoRequest) (*VideoResult, error) {
	v.mu.Lock()
	v.calls = append(v.calls, req.OutfitID)
	v.mu.Unlock()
	if v.fail[req.OutfitID] {
		return nil, errors.New("render backend unavailable")
	}
	return &VideoResult{
		OutputPath: "/videos/" + req.RunID + "/" + req.OutfitID + ".mp4",
		Duration:   5,
		Format:     "mp4",
	}, nil
}

func (v *stubVideos) rendered() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.calls...)
}

type testRig struct {
	pipeline *Pipeline
	llm      *scriptedLLM
	videos   *stubVideos
	saver    graph.Saver
}

func newRig(t *testing.T, cfg Config) *testRig {
	t.Helper()
	rig := &testRig{
		llm:    newScriptedLLM(),
		videos: &stubVideos{},
		saver:  store.NewMemorySaver(),
	}
	rig.pipeline = rig.build(t, cfg)
	return rig
}

// build constructs a pipeline over the rig's shared collaborators; calling it
// twice models a process restart against the same checkpoint store.
func (r *testRig) build(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	artifacts, err := artifact.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	p, err := New(cfg, Deps{
		LLM:       r.llm,
		Artifacts: artifacts,
		Videos:    r.videos,
		Saver:     r.saver,
		Logger:    slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// advanceToReview walks a fresh run through both gates up to the reviewer.
func advanceToReview(t *testing.T, rig *testRig, runID string) *graph.RunResult {
	t.Helper()
	ctx := context.Background()

	res, err := rig.pipeline.Run(ctx, runID, "fall 2026 street style")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != graph.RunSuspended || res.Pending.Node != StageUserInput {
		t.Fatalf("expected suspension at %s, got %v at %v", StageUserInput, res.Status, res.Pending)
	}

	res, err = rig.pipeline.Resume(ctx, runID, map[string]any{
		"custom_urls":   []any{"https://example.com/custom"},
		"custom_videos": []any{"/data/runway.mp4"},
	})
	if err != nil {
		t.Fatalf("Resume(user input): %v", err)
	}
	if res.Status != graph.RunSuspended || res.Pending.Node != StageOutfitReviewer {
		t.Fatalf("expected suspension at %s, got %v at %+v", StageOutfitReviewer, res.Status, res.Pending)
	}
	return res
}

func TestPipelineApproveFlow(t *testing.T) {
	rig := newRig(t, Config{})
	res := advanceToReview(t, rig, "run-approve")

	payload := res.Pending.Payload
	if payload["total_outfits"] != 2 {
		t.Fatalf("review payload total_outfits = %v", payload["total_outfits"])
	}
	if _, ok := payload["decision_format"]; !ok {
		t.Fatalf("review payload missing decision_format: %v", payload)
	}

	res, err := rig.pipeline.Resume(context.Background(), "run-approve", map[string]any{
		"decision_type": "approve",
	})
	if err != nil {
		t.Fatalf("Resume(approve): %v", err)
	}
	if res.Status != graph.RunCompleted {
		t.Fatalf("status = %v, want completed", res.Status)
	}

	statuses := res.ExecutionStatus()
	for _, stage := range []string{
		StageUserInput, StageDataCollector, StageContentAnalyzer, StageVideoAnalyzer,
		StageCoordination, StageFinalProcessor, StageOutfitDesigner,
		StageOutfitReviewer, StageVideoGenerator,
	} {
		if statuses[stage] != graph.StatusCompleted {
			t.Errorf("stage %s status = %q, want completed", stage, statuses[stage])
		}
	}
	if len(res.Errors()) != 0 {
		t.Fatalf("unexpected stage errors: %v", res.Errors())
	}
	if got := rig.videos.rendered(); len(got) != 2 {
		t.Fatalf("rendered outfits = %v, want both", got)
	}

	videos := res.State.GetSlice(FieldOutfitVideos)
	if len(videos) != 1 {
		t.Fatalf("outfit_videos entries = %d, want 1", len(videos))
	}
	summary := videos[0].(map[string]any)
	if summary["successful_videos"] != 2 || summary["failed_videos"] != 0 {
		t.Fatalf("video summary = %v", summary)
	}
	if !strings.HasPrefix(summary["output_directory"].(string), "/videos/run-approve") {
		t.Fatalf("output_directory = %v", summary["output_directory"])
	}
}

func TestPipelineSelectedOutfitsOnly(t *testing.T) {
	rig := newRig(t, Config{})
	advanceToReview(t, rig, "run-selected")

	res, err := rig.pipeline.Resume(context.Background(), "run-selected", map[string]any{
		"decision_type":       "approve",
		"selected_outfit_ids": []any{"outfit_2"},
	})
	if err != nil {
		t.Fatalf("Resume(approve): %v", err)
	}
	if res.Status != graph.RunCompleted {
		t.Fatalf("status = %v, want completed", res.Status)
	}
	if got := rig.videos.rendered(); len(got) != 1 || got[0] != "outfit_2" {
		t.Fatalf("rendered outfits = %v, want [outfit_2]", got)
	}
}

func TestPipelineVideoFailureIsRecordedNotFatal(t *testing.T) {
	rig := newRig(t, Config{})
	rig.videos.fail = map[string]bool{"outfit_1": true}
	advanceToReview(t, rig, "run-vfail")

	res, err := rig.pipeline.Resume(context.Background(), "run-vfail", map[string]any{
		"decision_type": "approve",
	})
	if err != nil {
		t.Fatalf("Resume(approve): %v", err)
	}
	if res.Status != graph.RunCompleted {
		t.Fatalf("status = %v, want completed", res.Status)
	}
	summary := res.State.GetSlice(FieldOutfitVideos)[0].(map[string]any)
	if summary["successful_videos"] != 1 || summary["failed_videos"] != 1 {
		t.Fatalf("video summary = %v", summary)
	}
}

func TestPipelineRejectEndsRun(t *testing.T) {
	rig := newRig(t, Config{})
	advanceToReview(t, rig, "run-reject")

	res, err := rig.pipeline.Resume(context.Background(), "run-reject", map[string]any{
		"decision_type":      "reject",
		"rejection_feedback": "too safe, nothing new here",
	})
	if err != nil {
		t.Fatalf("Resume(reject): %v", err)
	}
	if res.Status != graph.RunCompleted {
		t.Fatalf("status = %v, want completed (terminated at gate)", res.Status)
	}
	statuses := res.ExecutionStatus()
	if statuses[StageOutfitReviewer] != graph.StatusRejected {
		t.Fatalf("reviewer status = %q, want rejected", statuses[StageOutfitReviewer])
	}
	if statuses[StageVideoGenerator] != graph.StatusPending {
		t.Fatalf("video generator status = %q, want untouched", statuses[StageVideoGenerator])
	}
	if got := rig.videos.rendered(); len(got) != 0 {
		t.Fatalf("videos rendered after rejection: %v", got)
	}
}

func TestPipelineEditLoopRegenerates(t *testing.T) {
	rig := newRig(t, Config{})
	advanceToReview(t, rig, "run-edit")

	res, err := rig.pipeline.Resume(context.Background(), "run-edit", map[string]any{
		"decision_type":       "edit",
		"edit_instructions":   "swap burgundy for forest green",
		"selected_outfit_ids": []any{"outfit_1"},
	})
	if err != nil {
		t.Fatalf("Resume(edit): %v", err)
	}
	if res.Status != graph.RunSuspended || res.Pending.Node != StageOutfitReviewer {
		t.Fatalf("expected re-suspension at reviewer, got %v at %+v", res.Status, res.Pending)
	}
	if got := rig.llm.callCount("outfit_designs"); got != 2 {
		t.Fatalf("designer LLM calls = %d, want 2", got)
	}
	if got := res.State.GetInt(FieldRevisionCount, 0); got != 1 {
		t.Fatalf("revision_count = %d, want 1", got)
	}
	// The upstream stages must not re-run during the revision loop.
	if got := rig.llm.callCount("data_collection"); got != 1 {
		t.Fatalf("collector LLM calls = %d, want 1", got)
	}
	// The revised collection records the instructions that produced it.
	designs := res.State.GetSlice(FieldOutfitDesigns)
	latest, _ := designs[len(designs)-1].(map[string]any)
	if got, _ := latest["edit_instructions"].(string); got != "swap burgundy for forest green" {
		t.Fatalf("edit_instructions = %q, want the requested revision brief", got)
	}

	res, err = rig.pipeline.Resume(context.Background(), "run-edit", map[string]any{
		"decision_type": "approve",
	})
	if err != nil {
		t.Fatalf("Resume(approve): %v", err)
	}
	if res.Status != graph.RunCompleted {
		t.Fatalf("status = %v, want completed", res.Status)
	}
}

func TestPipelineEditLoopBounded(t *testing.T) {
	rig := newRig(t, Config{MaxRevisions: 1})
	advanceToReview(t, rig, "run-bound")

	edit := map[string]any{
		"decision_type":     "edit",
		"edit_instructions": "again, but different",
	}
	res, err := rig.pipeline.Resume(context.Background(), "run-bound", edit)
	if err != nil {
		t.Fatalf("Resume(edit 1): %v", err)
	}
	if res.Status != graph.RunSuspended {
		t.Fatalf("status after first edit = %v, want suspended", res.Status)
	}

	res, err = rig.pipeline.Resume(context.Background(), "run-bound", edit)
	if err != nil {
		t.Fatalf("Resume(edit 2): %v", err)
	}
	if res.Status != graph.RunStalled {
		t.Fatalf("status after exceeding revision limit = %v, want stalled", res.Status)
	}
	if got := res.ExecutionStatus()[StageOutfitDesigner]; got != graph.StatusFailed {
		t.Fatalf("designer status = %q, want failed", got)
	}
	if msg := res.Errors()[StageOutfitDesigner]; !strings.Contains(msg, "revision limit") {
		t.Fatalf("designer error = %q, want revision limit message", msg)
	}
}

func TestPipelineInvalidVerdictRepresentsGate(t *testing.T) {
	rig := newRig(t, Config{})
	advanceToReview(t, rig, "run-invalid")

	res, err := rig.pipeline.Resume(context.Background(), "run-invalid", map[string]any{
		"decision_type": "reject",
	})
	if err != nil {
		t.Fatalf("Resume(invalid reject): %v", err)
	}
	if res.Status != graph.RunSuspended || res.Pending.Node != StageOutfitReviewer {
		t.Fatalf("expected gate re-presented, got %v at %+v", res.Status, res.Pending)
	}
	problem, _ := res.Pending.Payload["problem"].(string)
	if !strings.Contains(problem, "rejection_feedback") {
		t.Fatalf("payload problem = %q, want mention of missing feedback", problem)
	}
	if msg := res.Errors()[StageOutfitReviewer]; msg == "" {
		t.Fatalf("missing reviewer error entry, errors = %v", res.Errors())
	}

	// An edit with no instructions is equally fail-closed.
	res, err = rig.pipeline.Resume(context.Background(), "run-invalid", map[string]any{
		"decision_type": "edit",
	})
	if err != nil {
		t.Fatalf("Resume(invalid edit): %v", err)
	}
	if res.Status != graph.RunSuspended || res.Pending.Node != StageOutfitReviewer {
		t.Fatalf("expected gate re-presented, got %v at %+v", res.Status, res.Pending)
	}
	problem, _ = res.Pending.Payload["problem"].(string)
	if !strings.Contains(problem, "edit_instructions") {
		t.Fatalf("payload problem = %q, want mention of missing edit instructions", problem)
	}

	res, err = rig.pipeline.Resume(context.Background(), "run-invalid", map[string]any{
		"decision_type": "approve",
	})
	if err != nil {
		t.Fatalf("Resume(approve): %v", err)
	}
	if res.Status != graph.RunCompleted {
		t.Fatalf("status = %v, want completed", res.Status)
	}
}

func TestPipelineCrashResumeAtReviewGate(t *testing.T) {
	rig := newRig(t, Config{})
	advanceToReview(t, rig, "run-crash")

	// A process restart: a fresh pipeline over the same checkpoint store and
	// collaborators picks the run up at the gate.
	restarted := rig.build(t, Config{})
	res, err := restarted.Resume(context.Background(), "run-crash", map[string]any{
		"decision_type": "approve",
	})
	if err != nil {
		t.Fatalf("Resume after restart: %v", err)
	}
	if res.Status != graph.RunCompleted {
		t.Fatalf("status = %v, want completed", res.Status)
	}
	// Upstream stages were checkpointed; none of them may re-run.
	for schema, want := range map[string]int{
		"data_collection": 1,
		"trend_report":    1,
		"outfit_designs":  1,
	} {
		if got := rig.llm.callCount(schema); got != want {
			t.Errorf("%s LLM calls = %d, want %d", schema, got, want)
		}
	}
}

func TestPipelineSkipsVideoBranchWithoutVideos(t *testing.T) {
	rig := newRig(t, Config{})
	ctx := context.Background()

	if _, err := rig.pipeline.Run(ctx, "run-novid", "minimalist workwear"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	res, err := rig.pipeline.Resume(ctx, "run-novid", map[string]any{})
	if err != nil {
		t.Fatalf("Resume(empty input): %v", err)
	}
	if res.Status != graph.RunSuspended || res.Pending.Node != StageOutfitReviewer {
		t.Fatalf("expected suspension at reviewer, got %v at %+v", res.Status, res.Pending)
	}
	statuses := res.ExecutionStatus()
	if statuses[StageVideoAnalyzer] != graph.StatusSkipped {
		t.Fatalf("video analyzer status = %q, want skipped", statuses[StageVideoAnalyzer])
	}
	if statuses[StageFinalProcessor] != graph.StatusCompleted {
		t.Fatalf("final processor status = %q, want completed past the barrier", statuses[StageFinalProcessor])
	}
	if got := rig.llm.callCount("trend_signals"); got != 1 {
		t.Fatalf("analysis LLM calls = %d, want 1 (content branch only)", got)
	}
}

func TestPipelineDefaultQueryApplied(t *testing.T) {
	rig := newRig(t, Config{DefaultQuery: "capsule wardrobe essentials"})
	ctx := context.Background()

	if _, err := rig.pipeline.Run(ctx, "run-defq", ""); err != nil {
		t.Fatalf("Run: %v", err)
	}
	res, err := rig.pipeline.Resume(ctx, "run-defq", map[string]any{})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got := res.State.GetString(FieldQuery, ""); got != "capsule wardrobe essentials" {
		t.Fatalf("query = %q, want configured default", got)
	}
}

func TestPipelineRecordsTokenUsage(t *testing.T) {
	rig := newRig(t, Config{})
	res := advanceToReview(t, rig, "run-usage")

	memories := res.State.GetMap(FieldAgentMemories)
	entry, _ := memories[StageDataCollector].(map[string]any)
	if entry == nil {
		t.Fatalf("missing collector memory, memories = %v", memories)
	}
	usage, _ := entry["token_usage"].(map[string]any)
	if usage == nil {
		t.Fatalf("missing token_usage in collector memory: %v", entry)
	}
	if got := asInt(usage["total_tokens"]); got != 150 {
		t.Fatalf("collector total_tokens = %d, want 150", got)
	}
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return 0
	}
}

func TestConfigNormalizeDefaults(t *testing.T) {
	var cfg Config
	cfg.Normalize()
	if cfg.Model != "gpt-4o" || cfg.MaxAttempts != 3 || cfg.Storage != "sqlite" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RetryPolicy().BaseDelay != 2*time.Second {
		t.Fatalf("retry base delay = %v", cfg.RetryPolicy().BaseDelay)
	}
}
