// ABOUTME: State field declarations for the fashion analysis pipeline and their merge policies.
// ABOUTME: Append fields collect parallel branch output; dict-merge fields hold per-stage manifests.
package pipeline

import "github.com/trendloom/trendloom/graph"

// Stage names, in pipeline order.
const (
	StageUserInput       = "user_input_collector"
	StageDataCollector   = "data_collector"
	StageContentAnalyzer = "content_analyzer"
	StageVideoAnalyzer   = "video_analyzer"
	StageCoordination    = "coordination"
	StageFinalProcessor  = "final_processor"
	StageOutfitDesigner  = "outfit_designer"
	StageOutfitReviewer  = "outfit_reviewer"
	StageVideoGenerator  = "video_generator"
)

// State fields.
const (
	FieldQuery           = "query"
	FieldUserInput       = "user_input"
	FieldAwaitingReview  = "awaiting_outfit_review"
	FieldReviewDecision  = "outfit_review_decision"
	FieldDataURLs        = "data_urls"
	FieldContentAnalysis = "content_analysis"
	FieldVideoAnalysis   = "video_analysis"
	FieldFinalReport     = "final_report"
	FieldOutfitDesigns   = "outfit_designs"
	FieldOutfitVideos    = "outfit_videos"
	FieldRevisionCount   = "revision_count"
	FieldAgentMemories   = "agent_memories"
)

// StateSchema declares the merge policy for every pipeline state field.
// Branch outputs append so parallel contributions all survive the barrier;
// the per-agent memory and status manifests dict-merge so concurrent stages
// writing disjoint sub-keys never clobber each other.
func StateSchema() *graph.Schema {
	return graph.NewSchema().
		Field(FieldQuery, graph.Overwrite).
		Field(FieldUserInput, graph.Overwrite).
		Field(FieldAwaitingReview, graph.Overwrite).
		Field(FieldReviewDecision, graph.Overwrite).
		Field(FieldFinalReport, graph.Overwrite).
		Field(FieldRevisionCount, graph.Overwrite).
		Field(FieldDataURLs, graph.Append).
		Field(FieldContentAnalysis, graph.Append).
		Field(FieldVideoAnalysis, graph.Append).
		Field(FieldOutfitDesigns, graph.Append).
		Field(FieldOutfitVideos, graph.Append).
		Field(FieldAgentMemories, graph.DictMerge).
		Field(graph.FieldExecutionStatus, graph.DictMerge).
		Field(graph.FieldErrors, graph.DictMerge)
}

// memoryUpdate builds a partial update recording stage telemetry under the
// agent memory manifest.
func memoryUpdate(stage string, entry map[string]any) graph.PartialState {
	return graph.PartialState{
		FieldAgentMemories: map[string]any{stage: entry},
	}
}
