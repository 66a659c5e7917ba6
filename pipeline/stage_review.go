// ABOUTME: The outfit reviewer stage: the human review gate over a design collection.
// ABOUTME: Validates verdicts fail-closed and routes the run onward, back to the designer, or to the end.
package pipeline

import (
	"context"
	"fmt"

	"github.com/trendloom/trendloom/graph"
)

// Routing labels out of the review gate.
const (
	labelAdvance       = "advance"
	labelRetryUpstream = "revise"
	labelStay          = "stay"
	labelTerminate     = "terminate"
)

// outfitReviewer presents the current design collection to a human and
// records the verdict. A verdict that fails validation re-presents the gate
// with the problem attached instead of advancing on bad input. Once a
// verdict is recorded the stage passes straight through on re-entry.
func (p *Pipeline) outfitReviewer(ctx context.Context, nc *graph.NodeContext) (*graph.StageResult, error) {
	decisionType, _ := decisionFromState(nc.State)
	if decisionType == DecisionApprove || decisionType == DecisionReject {
		// Verdict already recorded; nothing left to review.
		return graph.Complete(nil), nil
	}

	collection := latestDesigns(nc.State)
	if collection == nil {
		return graph.Skip("no outfit designs to review"), nil
	}

	rv, ok := nc.Resume()
	if !ok {
		return graph.Suspend(reviewPayload(collection)), nil
	}

	decision, err := ParseReviewDecision(rv)
	if err != nil {
		payload := reviewPayload(collection)
		payload["problem"] = err.Error()
		return &graph.StageResult{
			Interrupt: payload,
			Update: mergeUpdates(graph.PartialState{
				graph.FieldErrors: map[string]any{StageOutfitReviewer: err.Error()},
			}),
		}, nil
	}

	p.logger.Info("review decision recorded",
		"run_id", nc.Config.RunID, "decision", decision.DecisionType)

	update := graph.PartialState{
		FieldReviewDecision: decision.Map(),
		FieldAwaitingReview: false,
	}
	if decision.DecisionType == DecisionReject {
		update[graph.FieldExecutionStatus] = map[string]any{StageOutfitReviewer: graph.StatusRejected}
	}
	if decision.DecisionType == DecisionEdit {
		update[graph.FieldExecutionStatus] = map[string]any{StageOutfitReviewer: graph.StatusEditRequested}
	}
	return graph.Complete(update), nil
}

// routeAfterReview picks the next stage from the recorded verdict. A skipped
// or failed reviewer can never produce a verdict, so those runs terminate
// rather than loop on the gate forever.
func routeAfterReview(st graph.State) string {
	switch stringValue(st.GetMap(graph.FieldExecutionStatus)[StageOutfitReviewer]) {
	case graph.StatusSkipped, graph.StatusFailed:
		return labelTerminate
	}
	decisionType, _ := decisionFromState(st)
	switch decisionType {
	case DecisionApprove:
		return labelAdvance
	case DecisionReject:
		return labelTerminate
	case DecisionEdit:
		return labelRetryUpstream
	default:
		return labelStay
	}
}

// latestDesigns returns the newest design collection, or nil when none exist.
func latestDesigns(st graph.State) map[string]any {
	collections := st.GetSlice(FieldOutfitDesigns)
	if len(collections) == 0 {
		return nil
	}
	collection, _ := collections[len(collections)-1].(map[string]any)
	return collection
}

// reviewPayload is the interrupt surface shown to the human reviewer.
func reviewPayload(collection map[string]any) map[string]any {
	designs, _ := collection["designs"].([]any)
	outfits := make([]any, 0, len(designs))
	for _, d := range designs {
		outfit, ok := d.(map[string]any)
		if !ok {
			continue
		}
		outfits = append(outfits, map[string]any{
			"outfit_id":   outfit["outfit_id"],
			"name":        outfit["name"],
			"description": outfit["description"],
			"colors":      outfit["colors"],
			"style":       outfit["style"],
			"design_path": outfit["design_path"],
		})
	}
	return map[string]any{
		"message":       fmt.Sprintf("Review the %d outfit designs below.", len(outfits)),
		"total_outfits": len(outfits),
		"outfits":       outfits,
		"revision":      collection["revision"],
		"instructions":  "Reply with a decision_type of approve, reject, or edit. Rejections need rejection_feedback; edits need edit_instructions and may name selected_outfit_ids.",
		"decision_format": map[string]any{
			"decision_type":       "approve | reject | edit",
			"rejection_feedback":  "string, mandatory for reject",
			"edit_instructions":   "string, mandatory for edit",
			"selected_outfit_ids": []any{"outfit_1"},
		},
	}
}
