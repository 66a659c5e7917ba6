// ABOUTME: The outfit designer stage: turns the trend report into concrete outfit designs.
// ABOUTME: Handles the edit-revision loop, bounds it, and persists design documents to the artifact store.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trendloom/trendloom/graph"
	"github.com/trendloom/trendloom/llm"
)

const designerSystemPrompt = `You are a fashion designer. Create distinct, wearable outfit designs
grounded in the provided trend report. Each outfit needs a stable outfit_id
(outfit_1, outfit_2, ...), a name, a full description, its color story, its
style category, and an image generation prompt. Return only the requested JSON.`

var designSchema = &llm.ResponseSchema{
	Name:        "outfit_designs",
	Description: "Outfit designs derived from a trend report",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"outfits": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"outfit_id":    map[string]any{"type": "string"},
						"name":         map[string]any{"type": "string"},
						"description":  map[string]any{"type": "string"},
						"colors":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"style":        map[string]any{"type": "string"},
						"image_prompt": map[string]any{"type": "string"},
					},
					"required":             []any{"outfit_id", "name", "description", "colors", "style", "image_prompt"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []any{"outfits"},
		"additionalProperties": false,
	},
	Strict: true,
}

// outfitDesigner produces a design collection from the trend report. On an
// edit decision it regenerates against the reviewer's instructions, bumps the
// revision counter, clears the consumed decision, and re-arms the review
// gate. The revision loop is bounded; exceeding it fails the stage.
func (p *Pipeline) outfitDesigner(ctx context.Context, nc *graph.NodeContext) (*graph.StageResult, error) {
	start := time.Now()
	report := nc.State.GetMap(FieldFinalReport)
	trend := stringValue(report["trend_analysis"])
	if trend == "" {
		return graph.Skip("no trend analysis available"), nil
	}

	decisionType, decision := decisionFromState(nc.State)
	existing := nc.State.GetSlice(FieldOutfitDesigns)
	if len(existing) > 0 && decisionType != DecisionEdit {
		// Designs already exist and no revision was requested: a resumed or
		// re-routed run must not silently regenerate them.
		return graph.Complete(nil), nil
	}

	revision := nc.State.GetInt(FieldRevisionCount, 0)
	prompt := fmt.Sprintf("Trend report:\n%s\n\nColor palette: %v\nKey trends: %v",
		trend, report["color_palette"], report["key_trends"])
	if decisionType == DecisionEdit {
		revision++
		if revision > p.cfg.MaxRevisions {
			return nil, fmt.Errorf("revision limit reached: %d revisions requested, at most %d allowed",
				revision, p.cfg.MaxRevisions)
		}
		prompt += revisionBrief(decision, existing)
	}

	resp, err := p.complete(ctx, &llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: designerSystemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
		Schema: designSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("design outfits: %w", err)
	}

	outfits, err := p.persistDesigns(ctx, nc.Config.RunID, revision, resp.Object["outfits"])
	if err != nil {
		return nil, err
	}

	collection := map[string]any{
		"designs":    outfits,
		"revision":   revision,
		"query":      nc.State.GetString(FieldQuery, ""),
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}
	if decisionType == DecisionEdit {
		collection["edit_instructions"] = stringValue(decision["edit_instructions"])
	}

	update := mergeUpdates(
		graph.PartialState{
			FieldOutfitDesigns:  []any{collection},
			FieldRevisionCount:  revision,
			FieldAwaitingReview: true,
		},
		usageMemory(StageOutfitDesigner, resp.Usage, map[string]any{
			"outfits_created": len(outfits),
			"revision":        revision,
			"processing_time": time.Since(start).Seconds(),
		}),
	)
	if decisionType == DecisionEdit {
		// The decision is consumed: clear it and re-arm the review gate so
		// the revised collection gets a fresh verdict.
		update[FieldReviewDecision] = map[string]any{}
		update[graph.FieldExecutionStatus] = map[string]any{StageOutfitReviewer: graph.StatusPending}
	}
	return graph.Complete(update), nil
}

// persistDesigns writes each design card to the artifact store and returns
// the outfit maps annotated with their design_path refs.
func (p *Pipeline) persistDesigns(ctx context.Context, runID string, revision int, raw any) ([]any, error) {
	items, _ := raw.([]any)
	outfits := make([]any, 0, len(items))
	for i, item := range items {
		outfit, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := stringValue(outfit["outfit_id"])
		if id == "" {
			id = fmt.Sprintf("outfit_%d", i+1)
			outfit["outfit_id"] = id
		}
		if p.deps.Artifacts != nil {
			card, err := json.MarshalIndent(outfit, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("encode design card %s: %w", id, err)
			}
			key := fmt.Sprintf("runs/%s/designs/rev%d/%s.json", runID, revision, id)
			ref, err := p.deps.Artifacts.Put(ctx, key, card, "application/json")
			if err != nil {
				return nil, fmt.Errorf("persist design card %s: %w", id, err)
			}
			outfit["design_path"] = ref
		}
		outfits = append(outfits, outfit)
	}
	return outfits, nil
}

// revisionBrief renders the reviewer's edit request for the design prompt.
func revisionBrief(decision map[string]any, existing []any) string {
	brief := fmt.Sprintf("\n\nThe reviewer requested changes to the previous collection:\n%s\n",
		stringValue(decision["edit_instructions"]))
	if ids := stringSlice(decision["selected_outfit_ids"]); len(ids) > 0 {
		brief += fmt.Sprintf("Only revise these outfits, keep the rest unchanged: %v\n", ids)
	}
	if len(existing) > 0 {
		if prev, err := json.Marshal(existing[len(existing)-1]); err == nil {
			brief += fmt.Sprintf("Previous collection:\n%s\n", prev)
		}
	}
	return brief
}
