// ABOUTME: The coordination barrier and the final processor that synthesizes the trend report.
// ABOUTME: Coordination records which analysis branches reported; the processor merges them into one report.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trendloom/trendloom/graph"
	"github.com/trendloom/trendloom/llm"
)

const processorSystemPrompt = `You are a fashion trend strategist. Merge the provided analysis
signals into one coherent trend report: the defining trends of the moment,
their color and silhouette language, and how a designer should respond.
Return only the requested JSON.`

var reportSchema = &llm.ResponseSchema{
	Name:        "trend_report",
	Description: "Synthesized fashion trend report",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"trend_analysis": map[string]any{"type": "string"},
			"key_trends":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"color_palette":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"summary":        map[string]any{"type": "string"},
		},
		"required":             []any{"trend_analysis", "key_trends", "color_palette", "summary"},
		"additionalProperties": false,
	},
	Strict: true,
}

// coordination is the join point for the two analysis branches. It does no
// work of its own; it exists so the final processor sees both branches'
// output in a single merged state.
func (p *Pipeline) coordination(ctx context.Context, nc *graph.NodeContext) (*graph.StageResult, error) {
	return graph.Complete(memoryUpdate(StageCoordination, map[string]any{
		"content_signals": len(nc.State.GetSlice(FieldContentAnalysis)),
		"video_signals":   len(nc.State.GetSlice(FieldVideoAnalysis)),
	})), nil
}

// finalProcessor synthesizes the trend report. With no signals from either
// branch there is nothing to synthesize and the stage skips, which cascades
// into the designer skipping too.
func (p *Pipeline) finalProcessor(ctx context.Context, nc *graph.NodeContext) (*graph.StageResult, error) {
	start := time.Now()
	content := nc.State.GetSlice(FieldContentAnalysis)
	video := nc.State.GetSlice(FieldVideoAnalysis)
	if len(content) == 0 && len(video) == 0 {
		return graph.Skip("no analysis signals to synthesize"), nil
	}

	signals, err := json.MarshalIndent(map[string]any{
		"content_analysis": content,
		"video_analysis":   video,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode analysis signals: %w", err)
	}

	resp, err := p.complete(ctx, &llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: processorSystemPrompt},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Trend query: %s\n\nAnalysis signals:\n%s",
				nc.State.GetString(FieldQuery, ""), signals)},
		},
		Schema: reportSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize trend report: %w", err)
	}

	report := map[string]any{
		"trend_analysis": resp.Object["trend_analysis"],
		"key_trends":     resp.Object["key_trends"],
		"color_palette":  resp.Object["color_palette"],
		"summary":        resp.Object["summary"],
		"generated_at":   time.Now().UTC().Format(time.RFC3339),
	}

	return graph.Complete(mergeUpdates(
		graph.PartialState{FieldFinalReport: report},
		usageMemory(StageFinalProcessor, resp.Usage, map[string]any{
			"processing_time": time.Since(start).Seconds(),
		}),
	)), nil
}
