// ABOUTME: The two parallel analysis stages: content analysis over collected URLs and video analysis.
// ABOUTME: Each skips cleanly when its input is absent so the coordination barrier never deadlocks.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/trendloom/trendloom/graph"
	"github.com/trendloom/trendloom/llm"
)

const analyzerSystemPrompt = `You are a fashion content analyst. Extract concrete trend signals
from the provided source manifest: recurring garments, colors, silhouettes,
styling patterns, and who is driving them. Be specific; cite which sources
support each signal. Return only the requested JSON.`

const videoAnalyzerSystemPrompt = `You are a fashion video analyst. For each listed video, infer the
runway or street-style signals it likely carries: movement of fabrics,
layering, color stories, and standout pieces. Return only the requested JSON.`

var analysisSchema = &llm.ResponseSchema{
	Name:        "trend_signals",
	Description: "Trend signals extracted from fashion sources",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"trends":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"colors":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"styles":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"insights": map[string]any{"type": "string"},
		},
		"required":             []any{"trends", "colors", "styles", "insights"},
		"additionalProperties": false,
	},
	Strict: true,
}

// contentAnalyzer distills trend signals from the collected source manifests.
func (p *Pipeline) contentAnalyzer(ctx context.Context, nc *graph.NodeContext) (*graph.StageResult, error) {
	start := time.Now()
	manifests := nc.State.GetSlice(FieldDataURLs)
	if len(manifests) == 0 {
		return graph.Skip("no data sources collected"), nil
	}

	encoded, err := json.MarshalIndent(manifests, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode source manifests: %w", err)
	}

	resp, err := p.complete(ctx, &llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: analyzerSystemPrompt},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Trend query: %s\n\nSource manifests:\n%s",
				nc.State.GetString(FieldQuery, ""), encoded)},
		},
		Schema: analysisSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("analyze content: %w", err)
	}

	return graph.Complete(mergeUpdates(
		graph.PartialState{FieldContentAnalysis: []any{signalEntry(StageContentAnalyzer, resp.Object)}},
		usageMemory(StageContentAnalyzer, resp.Usage, map[string]any{
			"sources_analyzed": len(manifests),
			"processing_time":  time.Since(start).Seconds(),
		}),
	)), nil
}

// videoAnalyzer examines user-supplied videos. Runs without any are common;
// the stage skips so the barrier proceeds on the content branch alone.
// Video URLs the collector discovers travel with the source manifests into
// the content analyzer instead; both branches run in the same superstep.
func (p *Pipeline) videoAnalyzer(ctx context.Context, nc *graph.NodeContext) (*graph.StageResult, error) {
	start := time.Now()
	input := ParseUserInput(nc.State.GetMap(FieldUserInput))
	videos := input.CustomVideos
	if len(videos) == 0 {
		return graph.Skip("no custom videos provided"), nil
	}

	resp, err := p.complete(ctx, &llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: videoAnalyzerSystemPrompt},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Trend query: %s\n\nVideos:\n%s",
				nc.State.GetString(FieldQuery, ""), strings.Join(videos, "\n"))},
		},
		Schema: analysisSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("analyze videos: %w", err)
	}

	return graph.Complete(mergeUpdates(
		graph.PartialState{FieldVideoAnalysis: []any{signalEntry(StageVideoAnalyzer, resp.Object)}},
		usageMemory(StageVideoAnalyzer, resp.Usage, map[string]any{
			"videos_analyzed": len(videos),
			"processing_time": time.Since(start).Seconds(),
		}),
	)), nil
}

func signalEntry(source string, obj map[string]any) map[string]any {
	return map[string]any{
		"source":      source,
		"trends":      obj["trends"],
		"colors":      obj["colors"],
		"styles":      obj["styles"],
		"insights":    obj["insights"],
		"analyzed_at": time.Now().UTC().Format(time.RFC3339),
	}
}
