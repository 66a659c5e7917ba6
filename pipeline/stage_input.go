// ABOUTME: The user input collector stage: the first human gate of every run.
// ABOUTME: Suspends with a prompt payload, then folds the supplied material into state on resume.
package pipeline

import (
	"context"

	"github.com/trendloom/trendloom/graph"
)

// userInputCollector suspends until the caller supplies the run's source
// material. Malformed input degrades to an empty payload rather than
// blocking the run; only the query is mandatory, and it falls back to the
// configured default.
func (p *Pipeline) userInputCollector(ctx context.Context, nc *graph.NodeContext) (*graph.StageResult, error) {
	rv, ok := nc.Resume()
	if !ok {
		return graph.Suspend(map[string]any{
			"message":      "Provide custom data sources for the fashion analysis, or submit an empty object to continue with defaults.",
			"instructions": "Optional keys: custom_urls, custom_images, custom_videos (string lists) and query (string).",
			"example": map[string]any{
				"custom_urls":   []any{"https://example.com/fashion-week"},
				"custom_images": []any{},
				"custom_videos": []any{"/data/runway.mp4"},
				"query":         "Spring 2026 street style",
			},
		}), nil
	}

	input := ParseUserInput(rv)
	query := input.Query
	if query == "" {
		query = nc.State.GetString(FieldQuery, "")
	}
	if query == "" {
		query = p.cfg.DefaultQuery
	}

	p.logger.Info("user input collected",
		"run_id", nc.Config.RunID,
		"urls", len(input.CustomURLs),
		"images", len(input.CustomImages),
		"videos", len(input.CustomVideos))

	return graph.Complete(mergeUpdates(
		graph.PartialState{
			FieldUserInput: input.Map(),
			FieldQuery:     query,
		},
		memoryUpdate(StageUserInput, map[string]any{
			"custom_urls_provided":   len(input.CustomURLs),
			"custom_images_provided": len(input.CustomImages),
			"custom_videos_provided": len(input.CustomVideos),
		}),
	)), nil
}
