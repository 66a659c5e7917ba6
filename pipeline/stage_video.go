// ABOUTME: The video generator stage: renders a short video per approved outfit design.
// ABOUTME: Generation backends are pluggable; per-outfit failures are recorded, never fatal to the run.
package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"github.com/trendloom/trendloom/graph"
)

// VideoRequest describes one outfit to render.
type VideoRequest struct {
	RunID       string
	OutfitID    string
	Name        string
	Description string
	ImagePath   string
}

// VideoResult is one rendered video.
type VideoResult struct {
	OutputPath string
	Duration   float64
	Format     string
}

// VideoGenerator renders an outfit video. Implementations are expected to be
// slow remote calls; the stage runs them sequentially and tolerates
// individual failures.
type VideoGenerator interface {
	Generate(ctx context.Context, req VideoRequest) (*VideoResult, error)
}

// videoGenerator renders the approved collection. When the verdict selected
// specific outfits only those are rendered. The stage completes even when
// every render fails; the collection entry carries the per-outfit outcomes.
func (p *Pipeline) videoGenerator(ctx context.Context, nc *graph.NodeContext) (*graph.StageResult, error) {
	if p.deps.Videos == nil {
		return graph.Skip("no video generator configured"), nil
	}
	collection := latestDesigns(nc.State)
	if collection == nil {
		return graph.Skip("no outfit designs to render"), nil
	}
	designs, _ := collection["designs"].([]any)
	if len(designs) == 0 {
		return graph.Skip("no outfit designs to render"), nil
	}

	selected := map[string]bool{}
	_, decision := decisionFromState(nc.State)
	for _, id := range stringSlice(decision["selected_outfit_ids"]) {
		selected[id] = true
	}

	start := time.Now()
	results := make([]any, 0, len(designs))
	succeeded, failed := 0, 0
	outputDir := ""
	for _, d := range designs {
		outfit, ok := d.(map[string]any)
		if !ok {
			continue
		}
		id := stringValue(outfit["outfit_id"])
		if len(selected) > 0 && !selected[id] {
			continue
		}

		entry := map[string]any{
			"outfit_id":          id,
			"input_image_path":   stringValue(outfit["design_path"]),
			"output_video_path":  "",
			"generation_success": false,
			"generation_time":    0.0,
			"error_message":      "",
			"video_duration":     0.0,
			"video_format":       "",
		}
		renderStart := time.Now()
		res, err := p.deps.Videos.Generate(ctx, VideoRequest{
			RunID:       nc.Config.RunID,
			OutfitID:    id,
			Name:        stringValue(outfit["name"]),
			Description: stringValue(outfit["description"]),
			ImagePath:   stringValue(outfit["design_path"]),
		})
		entry["generation_time"] = time.Since(renderStart).Seconds()
		if err != nil {
			entry["error_message"] = err.Error()
			failed++
			p.logger.Warn("video generation failed",
				"run_id", nc.Config.RunID, "outfit_id", id, "error", err)
		} else {
			entry["output_video_path"] = res.OutputPath
			entry["generation_success"] = true
			entry["video_duration"] = res.Duration
			entry["video_format"] = res.Format
			succeeded++
			outputDir = filepath.Dir(res.OutputPath)
		}
		results = append(results, entry)
	}

	summary := map[string]any{
		"total_outfits_processed": len(results),
		"successful_videos":       succeeded,
		"failed_videos":           failed,
		"video_results":           results,
		"total_processing_time":   time.Since(start).Seconds(),
		"output_directory":        outputDir,
	}

	return graph.Complete(mergeUpdates(
		graph.PartialState{FieldOutfitVideos: []any{summary}},
		memoryUpdate(StageVideoGenerator, map[string]any{
			"videos_rendered": succeeded,
			"videos_failed":   failed,
			"processing_time": time.Since(start).Seconds(),
		}),
	)), nil
}
