// ABOUTME: The data collector stage: discovers scraping tools and curates source URLs for analysis.
// ABOUTME: Tool output and user-supplied URLs feed an LLM curation pass producing the data_urls manifest.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/trendloom/trendloom/graph"
	"github.com/trendloom/trendloom/llm"
)

const collectorSystemPrompt = `You are a fashion data curation agent. Given a trend query,
tool search output, and any user-supplied URLs, produce the source manifest
for downstream analysis. Prefer primary sources (brand sites, runway coverage,
street style galleries) over aggregators. Return only the requested JSON.`

var collectorSchema = &llm.ResponseSchema{
	Name:        "data_collection",
	Description: "Curated source manifest for a fashion trend query",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url_list":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"video_urls":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"search_queries": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"self_analysis":  map[string]any{"type": "string"},
		},
		"required":             []any{"url_list", "video_urls", "search_queries", "self_analysis"},
		"additionalProperties": false,
	},
	Strict: true,
}

// dataCollector gathers candidate sources. Tool discovery failures degrade to
// an LLM-only pass; only the curation call itself can fail the stage.
func (p *Pipeline) dataCollector(ctx context.Context, nc *graph.NodeContext) (*graph.StageResult, error) {
	start := time.Now()
	query := nc.State.GetString(FieldQuery, "")
	input := ParseUserInput(nc.State.GetMap(FieldUserInput))

	toolNotes, toolsUsed := p.searchWithTools(ctx, query)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Trend query: %s\n", query)
	if len(input.CustomURLs) > 0 {
		fmt.Fprintf(&sb, "User-supplied URLs (always include these in url_list):\n")
		for _, u := range input.CustomURLs {
			fmt.Fprintf(&sb, "- %s\n", u)
		}
	}
	if toolNotes != "" {
		fmt.Fprintf(&sb, "Search tool output:\n%s\n", toolNotes)
	}

	resp, err := p.complete(ctx, &llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: collectorSystemPrompt},
			{Role: llm.RoleUser, Content: sb.String()},
		},
		Schema: collectorSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("curate data sources: %w", err)
	}

	manifest := map[string]any{
		"source":         StageDataCollector,
		"query":          query,
		"url_list":       resp.Object["url_list"],
		"video_urls":     resp.Object["video_urls"],
		"search_queries": resp.Object["search_queries"],
		"self_analysis":  resp.Object["self_analysis"],
		"collected_at":   time.Now().UTC().Format(time.RFC3339),
	}

	return graph.Complete(mergeUpdates(
		graph.PartialState{FieldDataURLs: []any{manifest}},
		usageMemory(StageDataCollector, resp.Usage, map[string]any{
			"tools_used":      toolsUsed,
			"processing_time": time.Since(start).Seconds(),
		}),
	)), nil
}

// searchWithTools runs the query through every discoverable search capability
// on the configured tool servers. Unreachable servers contribute nothing.
func (p *Pipeline) searchWithTools(ctx context.Context, query string) (notes string, used []string) {
	used = []string{}
	if p.deps.Tools == nil {
		return "", used
	}
	var sb strings.Builder
	for _, server := range p.cfg.ToolServers {
		for _, tool := range p.deps.Tools.Discover(ctx, server.Name) {
			out, err := tool.Invoke(ctx, map[string]any{"query": query})
			if err != nil {
				p.logger.Warn("tool invocation failed",
					"server", server.Name, "tool", tool.Name(), "error", err)
				continue
			}
			fmt.Fprintf(&sb, "[%s/%s]\n%s\n", server.Name, tool.Name(), out)
			used = append(used, server.Name+"/"+tool.Name())
		}
	}
	return sb.String(), used
}
