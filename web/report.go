// ABOUTME: HTML rendering of a run's final trend report from the checkpointed state.
// ABOUTME: The report body is markdown from the model; goldmark converts it with raw HTML stripped.
package web

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/yuin/goldmark"

	"github.com/trendloom/trendloom/pipeline"
)

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Trend Report: {{.RunID}}</title>
  <style>
    body { font-family: Georgia, serif; max-width: 46rem; margin: 3rem auto; padding: 0 1rem; color: #222; }
    h1 { font-size: 1.6rem; border-bottom: 1px solid #ddd; padding-bottom: .4rem; }
    .meta { color: #777; font-size: .85rem; margin-bottom: 2rem; }
    ul.palette { list-style: none; padding: 0; }
    ul.palette li { display: inline-block; margin-right: .8rem; }
  </style>
</head>
<body>
  <h1>{{.Query}}</h1>
  <p class="meta">run {{.RunID}}{{if .GeneratedAt}} · generated {{.GeneratedAt}}{{end}}</p>
  <div class="report">{{.Body}}</div>
  {{if .Palette}}
  <h2>Color palette</h2>
  <ul class="palette">{{range .Palette}}<li>{{.}}</li>{{end}}</ul>
  {{end}}
</body>
</html>
`))

type reportPage struct {
	RunID       string
	Query       string
	GeneratedAt string
	Body        template.HTML
	Palette     []string
}

// handleReport renders the run's final report as a standalone HTML page.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	cp, ok := s.latest(w, r)
	if !ok {
		return
	}
	report := cp.State.GetMap(pipeline.FieldFinalReport)
	if len(report) == 0 {
		s.fail(w, http.StatusNotFound, "run %s has no report yet", cp.RunID)
		return
	}

	page := reportPage{
		RunID: cp.RunID,
		Query: cp.State.GetString(pipeline.FieldQuery, ""),
		Body:  markdownToHTML(stringField(report, "trend_analysis")),
	}
	page.GeneratedAt = stringField(report, "generated_at")
	if palette, ok := report["color_palette"].([]any); ok {
		for _, c := range palette {
			if s, ok := c.(string); ok {
				page.Palette = append(page.Palette, s)
			}
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := reportTemplate.Execute(w, page); err != nil {
		s.logger.Error("render report", "run_id", cp.RunID, "error", err)
	}
}

// markdownToHTML converts model-authored markdown. Goldmark's default
// renderer escapes raw HTML, so model output cannot inject markup.
func markdownToHTML(input string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.New().Convert([]byte(input), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(input))
	}
	return template.HTML(buf.String())
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
