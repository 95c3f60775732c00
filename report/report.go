package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"

	"github.com/psworks/scriptflow/workflow"
)

// Markdown renders a workflow result as a markdown report: run metadata, the
// per-tool findings and the synthesized summary.
func Markdown(res *workflow.Result) string {
	var buf bytes.Buffer

	buf.WriteString("# Script Analysis Report\n\n")
	fmt.Fprintf(&buf, "- **Workflow**: `%s`\n", res.WorkflowID)
	fmt.Fprintf(&buf, "- **Thread**: `%s`\n", res.ThreadID)
	fmt.Fprintf(&buf, "- **Status**: %s\n", res.Status)
	fmt.Fprintf(&buf, "- **Started**: %s\n", res.StartedAt.Format(time.RFC3339))
	if res.CompletedAt != nil {
		fmt.Fprintf(&buf, "- **Duration**: %s\n", res.CompletedAt.Sub(res.StartedAt).Round(time.Millisecond))
	}
	if res.RequiresHumanReview {
		buf.WriteString("- **Awaiting human review**\n")
	}
	buf.WriteString("\n")

	if len(res.AnalysisResults) > 0 {
		buf.WriteString("## Analysis results\n\n")

		names := make([]string, 0, len(res.AnalysisResults))
		for name := range res.AnalysisResults {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			tr := res.AnalysisResults[name]
			fmt.Fprintf(&buf, "### %s\n\n", name)
			if tr.Error != "" {
				fmt.Fprintf(&buf, "Failed: %s\n\n", tr.Error)
				continue
			}
			data, err := json.MarshalIndent(tr.Output, "", "  ")
			if err != nil {
				fmt.Fprintf(&buf, "%v\n\n", tr.Output)
				continue
			}
			fmt.Fprintf(&buf, "```json\n%s\n```\n\n", data)
		}
	}

	if len(res.Errors) > 0 {
		buf.WriteString("## Warnings\n\n")
		for _, e := range res.Errors {
			fmt.Fprintf(&buf, "- `%s` at %s: %s\n", e.Kind, e.Stage, e.Detail)
		}
		buf.WriteString("\n")
	}

	if res.FinalResponse != "" {
		buf.WriteString("## Summary\n\n")
		buf.WriteString(res.FinalResponse)
		buf.WriteString("\n")
	}

	return buf.String()
}

// HTML renders a workflow result as sanitized HTML. The summary comes back
// from a language model, so everything is run through a UGC policy before it
// can reach a browser.
func HTML(res *workflow.Result) []byte {
	return RenderHTML(Markdown(res))
}

// RenderHTML converts markdown to sanitized HTML
func RenderHTML(md string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse([]byte(md))

	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags})
	raw := markdown.Render(doc, renderer)

	return bluemonday.UGCPolicy().SanitizeBytes(raw)
}
