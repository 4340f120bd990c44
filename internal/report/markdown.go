package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/akynaston/idmunit-connectors-sub001/internal/scenario"
)

func renderMarkdown(w io.Writer, results []*scenario.Result) error {
	var sb strings.Builder

	sb.WriteString("# Dirlog Scenario Report\n\n")

	// Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Scenario | Polls | Duration | Result |\n")
	sb.WriteString("|----------|-------|----------|--------|\n")
	for _, res := range results {
		result := "✅ passed"
		if !res.OK() {
			result = fmt.Sprintf("❌ %d failed", res.Failed)
		}
		sb.WriteString(fmt.Sprintf("| %s | %d | %s | %s |\n", escapeCell(res.Name), res.Polls, FormatDuration(res.Duration), result))
	}
	sb.WriteString("\n")

	for _, res := range results {
		if res.OK() {
			continue
		}
		sb.WriteString(fmt.Sprintf("## %s\n\n", res.Name))
		for _, step := range res.Steps {
			if step.Passed {
				continue
			}
			sb.WriteString(fmt.Sprintf("- **Step %d** `%s`: %s\n", step.Index, step.Description, step.Message))
		}
		sb.WriteString("\n")
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// escapeCell keeps pipes in names from breaking the table
func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
