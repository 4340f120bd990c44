package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/akynaston/idmunit-connectors-sub001/internal/scenario"
)

func renderText(w io.Writer, results []*scenario.Result) error {
	var sb strings.Builder

	// Header
	sb.WriteString("=" + strings.Repeat("=", 78) + "\n")
	sb.WriteString("  DIRLOG SCENARIO REPORT\n")
	sb.WriteString("=" + strings.Repeat("=", 78) + "\n\n")

	// Summary
	sb.WriteString("SUMMARY\n")
	sb.WriteString(strings.Repeat("-", 79) + "\n")
	sb.WriteString(fmt.Sprintf("Scenarios:        %d\n", len(results)))
	sb.WriteString(fmt.Sprintf("Failed:           %d\n", Failed(results)))
	sb.WriteString("\n")

	for _, res := range results {
		status := "PASSED"
		if !res.OK() {
			status = fmt.Sprintf("FAILED (%d)", res.Failed)
		}
		sb.WriteString(fmt.Sprintf("%s: %s\n", strings.ToUpper(res.Name), status))
		sb.WriteString(strings.Repeat("-", 79) + "\n")
		sb.WriteString(fmt.Sprintf("Start Time:       %s\n", res.StartTime.Format("2006-01-02 15:04:05")))
		sb.WriteString(fmt.Sprintf("Duration:         %s\n", FormatDuration(res.Duration)))
		sb.WriteString(fmt.Sprintf("Polls:            %d\n", res.Polls))
		sb.WriteString(fmt.Sprintf("Delivered Bytes:  %d\n", len(res.Delivered)))
		sb.WriteString("\n")

		for _, step := range res.Steps {
			mark := "ok  "
			if !step.Passed {
				mark = "FAIL"
			}
			sb.WriteString(fmt.Sprintf("  [%s] %3d  %s\n", mark, step.Index, step.Description))
			if step.Error != "" {
				sb.WriteString(fmt.Sprintf("              error: %s\n", step.Error))
			}
			if !step.Passed {
				sb.WriteString(fmt.Sprintf("              %s\n", step.Message))
			}
		}
		sb.WriteString("\n")
	}

	_, err := io.WriteString(w, sb.String())
	return err
}
