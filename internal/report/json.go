package report

import (
	"encoding/json"
	"io"

	"github.com/akynaston/idmunit-connectors-sub001/internal/scenario"
)

// JSONReport wraps scenario results with a summary for JSON output
type JSONReport struct {
	Scenarios int                `json:"scenarios"`
	Failed    int                `json:"failed"`
	Results   []*scenario.Result `json:"results"`
}

func renderJSON(w io.Writer, results []*scenario.Result) error {
	report := &JSONReport{
		Scenarios: len(results),
		Failed:    Failed(results),
		Results:   results,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
