package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/akynaston/idmunit-connectors-sub001/internal/scenario"
	"go.uber.org/zap"
)

func sampleResults() []*scenario.Result {
	return []*scenario.Result{
		{
			Name:  "rollover",
			Polls: 2,
			Steps: []scenario.StepResult{
				{Index: 1, Op: "poll", Description: "poll, expect \"\"", Passed: true},
				{Index: 2, Op: "poll", Description: "poll, expect \"row1\\n\"", Passed: true, Output: "row1\n"},
			},
			Delivered: "row1\n",
			Duration:  3 * time.Millisecond,
		},
		{
			Name:   "broken",
			Polls:  1,
			Failed: 1,
			Steps: []scenario.StepResult{
				{Index: 1, Op: "poll", Description: "poll, expect continuity error", Passed: false, Message: "expected a continuity error, got <nil>"},
			},
		},
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{1500 * time.Microsecond, "1.50ms"},
		{2500 * time.Millisecond, "2.50s"},
		{90 * time.Second, "1m30.00s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := FormatDuration(tt.d); got != tt.expected {
				t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.expected)
			}
		})
	}
}

func TestRender_Formats(t *testing.T) {
	tests := []struct {
		format   string
		contains []string
	}{
		{"text", []string{"DIRLOG SCENARIO REPORT", "ROLLOVER: PASSED", "BROKEN: FAILED (1)", "[FAIL]"}},
		{"txt", []string{"Failed:           1"}},
		{"markdown", []string{"# Dirlog Scenario Report", "| rollover | 2 |", "**Step 1**"}},
		{"md", []string{"❌ 1 failed"}},
		{"", []string{"SCENARIO", "PASSED", "FAILED: 1"}},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Render(&buf, sampleResults(), tt.format); err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			for _, s := range tt.contains {
				if !strings.Contains(buf.String(), s) {
					t.Errorf("Render(%q) output missing %q:\n%s", tt.format, s, buf.String())
				}
			}
		})
	}
}

func TestRender_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, sampleResults(), "json"); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	var report JSONReport
	if err := json.Unmarshal(buf.Bytes(), &report); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if report.Scenarios != 2 || report.Failed != 1 {
		t.Errorf("report = %d scenarios, %d failed, want 2 and 1", report.Scenarios, report.Failed)
	}
	if report.Results[0].Delivered != "row1\n" {
		t.Errorf("Results[0].Delivered = %q, want %q", report.Results[0].Delivered, "row1\n")
	}
}

func TestRender_UnknownFormat(t *testing.T) {
	if err := Render(&bytes.Buffer{}, nil, "xml"); err == nil {
		t.Error("Render() expected error for unknown format, got nil")
	}
	if _, err := NewGenerator("xml", "", zap.NewNop()); err == nil {
		t.Error("NewGenerator() expected error for unknown format, got nil")
	}
}

func TestGenerator_Generate(t *testing.T) {
	out := filepath.Join(t.TempDir(), "report.md")
	g, err := NewGenerator("md", out, zap.NewNop())
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}

	path, err := g.Generate(sampleResults())
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if path != out {
		t.Errorf("Generate() path = %q, want %q", path, out)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("Failed to read report: %v", err)
	}
	if !strings.HasPrefix(string(data), "# Dirlog Scenario Report") {
		t.Errorf("report starts with %q", string(data[:20]))
	}
}

func TestGenerator_Console(t *testing.T) {
	g, err := NewGenerator("", "", zap.NewNop())
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	var buf bytes.Buffer
	g.console = &buf

	path, err := g.Generate(sampleResults())
	if err != nil || path != "" {
		t.Fatalf("Generate() = %q, %v, want console output", path, err)
	}
	if !strings.Contains(buf.String(), "rollover") {
		t.Errorf("console output missing scenario name:\n%s", buf.String())
	}
}
