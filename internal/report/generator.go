package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/akynaston/idmunit-connectors-sub001/internal/scenario"
	"go.uber.org/zap"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorOrange = "\033[38;5;208m"
	colorGray   = "\033[38;5;245m"
)

// Report formats
const (
	FormatConsole  = ""
	FormatText     = "text"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// FormatDuration formats duration to a human-readable string with max 2 decimal places
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
	} else if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	mins := int(d.Minutes())
	secs := d.Seconds() - float64(mins*60)
	return fmt.Sprintf("%dm%.2fs", mins, secs)
}

// Generator renders scenario results
type Generator struct {
	format     string
	outputFile string
	console    io.Writer
	logger     *zap.Logger
}

// NewGenerator creates a report generator. An empty format prints a colored
// summary to the console; other formats are written to outputFile, or to a
// timestamped file in the working directory when outputFile is empty.
func NewGenerator(format, outputFile string, logger *zap.Logger) (*Generator, error) {
	format = normalizeFormat(format)
	switch format {
	case FormatConsole, FormatText, FormatJSON, FormatMarkdown:
	default:
		return nil, fmt.Errorf("unknown report format: %s", format)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		format:     format,
		outputFile: outputFile,
		console:    os.Stdout,
		logger:     logger,
	}, nil
}

func normalizeFormat(format string) string {
	switch strings.ToLower(format) {
	case "txt", "text":
		return FormatText
	case "md", "markdown":
		return FormatMarkdown
	}
	return strings.ToLower(format)
}

// Generate renders the results and returns the absolute path of the written
// file, or "" for console output
func (g *Generator) Generate(results []*scenario.Result) (string, error) {
	if g.format == FormatConsole {
		g.printConsole(g.console, results)
		return "", nil
	}

	outputFile := g.outputFile
	if outputFile == "" {
		timestamp := time.Now().Format("20060102-150405")
		ext := map[string]string{FormatText: "txt", FormatJSON: "json", FormatMarkdown: "md"}[g.format]
		outputFile = fmt.Sprintf("DIRLOG-SCENARIO-%s.%s", timestamp, ext)
	}

	g.logger.Info("Generating report",
		zap.String("format", g.format),
		zap.String("output", outputFile))

	f, err := os.Create(outputFile)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	if err := Render(f, results, g.format); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to generate %s report: %w", g.format, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}

	absPath, _ := filepath.Abs(outputFile)
	return absPath, nil
}

// Render writes results to w in the given format
func Render(w io.Writer, results []*scenario.Result, format string) error {
	switch normalizeFormat(format) {
	case FormatText:
		return renderText(w, results)
	case FormatJSON:
		return renderJSON(w, results)
	case FormatMarkdown:
		return renderMarkdown(w, results)
	case FormatConsole:
		g := &Generator{}
		g.printConsole(w, results)
		return nil
	}
	return fmt.Errorf("unknown report format: %s", format)
}

// printConsole prints results with colors
func (g *Generator) printConsole(w io.Writer, results []*scenario.Result) {
	fmt.Fprintln(w)
	for _, res := range results {
		fmt.Fprintf(w, "%s%sSCENARIO%s %s\n", colorBold, colorOrange, colorReset, res.Name)
		for _, step := range res.Steps {
			mark, color := "✓", colorGreen
			if !step.Passed {
				mark, color = "✗", colorRed
			}
			fmt.Fprintf(w, "  %s%s%s %s%2d%s %s\n", color, mark, colorReset, colorGray, step.Index, colorReset, step.Description)
			if !step.Passed {
				fmt.Fprintf(w, "       %s%s%s\n", colorDim, step.Message, colorReset)
			}
		}
		fmt.Fprintf(w, "  %sPolls:%s    %d\n", colorGray, colorReset, res.Polls)
		fmt.Fprintf(w, "  %sDuration:%s %s\n", colorGray, colorReset, FormatDuration(res.Duration))
		if res.OK() {
			fmt.Fprintf(w, "  %s%sPASSED%s\n\n", colorBold, colorGreen, colorReset)
		} else {
			fmt.Fprintf(w, "  %s%sFAILED: %d%s\n\n", colorBold, colorRed, res.Failed, colorReset)
		}
	}
}

// Failed returns the number of results with unmet expectations
func Failed(results []*scenario.Result) int {
	n := 0
	for _, r := range results {
		if !r.OK() {
			n++
		}
	}
	return n
}
