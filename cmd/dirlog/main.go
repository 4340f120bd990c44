package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/akynaston/idmunit-connectors-sub001/internal/config"
	"github.com/akynaston/idmunit-connectors-sub001/internal/connector"
	"github.com/akynaston/idmunit-connectors-sub001/internal/report"
	"github.com/akynaston/idmunit-connectors-sub001/internal/rowlog"
	"github.com/akynaston/idmunit-connectors-sub001/internal/scenario"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorOrange = "\033[38;5;208m"
	colorGray   = "\033[38;5;245m"
)

var (
	version    = "0.1.0"
	logger     *zap.Logger
	verbose    bool
	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dirlog",
		Short: "dirlog - incremental directory log connector",
		Long: `Watches a directory filled by an external writer and delivers each newly
appended byte exactly once, following temp files through their rollover.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			logger, err = newLogger(verbose)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")

	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(writeCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%sError:%s %v\n", colorRed, colorReset, err)
		os.Exit(1)
	}
}

// newLogger returns a development logger when verbose, otherwise one that
// only reports warnings and errors
func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapcore.WarnLevel),
		Encoding:         "json",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig:    zap.NewProductionEncoderConfig(),
	}
	return cfg.Build()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// watchCmd creates the watch command
func watchCmd() *cobra.Command {
	var (
		backend      string
		suffix       string
		output       string
		listen       string
		columns      []string
		natsURL      string
		natsSubject  string
		maxReadError int
	)

	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Watch a directory and stream new data",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				logger.Error("Failed to load config", zap.Error(err))
				return err
			}

			// Override config with CLI flags
			if len(args) == 1 {
				cfg.Dir = args[0]
			}
			flags := cmd.Flags()
			if flags.Changed("backend") {
				cfg.Backend = backend
			}
			if flags.Changed("suffix") {
				cfg.OutputSuffix = suffix
			}
			if flags.Changed("interval") {
				cfg.PollInterval, _ = flags.GetDuration("interval")
			}
			if flags.Changed("max-read-errors") {
				cfg.MaxReadErrors = maxReadError
			}
			if flags.Changed("output") {
				cfg.Output = output
			}
			if flags.Changed("listen") {
				cfg.HTTP.ListenAddr = listen
			}
			if len(columns) > 0 {
				cfg.Rows.Enabled = true
				cfg.Rows.Columns = columns
			}
			if natsURL != "" {
				cfg.NATS.URL = natsURL
			}
			if natsSubject != "" {
				cfg.NATS.Subject = natsSubject
			}

			ctx, stop := signalContext()
			defer stop()

			c, err := connector.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			fmt.Fprintf(os.Stderr, "  %sWatching:%s %s%s%s (%s, suffix %s)\n",
				colorGray, colorReset, colorOrange, cfg.Dir, colorReset, cfg.Backend, cfg.OutputSuffix)

			if err := c.Run(ctx); err != nil {
				logger.Error("Watch stopped", zap.Error(err))
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "", "Backend: local, sftp")
	cmd.Flags().StringVarP(&suffix, "suffix", "s", "", "Suffix of completed files (e.g. .csv)")
	cmd.Flags().Duration("interval", 0, "Poll interval")
	cmd.Flags().IntVar(&maxReadError, "max-read-errors", 0, "Consecutive failed polls before giving up (0 = never)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Where to copy new data: - for stdout, a file path, or empty for none")
	cmd.Flags().StringVar(&listen, "listen", "", "Serve the status API on this address")
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "Parse rows with these column names")
	cmd.Flags().StringVar(&natsURL, "nats-url", "", "Publish new data to this NATS server")
	cmd.Flags().StringVar(&natsSubject, "nats-subject", "", "NATS subject to publish to")

	return cmd
}

// simulateCmd creates the simulate command
func simulateCmd() *cobra.Command {
	var (
		format     string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml>...",
		Short: "Replay writer scenarios against an in-memory directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, err := report.NewGenerator(format, outputFile, logger)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			results := make([]*scenario.Result, 0, len(args))
			for _, path := range args {
				s, err := scenario.Load(path)
				if err != nil {
					return err
				}
				if s.Name == "" {
					s.Name = path
				}
				res, err := scenario.Run(ctx, s, logger)
				if err != nil {
					return fmt.Errorf("scenario %s: %w", path, err)
				}
				results = append(results, res)
			}

			reportPath, err := gen.Generate(results)
			if err != nil {
				return err
			}
			if reportPath != "" {
				fmt.Printf("  %sReport:%s    %s%s%s\n\n", colorGray, colorReset, colorOrange, reportPath, colorReset)
			}

			if failed := report.Failed(results); failed > 0 {
				return fmt.Errorf("%d of %d scenarios failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "Report format: text, json, markdown (default: console)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Report file (default: timestamped file)")

	return cmd
}

// writeCmd creates the write command
func writeCmd() *cobra.Command {
	var columns []string

	cmd := &cobra.Command{
		Use:   "write [dir] column=value...",
		Short: "Write one event row as a new completed file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if !strings.Contains(args[0], "=") {
				cfg.Dir = args[0]
				args = args[1:]
			}
			if len(columns) > 0 {
				cfg.Rows.Columns = columns
			}
			if len(cfg.Rows.Columns) == 0 {
				return errors.New("no columns configured: set rows.columns or pass --columns")
			}

			values, err := parseAssignments(args)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			backend, closeBackend, err := connector.OpenBackend(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeBackend()

			w, err := rowlog.NewEventWriter(backend, cfg.Rows.Columns, cfg.Delimiter(), cfg.Rows.EventPrefix, cfg.OutputSuffix)
			if err != nil {
				return err
			}
			name, err := w.Write(ctx, values)
			if err != nil {
				return err
			}

			fmt.Printf("  %s%s✓ Wrote%s %s\n", colorBold, colorGreen, colorReset, name)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&columns, "columns", nil, "Column names in field order")

	return cmd
}

// parseAssignments turns column=value arguments into a map
func parseAssignments(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, errors.New("at least one column=value is required")
	}
	values := make(map[string]string, len(args))
	for _, arg := range args {
		column, value, ok := strings.Cut(arg, "=")
		if !ok || column == "" {
			return nil, fmt.Errorf("invalid assignment %q, want column=value", arg)
		}
		values[column] = value
	}
	return values, nil
}

// versionCmd creates the version command
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s%sdirlog%s v%s\n", colorBold, colorOrange, colorReset, version)
		},
	}
}
