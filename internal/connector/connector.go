// Package connector wires a configured backend, the aggregator, sinks, the
// poll loop and the status API into one runnable unit.
package connector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/akynaston/idmunit-connectors-sub001/internal/aggregator"
	"github.com/akynaston/idmunit-connectors-sub001/internal/api"
	"github.com/akynaston/idmunit-connectors-sub001/internal/config"
	"github.com/akynaston/idmunit-connectors-sub001/internal/poller"
	"github.com/akynaston/idmunit-connectors-sub001/internal/rowlog"
	"github.com/akynaston/idmunit-connectors-sub001/internal/sink"
	"github.com/akynaston/idmunit-connectors-sub001/internal/storage"
	"github.com/akynaston/idmunit-connectors-sub001/internal/storage/local"
	"github.com/akynaston/idmunit-connectors-sub001/internal/storage/remote"
	"go.uber.org/zap"
)

// Connector is a running watch over one directory
type Connector struct {
	config  *config.Config
	logger  *zap.Logger
	backend storage.Backend
	agg     *aggregator.Aggregator
	poller  *poller.Poller
	history *rowlog.History
	events  *rowlog.EventWriter
	api     *api.Server

	closers []func() error
	once    sync.Once
}

// OpenBackend opens the backend named by cfg. The returned function
// releases it.
func OpenBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Backend, func() error, error) {
	switch cfg.Backend {
	case config.BackendLocal:
		b, err := local.New(cfg.Dir, logger)
		if err != nil {
			return nil, nil, err
		}
		return b, func() error { return nil }, nil
	case config.BackendSFTP:
		b, err := remote.Dial(ctx, remote.Options{
			Host:                  cfg.SFTP.Host,
			Port:                  cfg.SFTP.Port,
			User:                  cfg.SFTP.User,
			Password:              cfg.SFTP.Password,
			KeyFile:               cfg.SFTP.KeyFile,
			KnownHosts:            cfg.SFTP.KnownHosts,
			InsecureIgnoreHostKey: cfg.SFTP.InsecureIgnoreHostKey,
			Timeout:               cfg.SFTP.Timeout,
			Dir:                   cfg.Dir,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// New validates cfg, opens the backend and establishes the baseline
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Connector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	backend, closeBackend, err := OpenBackend(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", cfg.Backend, err)
	}
	return build(ctx, cfg, backend, closeBackend, logger)
}

// NewWithBackend builds a connector over an already opened backend
func NewWithBackend(ctx context.Context, cfg *config.Config, backend storage.Backend, logger *zap.Logger) (*Connector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return build(ctx, cfg, backend, nil, logger)
}

func build(ctx context.Context, cfg *config.Config, backend storage.Backend, closeBackend func() error, logger *zap.Logger) (*Connector, error) {
	c := &Connector{config: cfg, logger: logger, backend: backend}
	if closeBackend != nil {
		c.closers = append(c.closers, closeBackend)
	}

	agg, err := aggregator.New(ctx, backend, cfg.OutputSuffix, logger.Named("aggregator"))
	if err != nil {
		c.Close()
		return nil, err
	}
	c.agg = agg

	sinks, err := c.buildSinks()
	if err != nil {
		c.Close()
		return nil, err
	}

	c.poller = poller.New(agg, sinks, poller.Options{
		Interval:      cfg.PollInterval,
		MaxReadErrors: cfg.MaxReadErrors,
	}, logger.Named("poller"))

	if cfg.HTTP.ListenAddr != "" {
		c.api = api.NewServer(c.poller, c.history, cfg.Dir, logger.Named("api"))
	}

	logger.Info("Connector ready",
		zap.String("backend", cfg.Backend),
		zap.String("dir", cfg.Dir),
		zap.String("output_suffix", cfg.OutputSuffix),
		zap.Int("sinks", len(sinks)))
	return c, nil
}

func (c *Connector) buildSinks() ([]poller.Sink, error) {
	cfg := c.config
	var sinks []poller.Sink

	switch cfg.Output {
	case "":
	case "-":
		sinks = append(sinks, sink.NewWriter("stdout", os.Stdout))
	default:
		w, err := sink.OpenFile(cfg.Output)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, w.Close)
		sinks = append(sinks, w)
	}

	if cfg.Rows.Enabled {
		parser, err := rowlog.NewParser(cfg.Rows.Columns, cfg.Delimiter())
		if err != nil {
			return nil, fmt.Errorf("invalid row layout: %w", err)
		}
		c.history = rowlog.NewHistory(cfg.Rows.History)
		sinks = append(sinks, sink.NewRows(parser, c.history))

		c.events, err = rowlog.NewEventWriter(c.backend, cfg.Rows.Columns, cfg.Delimiter(), cfg.Rows.EventPrefix, cfg.OutputSuffix)
		if err != nil {
			return nil, err
		}
	}

	if cfg.NATS.URL != "" {
		nc, err := sink.ConnectNATS(cfg.NATS.URL, c.logger.Named("nats"))
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() error {
			if err := nc.Drain(); err != nil {
				nc.Close()
				return err
			}
			return nil
		})
		sinks = append(sinks, sink.NewNATS(nc, cfg.NATS.Subject, cfg.Dir))
	}

	return sinks, nil
}

// PollOnce runs a single poll through every sink
func (c *Connector) PollOnce(ctx context.Context) ([]byte, error) {
	return c.poller.PollOnce(ctx)
}

// Stats returns the poller counters
func (c *Connector) Stats() poller.Stats {
	return c.poller.Stats()
}

// History returns the row history, or nil when rows are disabled
func (c *Connector) History() *rowlog.History {
	return c.history
}

// Events returns the event writer, or nil when rows are disabled
func (c *Connector) Events() *rowlog.EventWriter {
	return c.events
}

// Run polls until ctx ends or the poller gives up, serving the API
// alongside when configured. Whichever side fails first stops the other.
func (c *Connector) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		apiErr  error
		pollErr error
	)

	if c.api != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			apiErr = c.api.ListenAndServe(ctx, c.config.HTTP.ListenAddr)
			cancel()
		}()
	}

	pollErr = c.poller.Run(ctx)
	cancel()
	wg.Wait()

	return errors.Join(pollErr, apiErr)
}

// Close releases the backend, output files and the NATS connection
func (c *Connector) Close() error {
	var errs []error
	c.once.Do(func() {
		for i := len(c.closers) - 1; i >= 0; i-- {
			if err := c.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
