// Package poller drives an aggregated source on a fixed interval and fans
// each chunk of new data out to a set of sinks.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/akynaston/idmunit-connectors-sub001/internal/aggregator"
	"go.uber.org/zap"
)

// Sink receives every non-empty chunk returned by the source, in order
type Sink interface {
	Name() string
	Write(ctx context.Context, data []byte) error
}

// Options control the poll loop
type Options struct {
	Interval time.Duration
	// MaxReadErrors is the number of consecutive failed polls Run tolerates
	// before giving up. Zero retries forever.
	MaxReadErrors int
}

// Stats is a snapshot of the poller counters
type Stats struct {
	Polls             uint64            `json:"polls"`
	Chunks            uint64            `json:"chunks"`
	Bytes             uint64            `json:"bytes"`
	ReadErrors        uint64            `json:"read_errors"`
	ConsecutiveErrors int               `json:"consecutive_errors"`
	SinkErrors        uint64            `json:"sink_errors"`
	LastPoll          time.Time         `json:"last_poll"`
	LastData          time.Time         `json:"last_data,omitempty"`
	LastError         string            `json:"last_error,omitempty"`
	Stopped           bool              `json:"stopped"`
	Source            *aggregator.State `json:"source,omitempty"`
}

// stateful sources also expose their bookkeeping
type stateful interface {
	State() aggregator.State
}

// Poller owns one source. PollOnce and Run must be called from a single
// goroutine; Stats may be called from any.
type Poller struct {
	source aggregator.Source
	sinks  []Sink
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	stats Stats
}

// New creates a poller over source
func New(source aggregator.Source, sinks []Sink, opts Options, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		source: source,
		sinks:  sinks,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Stats returns a copy of the current counters
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	if s.Source != nil {
		st := *s.Source
		s.Source = &st
	}
	return s
}

// PollOnce polls the source once and writes any new data to every sink.
// Sink failures are logged and counted but do not fail the poll: the bytes
// are already consumed from the source.
func (p *Poller) PollOnce(ctx context.Context) ([]byte, error) {
	data, err := p.source.PollNewData(ctx)
	now := p.now()

	p.mu.Lock()
	p.stats.Polls++
	p.stats.LastPoll = now
	if sf, ok := p.source.(stateful); ok {
		st := sf.State()
		p.stats.Source = &st
	}
	if err != nil {
		p.stats.LastError = err.Error()
		if !errors.Is(err, aggregator.ErrContinuity) {
			p.stats.ReadErrors++
			p.stats.ConsecutiveErrors++
		}
		p.mu.Unlock()
		return nil, err
	}
	p.stats.ConsecutiveErrors = 0
	if len(data) > 0 {
		p.stats.Chunks++
		p.stats.Bytes += uint64(len(data))
		p.stats.LastData = now
	}
	p.mu.Unlock()

	if len(data) == 0 {
		return data, nil
	}

	for _, sink := range p.sinks {
		if err := sink.Write(ctx, data); err != nil {
			p.logger.Error("Sink write failed",
				zap.String("sink", sink.Name()),
				zap.Int("bytes", len(data)),
				zap.Error(err))
			p.mu.Lock()
			p.stats.SinkErrors++
			p.mu.Unlock()
		}
	}

	return data, nil
}

// Run polls immediately and then on every tick until ctx ends, a continuity
// error is returned, or MaxReadErrors consecutive polls fail
func (p *Poller) Run(ctx context.Context) error {
	if p.opts.Interval <= 0 {
		return fmt.Errorf("invalid poll interval %s", p.opts.Interval)
	}
	defer func() {
		p.mu.Lock()
		p.stats.Stopped = true
		p.mu.Unlock()
	}()

	p.logger.Info("Poller started",
		zap.Duration("interval", p.opts.Interval),
		zap.Int("max_read_errors", p.opts.MaxReadErrors))

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		if err := p.step(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			p.logger.Info("Poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Poller) step(ctx context.Context) error {
	data, err := p.PollOnce(ctx)
	if err == nil {
		if len(data) > 0 {
			p.logger.Debug("Delivered new data", zap.Int("bytes", len(data)))
		}
		return nil
	}

	if ctx.Err() != nil {
		return nil
	}
	if errors.Is(err, aggregator.ErrContinuity) {
		p.logger.Error("Stopping on continuity error", zap.Error(err))
		return err
	}

	consecutive := p.Stats().ConsecutiveErrors
	p.logger.Warn("Poll failed, will retry",
		zap.Int("consecutive", consecutive),
		zap.Error(err))
	if p.opts.MaxReadErrors > 0 && consecutive >= p.opts.MaxReadErrors {
		return fmt.Errorf("giving up after %d consecutive failed polls: %w", consecutive, err)
	}
	return nil
}
