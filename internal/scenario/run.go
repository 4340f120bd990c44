package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/akynaston/idmunit-connectors-sub001/internal/aggregator"
	"github.com/akynaston/idmunit-connectors-sub001/internal/storage"
	"github.com/akynaston/idmunit-connectors-sub001/internal/storage/memory"
	"go.uber.org/zap"
)

// StepResult is the outcome of one step. Only poll steps can fail.
type StepResult struct {
	Index       int    `json:"index"`
	Op          string `json:"op"`
	Description string `json:"description"`
	Output      string `json:"output,omitempty"`
	Error       string `json:"error,omitempty"`
	Passed      bool   `json:"passed"`
	Message     string `json:"message,omitempty"`
}

// Result is the outcome of a scenario run
type Result struct {
	Name      string           `json:"name"`
	Steps     []StepResult     `json:"steps"`
	Polls     int              `json:"polls"`
	Failed    int              `json:"failed"`
	Delivered string           `json:"delivered"`
	State     aggregator.State `json:"state"`
	StartTime time.Time        `json:"start_time"`
	Duration  time.Duration    `json:"duration"`
}

// OK reports whether every expectation held
func (r *Result) OK() bool {
	return r.Failed == 0
}

// faultyBackend fails the next read of selected names once
type faultyBackend struct {
	*memory.Backend
	failNext map[string]bool
}

func (f *faultyBackend) ReadTail(ctx context.Context, name string, skip uint64) ([]byte, error) {
	if f.failNext[name] {
		delete(f.failNext, name)
		return nil, &storage.ReadError{Name: name, Offset: skip, Err: errors.New("injected read failure")}
	}
	return f.Backend.ReadTail(ctx, name, skip)
}

// Run executes the scenario against a fresh in-memory directory. The
// returned error reports a broken script, such as renaming a file that does
// not exist; unmet expectations are recorded in the result instead.
func Run(ctx context.Context, s *Scenario, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	res := &Result{Name: s.Name, StartTime: time.Now()}
	defer func() { res.Duration = time.Since(res.StartTime) }()

	fs := &faultyBackend{Backend: memory.New(), failNext: make(map[string]bool)}
	tick := s.tick()

	for _, f := range s.Baseline {
		fs.Advance(tick)
		if err := fs.Create(f.Name, []byte(f.Content)); err != nil {
			return nil, fmt.Errorf("baseline %s: %w", f.Name, err)
		}
	}

	agg, err := aggregator.New(ctx, fs, s.OutputSuffix, logger)
	if s.ExpectConfigError {
		step := StepResult{Op: "baseline", Description: "baseline is rejected", Passed: errors.Is(err, aggregator.ErrConfig)}
		if err != nil {
			step.Error = err.Error()
		}
		if !step.Passed {
			step.Message = "expected a configuration error"
			res.Failed++
		}
		res.Steps = append(res.Steps, step)
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregator: %w", err)
	}

	var delivered []byte
	for i, st := range s.Steps {
		step := StepResult{Index: i + 1, Op: st.Op, Description: st.Describe(), Passed: true}

		if st.Op != OpPoll {
			if err := apply(fs, st, tick); err != nil {
				return nil, fmt.Errorf("step %d (%s): %w", i+1, st.Op, err)
			}
			res.Steps = append(res.Steps, step)
			continue
		}

		res.Polls++
		data, err := agg.PollNewData(ctx)
		step.Output = string(data)
		if err != nil {
			step.Error = err.Error()
		}
		delivered = append(delivered, data...)

		if msg := check(st, data, err); msg != "" {
			step.Passed = false
			step.Message = msg
			res.Failed++
		}
		logger.Debug("Scenario step",
			zap.Int("step", step.Index),
			zap.String("op", st.Op),
			zap.Bool("passed", step.Passed))
		res.Steps = append(res.Steps, step)
	}

	res.Delivered = string(delivered)
	res.State = agg.State()
	return res, nil
}

func apply(fs *faultyBackend, st Step, tick time.Duration) error {
	switch st.Op {
	case OpCreate:
		fs.Advance(tick)
		return fs.Create(st.Name, []byte(st.Data))
	case OpAppend:
		fs.Advance(tick)
		return fs.Append(st.Name, []byte(st.Data))
	case OpRename:
		return fs.Rename(st.Name, st.To)
	case OpRemove:
		return fs.Remove(st.Name)
	case OpAdvance:
		fs.Advance(st.Duration)
		return nil
	case OpFailRead:
		fs.failNext[st.Name] = true
		return nil
	}
	return fmt.Errorf("unknown op %q", st.Op)
}

// check returns a failure message, or "" when the poll met its expectation
func check(st Step, data []byte, err error) string {
	switch st.ExpectError {
	case ErrorContinuity:
		if !errors.Is(err, aggregator.ErrContinuity) {
			return fmt.Sprintf("expected a continuity error, got %v", err)
		}
		return ""
	case ErrorRead:
		if !errors.Is(err, storage.ErrRead) {
			return fmt.Sprintf("expected a read error, got %v", err)
		}
		return ""
	}

	if err != nil {
		return fmt.Sprintf("unexpected error: %v", err)
	}
	if st.Expect != nil && string(data) != *st.Expect {
		return fmt.Sprintf("expected %q, got %q", *st.Expect, data)
	}
	return ""
}
