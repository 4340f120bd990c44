// Package scenario replays scripted writer activity against an in-memory
// directory and checks what the aggregator delivers at each poll.
package scenario

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Step operations
const (
	OpCreate   = "create"
	OpAppend   = "append"
	OpRename   = "rename"
	OpRemove   = "remove"
	OpAdvance  = "advance"
	OpFailRead = "fail_read"
	OpPoll     = "poll"
)

// Expected error classes for poll steps
const (
	ErrorContinuity = "continuity"
	ErrorRead       = "read"
)

// DefaultTick is how far the clock moves before each write when Tick is unset
const DefaultTick = time.Second

// Scenario is one scripted run
type Scenario struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	OutputSuffix string `yaml:"output_suffix"`
	// Tick advances the clock before every create and append, so each write
	// gets a distinct modification time. Negative disables it.
	Tick     time.Duration `yaml:"tick"`
	Baseline []File        `yaml:"baseline"`
	// ExpectConfigError marks scenarios whose baseline must be rejected
	ExpectConfigError bool   `yaml:"expect_config_error"`
	Steps             []Step `yaml:"steps"`
}

// File is a file present before the aggregator starts
type File struct {
	Name    string `yaml:"name"`
	Content string `yaml:"content"`
}

// Step is one writer action or poll
type Step struct {
	Op       string        `yaml:"op"`
	Name     string        `yaml:"name,omitempty"`
	To       string        `yaml:"to,omitempty"`
	Data     string        `yaml:"data,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty"`
	// Expect is the exact output of a poll step; nil skips the check
	Expect *string `yaml:"expect,omitempty"`
	// ExpectError is an error class a poll step must fail with
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Load reads and validates a scenario file
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a scenario document
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks that every step carries the fields its operation needs
func (s *Scenario) Validate() error {
	if s.OutputSuffix == "" {
		return fmt.Errorf("output_suffix is required")
	}
	for i, f := range s.Baseline {
		if f.Name == "" {
			return fmt.Errorf("baseline file %d: name is required", i+1)
		}
	}

	for i, st := range s.Steps {
		n := i + 1
		switch st.Op {
		case OpCreate, OpAppend, OpRemove, OpFailRead:
			if st.Name == "" {
				return fmt.Errorf("step %d (%s): name is required", n, st.Op)
			}
		case OpRename:
			if st.Name == "" || st.To == "" {
				return fmt.Errorf("step %d (rename): name and to are required", n)
			}
		case OpAdvance:
			if st.Duration <= 0 {
				return fmt.Errorf("step %d (advance): positive duration is required", n)
			}
		case OpPoll:
			switch st.ExpectError {
			case "", ErrorContinuity, ErrorRead:
			default:
				return fmt.Errorf("step %d (poll): unknown error class %q", n, st.ExpectError)
			}
			if st.ExpectError != "" && st.Expect != nil {
				return fmt.Errorf("step %d (poll): expect and expect_error are exclusive", n)
			}
		case "":
			return fmt.Errorf("step %d: op is required", n)
		default:
			return fmt.Errorf("step %d: unknown op %q", n, st.Op)
		}
	}
	return nil
}

func (s *Scenario) tick() time.Duration {
	switch {
	case s.Tick < 0:
		return 0
	case s.Tick == 0:
		return DefaultTick
	}
	return s.Tick
}

// Describe returns a short human-readable form of the step
func (st Step) Describe() string {
	switch st.Op {
	case OpCreate, OpAppend:
		return fmt.Sprintf("%s %s %q", st.Op, st.Name, st.Data)
	case OpRename:
		return fmt.Sprintf("rename %s -> %s", st.Name, st.To)
	case OpRemove, OpFailRead:
		return fmt.Sprintf("%s %s", st.Op, st.Name)
	case OpAdvance:
		return fmt.Sprintf("advance %s", st.Duration)
	case OpPoll:
		switch {
		case st.ExpectError != "":
			return fmt.Sprintf("poll, expect %s error", st.ExpectError)
		case st.Expect != nil:
			return fmt.Sprintf("poll, expect %q", *st.Expect)
		}
		return "poll"
	}
	return st.Op
}
