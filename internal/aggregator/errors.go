package aggregator

import (
	"errors"
	"fmt"
)

var (
	// ErrContinuity matches every *ContinuityError through errors.Is
	ErrContinuity = errors.New("continuity error")

	// ErrConfig matches every *ConfigError through errors.Is
	ErrConfig = errors.New("configuration error")
)

// ContinuityError means the directory no longer looks like the output of a
// single writer working on one temp file at a time. Bytes may have been missed
// or reordered, so the aggregator refuses to continue.
type ContinuityError struct {
	Expected string // Tracked temp file
	Found    string // Candidate that showed up in its place
	Reason   string
}

func (e *ContinuityError) Error() string {
	if e.Found == "" {
		return fmt.Sprintf("continuity error: %s: %s", e.Expected, e.Reason)
	}
	return fmt.Sprintf("continuity error: expected %s, found %s: %s", e.Expected, e.Found, e.Reason)
}

// Is makes errors.Is(err, ErrContinuity) true
func (e *ContinuityError) Is(target error) bool { return target == ErrContinuity }

// ConfigError reports a setup problem detected at construction
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Reason
}

// Is makes errors.Is(err, ErrConfig) true
func (e *ConfigError) Is(target error) bool { return target == ErrConfig }
