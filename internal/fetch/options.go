package fetch

import (
	"errors"
	"fmt"
	"time"
)

// Policy decides which chapters a run fetches and how fetched bodies are saved.
type Policy string

const (
	// PolicyUpdate fetches only chapters that are not stored yet.
	PolicyUpdate Policy = "update"
	// PolicyFlush refetches every chapter and overwrites the stored body.
	PolicyFlush Policy = "flush"
	// PolicyDiff refetches every chapter and merges bodies that changed.
	PolicyDiff Policy = "diff"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyUpdate, PolicyFlush, PolicyDiff:
		return p, nil
	case "":
		return PolicyUpdate, nil
	}
	return "", fmt.Errorf("%w: unknown policy %q", ErrConfig, s)
}

// ErrConfig is returned before any network access when Options cannot run.
var ErrConfig = errors.New("invalid fetch configuration")

type Options struct {
	Policy Policy
	// Workers above 1 selects the concurrent mode.
	Workers int
	// Retry is the maximum number of attempts per chapter; 0 retries without bound.
	Retry    int
	Interval time.Duration
	// InfoOnly refreshes the metadata of an existing work and stops.
	InfoOnly bool
}

// DefaultOptions mirrors the CLI defaults.
func DefaultOptions() Options {
	return Options{
		Policy:   PolicyUpdate,
		Workers:  1,
		Retry:    3,
		Interval: 200 * time.Millisecond,
	}
}

// Concurrent reports whether the run uses the worker pool.
func (o Options) Concurrent() bool { return o.Workers >= 2 }

func (o Options) Validate() error {
	if _, err := ParsePolicy(string(o.Policy)); err != nil {
		return err
	}
	if o.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative", ErrConfig)
	}
	if o.Retry < 0 {
		return fmt.Errorf("%w: retry must not be negative", ErrConfig)
	}
	if o.Interval < 0 {
		return fmt.Errorf("%w: interval must not be negative", ErrConfig)
	}
	if o.Policy == PolicyDiff && o.Concurrent() {
		return fmt.Errorf("%w: policy diff cannot run with %d workers", ErrConfig, o.Workers)
	}
	return nil
}
