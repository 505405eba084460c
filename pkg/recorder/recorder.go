// Package recorder keeps an append-only audit of per-switch action outcomes.
package recorder

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Outcome is one switch's result for one orchestration step.
type Outcome struct {
	RunID     string        `json:"run_id"`
	HostID    string        `json:"host_id"`
	Action    string        `json:"action"`
	Serial    string        `json:"serial"`
	IPAddress string        `json:"ip_address"`
	Name      string        `json:"name"`
	Policy    string        `json:"policy,omitempty"`
	State     string        `json:"state"`
	Detail    string        `json:"detail,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	At        time.Time     `json:"at"`
}

// Recorder persists outcomes. Implementations must be safe for sequential use
// by a single run.
type Recorder interface {
	Record(ctx context.Context, outcome Outcome) error
	Close() error
	Name() string
}

// Noop drops every outcome; used when recording is disabled.
type Noop struct{}

func (Noop) Record(context.Context, Outcome) error { return nil }
func (Noop) Close() error                         { return nil }
func (Noop) Name() string                         { return "noop" }

// Multi fans an outcome out to several recorders. A failing recorder is logged
// and does not stop the others.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, outcome Outcome) error {
	var firstErr error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, outcome); err != nil {
			log.Warn().Err(err).Str("recorder", r.Name()).Str("serial", outcome.Serial).
				Msg("record outcome failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m Multi) Close() error {
	var firstErr error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m Multi) Name() string { return "multi" }
