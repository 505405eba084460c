package tracker

import (
	"context"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/httprunner/ImageAgent/pkg/imageerr"
	"github.com/httprunner/ImageAgent/pkg/issu"
)

const (
	DefaultCheckInterval = 10 * time.Second
	DefaultCheckTimeout  = 1800 * time.Second
)

// State is a waiter state.
type State string

const (
	StatePolling   State = "POLLING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateTimedOut  State = "TIMED_OUT"
)

// Refresher returns a freshly fetched snapshot on every call.
type Refresher interface {
	Refresh(ctx context.Context) (*issu.Snapshot, error)
}

// Observer receives poll and outcome events. A nil Observer is ignored.
type Observer interface {
	ObservePoll(action string)
	ObserveOutcome(action string, state State, elapsed time.Duration)
}

// Config configures a Waiter. CheckInterval may be zero; a negative value
// selects the default. A non-positive CheckTimeout selects the default.
type Config struct {
	Action        string
	Refresher     Refresher
	Keys          []issu.ActionKey
	CheckInterval time.Duration
	CheckTimeout  time.Duration
	Now           func() time.Time
	Sleep         func(ctx context.Context, d time.Duration) error
	Observer      Observer
}

// Waiter polls a Refresher until every tracked device is terminal or the budget elapses.
type Waiter struct {
	action     string
	refresher  Refresher
	classifier Classifier
	interval   time.Duration
	timeout    time.Duration
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	observer   Observer
}

// Result describes how a wait ended. Done and Todo are sorted.
type Result struct {
	State  State
	Done   []string
	Failed []string
	Todo   []string
	Polls  int
}

// NewActionWaiter waits until every device reports Success for all cfg.Keys.
func NewActionWaiter(cfg Config) (*Waiter, error) {
	return newWaiter(cfg, Classifier{Keys: cfg.Keys, Policy: UntilActionComplete})
}

// NewIdleWaiter waits until no device reports In-Progress on any action key.
// cfg.Keys defaults to every tracked action key.
func NewIdleWaiter(cfg Config) (*Waiter, error) {
	if len(cfg.Keys) == 0 {
		cfg.Keys = issu.ActionKeys
	}
	if cfg.Action == "" {
		cfg.Action = "current actions"
	}
	return newWaiter(cfg, Classifier{Keys: cfg.Keys, Policy: UntilNoneInProgress})
}

func newWaiter(cfg Config, classifier Classifier) (*Waiter, error) {
	if cfg.Refresher == nil {
		return nil, errors.New("waiter refresher cannot be nil")
	}
	if len(classifier.Keys) == 0 {
		return nil, errors.New("waiter needs at least one action key")
	}
	if cfg.CheckInterval < 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = DefaultCheckTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.Action == "" {
		cfg.Action = string(classifier.Keys[0])
	}
	return &Waiter{
		action:     cfg.Action,
		refresher:  cfg.Refresher,
		classifier: classifier,
		interval:   cfg.CheckInterval,
		timeout:    cfg.CheckTimeout,
		now:        cfg.Now,
		sleep:      cfg.Sleep,
		observer:   cfg.Observer,
	}, nil
}

// Action returns the label used in logs, metrics and errors.
func (w *Waiter) Action() string {
	return w.action
}

// Wait polls until ids are all done, any fails, or the timeout elapses.
// The returned Result is non-nil on every path.
func (w *Waiter) Wait(ctx context.Context, ids []string) (*Result, error) {
	const op = "tracker.Wait"
	todo := lo.Uniq(ids)
	original := sortedCopy(todo)
	done := mapset.NewThreadUnsafeSet[string]()
	result := &Result{State: StatePolling}
	start := w.now()

	finish := func(state State, err error) (*Result, error) {
		result.State = state
		result.Done = sortedCopy(done.ToSlice())
		result.Todo = sortedCopy(todo)
		elapsed := w.now().Sub(start)
		if w.observer != nil {
			w.observer.ObserveOutcome(w.action, state, elapsed)
		}
		event := log.Info()
		if err != nil {
			event = log.Error().Err(err)
		}
		event.Str("action", w.action).
			Str("state", string(state)).
			Int("polls", result.Polls).
			Dur("elapsed", elapsed).
			Strs("done", result.Done).
			Strs("todo", result.Todo).
			Msg("wait finished")
		return result, err
	}

	if len(todo) == 0 {
		return finish(StateSucceeded, nil)
	}

	for {
		result.Polls++
		if w.observer != nil {
			w.observer.ObservePoll(w.action)
		}
		snap, err := w.refresher.Refresh(ctx)
		if err != nil {
			return finish(StateFailed, errors.Wrapf(err, "%s %s: refresh", op, w.action))
		}
		cls, err := w.classifier.Classify(snap, todo)
		if err != nil {
			return finish(StateFailed, err)
		}
		done.Append(cls.Done.ToSlice()...)
		todo = lo.Filter(todo, func(id string, _ int) bool {
			return !cls.Done.Contains(id) && !cls.Failed.Contains(id)
		})

		if cls.Failed.Cardinality() > 0 {
			failed := sortedCopy(cls.Failed.ToSlice())
			result.Failed = failed
			return finish(StateFailed, w.failure(op, snap, failed[0], start))
		}
		if len(todo) == 0 {
			return finish(StateSucceeded, nil)
		}
		elapsed := w.now().Sub(start)
		if elapsed >= w.timeout {
			return finish(StateTimedOut, &imageerr.TimeoutError{
				Op:      op,
				Action:  w.action,
				Timeout: w.timeout,
				Done:    sortedCopy(done.ToSlice()),
				Todo:    original,
			})
		}
		log.Debug().
			Str("action", w.action).
			Int("poll", result.Polls).
			Dur("remaining", w.timeout-elapsed).
			Strs("in_progress", sortedCopy(cls.InProgress.ToSlice())).
			Msg("waiting for devices")
		if err := w.sleep(ctx, w.interval); err != nil {
			return finish(StateFailed, err)
		}
	}
}

func (w *Waiter) failure(op string, snap *issu.Snapshot, id string, start time.Time) error {
	rec, err := snap.Lookup(id)
	if err != nil {
		return err
	}
	key := w.classifier.failedKey(rec)
	return &imageerr.ActionFailedError{
		Op:         op,
		Action:     string(key),
		DeviceName: rec.DeviceName,
		IPAddress:  rec.IPAddress,
		Serial:     rec.SerialNumber,
		Percent:    rec.Percent(key),
		Remaining:  w.timeout - w.now().Sub(start),
	}
}

func sortedCopy(ids []string) []string {
	out := append([]string{}, ids...)
	sort.Strings(out)
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
