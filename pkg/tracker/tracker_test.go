package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/httprunner/ImageAgent/pkg/imageerr"
	"github.com/httprunner/ImageAgent/pkg/issu"
)

type device struct {
	serial, ip, name           string
	staged, validated, upgrade string
	validatedPercent           int
	policy                     string
}

func snapshotOf(t *testing.T, devices ...device) *issu.Snapshot {
	t.Helper()
	records := make([]issu.Record, 0, len(devices))
	for _, d := range devices {
		raw, err := json.Marshal(map[string]any{
			"serialNumber":     d.serial,
			"ipAddress":        d.ip,
			"deviceName":       d.name,
			"imageStaged":      d.staged,
			"validated":        d.validated,
			"validatedPercent": d.validatedPercent,
			"upgrade":          d.upgrade,
			"policy":           d.policy,
		})
		require.NoError(t, err)
		var rec issu.Record
		require.NoError(t, json.Unmarshal(raw, &rec))
		records = append(records, rec)
	}
	return issu.NewSnapshot(issu.BySerialNumber, records)
}

type scriptedRefresher struct {
	mu    sync.Mutex
	snaps []*issu.Snapshot
	err   error
	calls int
}

func (r *scriptedRefresher) Refresh(context.Context) (*issu.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	snap := r.snaps[0]
	if len(r.snaps) > 1 {
		r.snaps = r.snaps[1:]
	}
	return snap, nil
}

type fakeClock struct {
	now    time.Time
	sleeps int
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.sleeps++
	c.now = c.now.Add(d)
	return nil
}

type recordingObserver struct {
	polls    int
	outcomes []State
}

func (o *recordingObserver) ObservePoll(string) { o.polls++ }
func (o *recordingObserver) ObserveOutcome(_ string, state State, _ time.Duration) {
	o.outcomes = append(o.outcomes, state)
}

func newValidateWaiter(t *testing.T, refresher Refresher, clock *fakeClock, interval, timeout time.Duration) *Waiter {
	t.Helper()
	w, err := NewActionWaiter(Config{
		Action:        "validate",
		Refresher:     refresher,
		Keys:          []issu.ActionKey{issu.Validated},
		CheckInterval: interval,
		CheckTimeout:  timeout,
		Now:           clock.Now,
		Sleep:         clock.Sleep,
	})
	require.NoError(t, err)
	return w
}

func TestClassifyPartitionsInput(t *testing.T) {
	snap := snapshotOf(t,
		device{serial: "A", validated: "Success"},
		device{serial: "B", validated: "Failed"},
		device{serial: "C", validated: "In-Progress"},
		device{serial: "D", validated: "none"},
		device{serial: "E", validated: "Skipped"},
		device{serial: "F", validated: "something-new"},
	)
	ids := []string{"A", "B", "C", "D", "E", "F"}
	for _, policy := range []ExitPolicy{UntilActionComplete, UntilNoneInProgress} {
		t.Run(policy.String(), func(t *testing.T) {
			cls, err := Classifier{Keys: []issu.ActionKey{issu.Validated}, Policy: policy}.Classify(snap, ids)
			require.NoError(t, err)
			union := cls.Done.Union(cls.Failed).Union(cls.InProgress)
			assert.Equal(t, len(ids), union.Cardinality())
			assert.Equal(t, len(ids), cls.Done.Cardinality()+cls.Failed.Cardinality()+cls.InProgress.Cardinality())
			for _, id := range ids {
				assert.True(t, union.Contains(id))
			}
		})
	}
}

func TestClassifyActionComplete(t *testing.T) {
	snap := snapshotOf(t,
		device{serial: "A", validated: "Success"},
		device{serial: "B", validated: "Failed"},
		device{serial: "C", validated: "Skipped"},
	)
	cls, err := Classifier{Keys: []issu.ActionKey{issu.Validated}}.Classify(snap, []string{"A", "B", "C"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A"}, cls.Done.ToSlice())
	assert.ElementsMatch(t, []string{"B"}, cls.Failed.ToSlice())
	assert.ElementsMatch(t, []string{"C"}, cls.InProgress.ToSlice())
}

func TestClassifyNoneInProgressNeverFails(t *testing.T) {
	snap := snapshotOf(t,
		device{serial: "A", staged: "Failed", validated: "none", upgrade: "Success"},
		device{serial: "B", staged: "Success", validated: "In-Progress", upgrade: "none"},
	)
	cls, err := Classifier{Keys: issu.ActionKeys, Policy: UntilNoneInProgress}.Classify(snap, []string{"A", "B"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A"}, cls.Done.ToSlice())
	assert.Equal(t, 0, cls.Failed.Cardinality())
	assert.ElementsMatch(t, []string{"B"}, cls.InProgress.ToSlice())
}

func TestClassifyUnknownDevice(t *testing.T) {
	snap := snapshotOf(t, device{serial: "A"})
	_, err := Classifier{Keys: []issu.ActionKey{issu.Validated}}.Classify(snap, []string{"A", "Z"})
	var unknown *imageerr.UnknownDeviceError
	assert.True(t, errors.As(err, &unknown))
}

func TestWaitAllSucceed(t *testing.T) {
	clock := newFakeClock()
	refresher := &scriptedRefresher{snaps: []*issu.Snapshot{snapshotOf(t,
		device{serial: "X", validated: "Success"},
		device{serial: "Y", validated: "Success"},
	)}}
	observer := &recordingObserver{}
	w, err := NewActionWaiter(Config{
		Action: "validate", Refresher: refresher, Keys: []issu.ActionKey{issu.Validated},
		Now: clock.Now, Sleep: clock.Sleep, Observer: observer,
	})
	require.NoError(t, err)

	result, err := w.Wait(context.Background(), []string{"Y", "X"})
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, result.State)
	assert.Equal(t, []string{"X", "Y"}, result.Done)
	assert.Empty(t, result.Todo)
	assert.Equal(t, 1, result.Polls)
	assert.Equal(t, 0, clock.sleeps)
	assert.Equal(t, 1, observer.polls)
	assert.Equal(t, []State{StateSucceeded}, observer.outcomes)
}

func TestWaitFailsOnFirstFailedDevice(t *testing.T) {
	clock := newFakeClock()
	refresher := &scriptedRefresher{snaps: []*issu.Snapshot{snapshotOf(t,
		device{serial: "X", ip: "10.0.0.1", name: "leaf-x", validated: "Success"},
		device{serial: "Y", ip: "10.0.0.2", name: "leaf-y", validated: "Failed", validatedPercent: 90},
	)}}
	w := newValidateWaiter(t, refresher, clock, time.Second, time.Minute)

	result, err := w.Wait(context.Background(), []string{"X", "Y"})
	var failed *imageerr.ActionFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, "Y", failed.Serial)
	assert.Equal(t, "10.0.0.2", failed.IPAddress)
	assert.Equal(t, "leaf-y", failed.DeviceName)
	assert.Equal(t, 90, failed.Percent)
	assert.Contains(t, err.Error(), "leaf-y, 10.0.0.2, Y")
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, []string{"X"}, result.Done)
	assert.Equal(t, []string{"Y"}, result.Failed)
}

func TestWaitFailureNamesLowestFailedID(t *testing.T) {
	clock := newFakeClock()
	refresher := &scriptedRefresher{snaps: []*issu.Snapshot{snapshotOf(t,
		device{serial: "C", validated: "Failed"},
		device{serial: "B", validated: "Failed"},
		device{serial: "A", validated: "In-Progress"},
	)}}
	w := newValidateWaiter(t, refresher, clock, time.Second, time.Minute)

	_, err := w.Wait(context.Background(), []string{"C", "A", "B"})
	var failed *imageerr.ActionFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, "B", failed.Serial)
}

func TestWaitTimesOutWithFullTodo(t *testing.T) {
	clock := newFakeClock()
	refresher := &scriptedRefresher{snaps: []*issu.Snapshot{snapshotOf(t,
		device{serial: "X", validated: "Success"},
		device{serial: "Y", validated: "In-Progress"},
	)}}
	w := newValidateWaiter(t, refresher, clock, time.Second, time.Second)

	result, err := w.Wait(context.Background(), []string{"Y", "X"})
	var timeout *imageerr.TimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, []string{"X"}, timeout.Done)
	assert.Equal(t, []string{"X", "Y"}, timeout.Todo)
	assert.Contains(t, err.Error(), "done: X, todo: X,Y")
	assert.Equal(t, StateTimedOut, result.State)
	assert.Equal(t, []string{"Y"}, result.Todo)
	assert.Equal(t, 2, result.Polls)
}

func TestWaitProgressesAcrossPolls(t *testing.T) {
	clock := newFakeClock()
	refresher := &scriptedRefresher{snaps: []*issu.Snapshot{
		snapshotOf(t, device{serial: "X", validated: "In-Progress"}, device{serial: "Y", validated: "none"}),
		snapshotOf(t, device{serial: "X", validated: "Success"}, device{serial: "Y", validated: "In-Progress"}),
		snapshotOf(t, device{serial: "X", validated: "Success"}, device{serial: "Y", validated: "Success"}),
	}}
	w := newValidateWaiter(t, refresher, clock, 10*time.Second, time.Hour)

	result, err := w.Wait(context.Background(), []string{"X", "Y"})
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, result.State)
	assert.Equal(t, 3, result.Polls)
	assert.Equal(t, 2, clock.sleeps)
	assert.Equal(t, 3, refresher.calls)
}

func TestWaitTerminatesWithZeroInterval(t *testing.T) {
	clock := newFakeClock()
	inProgress := snapshotOf(t, device{serial: "X", validated: "In-Progress"})
	refresher := &scriptedRefresher{snaps: []*issu.Snapshot{inProgress}}
	w, err := NewActionWaiter(Config{
		Refresher: refresher, Keys: []issu.ActionKey{issu.Validated},
		CheckInterval: 0, CheckTimeout: 5 * time.Millisecond,
		Now: func() time.Time {
			clock.now = clock.now.Add(time.Millisecond)
			return clock.now
		},
		Sleep: func(context.Context, time.Duration) error { return nil },
	})
	require.NoError(t, err)

	result, err := w.Wait(context.Background(), []string{"X"})
	assert.Error(t, err)
	assert.Equal(t, StateTimedOut, result.State)
	assert.Less(t, result.Polls, 10)
}

func TestWaitRefreshErrorIsFatal(t *testing.T) {
	clock := newFakeClock()
	refresher := &scriptedRefresher{err: &imageerr.EmptyResultError{Op: "issu.Refresh", Msg: "empty"}}
	w := newValidateWaiter(t, refresher, clock, time.Second, time.Minute)

	result, err := w.Wait(context.Background(), []string{"X"})
	var empty *imageerr.EmptyResultError
	assert.True(t, errors.As(err, &empty))
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, 1, refresher.calls)
}

func TestWaitEmptyIDsSucceedsWithoutPolling(t *testing.T) {
	refresher := &scriptedRefresher{}
	w := newValidateWaiter(t, refresher, newFakeClock(), time.Second, time.Minute)
	result, err := w.Wait(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, result.State)
	assert.Equal(t, 0, refresher.calls)
}

func TestIdleWaiter(t *testing.T) {
	clock := newFakeClock()
	refresher := &scriptedRefresher{snaps: []*issu.Snapshot{
		snapshotOf(t, device{serial: "X", staged: "In-Progress"}, device{serial: "Y", upgrade: "Failed"}),
		snapshotOf(t, device{serial: "X", staged: "Success"}, device{serial: "Y", upgrade: "Failed"}),
	}}
	w, err := NewIdleWaiter(Config{Refresher: refresher, Now: clock.Now, Sleep: clock.Sleep, CheckInterval: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "current actions", w.Action())

	result, err := w.Wait(context.Background(), []string{"X", "Y"})
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, result.State)
	assert.Equal(t, []string{"X", "Y"}, result.Done)
	assert.Equal(t, 2, result.Polls)
}

func TestNewWaiterDefaults(t *testing.T) {
	w, err := NewActionWaiter(Config{Refresher: &scriptedRefresher{}, Keys: []issu.ActionKey{issu.Upgrade}, CheckInterval: -1})
	require.NoError(t, err)
	assert.Equal(t, DefaultCheckInterval, w.interval)
	assert.Equal(t, DefaultCheckTimeout, w.timeout)
	assert.Equal(t, "upgrade", w.Action())

	_, err = NewActionWaiter(Config{Refresher: &scriptedRefresher{}})
	assert.Error(t, err)
	_, err = NewActionWaiter(Config{Keys: []issu.ActionKey{issu.Upgrade}})
	assert.Error(t, err)
}

func TestWaitHonoursCancellation(t *testing.T) {
	refresher := &scriptedRefresher{snaps: []*issu.Snapshot{snapshotOf(t, device{serial: "X", validated: "In-Progress"})}}
	w, err := NewActionWaiter(Config{
		Refresher: refresher, Keys: []issu.ActionKey{issu.Validated},
		CheckInterval: time.Hour, CheckTimeout: 2 * time.Hour,
	})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = w.Wait(ctx, []string{"X"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPruneIsIdempotent(t *testing.T) {
	snap := snapshotOf(t,
		device{serial: "A", validated: "Success", policy: "P"},
		device{serial: "B", validated: "In-Progress", policy: "P"},
		device{serial: "C", validated: "Success", policy: "Q"},
	)
	pred := StatusIs(issu.Validated, issu.StatusSuccess)
	once, err := Prune(snap, []string{"C", "B", "A"}, pred)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, once)
	twice, err := Prune(snap, once, pred)
	require.NoError(t, err)
	assert.Equal(t, once, twice)

	kept, err := Prune(snap, []string{"A", "B", "C"}, All(pred, PolicyIs("P")))
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, kept)

	_, err = Prune(snap, []string{"Z"}, pred)
	assert.Error(t, err)
}
