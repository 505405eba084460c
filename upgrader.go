package imageagent

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/httprunner/ImageAgent/pkg/controller"
	"github.com/httprunner/ImageAgent/pkg/image"
	"github.com/httprunner/ImageAgent/pkg/issu"
	"github.com/httprunner/ImageAgent/pkg/policy"
	"github.com/httprunner/ImageAgent/pkg/recorder"
	"github.com/httprunner/ImageAgent/pkg/switches"
	"github.com/httprunner/ImageAgent/pkg/tracker"
)

// Outcome states recorded per switch in addition to the waiter states.
const (
	OutcomeSkipped = "SKIPPED"
	OutcomeAborted = "ABORTED"
)

// ActionAttach labels the policy attach step in reports and outcomes.
const ActionAttach = string(policy.ActionAttach)

// Options tunes an Upgrader. Zero values select defaults.
type Options struct {
	CheckInterval time.Duration
	CheckTimeout  time.Duration
	// Concurrency bounds parallel upgrade submissions. Defaults to 1.
	Concurrency int
	Recorder    recorder.Recorder
	Observer    tracker.Observer
	Now         func() time.Time
	Sleep       func(ctx context.Context, d time.Duration) error
}

// Upgrader drives a Plan through attach, stage, validate and upgrade.
type Upgrader struct {
	sender    controller.Sender
	details   *issu.Details
	catalog   *policy.Catalog
	inventory *switches.Inventory
	images    *image.Client
	opts      Options
}

// NewUpgrader builds an Upgrader that talks to the controller through sender.
func NewUpgrader(sender controller.Sender, opts Options) *Upgrader {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Recorder == nil {
		opts.Recorder = recorder.Noop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Upgrader{
		sender:    sender,
		details:   issu.NewDetails(sender, issu.BySerialNumber),
		catalog:   policy.NewCatalog(sender),
		inventory: switches.NewInventory(sender),
		images:    image.NewClient(sender),
		opts:      opts,
	}
}

// StepReport summarises one step of a run. Result is nil for steps that do
// not wait.
type StepReport struct {
	Action    string
	Submitted []string
	Skipped   []string
	Result    *tracker.Result
}

// Report is returned by Run, including when Run fails part way.
type Report struct {
	RunID string
	Steps []StepReport
}

type target struct {
	SwitchPlan
	serial string
	name   string
}

type run struct {
	id     string
	report *Report
	logger zerolog.Logger
}

// Run executes plan. The first error aborts the run; nothing is retried.
func (u *Upgrader) Run(ctx context.Context, plan *Plan) (*Report, error) {
	if plan == nil || len(plan.Switches) == 0 {
		return nil, errors.New("upgrade plan has no switches")
	}
	r := &run{id: uuid.NewString()}
	r.report = &Report{RunID: r.id}
	r.logger = log.With().Str("run_id", r.id).Logger()
	r.logger.Info().Int("switches", len(plan.Switches)).Msg("image upgrade run started")

	targets, err := u.resolve(ctx, plan)
	if err != nil {
		return r.report, err
	}
	if err := u.waitIdle(ctx, r, targets); err != nil {
		return r.report, err
	}
	if err := u.attach(ctx, r, targets); err != nil {
		return r.report, err
	}

	staged := tracker.StatusIs(issu.ImageStaged, issu.StatusSuccess)
	if err := u.step(ctx, r, issu.ImageStaged, lo.Filter(targets, func(t target, _ int) bool { return t.Stage }),
		staged, u.submitStage); err != nil {
		return r.report, err
	}
	validated := tracker.StatusIs(issu.Validated, issu.StatusSuccess)
	if err := u.step(ctx, r, issu.Validated, lo.Filter(targets, func(t target, _ int) bool { return t.Validate }),
		validated, u.submitValidate); err != nil {
		return r.report, err
	}
	upgrades := lo.Filter(targets, func(t target, _ int) bool { return t.Upgrade })
	if err := u.step(ctx, r, issu.Upgrade, upgrades, upgradedTo(upgrades), u.submitUpgrade); err != nil {
		return r.report, err
	}

	r.logger.Info().Int("steps", len(r.report.Steps)).Msg("image upgrade run finished")
	return r.report, nil
}

// upgradedTo holds when a switch already reports a successful upgrade to its
// planned policy.
func upgradedTo(targets []target) tracker.Predicate {
	policyBySerial := lo.SliceToMap(targets, func(t target) (string, string) { return t.serial, t.Policy })
	done := tracker.StatusIs(issu.Upgrade, issu.StatusSuccess)
	return func(rec *issu.Record) bool {
		return done(rec) && tracker.PolicyIs(policyBySerial[rec.SerialNumber])(rec)
	}
}

func (u *Upgrader) resolve(ctx context.Context, plan *Plan) ([]target, error) {
	snap, err := u.details.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]target, 0, len(plan.Switches))
	for _, sp := range plan.Switches {
		rec, err := snap.LookupBy(issu.ByIPAddress, sp.IPAddress)
		if err != nil {
			return nil, u.explainUnresolved(ctx, sp.IPAddress, err)
		}
		if rec.SerialNumber == "" {
			return nil, errors.Errorf("switch %s (%s) has no serial number in the ISSU report", sp.IPAddress, rec.DeviceName)
		}
		out = append(out, target{SwitchPlan: sp, serial: rec.SerialNumber, name: rec.DeviceName})
	}
	return out, nil
}

// explainUnresolved adds inventory details when the controller manages the
// switch but does not report ISSU state for it.
func (u *Upgrader) explainUnresolved(ctx context.Context, ip string, cause error) error {
	if err := u.inventory.Refresh(ctx); err != nil {
		log.Debug().Err(err).Str("ip_address", ip).Msg("inventory lookup for unresolved switch failed")
		return cause
	}
	sw, err := u.inventory.Lookup(ip)
	if err != nil {
		return cause
	}
	return errors.Wrapf(cause, "switch %s (%s, serial %s, fabric %s, role %s) is in the inventory but missing from the ISSU report",
		ip, sw.Name(), sw.SerialNumber, sw.FabricName, sw.SwitchRole)
}

func (u *Upgrader) waiterConfig(action string, keys ...issu.ActionKey) tracker.Config {
	return tracker.Config{
		Action:        action,
		Refresher:     u.details,
		Keys:          keys,
		CheckInterval: u.opts.CheckInterval,
		CheckTimeout:  u.opts.CheckTimeout,
		Now:           u.opts.Now,
		Sleep:         u.opts.Sleep,
		Observer:      u.opts.Observer,
	}
}

func (u *Upgrader) waitIdle(ctx context.Context, r *run, targets []target) error {
	waiter, err := tracker.NewIdleWaiter(u.waiterConfig(""))
	if err != nil {
		return err
	}
	serials := serialsOf(targets)
	res, err := waiter.Wait(ctx, serials)
	r.report.Steps = append(r.report.Steps, StepReport{Action: waiter.Action(), Result: res})
	return err
}

func (u *Upgrader) attach(ctx context.Context, r *run, targets []target) error {
	snap, err := u.details.Refresh(ctx)
	if err != nil {
		return err
	}
	groups := lo.GroupBy(targets, func(t target) string { return t.Policy })
	names := lo.Keys(groups)
	sort.Strings(names)
	step := StepReport{Action: ActionAttach}
	defer func() { r.report.Steps = append(r.report.Steps, step) }()
	for _, name := range names {
		group := groups[name]
		serials := serialsOf(group)
		todo, err := tracker.Prune(snap, serials, tracker.PolicyIs(name))
		if err != nil {
			return err
		}
		skipped := lo.Without(serials, todo...)
		step.Skipped = append(step.Skipped, skipped...)
		u.recordAll(ctx, r, ActionAttach, pick(group, skipped), OutcomeSkipped, "policy already attached", 0)
		if len(todo) == 0 {
			continue
		}
		start := u.opts.Now()
		action := policy.NewPolicyAction(u.sender, u.details, u.catalog)
		action.Action = policy.ActionAttach
		action.PolicyName = name
		action.Serials = todo
		if _, err := action.Commit(ctx); err != nil {
			u.recordAll(ctx, r, ActionAttach, pick(group, todo), string(tracker.StateFailed), err.Error(), u.opts.Now().Sub(start))
			return err
		}
		step.Submitted = append(step.Submitted, todo...)
		u.recordAll(ctx, r, ActionAttach, pick(group, todo), string(tracker.StateSucceeded), "policy "+name+" attached", u.opts.Now().Sub(start))
		r.logger.Info().Str("policy", name).Strs("serials", todo).Msg("policy attached")
	}
	return nil
}

// step prunes satisfied switches, submits the rest and waits for key on them.
// submit returns the targets actually sent to the controller.
func (u *Upgrader) step(ctx context.Context, r *run, key issu.ActionKey, targets []target,
	satisfied tracker.Predicate, submit func(context.Context, []target) ([]target, error)) error {
	if len(targets) == 0 {
		return nil
	}
	action := string(key)
	step := StepReport{Action: action}
	defer func() { r.report.Steps = append(r.report.Steps, step) }()

	snap, err := u.details.Refresh(ctx)
	if err != nil {
		return err
	}
	serials := serialsOf(targets)
	todo, err := tracker.Prune(snap, serials, satisfied)
	if err != nil {
		return err
	}
	step.Skipped = lo.Without(serials, todo...)
	u.recordAll(ctx, r, action, pick(targets, step.Skipped), OutcomeSkipped, "already "+action, 0)
	if len(todo) == 0 {
		r.logger.Info().Str("action", action).Msg("nothing to do, every switch already satisfied")
		return nil
	}

	start := u.opts.Now()
	sent, err := submit(ctx, pick(targets, todo))
	if err != nil {
		u.recordAll(ctx, r, action, pick(targets, todo), string(tracker.StateFailed), err.Error(), u.opts.Now().Sub(start))
		return err
	}
	step.Submitted = serialsOf(sent)
	if len(sent) == 0 {
		return nil
	}

	waiter, err := tracker.NewActionWaiter(u.waiterConfig(action, key))
	if err != nil {
		return err
	}
	res, waitErr := waiter.Wait(ctx, step.Submitted)
	step.Result = res
	u.recordResult(ctx, r, action, sent, res, waitErr, u.opts.Now().Sub(start))
	return waitErr
}

func (u *Upgrader) submitStage(ctx context.Context, targets []target) ([]target, error) {
	if _, err := u.images.Stage(ctx, serialsOf(targets)); err != nil {
		return nil, err
	}
	return targets, nil
}

func (u *Upgrader) submitValidate(ctx context.Context, targets []target) ([]target, error) {
	groups := lo.GroupBy(targets, func(t target) bool { return t.NonDisruptive() })
	for _, nonDisruptive := range []bool{false, true} {
		group := groups[nonDisruptive]
		if len(group) == 0 {
			continue
		}
		if _, err := u.images.Validate(ctx, serialsOf(group), nonDisruptive); err != nil {
			return nil, err
		}
	}
	return targets, nil
}

func (u *Upgrader) submitUpgrade(ctx context.Context, targets []target) ([]target, error) {
	sent := make([]bool, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.opts.Concurrency)
	for i, t := range targets {
		i, t := i, t
		groupGoSafe(g, "upgrade "+t.serial, func() error {
			ok, err := u.upgradeOne(gctx, t)
			sent[i] = ok
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return lo.Filter(targets, func(_ target, i int) bool { return sent[i] }), nil
}

// upgradeOne checks install options and submits the upgrade. EPLD is dropped
// when every module is already at the target version; a switch left with
// nothing to do is not submitted.
func (u *Upgrader) upgradeOne(ctx context.Context, t target) (bool, error) {
	opts := t.Options
	installOpts, err := u.images.InstallOptions(ctx, image.InstallOptionsRequest{
		Serial:         t.serial,
		Policy:         t.Policy,
		Issu:           opts.Nxos,
		Epld:           opts.Epld,
		PackageInstall: opts.PackageInstall,
	})
	if err != nil {
		return false, err
	}
	logger := log.With().Str("serial", t.serial).Str("ip_address", t.IPAddress).Str("policy", t.Policy).Logger()
	if opts.Epld && !installOpts.NeedsEpldUpgrade() {
		logger.Info().Msg("epld modules already at target version, skipping epld upgrade")
		opts.Epld = false
		opts.EpldGolden = false
	}
	if err := opts.Validate(); err != nil {
		logger.Info().Err(err).Msg("nothing left to upgrade")
		return false, nil
	}
	if _, err := u.images.Upgrade(ctx, t.serial, t.Policy, opts); err != nil {
		return false, err
	}
	return true, nil
}

func (u *Upgrader) recordResult(ctx context.Context, r *run, action string, targets []target,
	res *tracker.Result, waitErr error, elapsed time.Duration) {
	done := lo.Associate(res.Done, func(id string) (string, bool) { return id, true })
	failed := lo.Associate(res.Failed, func(id string) (string, bool) { return id, true })
	detail := ""
	if waitErr != nil {
		detail = waitErr.Error()
	}
	for _, t := range targets {
		switch {
		case done[t.serial]:
			u.recordOne(ctx, r, action, t, string(tracker.StateSucceeded), "", elapsed)
		case failed[t.serial]:
			u.recordOne(ctx, r, action, t, string(tracker.StateFailed), detail, elapsed)
		case res.State == tracker.StateTimedOut:
			u.recordOne(ctx, r, action, t, string(tracker.StateTimedOut), detail, elapsed)
		default:
			u.recordOne(ctx, r, action, t, OutcomeAborted, detail, elapsed)
		}
	}
}

func (u *Upgrader) recordAll(ctx context.Context, r *run, action string, targets []target, state, detail string, elapsed time.Duration) {
	for _, t := range targets {
		u.recordOne(ctx, r, action, t, state, detail, elapsed)
	}
}

func (u *Upgrader) recordOne(ctx context.Context, r *run, action string, t target, state, detail string, elapsed time.Duration) {
	err := u.opts.Recorder.Record(ctx, recorder.Outcome{
		RunID:     r.id,
		Action:    action,
		Serial:    t.serial,
		IPAddress: t.IPAddress,
		Name:      t.name,
		Policy:    t.Policy,
		State:     state,
		Detail:    detail,
		Elapsed:   elapsed,
		At:        u.opts.Now(),
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("serial", t.serial).Str("action", action).Msg("record outcome failed")
	}
}

func serialsOf(targets []target) []string {
	return lo.Map(targets, func(t target, _ int) string { return t.serial })
}

// pick returns the targets whose serial is in serials, keeping targets' order.
func pick(targets []target, serials []string) []target {
	want := lo.Associate(serials, func(s string) (string, bool) { return s, true })
	return lo.Filter(targets, func(t target, _ int) bool { return want[t.serial] })
}
