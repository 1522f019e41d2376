package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/kickctl/internal/catalog"
	"github.com/danmuck/kickctl/internal/ledger"
	"github.com/danmuck/kickctl/internal/notify"
	"github.com/danmuck/kickctl/internal/observability"
	"github.com/danmuck/kickctl/internal/throttle"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrInvalidEngine = errors.New("reconcile: invalid engine dependencies")

// Catalog is the read side a tick needs.
type Catalog interface {
	Snapshot(ctx context.Context) (catalog.Snapshot, error)
	AuthorizedPermissions(ctx context.Context, account, permission string) ([]ledger.Authority, error)
}

// Composer is the write side a tick needs.
type Composer interface {
	ComposeCancel(ctx context.Context, proposalName string) (ledger.SubmitResult, error)
	ComposePropose(ctx context.Context, target ledger.ProposalRecord, requested []ledger.Authority) (ledger.SubmitResult, error)
}

// Deps wires an Engine.
type Deps struct {
	Catalog  Catalog
	Composer Composer
	Notifier notify.Notifier
	Throttle throttle.Throttle
	Clock    clock.Clock
}

// CancelResult is the outcome of one stale-proposal cancel.
type CancelResult struct {
	ProposalName  string
	TransactionID string
	Err           error
}

// Report describes one settled tick.
type Report struct {
	TickID        string
	StartedAt     time.Time
	Duration      time.Duration
	Plan          Plan
	TransactionID string
	Cancels       []CancelResult
	Notified      int
	NotifyErrors  int
	Err           error
}

// Outcome is the metric/status label of the report.
func (r Report) Outcome() string {
	if r.Err != nil {
		return "failed"
	}
	if r.Plan.Kind == "" {
		return "unknown"
	}
	return string(r.Plan.Kind)
}

// Engine runs reconciliation ticks.
type Engine struct {
	catalog  Catalog
	composer Composer
	notifier notify.Notifier
	throttle throttle.Throttle
	clock    clock.Clock
	tracer   trace.Tracer
	logger   zerolog.Logger

	mu   sync.RWMutex
	rc   Context
	last Report
}

func NewEngine(deps Deps, rc Context) (*Engine, error) {
	if deps.Catalog == nil {
		return nil, fmt.Errorf("%w: missing catalog", ErrInvalidEngine)
	}
	if deps.Composer == nil {
		return nil, fmt.Errorf("%w: missing composer", ErrInvalidEngine)
	}
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLog()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Throttle.PeriodMinutes == 0 {
		deps.Throttle = throttle.New()
	}
	return &Engine{
		catalog:  deps.Catalog,
		composer: deps.Composer,
		notifier: deps.Notifier,
		throttle: deps.Throttle,
		clock:    deps.Clock,
		tracer:   otel.Tracer("kickctl/reconcile"),
		logger:   log.With().Str("component", "reconcile").Logger(),
		rc:       rc.WithRequested(rc.Requested),
	}, nil
}

// Context returns the current run context.
func (e *Engine) Context() Context {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rc
}

// LastReport returns the most recent settled tick.
func (e *Engine) LastReport() (Report, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last, e.last.TickID != ""
}

// Tick runs one reconciliation pass to completion. ErrConfigurationIncomplete
// is not returned: an unconfigured tick is reported as PlanUnconfigured.
func (e *Engine) Tick(ctx context.Context) (Report, error) {
	now := e.clock.Now()
	report := Report{TickID: uuid.NewString(), StartedAt: now}
	logger := e.logger.With().Str("tick_id", report.TickID).Logger()
	ctx, span := e.tracer.Start(ctx, "reconcile.tick", trace.WithAttributes(attribute.String("tick.id", report.TickID)))
	defer span.End()

	defer func() {
		report.Duration = e.clock.Since(now)
		observability.RecordTick(report.Outcome(), report.Duration)
		span.SetAttributes(attribute.String("tick.outcome", report.Outcome()))
		if report.Err != nil {
			span.RecordError(report.Err)
			span.SetStatus(codes.Error, "tick failed")
		}
		e.mu.Lock()
		e.last = report
		e.mu.Unlock()
	}()

	rc, err := e.resolve(ctx)
	if err != nil {
		report.Err = err
		logger.Error().Err(err).Msg("permission resolution failed")
		return report, err
	}
	if !rc.Configured() {
		report.Plan = Plan{Kind: PlanUnconfigured}
		logger.Warn().
			Str("monitored", rc.Monitored.String()).
			Msg("monitored permission has no delegated authorities; tick skipped")
		return report, nil
	}

	snap, err := e.catalog.Snapshot(ctx)
	if err != nil {
		report.Err = err
		logger.Error().Err(err).Msg("snapshot failed")
		return report, err
	}

	report.Plan = Decide(snap, rc, now, e.throttle)
	logger.Debug().
		Str("plan", string(report.Plan.Kind)).
		Str("target", report.Plan.Target.ProposalName).
		Int("cancels", len(report.Plan.Cancels)).
		Msg("plan decided")

	e.execute(ctx, logger, rc, now, &report)
	return report, report.Err
}

// Plan takes a snapshot and decides without executing anything.
func (e *Engine) Plan(ctx context.Context) (Plan, error) {
	rc, err := e.resolve(ctx)
	if err != nil {
		return Plan{}, err
	}
	if !rc.Configured() {
		return Plan{Kind: PlanUnconfigured}, nil
	}
	snap, err := e.catalog.Snapshot(ctx)
	if err != nil {
		return Plan{}, err
	}
	return Decide(snap, rc, e.clock.Now(), e.throttle), nil
}

// resolve returns the run context, re-reading the monitored permission while
// no authorities are known. Once non-empty the result is kept.
func (e *Engine) resolve(ctx context.Context) (Context, error) {
	rc := e.Context()
	if rc.Configured() {
		return rc, nil
	}
	auths, err := e.catalog.AuthorizedPermissions(ctx, rc.Monitored.Account, rc.Monitored.Permission)
	if err != nil {
		return rc, err
	}
	if len(auths) == 0 {
		return rc, nil
	}
	next := rc.WithRequested(auths)
	e.mu.Lock()
	e.rc = next
	e.mu.Unlock()
	e.logger.Info().
		Str("monitored", rc.Monitored.String()).
		Int("requested", len(auths)).
		Msg("requested authorities resolved")
	return next, nil
}

func (e *Engine) execute(ctx context.Context, logger zerolog.Logger, rc Context, now time.Time, report *Report) {
	plan := report.Plan
	switch plan.Kind {
	case PlanUnconfigured:
		logger.Warn().Msg("tick skipped: requested authorities unresolved")
	case PlanIdle:
		logger.Info().Msg("no kicking proposal found")
	case PlanCancel:
		report.Cancels = e.cancelAll(ctx, logger, plan.Cancels)
		var errs []error
		for _, c := range report.Cancels {
			if c.Err != nil {
				errs = append(errs, c.Err)
				continue
			}
			e.send(ctx, logger, report, "canceled", canceledMessage(rc, c.ProposalName, c.TransactionID, now))
		}
		report.Err = errors.Join(errs...)
	case PlanHandled:
		logger.Info().
			Str("target", plan.Target.ProposalName).
			Str("reason", string(plan.Reason)).
			Bool("remind", plan.Remind).
			Msg("kicking proposal already handled")
		if !plan.Remind {
			return
		}
		e.send(ctx, logger, report, "reminder", foundMessage(plan.Target.ProposalName, now))
		switch plan.Reason {
		case ReasonAlreadyProposed:
			e.send(ctx, logger, report, "reminder", alreadyProposedMessage(rc, plan.Target.ProposalName, now))
		case ReasonAlreadyApproved:
			e.send(ctx, logger, report, "reminder", alreadyApprovedMessage())
		}
	case PlanPropose:
		logger.Info().Str("target", plan.Target.ProposalName).Msg("preparing to approve kicking proposal")
		res, err := e.composer.ComposePropose(ctx, plan.Target, rc.Requested)
		if err != nil {
			report.Err = err
			logger.Error().Err(err).Str("target", plan.Target.ProposalName).Msg("propose failed")
			return
		}
		report.TransactionID = res.TransactionID
		e.send(ctx, logger, report, "proposed", proposedMessage(rc, res.TransactionID, now))
	default:
		report.Err = fmt.Errorf("reconcile: unknown plan kind %q", plan.Kind)
	}
}

// cancelAll issues every cancel concurrently and reports each one, in input
// order. One failure does not stop the others.
func (e *Engine) cancelAll(ctx context.Context, logger zerolog.Logger, names []string) []CancelResult {
	results := make([]CancelResult, len(names))
	var wg sync.WaitGroup
	for idx, name := range names {
		wg.Add(1)
		go func(idx int, name string) {
			defer wg.Done()
			res, err := e.composer.ComposeCancel(ctx, name)
			results[idx] = CancelResult{ProposalName: name, TransactionID: res.TransactionID, Err: err}
		}(idx, name)
	}
	wg.Wait()
	for _, r := range results {
		if r.Err != nil {
			logger.Error().Err(r.Err).Str("proposal", r.ProposalName).Msg("cancel failed")
		}
	}
	return results
}

// send delivers one message. Failures are counted, never returned.
func (e *Engine) send(ctx context.Context, logger zerolog.Logger, report *Report, kind, text string) {
	err := e.notifier.Send(ctx, text)
	observability.RecordNotification(kind, err == nil)
	if err != nil {
		report.NotifyErrors++
		logger.Warn().Err(err).Str("kind", kind).Msg("notification failed")
		return
	}
	report.Notified++
}
