package reconcile

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/kickctl/internal/catalog"
	"github.com/danmuck/kickctl/internal/composer"
	"github.com/danmuck/kickctl/internal/ledger"
	"github.com/danmuck/kickctl/internal/ledger/ledgertest"
	"github.com/danmuck/kickctl/internal/notify"
	"github.com/danmuck/kickctl/internal/testutil/testlog"
	"github.com/danmuck/kickctl/internal/throttle"
	"github.com/stretchr/testify/require"
)

type harness struct {
	query    *ledgertest.Query
	submit   *ledgertest.Submit
	notifier *notify.Recorder
	clock    *clock.Mock
	engine   *Engine
}

func newHarness(t *testing.T, minute int) *harness {
	t.Helper()
	testlog.Start(t)
	h := &harness{
		query:    ledgertest.NewQuery(),
		submit:   ledgertest.NewSubmit(),
		notifier: &notify.Recorder{},
		clock:    clock.NewMock(),
	}
	h.clock.Set(atMinute(minute))
	h.query.Accounts["bpacct"] = ledger.AccountInfo{
		Name: "bpacct",
		Permissions: []ledger.PermissionInfo{
			{Name: "owner"},
			{Name: "active", Parent: "owner", Accounts: []ledger.Authority{
				{Account: "guard1", Permission: "active"},
				{Account: "guard2", Permission: "kick"},
			}},
		},
	}

	rc := testContext()
	rc.Requested = nil
	cat, err := catalog.New(h.query, catalog.Config{
		TrackerAccount:  rc.Tracker,
		ProposerAccount: rc.Reconciler.Account,
	})
	require.NoError(t, err)
	comp, err := composer.New(h.submit, composer.Config{
		Tracker:    rc.Tracker,
		Approver:   rc.Monitored,
		Reconciler: rc.Reconciler,
	})
	require.NoError(t, err)
	h.engine, err = NewEngine(Deps{
		Catalog:  cat,
		Composer: comp,
		Notifier: h.notifier,
		Throttle: throttle.New(),
		Clock:    h.clock,
	}, rc)
	require.NoError(t, err)
	return h
}

func (h *harness) targets(names ...string) {
	h.query.SetRows("alohatracker", ledger.TableProposal, proposalRows(names)...)
}

func (h *harness) own(names ...string) {
	h.query.SetRows("proposeracct", ledger.TableProposal, proposalRows(names)...)
}

func proposalRows(names []string) []string {
	rows := make([]string, 0, len(names))
	for _, n := range names {
		rows = append(rows, `{"proposal_name":"`+n+`"}`)
	}
	return rows
}

func TestNewEngineValidatesDeps(t *testing.T) {
	_, err := NewEngine(Deps{}, testContext())
	require.ErrorIs(t, err, ErrInvalidEngine)

	rc := testContext()
	rc.Tracker = ""
	_, err = NewEngine(Deps{Catalog: &catalog.Catalog{}, Composer: &composer.Composer{}}, rc)
	require.ErrorIs(t, err, ErrInvalidContext)
}

func TestTickProposesMirrorForFreshTarget(t *testing.T) {
	h := newHarness(t, 3)
	h.targets("kick3")

	report, err := h.engine.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, PlanPropose, report.Plan.Kind)
	require.Equal(t, "tx0001", report.TransactionID)

	proposes := h.submit.Broadcasts(ledger.ActionPropose)
	require.Len(t, proposes, 1)
	payload, ok := proposes[0].Actions[0].Data.(ledger.ProposePayload)
	require.True(t, ok)
	require.Equal(t, "kick3", string(payload.ProposalName))
	require.Len(t, payload.Requested, 2)

	msgs := h.notifier.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t,
		"Proposed a proposal to remove block producer, please review: https://bloks.io/transaction/tx0001 Time: 2020-04-14T12:03:00Z",
		msgs[0])
	require.Equal(t, "propose", report.Outcome())
}

func TestTickCancelsEveryStaleMirror(t *testing.T) {
	h := newHarness(t, 3)
	h.own("kick1", "kick2")

	report, err := h.engine.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, PlanCancel, report.Plan.Kind)
	require.Len(t, report.Cancels, 2)

	cancels := h.submit.Broadcasts(ledger.ActionCancel)
	require.Len(t, cancels, 2)
	seen := map[string]bool{}
	for _, c := range cancels {
		seen[string(c.Actions[0].Data.(ledger.CancelPayload).ProposalName)] = true
	}
	require.Equal(t, map[string]bool{"kick1": true, "kick2": true}, seen)
	require.Empty(t, h.submit.Broadcasts(ledger.ActionPropose))

	msgs := h.notifier.Messages()
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		require.True(t, strings.HasPrefix(m, "Canceled outdated proposal kick"), m)
	}
}

func TestTickRemindsOnThrottleMinute(t *testing.T) {
	h := newHarness(t, 10)
	h.targets("kick3")
	h.own("kick3")

	report, err := h.engine.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, PlanHandled, report.Plan.Kind)
	require.Equal(t, ReasonAlreadyProposed, report.Plan.Reason)
	require.Zero(t, h.submit.Count())
	require.Equal(t, []string{
		"Found kicking proposal: kick3. Time: 2020-04-14T12:10:00Z",
		"Kicking proposal already proposed, please review ASAP: https://bloks.io/msig/proposeracct/kick3 Time: 2020-04-14T12:10:00Z",
	}, h.notifier.Messages())
	require.Equal(t, 2, report.Notified)
}

func TestTickStaysQuietOffThrottleMinute(t *testing.T) {
	h := newHarness(t, 11)
	h.targets("kick3")
	h.own("kick3")

	report, err := h.engine.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, PlanHandled, report.Plan.Kind)
	require.Zero(t, h.submit.Count())
	require.Empty(t, h.notifier.Messages())
}

func TestTickAlreadyApprovedReminder(t *testing.T) {
	h := newHarness(t, 15)
	h.targets("kick3")
	h.query.SetRows("alohatracker", ledger.TableApprovals,
		`{"proposal_name":"kick3","provided_approvals":[{"level":{"actor":"bpacct","permission":"active"}}]}`)

	report, err := h.engine.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, ReasonAlreadyApproved, report.Plan.Reason)
	require.Zero(t, h.submit.Count())
	require.Equal(t, []string{
		"Found kicking proposal: kick3. Time: 2020-04-14T12:15:00Z",
		"Kicking proposal already approved, good job!",
	}, h.notifier.Messages())
}

func TestTickIsIdempotentOnceMirrorIsVisible(t *testing.T) {
	h := newHarness(t, 1)
	h.targets("kick3", "kick4")

	_, err := h.engine.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, h.submit.Broadcasts(ledger.ActionPropose), 1)

	h.own("kick3")
	for i := 0; i < 5; i++ {
		h.clock.Add(DefaultInterval)
		report, err := h.engine.Tick(context.Background())
		require.NoError(t, err)
		require.Equal(t, PlanHandled, report.Plan.Kind)
	}
	require.Len(t, h.submit.Broadcasts(ledger.ActionPropose), 1)
	require.Empty(t, h.submit.Broadcasts(ledger.ActionCancel))
}

func TestTickSkipsWhenMonitoredPermissionHasNoDelegates(t *testing.T) {
	h := newHarness(t, 0)
	h.query.Accounts["bpacct"] = ledger.AccountInfo{
		Name:        "bpacct",
		Permissions: []ledger.PermissionInfo{{Name: "active"}},
	}
	h.targets("kick3")

	report, err := h.engine.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, PlanUnconfigured, report.Plan.Kind)
	require.Empty(t, h.query.Calls)
	require.Zero(t, h.submit.Count())
	require.False(t, h.engine.Context().Configured())
}

func TestTickResolvesRequestedOnce(t *testing.T) {
	h := newHarness(t, 2)
	for i := 0; i < 3; i++ {
		_, err := h.engine.Tick(context.Background())
		require.NoError(t, err)
	}
	require.Equal(t, []string{"bpacct"}, h.query.Lookups)
	require.Equal(t, []ledger.Authority{
		{Account: "guard1", Permission: "active"},
		{Account: "guard2", Permission: "kick"},
	}, h.engine.Context().Requested)
}

func TestTickFailsWhenAccountLookupFails(t *testing.T) {
	h := newHarness(t, 0)
	h.query.Errs["account/bpacct"] = errors.New("dial tcp: refused")

	report, err := h.engine.Tick(context.Background())
	require.ErrorIs(t, err, ledger.ErrLedgerUnavailable)
	require.Equal(t, "failed", report.Outcome())
	require.Empty(t, h.query.Calls)
}

func TestTickSnapshotFailureTakesNoAction(t *testing.T) {
	h := newHarness(t, 0)
	h.targets("kick3")
	h.query.FailTable("alohatracker", ledger.TableApprovals, errors.New("timeout"))

	_, err := h.engine.Tick(context.Background())
	require.ErrorIs(t, err, ledger.ErrLedgerUnavailable)
	require.Zero(t, h.submit.Count())
	require.Empty(t, h.notifier.Messages())
}

func TestTickCancelFailureIsIsolated(t *testing.T) {
	h := newHarness(t, 0)
	h.own("kick1", "kick2")
	h.submit.Fail = func(actions []ledger.Action, _ ledger.SubmitOptions) error {
		if p, ok := actions[0].Data.(ledger.CancelPayload); ok && p.ProposalName == "kick1" {
			return ledger.ErrSubmissionRejected
		}
		return nil
	}

	report, err := h.engine.Tick(context.Background())
	require.ErrorIs(t, err, ledger.ErrSubmissionRejected)
	require.Len(t, report.Cancels, 2)
	require.ErrorIs(t, report.Cancels[0].Err, ledger.ErrSubmissionRejected)
	require.NoError(t, report.Cancels[1].Err)
	require.Equal(t, "tx0001", report.Cancels[1].TransactionID)

	msgs := h.notifier.Messages()
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0], "kick2")
}

func TestTickProposeFailureSendsNothing(t *testing.T) {
	h := newHarness(t, 0)
	h.targets("kick3")
	h.submit.Fail = func(_ []ledger.Action, opts ledger.SubmitOptions) error {
		if opts.Broadcast {
			return ledger.ErrSubmissionRejected
		}
		return nil
	}

	report, err := h.engine.Tick(context.Background())
	require.ErrorIs(t, err, ledger.ErrSubmissionRejected)
	require.Empty(t, report.TransactionID)
	require.Empty(t, h.notifier.Messages())
}

func TestTickNotifyFailureDoesNotFailTick(t *testing.T) {
	h := newHarness(t, 0)
	h.targets("kick3")
	h.notifier.Err = errors.New("webhook down")

	report, err := h.engine.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.NotifyErrors)
	require.Zero(t, report.Notified)
	require.Len(t, h.submit.Broadcasts(ledger.ActionPropose), 1)
}

func TestPlanDoesNotExecute(t *testing.T) {
	h := newHarness(t, 0)
	h.targets("kick3")

	plan, err := h.engine.Plan(context.Background())
	require.NoError(t, err)
	require.Equal(t, PlanPropose, plan.Kind)
	require.Equal(t, "kick3", plan.Target.ProposalName)
	require.Zero(t, h.submit.Count())
	require.Empty(t, h.notifier.Messages())
	_, ok := h.engine.LastReport()
	require.False(t, ok)
}

func TestLastReportTracksTicks(t *testing.T) {
	h := newHarness(t, 0)
	_, ok := h.engine.LastReport()
	require.False(t, ok)

	report, err := h.engine.Tick(context.Background())
	require.NoError(t, err)
	last, ok := h.engine.LastReport()
	require.True(t, ok)
	require.Equal(t, report.TickID, last.TickID)
	require.Equal(t, PlanIdle, last.Plan.Kind)
}
