package composer

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/danmuck/kickctl/internal/ledger"
	"github.com/danmuck/kickctl/internal/ledger/ledgertest"
	"github.com/danmuck/kickctl/internal/testutil/testlog"
	eos "github.com/eoscanada/eos-go"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

var (
	approver   = ledger.Authority{Account: "bpacct", Permission: "active"}
	reconciler = ledger.Authority{Account: "proposeracct", Permission: "active"}
	requested  = []ledger.Authority{
		{Account: "guard1", Permission: "active"},
		{Account: "guard2", Permission: "kick"},
	}
	target = ledger.ProposalRecord{ProposalName: "kick3", Proposer: "alohatracker"}
)

func newTestComposer(t *testing.T, port ledger.SubmitPort) *Composer {
	t.Helper()
	c, err := New(port, Config{
		Tracker:       "alohatracker",
		Approver:      approver,
		Reconciler:    reconciler,
		BlocksBehind:  ledger.DefaultBlocksBehind,
		ExpireSeconds: ledger.DefaultExpireSeconds,
	})
	require.NoError(t, err)
	return c
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(nil, Config{Tracker: "alohatracker", Approver: approver, Reconciler: reconciler})
	require.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(ledgertest.NewSubmit(), Config{Approver: approver, Reconciler: reconciler})
	require.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(ledgertest.NewSubmit(), Config{Tracker: "alohatracker", Approver: ledger.Authority{Account: "bpacct"}, Reconciler: reconciler})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestComposeCancel(t *testing.T) {
	testlog.Start(t)
	port := ledgertest.NewSubmit()
	res, err := newTestComposer(t, port).ComposeCancel(context.Background(), "kick3")
	require.NoError(t, err)
	require.Equal(t, "tx0001", res.TransactionID)

	require.Len(t, port.Calls, 1)
	call := port.Calls[0]
	require.Equal(t, ledger.DefaultSubmitOptions(), call.Opts)
	require.Len(t, call.Actions, 1)
	act := call.Actions[0]
	require.Equal(t, ledger.MsigContract, act.Account)
	require.Equal(t, ledger.ActionCancel, act.Name)
	require.Equal(t, []ledger.Authority{reconciler}, act.Authorization)
	require.Equal(t, ledger.CancelPayload{
		Proposer:     eos.AN("proposeracct"),
		ProposalName: eos.Name("kick3"),
		Canceler:     eos.AN("proposeracct"),
	}, act.Data)
}

func TestComposeCancelPropagatesRejection(t *testing.T) {
	port := ledgertest.NewSubmit()
	port.Fail = func([]ledger.Action, ledger.SubmitOptions) error {
		return ledger.ErrSubmissionRejected
	}
	_, err := newTestComposer(t, port).ComposeCancel(context.Background(), "kick3")
	require.ErrorIs(t, err, ledger.ErrSubmissionRejected)
}

func TestComposeCancelRejectsNamesThatDoNotRoundTrip(t *testing.T) {
	port := ledgertest.NewSubmit()
	c := newTestComposer(t, port)
	for _, name := range []string{"", "kick7", "Kick1"} {
		_, err := c.ComposeCancel(context.Background(), name)
		require.ErrorIs(t, err, ledger.ErrMalformedPayload, name)
	}
	_, err := c.ComposePropose(context.Background(), ledger.ProposalRecord{ProposalName: "kick7", Proposer: "alohatracker"}, requested)
	require.ErrorIs(t, err, ledger.ErrMalformedPayload)
	require.Zero(t, port.Count())
}

func TestComposeProposeBuildsNestedApprove(t *testing.T) {
	testlog.Start(t)
	port := ledgertest.NewSubmit()
	res, err := newTestComposer(t, port).ComposePropose(context.Background(), target, requested)
	require.NoError(t, err)
	require.Equal(t, "tx0001", res.TransactionID)

	require.Len(t, port.Calls, 2)

	draft := port.Calls[0]
	require.False(t, draft.Opts.Sign)
	require.False(t, draft.Opts.Broadcast)
	require.EqualValues(t, ledger.DefaultBlocksBehind, draft.Opts.BlocksBehind)
	require.EqualValues(t, ledger.DefaultExpireSeconds, draft.Opts.ExpireSeconds)
	require.Equal(t, ledger.ActionApprove, draft.Actions[0].Name)
	require.Equal(t, []ledger.Authority{approver}, draft.Actions[0].Authorization)
	approve := ledger.ApprovePayload{
		Proposer:     eos.AN("alohatracker"),
		ProposalName: eos.Name("kick3"),
		Level:        eos.PermissionLevel{Actor: eos.AN("bpacct"), Permission: eos.PN("active")},
	}
	require.Equal(t, approve, draft.Actions[0].Data)

	outer := port.Calls[1]
	require.True(t, outer.Opts.Sign)
	require.True(t, outer.Opts.Broadcast)
	require.Equal(t, ledger.ActionPropose, outer.Actions[0].Name)
	require.Equal(t, []ledger.Authority{reconciler}, outer.Actions[0].Authorization)

	payload, ok := outer.Actions[0].Data.(ledger.ProposePayload)
	require.True(t, ok)
	require.Equal(t, eos.AN("proposeracct"), payload.Proposer)
	require.Equal(t, eos.Name("kick3"), payload.ProposalName)
	require.Equal(t, ledger.Levels(requested), payload.Requested)
	require.NotNil(t, payload.Trx)
	require.Len(t, payload.Trx.Actions, 1)

	wantData, err := eos.MarshalBinary(approve)
	require.NoError(t, err)
	require.Equal(t, wantData, []byte(payload.Trx.Actions[0].ActionData.HexData))
	require.Nil(t, payload.Trx.Actions[0].ActionData.Data)
}

func TestComposeProposeApprovesAtActiveForDelegatedPermission(t *testing.T) {
	testlog.Start(t)
	port := ledgertest.NewSubmit()
	// requested comes from bpacct@kick; the approve still names bpacct@active.
	c, err := New(port, Config{
		Tracker:    "alohatracker",
		Approver:   ledger.Authority{Account: "bpacct", Permission: "active"},
		Reconciler: reconciler,
	})
	require.NoError(t, err)
	_, err = c.ComposePropose(context.Background(), target, requested)
	require.NoError(t, err)

	draft := port.Calls[0]
	data := draft.Actions[0].Data.(ledger.ApprovePayload)
	require.Equal(t, eos.PermissionLevel{Actor: eos.AN("bpacct"), Permission: eos.PN("active")}, data.Level)
	require.Equal(t, []ledger.Authority{{Account: "bpacct", Permission: "active"}}, draft.Actions[0].Authorization)
}

func TestComposeHonorsZeroBlocksBehind(t *testing.T) {
	testlog.Start(t)
	port := ledgertest.NewSubmit()
	c, err := New(port, Config{
		Tracker:       "alohatracker",
		Approver:      approver,
		Reconciler:    reconciler,
		BlocksBehind:  0,
		ExpireSeconds: 60,
	})
	require.NoError(t, err)
	_, err = c.ComposePropose(context.Background(), target, requested)
	require.NoError(t, err)
	require.Len(t, port.Calls, 2)
	for _, call := range port.Calls {
		require.Zero(t, call.Opts.BlocksBehind)
		require.EqualValues(t, 60, call.Opts.ExpireSeconds)
	}
	require.False(t, port.Calls[0].Opts.Sign)
}

func TestComposeProposeWithoutRequestedSubmitsNothing(t *testing.T) {
	port := ledgertest.NewSubmit()
	_, err := newTestComposer(t, port).ComposePropose(context.Background(), target, nil)
	require.ErrorIs(t, err, ledger.ErrConfigurationIncomplete)
	require.Zero(t, port.Count())
}

func TestComposeProposeDraftFailureAborts(t *testing.T) {
	port := ledgertest.NewSubmit()
	port.Fail = func(_ []ledger.Action, opts ledger.SubmitOptions) error {
		if !opts.Sign {
			return ledger.ErrLedgerUnavailable
		}
		return nil
	}
	_, err := newTestComposer(t, port).ComposePropose(context.Background(), target, requested)
	require.ErrorIs(t, err, ledger.ErrLedgerUnavailable)
	require.Equal(t, 1, port.Count())
}

func TestComposeProposeMalformedDraftAbortsBeforeOuterSubmit(t *testing.T) {
	testlog.Start(t)
	port := ledgertest.NewSubmit()
	port.Draft = func(raw []byte) []byte {
		return append(append([]byte{}, raw...), 0xff)
	}
	_, err := newTestComposer(t, port).ComposePropose(context.Background(), target, requested)
	require.ErrorIs(t, err, ledger.ErrMalformedPayload)
	require.Equal(t, 1, port.Count())
	require.Empty(t, port.Broadcasts(ledger.ActionPropose))
}

func TestNormalizeRejectsForeignActions(t *testing.T) {
	tx := ledgertest.DraftTransaction([]ledger.Action{{
		Account:       ledger.MsigContract,
		Name:          ledger.ActionCancel,
		Authorization: []ledger.Authority{reconciler},
		Data: ledger.CancelPayload{
			Proposer:     eos.AN("proposeracct"),
			ProposalName: eos.Name("kick3"),
			Canceler:     eos.AN("proposeracct"),
		},
	}})
	raw, err := eos.MarshalBinary(tx)
	require.NoError(t, err)

	_, _, err = Normalize(raw)
	require.ErrorIs(t, err, ledger.ErrMalformedPayload)

	_, _, err = Normalize(nil)
	require.ErrorIs(t, err, ledger.ErrMalformedPayload)
}

func TestNormalizeRejectsTrailingActionData(t *testing.T) {
	approve, err := eos.MarshalBinary(ledger.ApprovePayload{
		Proposer:     eos.AN("alohatracker"),
		ProposalName: eos.Name("kick3"),
		Level:        approver.Level(),
	})
	require.NoError(t, err)
	tx := ledgertest.DraftTransaction([]ledger.Action{{
		Account:       ledger.MsigContract,
		Name:          ledger.ActionApprove,
		Authorization: []ledger.Authority{approver},
		Data:          append(approve, 0x00),
	}})
	raw, err := eos.MarshalBinary(tx)
	require.NoError(t, err)

	_, _, err = Normalize(raw)
	require.ErrorIs(t, err, ledger.ErrMalformedPayload)
}

func TestComposeProposeIsDeterministic(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	properties := gopter.NewProperties(params)

	properties.Property("identical input yields byte-identical embedded trx", prop.ForAll(
		func(name string) bool {
			rec := ledger.ProposalRecord{ProposalName: name, Proposer: "alohatracker"}
			first, err := embeddedTrx(t, rec)
			if err != nil {
				return false
			}
			second, err := embeddedTrx(t, rec)
			if err != nil {
				return false
			}
			return bytes.Equal(first, second)
		},
		gen.RegexMatch(`^[a-z1-5]{1,12}$`),
	))

	properties.TestingRun(t)
}

func embeddedTrx(t *testing.T, rec ledger.ProposalRecord) ([]byte, error) {
	port := ledgertest.NewSubmit()
	if _, err := newTestComposer(t, port).ComposePropose(context.Background(), rec, requested); err != nil {
		return nil, err
	}
	calls := port.Broadcasts(ledger.ActionPropose)
	if len(calls) != 1 {
		return nil, errors.New("expected one propose")
	}
	payload := calls[0].Actions[0].Data.(ledger.ProposePayload)
	return eos.MarshalBinary(payload.Trx)
}
