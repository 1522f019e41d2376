// Package composer builds and submits the msig transactions the agent owns:
// cancels of stale mirrors, and the nested approve-inside-propose pair.
//
// Proposing runs in three phases:
// - A: draft the approve action unsigned and unbroadcast
// - B: decode the draft and re-encode its action data through the payload schema
// - C: submit propose with the normalized draft embedded as trx
//
// Any failing phase aborts the composition before later phases run.
package composer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/kickctl/internal/ledger"
	"github.com/danmuck/kickctl/internal/observability"
	eos "github.com/eoscanada/eos-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrInvalidConfig = errors.New("composer: invalid config")

// Config fixes who signs what.
type Config struct {
	// Tracker is the registry account that raised the target proposals.
	Tracker string
	// Approver authorizes the nested approve and is the level it approves
	// with. It is the monitored account at its active permission, whatever
	// permission the requested authorities were read from.
	Approver ledger.Authority
	// Reconciler authorizes propose and cancel.
	Reconciler ledger.Authority
	// BlocksBehind is used as given; 0 references the head block.
	BlocksBehind  uint32
	ExpireSeconds uint32
}

// Composer submits msig transactions through a SubmitPort.
type Composer struct {
	port   ledger.SubmitPort
	cfg    Config
	logger zerolog.Logger
}

func New(port ledger.SubmitPort, cfg Config) (*Composer, error) {
	if port == nil {
		return nil, fmt.Errorf("%w: missing submit port", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Tracker) == "" {
		return nil, fmt.Errorf("%w: missing tracker account", ErrInvalidConfig)
	}
	if err := cfg.Approver.Validate(); err != nil {
		return nil, fmt.Errorf("%w: approver %v", ErrInvalidConfig, err)
	}
	if err := cfg.Reconciler.Validate(); err != nil {
		return nil, fmt.Errorf("%w: reconciler %v", ErrInvalidConfig, err)
	}
	if cfg.ExpireSeconds == 0 {
		cfg.ExpireSeconds = ledger.DefaultExpireSeconds
	}
	return &Composer{
		port:   port,
		cfg:    cfg,
		logger: log.With().Str("component", "composer").Logger(),
	}, nil
}

func (c *Composer) submitOptions() ledger.SubmitOptions {
	return c.window(ledger.DefaultSubmitOptions())
}

func (c *Composer) window(opts ledger.SubmitOptions) ledger.SubmitOptions {
	opts.BlocksBehind = c.cfg.BlocksBehind
	opts.ExpireSeconds = c.cfg.ExpireSeconds
	return opts
}

// ComposeCancel cancels one of the reconciler's own proposals.
func (c *Composer) ComposeCancel(ctx context.Context, proposalName string) (ledger.SubmitResult, error) {
	if err := ledger.CheckName(proposalName); err != nil {
		return ledger.SubmitResult{}, fmt.Errorf("%w: cancel: %v", ledger.ErrMalformedPayload, err)
	}
	reconciler := eos.AN(c.cfg.Reconciler.Account)
	action := ledger.Action{
		Account:       ledger.MsigContract,
		Name:          ledger.ActionCancel,
		Authorization: []ledger.Authority{c.cfg.Reconciler},
		Data: ledger.CancelPayload{
			Proposer:     reconciler,
			ProposalName: eos.Name(proposalName),
			Canceler:     reconciler,
		},
	}
	res, err := c.port.Submit(ctx, []ledger.Action{action}, c.submitOptions())
	observability.RecordSubmission(ledger.ActionCancel, err)
	if err != nil {
		return ledger.SubmitResult{}, fmt.Errorf("composer: cancel %s: %w", proposalName, err)
	}
	c.logger.Info().Str("proposal", proposalName).Str("tx", res.TransactionID).Msg("cancel submitted")
	return res, nil
}

// ComposePropose mirrors target as a proposal of the reconciler whose trx
// approves target on behalf of the approver. requested must not
// be empty.
func (c *Composer) ComposePropose(ctx context.Context, target ledger.ProposalRecord, requested []ledger.Authority) (ledger.SubmitResult, error) {
	if len(requested) == 0 {
		return ledger.SubmitResult{}, ledger.ErrConfigurationIncomplete
	}
	if err := ledger.CheckName(target.ProposalName); err != nil {
		return ledger.SubmitResult{}, fmt.Errorf("%w: propose: %v", ledger.ErrMalformedPayload, err)
	}

	draft, err := c.Draft(ctx, target)
	if err != nil {
		return ledger.SubmitResult{}, err
	}
	nested, approve, err := Normalize(draft.SerializedTransaction)
	if err != nil {
		return ledger.SubmitResult{}, fmt.Errorf("composer: normalize %s: %w", target.ProposalName, err)
	}
	if want := c.approvePayload(target); approve != want {
		return ledger.SubmitResult{}, fmt.Errorf("%w: draft approves %s/%s, want %s/%s",
			ledger.ErrMalformedPayload, approve.Proposer, approve.ProposalName, want.Proposer, want.ProposalName)
	}

	action := ledger.Action{
		Account:       ledger.MsigContract,
		Name:          ledger.ActionPropose,
		Authorization: []ledger.Authority{c.cfg.Reconciler},
		Data: ledger.ProposePayload{
			Proposer:     eos.AN(c.cfg.Reconciler.Account),
			ProposalName: eos.Name(target.ProposalName),
			Requested:    ledger.Levels(requested),
			Trx:          nested,
		},
	}
	res, err := c.port.Submit(ctx, []ledger.Action{action}, c.submitOptions())
	observability.RecordSubmission(ledger.ActionPropose, err)
	if err != nil {
		return ledger.SubmitResult{}, fmt.Errorf("composer: propose %s: %w", target.ProposalName, err)
	}
	c.logger.Info().
		Str("proposal", target.ProposalName).
		Int("requested", len(requested)).
		Str("tx", res.TransactionID).
		Msg("propose submitted")
	return res, nil
}

// Draft is phase A: the unsigned approve transaction for target.
func (c *Composer) Draft(ctx context.Context, target ledger.ProposalRecord) (ledger.SubmitResult, error) {
	action := ledger.Action{
		Account:       ledger.MsigContract,
		Name:          ledger.ActionApprove,
		Authorization: []ledger.Authority{c.cfg.Approver},
		Data:          c.approvePayload(target),
	}
	res, err := c.port.Submit(ctx, []ledger.Action{action}, c.window(ledger.DraftSubmitOptions()))
	if err != nil {
		return ledger.SubmitResult{}, fmt.Errorf("composer: draft approve %s: %w", target.ProposalName, err)
	}
	return res, nil
}

func (c *Composer) approvePayload(target ledger.ProposalRecord) ledger.ApprovePayload {
	proposer := strings.TrimSpace(target.Proposer)
	if proposer == "" {
		proposer = c.cfg.Tracker
	}
	return ledger.ApprovePayload{
		Proposer:     eos.AN(proposer),
		ProposalName: eos.Name(target.ProposalName),
		Level:        c.cfg.Approver.Level(),
	}
}

// Normalize is phase B. It decodes a serialized draft, re-encodes the
// approve data through ApprovePayload, and requires the result to reproduce
// the draft byte for byte. The returned transaction carries only the
// canonical binary action data.
func Normalize(serialized []byte) (*eos.Transaction, ledger.ApprovePayload, error) {
	var approve ledger.ApprovePayload
	if len(serialized) == 0 {
		return nil, approve, fmt.Errorf("%w: empty draft", ledger.ErrMalformedPayload)
	}
	var tx eos.Transaction
	if err := eos.UnmarshalBinary(serialized, &tx); err != nil {
		return nil, approve, fmt.Errorf("%w: decode draft: %v", ledger.ErrMalformedPayload, err)
	}
	if len(tx.Actions) != 1 || tx.Actions[0] == nil {
		return nil, approve, fmt.Errorf("%w: draft has %d actions, want 1", ledger.ErrMalformedPayload, len(tx.Actions))
	}
	act := tx.Actions[0]
	if string(act.Account) != ledger.MsigContract || string(act.Name) != ledger.ActionApprove {
		return nil, approve, fmt.Errorf("%w: draft action %s::%s", ledger.ErrMalformedPayload, act.Account, act.Name)
	}

	data := []byte(act.ActionData.HexData)
	if len(data) == 0 && act.ActionData.Data != nil {
		raw, err := eos.MarshalBinary(act.ActionData.Data)
		if err != nil {
			return nil, approve, fmt.Errorf("%w: encode draft data: %v", ledger.ErrMalformedPayload, err)
		}
		data = raw
	}
	if err := eos.UnmarshalBinary(data, &approve); err != nil {
		return nil, approve, fmt.Errorf("%w: decode approve: %v", ledger.ErrMalformedPayload, err)
	}
	canonical, err := eos.MarshalBinary(approve)
	if err != nil {
		return nil, approve, fmt.Errorf("%w: encode approve: %v", ledger.ErrMalformedPayload, err)
	}
	if !bytes.Equal(canonical, data) {
		return nil, approve, fmt.Errorf("%w: approve data does not round-trip", ledger.ErrMalformedPayload)
	}
	act.ActionData = eos.ActionData{HexData: eos.HexBytes(canonical)}

	again, err := eos.MarshalBinary(&tx)
	if err != nil {
		return nil, approve, fmt.Errorf("%w: re-encode draft: %v", ledger.ErrMalformedPayload, err)
	}
	if !bytes.Equal(again, serialized) {
		return nil, approve, fmt.Errorf("%w: draft does not round-trip", ledger.ErrMalformedPayload)
	}
	return &tx, approve, nil
}
