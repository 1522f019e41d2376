// Package catalog snapshots the proposal state one tick decides on.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/kickctl/internal/ledger"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidConfig = errors.New("catalog: invalid config")

// Config names the two registry scopes a snapshot reads.
type Config struct {
	// TrackerAccount owns the externally raised proposals.
	TrackerAccount string
	// ProposerAccount owns the mirrored proposals this agent authors.
	ProposerAccount string
	PageSize        uint32
}

// Snapshot is one immutable view of the registry.
type Snapshot struct {
	TargetProposals []ledger.ProposalRecord
	OwnProposals    []ledger.ProposalRecord
	OwnApprovals    []ledger.ApprovalRecord
}

// Catalog reads snapshots through a QueryPort.
type Catalog struct {
	port   ledger.QueryPort
	cfg    Config
	logger zerolog.Logger
}

func New(port ledger.QueryPort, cfg Config) (*Catalog, error) {
	if port == nil {
		return nil, fmt.Errorf("%w: missing query port", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.TrackerAccount) == "" {
		return nil, fmt.Errorf("%w: missing tracker account", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.ProposerAccount) == "" {
		return nil, fmt.Errorf("%w: missing proposer account", ErrInvalidConfig)
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = ledger.DefaultPageSize
	}
	return &Catalog{
		port:   port,
		cfg:    cfg,
		logger: log.With().Str("component", "catalog").Logger(),
	}, nil
}

// Queries returns the three table reads of a snapshot, in snapshot order.
func (c *Catalog) Queries() (target, own, approvals ledger.TableQuery) {
	target = ledger.TableQuery{
		Contract: ledger.MsigContract,
		Scope:    c.cfg.TrackerAccount,
		Table:    ledger.TableProposal,
		Limit:    c.cfg.PageSize,
	}
	own = ledger.TableQuery{
		Contract: ledger.MsigContract,
		Scope:    c.cfg.ProposerAccount,
		Table:    ledger.TableProposal,
		Limit:    c.cfg.PageSize,
	}
	approvals = ledger.TableQuery{
		Contract: ledger.MsigContract,
		Scope:    c.cfg.TrackerAccount,
		Table:    ledger.TableApprovals,
		Limit:    c.cfg.PageSize,
	}
	return target, own, approvals
}

// Snapshot issues the three reads concurrently and waits for all of them.
// Any failed read or undecodable row fails the whole snapshot with
// ledger.ErrLedgerUnavailable; partial snapshots are never returned.
func (c *Catalog) Snapshot(ctx context.Context) (Snapshot, error) {
	targetQ, ownQ, approvalsQ := c.Queries()

	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := c.port.QueryRows(gctx, targetQ)
		if err != nil {
			return err
		}
		snap.TargetProposals, err = ledger.DecodeProposals(targetQ.Scope, rows)
		return err
	})
	g.Go(func() error {
		rows, err := c.port.QueryRows(gctx, ownQ)
		if err != nil {
			return err
		}
		snap.OwnProposals, err = ledger.DecodeProposals(ownQ.Scope, rows)
		return err
	})
	g.Go(func() error {
		rows, err := c.port.QueryRows(gctx, approvalsQ)
		if err != nil {
			return err
		}
		snap.OwnApprovals, err = ledger.DecodeApprovals(rows)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, ledger.ErrLedgerUnavailable) {
			return Snapshot{}, err
		}
		return Snapshot{}, fmt.Errorf("%w: snapshot: %w", ledger.ErrLedgerUnavailable, err)
	}

	c.logger.Debug().
		Int("targets", len(snap.TargetProposals)).
		Int("own", len(snap.OwnProposals)).
		Int("approvals", len(snap.OwnApprovals)).
		Msg("snapshot taken")
	return snap, nil
}

// AuthorizedPermissions resolves the cross-account authorities delegated to
// account@permission. An absent permission yields an empty set, not an error.
func (c *Catalog) AuthorizedPermissions(ctx context.Context, account, permission string) ([]ledger.Authority, error) {
	info, err := c.port.Account(ctx, account)
	if err != nil {
		if errors.Is(err, ledger.ErrLedgerUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: account %s: %w", ledger.ErrLedgerUnavailable, account, err)
	}
	auths, ok := info.DelegatedAuthorities(permission)
	if !ok {
		c.logger.Warn().
			Str("account", account).
			Str("permission", permission).
			Msg("permission not found on account")
		return []ledger.Authority{}, nil
	}
	return auths, nil
}
