package reconcile

import (
	"time"

	"github.com/danmuck/kickctl/internal/catalog"
	"github.com/danmuck/kickctl/internal/ledger"
	"github.com/danmuck/kickctl/internal/throttle"
)

// PlanKind is what one tick will do.
type PlanKind string

const (
	PlanUnconfigured PlanKind = "unconfigured"
	PlanIdle         PlanKind = "idle"
	PlanCancel       PlanKind = "cancel"
	PlanPropose      PlanKind = "propose"
	PlanHandled      PlanKind = "handled"
)

// HandledReason says why a target needs no new proposal.
type HandledReason string

const (
	ReasonNone            HandledReason = ""
	ReasonAlreadyProposed HandledReason = "already_proposed"
	ReasonAlreadyApproved HandledReason = "already_approved"
)

// Plan is the decision for one snapshot.
type Plan struct {
	Kind PlanKind
	// Target is set for PlanPropose and PlanHandled.
	Target ledger.ProposalRecord
	// Cancels lists each stale proposal once, in snapshot order.
	Cancels []string
	Reason  HandledReason
	// Remind is set when a PlanHandled reminder passes the throttle.
	Remind bool
}

// Decide maps a snapshot onto a plan. It performs no I/O.
func Decide(snap catalog.Snapshot, rc Context, now time.Time, th throttle.Throttle) Plan {
	if !rc.Configured() {
		return Plan{Kind: PlanUnconfigured}
	}

	if len(snap.TargetProposals) == 0 {
		if len(snap.OwnProposals) == 0 {
			return Plan{Kind: PlanIdle}
		}
		seen := make(map[string]struct{}, len(snap.OwnProposals))
		cancels := make([]string, 0, len(snap.OwnProposals))
		for _, p := range snap.OwnProposals {
			if _, dup := seen[p.ProposalName]; dup {
				continue
			}
			seen[p.ProposalName] = struct{}{}
			cancels = append(cancels, p.ProposalName)
		}
		return Plan{Kind: PlanCancel, Cancels: cancels}
	}

	target := snap.TargetProposals[0]
	if reason := handledReason(snap, target, rc.Monitored.Account); reason != ReasonNone {
		return Plan{
			Kind:   PlanHandled,
			Target: target,
			Reason: reason,
			Remind: th.ShouldNotify(now),
		}
	}
	return Plan{Kind: PlanPropose, Target: target}
}

// handledReason checks the outstanding mirror first, then the approvals.
func handledReason(snap catalog.Snapshot, target ledger.ProposalRecord, monitored string) HandledReason {
	for _, p := range snap.OwnProposals {
		if p.ProposalName == target.ProposalName {
			return ReasonAlreadyProposed
		}
	}
	for _, a := range snap.OwnApprovals {
		if a.ProposalName == target.ProposalName && a.ApprovedBy(monitored) {
			return ReasonAlreadyApproved
		}
	}
	return ReasonNone
}
