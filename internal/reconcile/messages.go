package reconcile

import (
	"fmt"
	"time"
)

func stamp(now time.Time) string {
	return now.UTC().Format(time.RFC3339)
}

func txLink(rc Context, txID string) string {
	return fmt.Sprintf("%s/transaction/%s", rc.explorer(), txID)
}

func msigLink(rc Context, proposer, name string) string {
	return fmt.Sprintf("%s/msig/%s/%s", rc.explorer(), proposer, name)
}

func foundMessage(name string, now time.Time) string {
	return fmt.Sprintf("Found kicking proposal: %s. Time: %s", name, stamp(now))
}

func alreadyProposedMessage(rc Context, name string, now time.Time) string {
	return fmt.Sprintf("Kicking proposal already proposed, please review ASAP: %s Time: %s",
		msigLink(rc, rc.Reconciler.Account, name), stamp(now))
}

func alreadyApprovedMessage() string {
	return "Kicking proposal already approved, good job!"
}

func proposedMessage(rc Context, txID string, now time.Time) string {
	return fmt.Sprintf("Proposed a proposal to remove block producer, please review: %s Time: %s",
		txLink(rc, txID), stamp(now))
}

func canceledMessage(rc Context, name, txID string, now time.Time) string {
	return fmt.Sprintf("Canceled outdated proposal %s: %s Time: %s", name, txLink(rc, txID), stamp(now))
}
