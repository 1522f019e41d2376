package ledger

import "errors"

var (
	// ErrConfigurationIncomplete means the monitored permission has no delegated
	// cross-account authorities yet. Ticks are skipped, nothing is alerted.
	ErrConfigurationIncomplete = errors.New("ledger: monitored permission has no delegated authorities")
	ErrLedgerUnavailable       = errors.New("ledger: unavailable")
	ErrSubmissionRejected      = errors.New("ledger: submission rejected")
	ErrMalformedPayload        = errors.New("ledger: malformed embedded payload")
	ErrDecode                  = errors.New("ledger: unexpected row shape")
)
