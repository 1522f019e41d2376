package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// MsigContract is the system multisig contract. Not configurable.
	MsigContract = "eosio.msig"

	ActionPropose = "propose"
	ActionApprove = "approve"
	ActionCancel  = "cancel"

	TableProposal  = "proposal"
	TableApprovals = "approvals2"

	// DefaultPageSize bounds every table read.
	DefaultPageSize = 10

	DefaultBlocksBehind  = 3
	DefaultExpireSeconds = 30 * 60
)

// Authority is one account@permission pair.
type Authority struct {
	Account    string `json:"actor"`
	Permission string `json:"permission"`
}

func (a Authority) String() string {
	return a.Account + "@" + a.Permission
}

// Validate enforces both halves of the pair.
func (a Authority) Validate() error {
	if strings.TrimSpace(a.Account) == "" {
		return fmt.Errorf("authority: missing account")
	}
	if strings.TrimSpace(a.Permission) == "" {
		return fmt.Errorf("authority: missing permission for %q", a.Account)
	}
	return nil
}

// ProposalRecord is one proposal row observed under a registry scope.
type ProposalRecord struct {
	ProposalName string
	Proposer     string
}

// ApprovalRecord lists who has signed off on a proposal within a scope.
type ApprovalRecord struct {
	ProposalName      string
	ProvidedApprovals []Authority
}

// ApprovedBy matches on actor only; the permission half is ignored.
func (r ApprovalRecord) ApprovedBy(account string) bool {
	for _, p := range r.ProvidedApprovals {
		if p.Account == account {
			return true
		}
	}
	return false
}

// TableQuery addresses one (contract, scope, table) triple.
type TableQuery struct {
	Contract string
	Scope    string
	Table    string
	Limit    uint32
	Reverse  bool
}

func (q TableQuery) String() string {
	return fmt.Sprintf("%s/%s/%s", q.Contract, q.Scope, q.Table)
}

// PermissionInfo is the subset of an account permission the agent reads.
type PermissionInfo struct {
	Name     string
	Parent   string
	Accounts []Authority
}

// AccountInfo is the subset of an on-chain account the agent reads.
type AccountInfo struct {
	Name        string
	Permissions []PermissionInfo
}

// DelegatedAuthorities returns the cross-account authorities of one
// permission. ok is false when the account has no such permission.
func (a AccountInfo) DelegatedAuthorities(permission string) ([]Authority, bool) {
	for _, p := range a.Permissions {
		if p.Name != permission {
			continue
		}
		out := make([]Authority, 0, len(p.Accounts))
		out = append(out, p.Accounts...)
		return out, true
	}
	return nil, false
}

// Action is one contract action in transport-neutral form. Data must be
// binary-encodable by the transport (see payloads.go).
type Action struct {
	Account       string
	Name          string
	Authorization []Authority
	Data          any
}

// SubmitOptions carries the TAPOS window and the sign/broadcast mode.
// Broadcast=false, Sign=false returns an unsigned draft.
type SubmitOptions struct {
	BlocksBehind  uint32
	ExpireSeconds uint32
	Broadcast     bool
	Sign          bool
}

// DefaultSubmitOptions is the signed and broadcast mode with the standard window.
func DefaultSubmitOptions() SubmitOptions {
	return SubmitOptions{
		BlocksBehind:  DefaultBlocksBehind,
		ExpireSeconds: DefaultExpireSeconds,
		Broadcast:     true,
		Sign:          true,
	}
}

// DraftSubmitOptions is the compute-only mode used for nested payloads.
func DraftSubmitOptions() SubmitOptions {
	opts := DefaultSubmitOptions()
	opts.Broadcast = false
	opts.Sign = false
	return opts
}

// SubmitResult is what the transport reports for one transaction.
type SubmitResult struct {
	TransactionID         string
	SerializedTransaction []byte
	SubmittedAt           time.Time
	BlockNum              uint32
	Status                string
}

// QueryPort is read-only access to contract tables and accounts.
type QueryPort interface {
	QueryRows(ctx context.Context, q TableQuery) ([]json.RawMessage, error)
	Account(ctx context.Context, name string) (AccountInfo, error)
}

// SubmitPort pushes (or drafts) one transaction.
type SubmitPort interface {
	Submit(ctx context.Context, actions []Action, opts SubmitOptions) (SubmitResult, error)
}
