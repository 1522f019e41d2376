// Package ledgertest provides in-memory ledger ports for tests.
package ledgertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/kickctl/internal/ledger"
	eos "github.com/eoscanada/eos-go"
)

// FixedRefBlockID pins TAPOS for deterministic drafts.
var FixedRefBlockID = eos.Checksum256{
	0x00, 0x00, 0x00, 0x61, 0x43, 0xc6, 0xd3, 0x1b,
	0x8e, 0xc4, 0xe3, 0xb8, 0xf4, 0xb2, 0xd3, 0x8f,
	0xe4, 0xc1, 0xf0, 0xd2, 0xb9, 0x3f, 0x0f, 0x3f,
	0x7a, 0x1c, 0x5e, 0x1f, 0x2d, 0x3c, 0x4b, 0x5a,
}

// FixedNow is the clock every fake reports.
var FixedNow = time.Date(2020, 4, 14, 12, 0, 0, 0, time.UTC)

// Query serves rows from memory, keyed by "scope/table".
type Query struct {
	mu       sync.Mutex
	Rows     map[string][]string
	Errs     map[string]error
	Accounts map[string]ledger.AccountInfo
	Calls    []ledger.TableQuery
	Lookups  []string
}

func NewQuery() *Query {
	return &Query{
		Rows:     make(map[string][]string),
		Errs:     make(map[string]error),
		Accounts: make(map[string]ledger.AccountInfo),
	}
}

func key(scope, table string) string { return scope + "/" + table }

// SetRows replaces the rows served for scope/table.
func (q *Query) SetRows(scope, table string, rows ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Rows[key(scope, table)] = rows
}

// FailTable makes reads of scope/table return err.
func (q *Query) FailTable(scope, table string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Errs[key(scope, table)] = err
}

func (q *Query) QueryRows(_ context.Context, tq ledger.TableQuery) ([]json.RawMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Calls = append(q.Calls, tq)
	k := key(tq.Scope, tq.Table)
	if err := q.Errs[k]; err != nil {
		return nil, err
	}
	rows := q.Rows[k]
	if tq.Limit > 0 && uint32(len(rows)) > tq.Limit {
		rows = rows[:tq.Limit]
	}
	out := make([]json.RawMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, json.RawMessage(r))
	}
	return out, nil
}

func (q *Query) Account(_ context.Context, name string) (ledger.AccountInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Lookups = append(q.Lookups, name)
	if err := q.Errs["account/"+name]; err != nil {
		return ledger.AccountInfo{}, err
	}
	info, ok := q.Accounts[name]
	if !ok {
		return ledger.AccountInfo{}, fmt.Errorf("%w: unknown account %s", ledger.ErrLedgerUnavailable, name)
	}
	return info, nil
}

// Submission is one recorded Submit call.
type Submission struct {
	Actions []ledger.Action
	Opts    ledger.SubmitOptions
}

// Submit records submissions. Drafts are serialized with eos-go against
// FixedRefBlockID and FixedNow so identical input yields identical bytes.
type Submit struct {
	mu    sync.Mutex
	Calls []Submission
	// Fail, when set, is consulted before every submission.
	Fail func(actions []ledger.Action, opts ledger.SubmitOptions) error
	// Draft, when set, replaces the serialized draft bytes.
	Draft func(raw []byte) []byte
	seq   int
}

func NewSubmit() *Submit {
	return &Submit{}
}

func (s *Submit) Submit(_ context.Context, actions []ledger.Action, opts ledger.SubmitOptions) (ledger.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, Submission{Actions: actions, Opts: opts})
	if s.Fail != nil {
		if err := s.Fail(actions, opts); err != nil {
			return ledger.SubmitResult{}, err
		}
	}

	tx := DraftTransaction(actions)
	raw, err := eos.MarshalBinary(tx)
	if err != nil {
		return ledger.SubmitResult{}, fmt.Errorf("%w: %v", ledger.ErrMalformedPayload, err)
	}
	if !opts.Sign {
		if s.Draft != nil {
			raw = s.Draft(raw)
		}
		return ledger.SubmitResult{TransactionID: "draft", SerializedTransaction: raw, SubmittedAt: FixedNow}, nil
	}
	s.seq++
	return ledger.SubmitResult{
		TransactionID:         fmt.Sprintf("tx%04d", s.seq),
		SerializedTransaction: raw,
		SubmittedAt:           FixedNow,
	}, nil
}

// Broadcasts returns the signed submissions whose single action is name.
func (s *Submit) Broadcasts(name string) []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Submission
	for _, c := range s.Calls {
		if c.Opts.Broadcast && len(c.Actions) == 1 && c.Actions[0].Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of recorded Submit calls.
func (s *Submit) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// DraftTransaction builds the transaction the fakes serialize.
func DraftTransaction(actions []ledger.Action) *eos.Transaction {
	tx := eos.NewTransaction(ledger.EOSActions(actions), &eos.TxOptions{HeadBlockID: FixedRefBlockID})
	tx.Expiration = eos.JSONTime{Time: FixedNow.Add(ledger.DefaultExpireSeconds * time.Second)}
	return tx
}
