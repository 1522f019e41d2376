// Package eosrpc adapts the eos-go HTTP API onto the ledger ports.
package eosrpc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/danmuck/kickctl/internal/ledger"
	"github.com/danmuck/kickctl/internal/observability"
	eos "github.com/eoscanada/eos-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrEndpointRequired = errors.New("eosrpc: endpoint required")
	ErrInvalidKey       = errors.New("eosrpc: invalid signing key")
	ErrInvalidMode      = errors.New("eosrpc: broadcast requires signing")
)

// Config configures one RPC client.
type Config struct {
	Endpoint   string
	PrivateKey string
	Timeout    time.Duration
}

// Client implements ledger.QueryPort and ledger.SubmitPort. Every RPC call
// is bounded by Timeout.
type Client struct {
	api     *eos.API
	timeout time.Duration
	tracer  trace.Tracer
	logger  zerolog.Logger
	now     func() time.Time
}

var (
	_ ledger.QueryPort  = (*Client)(nil)
	_ ledger.SubmitPort = (*Client)(nil)
)

func New(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, ErrEndpointRequired
	}
	api := eos.New(endpoint)
	if key := strings.TrimSpace(cfg.PrivateKey); key != "" {
		bag := eos.NewKeyBag()
		if err := bag.Add(key); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		api.SetSigner(bag)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		api:     api,
		timeout: timeout,
		tracer:  otel.Tracer("kickctl/ledger"),
		logger:  log.With().Str("component", "eosrpc").Str("endpoint", endpoint).Logger(),
		now:     time.Now,
	}, nil
}

// QueryRows reads one page of JSON rows from a contract table.
func (c *Client) QueryRows(ctx context.Context, q ledger.TableQuery) ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := c.call(ctx, "get_table_rows", func(ctx context.Context) error {
		resp, err := c.api.GetTableRows(ctx, eos.GetTableRowsRequest{
			Code:    q.Contract,
			Scope:   q.Scope,
			Table:   q.Table,
			Limit:   q.Limit,
			Reverse: q.Reverse,
			JSON:    true,
		})
		if err != nil {
			return err
		}
		if len(resp.Rows) == 0 {
			out = nil
			return nil
		}
		if err := json.Unmarshal(resp.Rows, &out); err != nil {
			return fmt.Errorf("%w: %s rows: %v", ledger.ErrDecode, q, err)
		}
		return nil
	}, attribute.String("ledger.table", q.String()))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Account reads the permission tree of one account.
func (c *Client) Account(ctx context.Context, name string) (ledger.AccountInfo, error) {
	var out ledger.AccountInfo
	err := c.call(ctx, "get_account", func(ctx context.Context) error {
		resp, err := c.api.GetAccount(ctx, eos.AN(name))
		if err != nil {
			return err
		}
		out = accountInfo(name, resp)
		return nil
	}, attribute.String("ledger.account", name))
	if err != nil {
		return ledger.AccountInfo{}, err
	}
	return out, nil
}

// Submit builds a transaction against a block BlocksBehind the head with an
// ExpireSeconds horizon. Unsigned, unbroadcast submissions return the draft's
// binary serialization without touching the signer.
func (c *Client) Submit(ctx context.Context, actions []ledger.Action, opts ledger.SubmitOptions) (ledger.SubmitResult, error) {
	if opts.Broadcast && !opts.Sign {
		return ledger.SubmitResult{}, ErrInvalidMode
	}

	tx, chainID, err := c.prepare(ctx, actions, opts)
	if err != nil {
		return ledger.SubmitResult{}, err
	}

	if !opts.Sign {
		raw, err := eos.MarshalBinary(tx)
		if err != nil {
			return ledger.SubmitResult{}, fmt.Errorf("%w: serialize draft: %v", ledger.ErrMalformedPayload, err)
		}
		return ledger.SubmitResult{
			TransactionID:         transactionID(raw),
			SerializedTransaction: raw,
			SubmittedAt:           c.now(),
		}, nil
	}

	var packed *eos.PackedTransaction
	err = c.call(ctx, "sign_transaction", func(ctx context.Context) error {
		var err error
		_, packed, err = c.api.SignTransaction(ctx, tx, chainID, eos.CompressionNone)
		return err
	})
	if err != nil {
		return ledger.SubmitResult{}, err
	}
	raw := []byte(packed.PackedTransaction)
	if !opts.Broadcast {
		return ledger.SubmitResult{
			TransactionID:         transactionID(raw),
			SerializedTransaction: raw,
			SubmittedAt:           c.now(),
		}, nil
	}

	var resp *eos.PushTransactionFullResp
	err = c.call(ctx, "push_transaction", func(ctx context.Context) error {
		var err error
		resp, err = c.api.PushTransaction(ctx, packed)
		if err != nil && ctx.Err() == nil && !isTransportError(err) {
			return fmt.Errorf("%w: %v", ledger.ErrSubmissionRejected, err)
		}
		return err
	})
	if err != nil {
		return ledger.SubmitResult{}, err
	}
	txID := strings.TrimSpace(resp.TransactionID)
	if txID == "" {
		txID = transactionID(raw)
	}
	c.logger.Debug().Str("tx", txID).Uint32("block_num", resp.BlockNum).Msg("transaction pushed")
	return ledger.SubmitResult{
		TransactionID:         txID,
		SerializedTransaction: raw,
		SubmittedAt:           c.now(),
		BlockNum:              resp.BlockNum,
		Status:                resp.StatusCode,
	}, nil
}

func (c *Client) prepare(ctx context.Context, actions []ledger.Action, opts ledger.SubmitOptions) (*eos.Transaction, eos.Checksum256, error) {
	var info *eos.InfoResp
	err := c.call(ctx, "get_info", func(ctx context.Context) error {
		var err error
		info, err = c.api.GetInfo(ctx)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	refNum := info.HeadBlockNum
	if opts.BlocksBehind < refNum {
		refNum -= opts.BlocksBehind
	}
	var block *eos.BlockResp
	err = c.call(ctx, "get_block", func(ctx context.Context) error {
		var err error
		block, err = c.api.GetBlockByNum(ctx, refNum)
		return err
	}, attribute.Int64("ledger.block_num", int64(refNum)))
	if err != nil {
		return nil, nil, err
	}

	tx := eos.NewTransaction(ledger.EOSActions(actions), &eos.TxOptions{
		ChainID:     info.ChainID,
		HeadBlockID: block.ID,
	})
	expire := time.Duration(opts.ExpireSeconds) * time.Second
	if expire <= 0 {
		expire = ledger.DefaultExpireSeconds * time.Second
	}
	tx.Expiration = eos.JSONTime{Time: c.now().UTC().Add(expire)}
	return tx, info.ChainID, nil
}

// call bounds fn by the client timeout and records the outcome. Transport
// failures are wrapped as ledger.ErrLedgerUnavailable.
func (c *Client) call(ctx context.Context, op string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx, span := c.tracer.Start(ctx, "ledger."+op, trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	observability.RecordLedgerCall(op, time.Since(start), err)
	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, op+" failed")
	c.logger.Warn().Err(err).Str("op", op).Dur("elapsed", time.Since(start)).Msg("ledger call failed")
	if errors.Is(err, ledger.ErrSubmissionRejected) || errors.Is(err, ledger.ErrDecode) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ledger.ErrLedgerUnavailable, op, err)
}

func accountInfo(name string, resp *eos.AccountResp) ledger.AccountInfo {
	out := ledger.AccountInfo{Name: name}
	if resp == nil {
		return out
	}
	for _, p := range resp.Permissions {
		perm := ledger.PermissionInfo{Name: p.PermName, Parent: p.Parent}
		for _, a := range p.RequiredAuth.Accounts {
			perm.Accounts = append(perm.Accounts, ledger.Authority{
				Account:    string(a.Permission.Actor),
				Permission: string(a.Permission.Permission),
			})
		}
		out.Permissions = append(out.Permissions, perm)
	}
	return out
}

// transactionID is the sha256 of the packed, uncompressed transaction.
func transactionID(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func isTransportError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection refused", "no such host", "i/o timeout", "connection reset", "eof", "tls:"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
