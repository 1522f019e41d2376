// Package agent wires the reconciliation engine to its ledger, notification,
// lease and admin collaborators and runs it as a long-lived process.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/kickctl/internal/admin"
	"github.com/danmuck/kickctl/internal/catalog"
	"github.com/danmuck/kickctl/internal/composer"
	"github.com/danmuck/kickctl/internal/config"
	"github.com/danmuck/kickctl/internal/ledger"
	"github.com/danmuck/kickctl/internal/ledger/eosrpc"
	"github.com/danmuck/kickctl/internal/lease"
	"github.com/danmuck/kickctl/internal/notify"
	"github.com/danmuck/kickctl/internal/observability"
	"github.com/danmuck/kickctl/internal/reconcile"
	"github.com/danmuck/kickctl/internal/throttle"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Ports are the ledger collaborators a Service talks to.
type Ports struct {
	Query  ledger.QueryPort
	Submit ledger.SubmitPort
}

type Service struct {
	cfg     config.Config
	version string

	engine  *reconcile.Engine
	catalog *catalog.Catalog
	lease   lease.Lease
	closers []func() error
	logger  zerolog.Logger
}

// NewService builds a Service talking to the RPC endpoint in cfg.
func NewService(cfg config.Config, version string) (*Service, error) {
	client, err := eosrpc.New(eosrpc.Config{
		Endpoint:   cfg.RPCHost,
		PrivateKey: cfg.ProposerPrivateKey,
		Timeout:    cfg.CallTimeout,
	})
	if err != nil {
		return nil, err
	}
	return NewServiceWithPorts(cfg, version, Ports{Query: client, Submit: client})
}

// NewServiceWithPorts builds a Service on caller-supplied ledger ports.
func NewServiceWithPorts(cfg config.Config, version string, ports Ports) (*Service, error) {
	if ports.Query == nil || ports.Submit == nil {
		return nil, errors.New("agent: missing ledger ports")
	}
	s := &Service{
		cfg:     cfg,
		version: version,
		logger:  log.With().Str("component", "agent").Logger(),
	}

	cat, err := catalog.New(ports.Query, catalog.Config{
		TrackerAccount:  config.TrackerAccount,
		ProposerAccount: cfg.ProposerAccount,
		PageSize:        ledger.DefaultPageSize,
	})
	if err != nil {
		return nil, err
	}
	comp, err := composer.New(ports.Submit, composer.Config{
		Tracker:       config.TrackerAccount,
		Approver:      cfg.Approver(),
		Reconciler:    cfg.Reconciler(),
		BlocksBehind:  uint32(cfg.BlocksBehind),
		ExpireSeconds: uint32(cfg.ExpireSeconds),
	})
	if err != nil {
		return nil, err
	}

	notifiers := notify.Fanout{notify.NewLog()}
	if strings.TrimSpace(cfg.SlackWebhookURL) != "" {
		slack, err := notify.NewSlack(notify.DefaultSlackConfig(cfg.SlackWebhookURL))
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, slack)
	}

	s.lease = lease.Noop{}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		rl, err := lease.NewRedis(cfg.RedisURL, cfg.LeaseKey)
		if err != nil {
			return nil, err
		}
		s.lease = rl
		s.closers = append(s.closers, rl.Close)
	}

	engine, err := reconcile.NewEngine(reconcile.Deps{
		Catalog:  cat,
		Composer: comp,
		Notifier: notifiers,
		Throttle: throttle.New(),
	}, reconcile.Context{
		Tracker:     config.TrackerAccount,
		Monitored:   cfg.Monitored(),
		Reconciler:  cfg.Reconciler(),
		ExplorerURL: cfg.ExplorerURL,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.engine = engine
	s.catalog = cat
	return s, nil
}

func (s *Service) Engine() *reconcile.Engine {
	return s.engine
}

// Permissions resolves the authorities the monitored permission delegates to.
func (s *Service) Permissions(ctx context.Context) ([]ledger.Authority, error) {
	m := s.cfg.Monitored()
	return s.catalog.AuthorizedPermissions(ctx, m.Account, m.Permission)
}

// Plan decides what the next tick would do without doing it.
func (s *Service) Plan(ctx context.Context) (reconcile.Plan, error) {
	return s.engine.Plan(ctx)
}

// Run ticks until SIGINT/SIGTERM or ctx is done. The admin server runs
// alongside when an admin address is configured.
func (s *Service) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := observability.InitErrorTelemetry(s.cfg.SentryDSN, s.version); err != nil {
		s.logger.Warn().Err(err).Msg("error telemetry disabled")
	}
	defer observability.FlushErrorTelemetry(2 * time.Second)

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		Endpoint:       s.cfg.OTLPEndpoint,
		Insecure:       true,
		ServiceName:    "kickctl",
		ServiceVersion: s.version,
		SampleRate:     1,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			s.logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	sched, err := reconcile.NewScheduler(func(ctx context.Context) error {
		_, err := s.engine.Tick(ctx)
		return err
	}, reconcile.SchedulerConfig{
		Interval: s.cfg.Interval,
		Lease:    s.lease,
	})
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("config", s.cfg.String()).
		Str("version", s.version).
		Msg("kickctl starting")

	adminErr := make(chan error, 1)
	if addr := strings.TrimSpace(s.cfg.AdminAddr); addr != "" {
		srv := admin.New(admin.Config{Addr: addr, Version: s.version, Token: s.cfg.AdminToken}, s.engine)
		go func() {
			adminErr <- srv.Serve(ctx)
		}()
	}
	schedErr := make(chan error, 1)
	go func() {
		schedErr <- sched.Run(ctx)
	}()

	select {
	case err := <-schedErr:
		return err
	case err := <-adminErr:
		if err == nil {
			return <-schedErr
		}
		stop()
		<-schedErr
		return fmt.Errorf("agent: admin server: %w", err)
	}
}

// Close releases the lease client, if any.
func (s *Service) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
