// Package admin serves the agent's health, status and metrics endpoints.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/kickctl/internal/observability"
	"github.com/danmuck/kickctl/internal/reconcile"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StatusSource is the engine view the admin server reports on.
type StatusSource interface {
	Context() reconcile.Context
	LastReport() (reconcile.Report, bool)
}

// Config configures the admin server. An empty Token leaves every route open.
type Config struct {
	Addr    string
	Version string
	Token   string
}

type Server struct {
	Addr     string
	Version  string
	Appeared time.Time

	source StatusSource
	auth   TokenValidator
	router *gin.Engine
	http   *http.Server
	logger zerolog.Logger
}

func New(cfg Config, source StatusSource) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Addr:     cfg.Addr,
		Version:  cfg.Version,
		Appeared: time.Now(),
		source:   source,
		router:   r,
		logger:   log.With().Str("component", "admin").Logger(),
	}
	if token := strings.TrimSpace(cfg.Token); token != "" {
		s.auth = StaticToken(token)
	}
	s.registerRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Serve listens on Addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("admin listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Info().Msg("admin stopped")
		return nil
	}
}
