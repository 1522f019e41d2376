package admin

import (
	"net/http"
	"time"

	"github.com/danmuck/kickctl/internal/reconcile"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type cancelView struct {
	ProposalName  string `json:"proposal_name"`
	TransactionID string `json:"transaction_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

type reportView struct {
	TickID        string       `json:"tick_id"`
	StartedAt     time.Time    `json:"started_at"`
	Duration      string       `json:"duration"`
	Outcome       string       `json:"outcome"`
	Target        string       `json:"target,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	TransactionID string       `json:"transaction_id,omitempty"`
	Cancels       []cancelView `json:"cancels,omitempty"`
	Notified      int          `json:"notified"`
	NotifyErrors  int          `json:"notify_errors"`
	Error         string       `json:"error,omitempty"`
}

func viewOf(r reconcile.Report) reportView {
	v := reportView{
		TickID:        r.TickID,
		StartedAt:     r.StartedAt.UTC(),
		Duration:      r.Duration.String(),
		Outcome:       r.Outcome(),
		Target:        r.Plan.Target.ProposalName,
		Reason:        string(r.Plan.Reason),
		TransactionID: r.TransactionID,
		Notified:      r.Notified,
		NotifyErrors:  r.NotifyErrors,
	}
	for _, c := range r.Cancels {
		cv := cancelView{ProposalName: c.ProposalName, TransactionID: c.TransactionID}
		if c.Err != nil {
			cv.Error = c.Err.Error()
		}
		v.Cancels = append(v.Cancels, cv)
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	return v
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": "kickctl",
			"version": s.Version,
		})
	})

	guarded := s.router.Group("/", requireToken(s.auth))

	guarded.GET("/status", func(c *gin.Context) {
		rc := s.source.Context()
		requested := make([]string, 0, len(rc.Requested))
		for _, a := range rc.Requested {
			requested = append(requested, a.String())
		}
		body := gin.H{
			"tracker":    rc.Tracker,
			"monitored":  rc.Monitored.String(),
			"reconciler": rc.Reconciler.String(),
			"requested":  requested,
			"configured": rc.Configured(),
		}
		if last, ok := s.source.LastReport(); ok {
			body["last_tick"] = viewOf(last)
		}
		c.JSON(http.StatusOK, body)
	})

	guarded.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
