package observability

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
)

var telemetryEnabled atomic.Bool

// InitErrorTelemetry enables Sentry capture when dsn is set.
func InitErrorTelemetry(dsn, release string) error {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:     dsn,
		Release: release,
	}); err != nil {
		return err
	}
	telemetryEnabled.Store(true)
	log.Info().Str("component", "observability").Msg("error telemetry enabled")
	return nil
}

// CaptureError forwards err to Sentry with the given tags. No-op when
// telemetry is not initialized.
func CaptureError(err error, tags map[string]string) {
	if err == nil || !telemetryEnabled.Load() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// FlushErrorTelemetry waits up to timeout for queued events.
func FlushErrorTelemetry(timeout time.Duration) {
	if !telemetryEnabled.Load() {
		return
	}
	sentry.Flush(timeout)
}
