package notify

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
	"golang.org/x/time/rate"
)

var ErrWebhookRequired = errors.New("notify: slack webhook url required")

// SlackConfig configures webhook delivery.
type SlackConfig struct {
	WebhookURL string
	// RatePerSecond and Burst bound outbound posts.
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
	MaxAttempts   int
	Backoff       BackoffConfig
}

func DefaultSlackConfig(url string) SlackConfig {
	return SlackConfig{
		WebhookURL:    url,
		RatePerSecond: 1,
		Burst:         3,
		Timeout:       10 * time.Second,
		MaxAttempts:   3,
		Backoff:       DefaultBackoff(),
	}
}

type postFunc func(ctx context.Context, url string, msg *slack.WebhookMessage) error

// Slack posts messages to an incoming webhook.
type Slack struct {
	cfg     SlackConfig
	limiter *rate.Limiter
	post    postFunc
	rng     *rand.Rand
	logger  zerolog.Logger
}

func NewSlack(cfg SlackConfig) (*Slack, error) {
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		return nil, ErrWebhookRequired
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Slack{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		post:    slack.PostWebhookContext,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:  log.With().Str("component", "notify.slack").Logger(),
	}, nil
}

// Send waits for a rate token, then posts with retries.
func (s *Slack) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("notify: slack rate wait: %w", err)
		}
		lastErr = s.postOnce(ctx, text)
		if lastErr == nil {
			return nil
		}
		s.logger.Warn().Err(lastErr).Int("attempt", attempt).Msg("webhook post failed")
		if attempt == s.cfg.MaxAttempts {
			break
		}
		timer := time.NewTimer(NextBackoffDelay(s.cfg.Backoff, attempt, s.rng))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("notify: slack: %w", lastErr)
}

func (s *Slack) postOnce(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	return s.post(ctx, s.cfg.WebhookURL, &slack.WebhookMessage{Text: text})
}
