// Package notify delivers human-facing messages. Delivery is best effort:
// callers log failures and move on.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrEmptyMessage = errors.New("notify: empty message")

// Notifier sends one text message to a human channel.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Log writes every message to the process log.
type Log struct {
	logger zerolog.Logger
}

func NewLog() *Log {
	return &Log{logger: log.With().Str("component", "notify").Logger()}
}

func (l *Log) Send(_ context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	l.logger.Info().Msg(text)
	return nil
}

// Fanout sends to every notifier in order and joins their errors.
type Fanout []Notifier

func (f Fanout) Send(ctx context.Context, text string) error {
	var errs []error
	for idx, n := range f {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, text); err != nil {
			errs = append(errs, fmt.Errorf("notifier[%d]: %w", idx, err))
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every message in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []string
	Err      error
}

func (r *Recorder) Send(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, text)
	return r.Err
}

// Messages returns a copy of everything sent so far.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}
