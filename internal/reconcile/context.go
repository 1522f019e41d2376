package reconcile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/kickctl/internal/ledger"
)

var ErrInvalidContext = errors.New("reconcile: invalid run context")

const DefaultExplorerURL = "https://bloks.io"

// Context is the run context threaded into every tick. It is a value: a
// resolution of the requested authorities yields a new Context rather than
// changing an existing one.
type Context struct {
	// Tracker is the registry account whose proposals are mirrored.
	Tracker string
	// Monitored is the authority whose approval the mirrored proposal carries.
	Monitored ledger.Authority
	// Reconciler authors, and cancels, the mirrored proposals.
	Reconciler ledger.Authority
	// Requested are the authorities asked to approve each mirror.
	Requested   []ledger.Authority
	ExplorerURL string
}

// Validate checks the fields known at startup. Requested may still be empty.
func (c Context) Validate() error {
	if strings.TrimSpace(c.Tracker) == "" {
		return fmt.Errorf("%w: missing tracker", ErrInvalidContext)
	}
	if err := c.Monitored.Validate(); err != nil {
		return fmt.Errorf("%w: monitored %v", ErrInvalidContext, err)
	}
	if err := c.Reconciler.Validate(); err != nil {
		return fmt.Errorf("%w: reconciler %v", ErrInvalidContext, err)
	}
	return nil
}

// Configured reports whether proposal actions may be taken.
func (c Context) Configured() bool {
	return len(c.Requested) > 0
}

// WithRequested returns a copy of c carrying its own copy of requested.
func (c Context) WithRequested(requested []ledger.Authority) Context {
	out := c
	out.Requested = append([]ledger.Authority(nil), requested...)
	return out
}

func (c Context) explorer() string {
	base := strings.TrimRight(strings.TrimSpace(c.ExplorerURL), "/")
	if base == "" {
		return DefaultExplorerURL
	}
	return base
}
