// Package ledger defines the client contract the coordinator uses to reach the contracts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ehranchor/internal/domain"
)

const (
	// DefaultEvaluateTimeout bounds read-only calls
	DefaultEvaluateTimeout = 10 * time.Second
	// DefaultSubmitTimeout bounds ordered writes, endorsement and commit included
	DefaultSubmitTimeout = 20 * time.Second
)

// Deadlines holds the per call-class time limits
type Deadlines struct {
	Evaluate time.Duration
	Submit   time.Duration
}

// WithDefaults fills unset deadlines
func (d Deadlines) WithDefaults() Deadlines {
	if d.Evaluate <= 0 {
		d.Evaluate = DefaultEvaluateTimeout
	}
	if d.Submit <= 0 {
		d.Submit = DefaultSubmitTimeout
	}
	return d
}

// Result is the outcome of a committed transaction
type Result struct {
	TxID    string
	Payload []byte
}

// Session is a scoped connection to the ledger. Close must always be called.
type Session interface {
	// Evaluate runs a read-only transaction without ordering or commit
	Evaluate(ctx context.Context, contract, method string, args ...string) ([]byte, error)
	// Submit endorses, orders and waits for commit of a transaction
	Submit(ctx context.Context, contract, method string, args ...string) (*Result, error)
	// SubmitWithTransient is Submit with data carried outside the replicated arguments
	SubmitWithTransient(ctx context.Context, contract, method string, transient map[string][]byte, args ...string) (*Result, error)
	Close() error
}

// Connector opens ledger sessions
type Connector interface {
	Open(ctx context.Context) (Session, error)
}

// WithSession opens a session, runs fn and releases the session on every path.
// A close failure is reported only when fn succeeded.
func WithSession(ctx context.Context, c Connector, fn func(Session) error) (err error) {
	s, err := c.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close ledger session: %w", cerr)
		}
	}()
	return fn(s)
}

// ContextError converts a context failure into the timeout or transport taxonomy.
// It returns nil for a nil error.
func ContextError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%v: %w", err, domain.ErrTimeout)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%v: %w", err, domain.ErrTransport)
	default:
		return err
	}
}
