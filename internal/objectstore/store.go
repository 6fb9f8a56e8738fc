// Package objectstore holds the content-addressed stores sealed documents are pushed to.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net"

	"ehranchor/internal/domain"
)

// Store is a content-addressed object store
type Store interface {
	// Add stores data and returns its content address
	Add(ctx context.Context, data []byte) (string, error)
	// Retrieve returns the bytes stored at address. Missing content fails with
	// domain.ErrObjectUnavailable.
	Retrieve(ctx context.Context, address string) ([]byte, error)
}

// transportError maps deadline and network failures onto the error taxonomy
func transportError(op string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %v: %w", op, err, domain.ErrTimeout)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%s: %v: %w", op, err, domain.ErrTimeout)
	default:
		return fmt.Errorf("%s: %v: %w", op, err, domain.ErrTransport)
	}
}
