package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthorized is returned when the caller's organization is not a recognized participant
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAlreadyExists is returned on a duplicate registration
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotFound is returned for a missing patient, pointer, historical record or stored object
	ErrNotFound = errors.New("not found")
	// ErrMalformedInput is returned for invalid Base64 or undersized sealed payloads
	ErrMalformedInput = errors.New("malformed input")
	// ErrIntegrity is returned when authentication or fingerprint comparison fails
	ErrIntegrity = errors.New("integrity check failed")
	// ErrTimeout is returned when a ledger or object store deadline is exceeded
	ErrTimeout = errors.New("deadline exceeded")
	// ErrTransport is returned when the ledger or object store cannot be reached
	ErrTransport = errors.New("transport failure")
)

var (
	// ErrNotAnchored means the patient exists but no document was ever anchored
	ErrNotAnchored = fmt.Errorf("no document anchored: %w", ErrNotFound)
	// ErrObjectUnavailable means the object store no longer serves the referenced object
	ErrObjectUnavailable = fmt.Errorf("object unavailable: %w", ErrNotFound)
)

// remote sentinels in the order they are matched against error text
var remoteKinds = []error{
	ErrUnauthorized,
	ErrAlreadyExists,
	ErrMalformedInput,
	ErrIntegrity,
	ErrNotFound,
}

// RemoteError carries an error message produced on the other side of a ledger call
// together with the taxonomy sentinel recovered from it.
type RemoteError struct {
	Message string
	Kind    error
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Unwrap() error {
	return e.Kind
}

// Classify maps a remote error message back onto the error taxonomy.
// Chaincode errors end with the sentinel text (": not found"), which is matched first;
// otherwise the first sentinel contained anywhere in the message wins.
// Returns nil when no sentinel matches.
func Classify(message string) error {
	msg := strings.TrimSpace(message)
	for _, kind := range remoteKinds {
		if msg == kind.Error() || strings.HasSuffix(msg, ": "+kind.Error()) {
			return &RemoteError{Message: msg, Kind: kind}
		}
	}
	for _, kind := range remoteKinds {
		if strings.Contains(msg, kind.Error()) {
			return &RemoteError{Message: msg, Kind: kind}
		}
	}
	return nil
}
