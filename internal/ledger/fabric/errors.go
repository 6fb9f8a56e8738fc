package fabric

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperledger/fabric-protos-go-apiv2/gateway"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ehranchor/internal/domain"
)

// classify maps a gateway error onto the error taxonomy, keeping the original error text.
// Chaincode messages arrive in the status details, one per endorsing peer.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%v: %w", err, domain.ErrTimeout)
	}

	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return fmt.Errorf("%v: %w", err, domain.ErrTimeout)
	case codes.Unavailable, codes.Canceled:
		return fmt.Errorf("%v: %w", err, domain.ErrTransport)
	}

	var messages []string
	for _, d := range st.Details() {
		if detail, ok := d.(*gateway.ErrorDetail); ok {
			messages = append(messages, detail.GetMessage())
			if kind := domain.Classify(detail.GetMessage()); kind != nil {
				return kind
			}
		}
	}
	if kind := domain.Classify(st.Message()); kind != nil {
		return kind
	}
	if len(messages) > 0 {
		return fmt.Errorf("%v (%s)", err, strings.Join(messages, "; "))
	}
	return err
}
