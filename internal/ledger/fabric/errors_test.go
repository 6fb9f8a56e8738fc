package fabric

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hyperledger/fabric-protos-go-apiv2/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ehranchor/internal/domain"
)

func statusWithDetail(t *testing.T, code codes.Code, msg string, details ...string) error {
	t.Helper()
	st := status.New(code, msg)
	for _, d := range details {
		var err error
		st, err = st.WithDetails(&gateway.ErrorDetail{
			Address: "peer0.org1.example.com:7051",
			MspId:   "Org1MSP",
			Message: d,
		})
		require.NoError(t, err)
	}
	return st.Err()
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "context deadline",
			err:  fmt.Errorf("evaluate: %w", context.DeadlineExceeded),
			want: domain.ErrTimeout,
		},
		{
			name: "grpc deadline",
			err:  status.Error(codes.DeadlineExceeded, "context deadline exceeded"),
			want: domain.ErrTimeout,
		},
		{
			name: "peer unavailable",
			err:  status.Error(codes.Unavailable, "connection refused"),
			want: domain.ErrTransport,
		},
		{
			name: "chaincode not found in details",
			err: statusWithDetail(t, codes.Aborted, "failed to endorse transaction, see attached details for more info",
				"chaincode response 500, ReadPatient: patient 'P1' does not exist: not found"),
			want: domain.ErrNotFound,
		},
		{
			name: "chaincode unauthorized in details",
			err: statusWithDetail(t, codes.Unknown, "evaluate call to endorser returned error",
				"chaincode response 500, ReadPatient: organization 'Org3MSP' is not a participant: unauthorized"),
			want: domain.ErrUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err)
			assert.True(t, errors.Is(err, tt.want), err.Error())
		})
	}
}

func TestClassify_Unrecognized(t *testing.T) {
	assert.Nil(t, classify(nil))

	plain := errors.New("proposal rejected")
	assert.Equal(t, plain, classify(plain))

	err := classify(statusWithDetail(t, codes.Aborted, "failed to endorse", "endorsement policy failure"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endorsement policy failure")
	for _, kind := range []error{domain.ErrNotFound, domain.ErrTimeout, domain.ErrTransport, domain.ErrUnauthorized} {
		assert.False(t, errors.Is(err, kind))
	}
}
