package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"go.uber.org/zap"

	"ehranchor/internal/domain"
	"ehranchor/internal/logger"
)

const (
	defaultIPFSTimeout   = 30 * time.Second
	defaultMaxObjectSize = 64 << 20
)

// IPFSConfig holds the configuration of the IPFS HTTP API client
type IPFSConfig struct {
	APIURL        string `validate:"required"`
	Timeout       time.Duration
	MaxObjectSize int64
}

// IPFS stores objects through a Kubo HTTP API
type IPFS struct {
	sh      *shell.Shell
	timeout time.Duration
	maxSize int64
}

// NewIPFS creates an IPFS client. The HTTP client timeout bounds every call.
func NewIPFS(cfg IPFSConfig) *IPFS {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultIPFSTimeout
	}
	if cfg.MaxObjectSize <= 0 {
		cfg.MaxObjectSize = defaultMaxObjectSize
	}
	sh := shell.NewShellWithClient(cfg.APIURL, &http.Client{Timeout: cfg.Timeout})
	return &IPFS{sh: sh, timeout: cfg.Timeout, maxSize: cfg.MaxObjectSize}
}

// Ping reports whether the IPFS API answers
func (s *IPFS) Ping() bool {
	return s.sh.IsUp()
}

// Add pins data and returns its CID
func (s *IPFS) Add(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", transportError("ipfs add", err)
	}

	type addResult struct {
		cid string
		err error
	}
	done := make(chan addResult, 1)
	go func() {
		cid, err := s.sh.Add(bytes.NewReader(data), shell.Pin(true))
		done <- addResult{cid: cid, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", transportError("ipfs add", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return "", classifyIPFS("ipfs add", r.err)
		}
		logger.Debug("Object added to IPFS", zap.String("cid", r.cid), zap.Int("size", len(data)))
		return r.cid, nil
	}
}

// Retrieve reads the object at address
func (s *IPFS) Retrieve(ctx context.Context, address string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.sh.Request("cat", address).Send(ctx)
	if err != nil {
		return nil, classifyIPFS("ipfs cat", err)
	}
	defer resp.Close()
	if resp.Error != nil {
		return nil, classifyIPFS("ipfs cat", resp.Error)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Output, s.maxSize+1))
	if err != nil {
		return nil, classifyIPFS("ipfs cat", err)
	}
	if int64(len(data)) > s.maxSize {
		return nil, fmt.Errorf("ipfs cat: object %s exceeds %d bytes: %w", address, s.maxSize, domain.ErrMalformedInput)
	}
	return data, nil
}

// classifyIPFS separates API level answers (missing block, bad path) from transport failures
func classifyIPFS(op string, err error) error {
	var apiErr *shell.Error
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(apiErr.Message)
		switch {
		case strings.Contains(msg, "not found"), strings.Contains(msg, "no link named"):
			return fmt.Errorf("%s: %s: %w", op, apiErr.Message, domain.ErrObjectUnavailable)
		case strings.Contains(msg, "invalid"):
			return fmt.Errorf("%s: %s: %w", op, apiErr.Message, domain.ErrMalformedInput)
		default:
			return fmt.Errorf("%s: %s: %w", op, apiErr.Message, domain.ErrTransport)
		}
	}
	return transportError(op, err)
}
