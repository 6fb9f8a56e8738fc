// Package client talks to the ehr-api HTTP surface.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"ehranchor/internal/coordinator"
	"ehranchor/internal/domain"
	"ehranchor/internal/journal"
	"ehranchor/internal/logger"
	"ehranchor/model"
)

// APIError is an error response from the server
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%d %s: %s (%s)", e.Status, e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap restores the taxonomy sentinel named by the error code
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "unauthorized":
		return domain.ErrUnauthorized
	case "already_exists":
		return domain.ErrAlreadyExists
	case "not_anchored":
		return domain.ErrNotAnchored
	case "object_unavailable":
		return domain.ErrObjectUnavailable
	case "not_found":
		return domain.ErrNotFound
	case "bad_request":
		return domain.ErrMalformedInput
	case "integrity_failed":
		return domain.ErrIntegrity
	case "timeout":
		return domain.ErrTimeout
	case "transport_error":
		return domain.ErrTransport
	}
	return nil
}

// Download is a fetched document
type Download struct {
	Data     []byte
	Mime     string
	Filename string
}

// Config holds client settings
type Config struct {
	BaseURL string
	Timeout time.Duration
	// MaxRetryElapsed bounds the total retry time of read-only requests
	MaxRetryElapsed time.Duration
}

// Client calls the API. Read-only requests are retried with exponential backoff on
// transport failures and gateway errors; mutating requests are sent once.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxElapsed time.Duration
}

// New creates a client for the API at cfg.BaseURL
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if cfg.MaxRetryElapsed <= 0 {
		cfg.MaxRetryElapsed = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxElapsed: cfg.MaxRetryElapsed,
	}
}

type response struct {
	header http.Header
	body   []byte
}

// RegisterPatient creates the patient reference
func (c *Client) RegisterPatient(ctx context.Context, patientID, ownerOrg string) (*model.PatientReference, error) {
	payload, err := json.Marshal(map[string]string{"ownerOrg": ownerOrg})
	if err != nil {
		return nil, err
	}
	var ref model.PatientReference
	err = c.doJSON(ctx, false, &ref, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPost, c.patientPath(patientID, "register"), "application/json", bytes.NewReader(payload))
	})
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// Patient returns the current patient reference
func (c *Client) Patient(ctx context.Context, patientID string) (*model.PatientReference, error) {
	var ref model.PatientReference
	err := c.doJSON(ctx, true, &ref, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, c.patientPath(patientID, ""), "", nil)
	})
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// History returns the versions of the patient reference
func (c *Client) History(ctx context.Context, patientID string) ([]model.HistoryRecord, error) {
	records := []model.HistoryRecord{}
	err := c.doJSON(ctx, true, &records, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, c.patientPath(patientID, "history"), "", nil)
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Anchor uploads a document. An empty mimeType lets the server detect it.
func (c *Client) Anchor(ctx context.Context, patientID, filename string, data []byte, mimeType string) (*coordinator.AnchorReceipt, error) {
	fields := map[string]string{}
	if mimeType != "" {
		fields["mime"] = mimeType
	}
	body, contentType, err := multipartBody(filename, data, fields)
	if err != nil {
		return nil, err
	}
	var receipt coordinator.AnchorReceipt
	err = c.doJSON(ctx, false, &receipt, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPost, c.patientPath(patientID, "anchor"), contentType, bytes.NewReader(body))
	})
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Verify checks the current document, or the one anchored by txID
func (c *Client) Verify(ctx context.Context, patientID, txID string) (*coordinator.VerifyResult, error) {
	payload, err := json.Marshal(map[string]string{"txId": txID})
	if err != nil {
		return nil, err
	}
	var result coordinator.VerifyResult
	// verification writes nothing, so it is retried like a read
	err = c.doJSON(ctx, true, &result, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPost, c.patientPath(patientID, "verify"), "application/json", bytes.NewReader(payload))
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Fetch downloads the verified plaintext
func (c *Client) Fetch(ctx context.Context, patientID, txID string) (*Download, error) {
	path := c.patientPath(patientID, "fetch")
	if txID != "" {
		path += "?" + url.Values{"txId": {txID}}.Encode()
	}
	resp, err := c.do(ctx, true, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, path, "", nil)
	})
	if err != nil {
		return nil, err
	}
	d := &Download{Data: resp.body, Mime: resp.header.Get("Content-Type")}
	if _, params, err := mime.ParseMediaType(resp.header.Get("Content-Disposition")); err == nil {
		d.Filename = params["filename"]
	}
	return d, nil
}

// PutPrivate stores a private payload
func (c *Client) PutPrivate(ctx context.Context, patientID string, data []byte) (*coordinator.PrivateReceipt, error) {
	body, contentType, err := multipartBody("private", data, nil)
	if err != nil {
		return nil, err
	}
	var receipt coordinator.PrivateReceipt
	err = c.doJSON(ctx, false, &receipt, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPut, c.patientPath(patientID, "private"), contentType, bytes.NewReader(body))
	})
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// GetPrivate reads the private payload
func (c *Client) GetPrivate(ctx context.Context, patientID string) ([]byte, error) {
	resp, err := c.do(ctx, true, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, c.patientPath(patientID, "private"), "", nil)
	})
	if err != nil {
		return nil, err
	}
	return resp.body, nil
}

// Orphans lists anchor attempts without a confirmed ledger write, last touched before olderThan ago
func (c *Client) Orphans(ctx context.Context, olderThan time.Duration) ([]journal.Entry, error) {
	path := "/api/anchors/orphans?" + url.Values{"olderThan": {olderThan.String()}}.Encode()
	entries := []journal.Entry{}
	err := c.doJSON(ctx, true, &entries, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, path, "", nil)
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) patientPath(patientID, action string) string {
	p := "/api/patients/" + url.PathEscape(patientID)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) newRequest(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, retry bool, result interface{}, newReq func() (*http.Request, error)) error {
	resp, err := c.do(ctx, retry, newReq)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.body, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// do sends the request built by newReq. With retry set, transport failures and gateway
// errors are retried with exponential backoff; everything else fails at once.
func (c *Client) do(ctx context.Context, retry bool, newReq func() (*http.Request, error)) (*response, error) {
	var out *response

	operation := func() error {
		req, err := newReq()
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return backoff.Permanent(fmt.Errorf("%s %s: %v: %w", req.Method, req.URL.Path, ctxErr, domain.ErrTimeout))
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return fmt.Errorf("%s %s: %v: %w", req.Method, req.URL.Path, err, domain.ErrTimeout)
			}
			return fmt.Errorf("%s %s: %v: %w", req.Method, req.URL.Path, err, domain.ErrTransport)
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				logger.Warn("failed to close response body", zap.Error(err), zap.String("url", req.URL.String()))
			}
		}()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %v: %w", err, domain.ErrTransport)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			apiErr := decodeAPIError(resp.StatusCode, body)
			if isRetryableStatus(resp.StatusCode) {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}

		out = &response{header: resp.Header, body: body}
		return nil
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if retry {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 250 * time.Millisecond
		b.MaxInterval = 5 * time.Second
		b.MaxElapsedTime = c.maxElapsed
		b.Multiplier = 2.0
		b.RandomizationFactor = 0.5
		policy = b
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("request failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, err
	}
	return out, nil
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
		return true
	}
	return false
}

func decodeAPIError(status int, body []byte) *APIError {
	var envelope struct {
		Error APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Code == "" {
		return &APIError{Status: status, Code: "http_error", Message: strings.TrimSpace(string(body))}
	}
	envelope.Error.Status = status
	return &envelope.Error
}

func multipartBody(filename string, data []byte, fields map[string]string) ([]byte, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
