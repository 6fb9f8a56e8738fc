package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ehranchor/internal/coordinator"
	"ehranchor/internal/domain"
	"ehranchor/internal/journal"
	"ehranchor/model"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) RegisterPatient(ctx context.Context, patientID, ownerOrg string) (*model.PatientReference, error) {
	args := m.Called(ctx, patientID, ownerOrg)
	ref, _ := args.Get(0).(*model.PatientReference)
	return ref, args.Error(1)
}

func (m *mockService) ReadPatient(ctx context.Context, patientID string) (*model.PatientReference, error) {
	args := m.Called(ctx, patientID)
	ref, _ := args.Get(0).(*model.PatientReference)
	return ref, args.Error(1)
}

func (m *mockService) History(ctx context.Context, patientID string) ([]model.HistoryRecord, error) {
	args := m.Called(ctx, patientID)
	records, _ := args.Get(0).([]model.HistoryRecord)
	return records, args.Error(1)
}

func (m *mockService) Anchor(ctx context.Context, patientID string, doc []byte, mime string) (*coordinator.AnchorReceipt, error) {
	args := m.Called(ctx, patientID, doc, mime)
	r, _ := args.Get(0).(*coordinator.AnchorReceipt)
	return r, args.Error(1)
}

func (m *mockService) Verify(ctx context.Context, patientID, txID string) (*coordinator.VerifyResult, error) {
	args := m.Called(ctx, patientID, txID)
	r, _ := args.Get(0).(*coordinator.VerifyResult)
	return r, args.Error(1)
}

func (m *mockService) Fetch(ctx context.Context, patientID, txID string) (*coordinator.Document, error) {
	args := m.Called(ctx, patientID, txID)
	d, _ := args.Get(0).(*coordinator.Document)
	return d, args.Error(1)
}

func (m *mockService) StorePrivate(ctx context.Context, patientID string, payload []byte) (*coordinator.PrivateReceipt, error) {
	args := m.Called(ctx, patientID, payload)
	r, _ := args.Get(0).(*coordinator.PrivateReceipt)
	return r, args.Error(1)
}

func (m *mockService) LoadPrivate(ctx context.Context, patientID string) ([]byte, error) {
	args := m.Called(ctx, patientID)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

type stubJournal struct {
	journal.Journal
	entries []journal.Entry
	since   time.Time
}

func (j *stubJournal) ListUnrecorded(ctx context.Context, olderThan time.Time) ([]journal.Entry, error) {
	j.since = olderThan
	return j.entries, nil
}

func newRouter(svc Service, j journal.Journal) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	SetupRoutes(router, NewHandler(svc, j))
	return router
}

func multipartBody(t *testing.T, fields map[string]string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if file != nil {
		part, err := w.CreateFormFile("file", "upload.bin")
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   ErrorCode
	}{
		{"unauthorized", fmt.Errorf("x: %w", domain.ErrUnauthorized), http.StatusForbidden, errCodeUnauthorized},
		{"already exists", fmt.Errorf("x: %w", domain.ErrAlreadyExists), http.StatusConflict, errCodeAlreadyExists},
		{"not anchored", fmt.Errorf("x: %w", domain.ErrNotAnchored), http.StatusNotFound, errCodeNotAnchored},
		{"object unavailable", fmt.Errorf("x: %w", domain.ErrObjectUnavailable), http.StatusNotFound, errCodeObjectUnavailable},
		{"not found", fmt.Errorf("x: %w", domain.ErrNotFound), http.StatusNotFound, errCodeNotFound},
		{"malformed", fmt.Errorf("x: %w", domain.ErrMalformedInput), http.StatusBadRequest, errCodeBadRequest},
		{"integrity", fmt.Errorf("x: %w", domain.ErrIntegrity), http.StatusUnprocessableEntity, errCodeIntegrityFailed},
		{"timeout", fmt.Errorf("x: %w", domain.ErrTimeout), http.StatusGatewayTimeout, errCodeTimeout},
		{"transport", fmt.Errorf("x: %w", domain.ErrTransport), http.StatusBadGateway, errCodeTransport},
		{"remote classified", domain.Classify("ReadPatient: patient 'P1': not found"), http.StatusNotFound, errCodeNotFound},
		{"too large", &http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge, errCodePayloadTooLarge},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, errCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, _ := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestRegisterPatient_DefaultsOwner(t *testing.T) {
	svc := &mockService{}
	svc.On("RegisterPatient", mock.Anything, "P1", DefaultOwnerOrg).
		Return(&model.PatientReference{PatientID: "P1", OwnerOrg: DefaultOwnerOrg}, nil).Once()
	svc.On("RegisterPatient", mock.Anything, "P2", "Org2MSP").
		Return(&model.PatientReference{PatientID: "P2", OwnerOrg: "Org2MSP"}, nil).Once()
	router := newRouter(svc, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/patients/P1/register", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/patients/P2/register", bytes.NewBufferString(`{"ownerOrg":"Org2MSP"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var ref model.PatientReference
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ref))
	assert.Equal(t, "Org2MSP", ref.OwnerOrg)
	svc.AssertExpectations(t)
}

func TestRegisterPatient_InvalidJSON(t *testing.T) {
	router := newRouter(&mockService{}, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/patients/P1/register", bytes.NewBufferString(`{"ownerOrg":`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errCodeBadRequest, decodeError(t, rec).Code)
}

func TestGetPatient_ErrorMapping(t *testing.T) {
	svc := &mockService{}
	svc.On("ReadPatient", mock.Anything, "ghost").
		Return(nil, &coordinator.StageError{Op: "read patient", Stage: coordinator.StageLedger, Err: domain.Classify("patient 'ghost': not found")})
	svc.On("ReadPatient", mock.Anything, "P1").
		Return(nil, fmt.Errorf("AdminContract:ReadPatient: %w", domain.ErrUnauthorized))
	router := newRouter(svc, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/patients/ghost", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	detail := decodeError(t, rec)
	assert.Equal(t, errCodeNotFound, detail.Code)
	assert.Contains(t, detail.Details, "ghost")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/patients/P1", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAnchor_SniffsMime(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	svc := &mockService{}
	svc.On("Anchor", mock.Anything, "P1", png, "image/png").
		Return(&coordinator.AnchorReceipt{PatientID: "P1", Mime: "image/png", TxID: "tx1"}, nil).Once()
	svc.On("Anchor", mock.Anything, "P1", []byte("hello world"), "application/pdf").
		Return(&coordinator.AnchorReceipt{PatientID: "P1", Mime: "application/pdf", TxID: "tx2"}, nil).Once()
	router := newRouter(svc, nil)

	body, contentType := multipartBody(t, nil, png)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/patients/P1/anchor", body)
	req.Header.Set("Content-Type", contentType)
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	body, contentType = multipartBody(t, map[string]string{"mime": "application/pdf"}, []byte("hello world"))
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/patients/P1/anchor", body)
	req.Header.Set("Content-Type", contentType)
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var receipt coordinator.AnchorReceipt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
	assert.Equal(t, "tx2", receipt.TxID)
	svc.AssertExpectations(t)
}

func TestAnchor_RequiresFile(t *testing.T) {
	svc := &mockService{}
	router := newRouter(svc, nil)

	body, contentType := multipartBody(t, map[string]string{"mime": "text/plain"}, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/patients/P1/anchor", body)
	req.Header.Set("Content-Type", contentType)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "file is required", decodeError(t, rec).Message)
	svc.AssertNotCalled(t, "Anchor", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestVerify_PassesTxID(t *testing.T) {
	svc := &mockService{}
	svc.On("Verify", mock.Anything, "P1", "").
		Return(&coordinator.VerifyResult{OK: true}, nil).Once()
	svc.On("Verify", mock.Anything, "P1", "abc").
		Return(&coordinator.VerifyResult{OK: false, Pointer: coordinator.Pointer{TxID: "abc"}}, nil).Once()
	router := newRouter(svc, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/patients/P1/verify", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"address":"","fingerprint":"","mime":"","size":0,"updatedAt":""}`, rec.Body.String())

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/patients/P1/verify", bytes.NewBufferString(`{"txId":"abc"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var result coordinator.VerifyResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.OK)
	assert.Equal(t, "abc", result.TxID)
	svc.AssertExpectations(t)
}

func TestFetch_Headers(t *testing.T) {
	svc := &mockService{}
	svc.On("Fetch", mock.Anything, "P1", "").
		Return(&coordinator.Document{Data: []byte("hello"), Pointer: coordinator.Pointer{Mime: "text/plain"}}, nil)
	svc.On("Fetch", mock.Anything, "P1", "0123456789abcdef").
		Return(&coordinator.Document{Data: []byte("old"), Pointer: coordinator.Pointer{Mime: "application/pdf"}}, nil)
	svc.On("Fetch", mock.Anything, "P2", "").
		Return(nil, fmt.Errorf("fingerprint mismatch: %w", domain.ErrIntegrity))
	router := newRouter(svc, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/patients/P1/fetch", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=P1-current`, rec.Header().Get("Content-Disposition"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/patients/P1/fetch?txId=0123456789abcdef", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename=P1-01234567`, rec.Header().Get("Content-Disposition"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/patients/P2/fetch", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, errCodeIntegrityFailed, decodeError(t, rec).Code)
	assert.NotContains(t, rec.Body.String(), "hello")
}

func TestPrivate(t *testing.T) {
	svc := &mockService{}
	svc.On("StorePrivate", mock.Anything, "P1", []byte("notes")).
		Return(&coordinator.PrivateReceipt{PatientID: "P1", Size: 5, TxID: "tx"}, nil)
	svc.On("LoadPrivate", mock.Anything, "P1").Return([]byte("notes"), nil)
	router := newRouter(svc, nil)

	body, contentType := multipartBody(t, nil, []byte("notes"))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/patients/P1/private", body)
	req.Header.Set("Content-Type", contentType)
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/patients/P1/private", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "notes", rec.Body.String())
}

func TestListOrphans(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(&mockService{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/anchors/orphans", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	j := &stubJournal{entries: []journal.Entry{{ID: "01", PatientID: "P1", State: journal.StateFailed}}}
	router := newRouter(&mockService{}, j)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/anchors/orphans?olderThan=1h", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.WithinDuration(t, time.Now().Add(-time.Hour), j.since, time.Minute)

	var entries []journal.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, journal.StateFailed, entries[0].State)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/anchors/orphans?olderThan=soon", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
