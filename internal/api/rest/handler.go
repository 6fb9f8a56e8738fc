package rest

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"ehranchor/internal/coordinator"
	"ehranchor/internal/journal"
	"ehranchor/model"
)

// DefaultOwnerOrg is used when registration names no owner
const DefaultOwnerOrg = "Org1MSP"

// Service is the coordinator surface the handlers call
type Service interface {
	RegisterPatient(ctx context.Context, patientID, ownerOrg string) (*model.PatientReference, error)
	ReadPatient(ctx context.Context, patientID string) (*model.PatientReference, error)
	History(ctx context.Context, patientID string) ([]model.HistoryRecord, error)
	Anchor(ctx context.Context, patientID string, doc []byte, mime string) (*coordinator.AnchorReceipt, error)
	Verify(ctx context.Context, patientID, txID string) (*coordinator.VerifyResult, error)
	Fetch(ctx context.Context, patientID, txID string) (*coordinator.Document, error)
	StorePrivate(ctx context.Context, patientID string, payload []byte) (*coordinator.PrivateReceipt, error)
	LoadPrivate(ctx context.Context, patientID string) ([]byte, error)
}

// Handler defines the REST API handlers
type Handler interface {
	// RegisterPatient creates the ledger reference for a patient
	// POST /api/patients/:pid/register {"ownerOrg": "..."}
	RegisterPatient(c *gin.Context)

	// GetPatient returns the current reference
	// GET /api/patients/:pid
	GetPatient(c *gin.Context)

	// GetHistory returns every committed version of the reference, oldest first
	// GET /api/patients/:pid/history
	GetHistory(c *gin.Context)

	// Anchor seals and stores an uploaded document and records its pointer
	// POST /api/patients/:pid/anchor (multipart: file, mime)
	Anchor(c *gin.Context)

	// Verify checks the stored object against the ledger fingerprint
	// POST /api/patients/:pid/verify {"txId": "..."}
	Verify(c *gin.Context)

	// Fetch streams the verified plaintext
	// GET /api/patients/:pid/fetch?txId=<txId>
	Fetch(c *gin.Context)

	// PutPrivate seals an uploaded payload into the private collection
	// PUT /api/patients/:pid/private (multipart: file)
	PutPrivate(c *gin.Context)

	// GetPrivate returns the opened private payload
	// GET /api/patients/:pid/private
	GetPrivate(c *gin.Context)

	// ListOrphans returns anchor attempts without a confirmed ledger write
	// GET /api/anchors/orphans?olderThan=<duration>
	ListOrphans(c *gin.Context)

	// HealthCheck returns the health status of the API
	// GET /healthz
	HealthCheck(c *gin.Context)
}

type handler struct {
	service Service
	journal journal.Journal
}

// NewHandler creates a REST handler. j may be nil when the journal is disabled.
func NewHandler(service Service, j journal.Journal) Handler {
	return &handler{service: service, journal: j}
}

type registerRequest struct {
	OwnerOrg string `json:"ownerOrg"`
}

type verifyRequest struct {
	TxID string `json:"txId"`
}

func (h *handler) RegisterPatient(c *gin.Context) {
	var req registerRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	owner := strings.TrimSpace(req.OwnerOrg)
	if owner == "" {
		owner = DefaultOwnerOrg
	}

	ref, err := h.service.RegisterPatient(c.Request.Context(), c.Param("pid"), owner)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ref)
}

func (h *handler) GetPatient(c *gin.Context) {
	ref, err := h.service.ReadPatient(c.Request.Context(), c.Param("pid"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ref)
}

func (h *handler) GetHistory(c *gin.Context) {
	records, err := h.service.History(c.Request.Context(), c.Param("pid"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *handler) Anchor(c *gin.Context) {
	data, ok := readUpload(c)
	if !ok {
		return
	}
	contentType := strings.TrimSpace(c.PostForm("mime"))
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}

	receipt, err := h.service.Anchor(c.Request.Context(), c.Param("pid"), data, contentType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (h *handler) Verify(c *gin.Context) {
	var req verifyRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	result, err := h.service.Verify(c.Request.Context(), c.Param("pid"), req.TxID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handler) Fetch(c *gin.Context) {
	pid := c.Param("pid")
	txID := c.Query("txId")

	doc, err := h.service.Fetch(c.Request.Context(), pid, txID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": attachmentName(pid, txID),
	}))
	c.Data(http.StatusOK, doc.Mime, doc.Data)
}

func (h *handler) PutPrivate(c *gin.Context) {
	data, ok := readUpload(c)
	if !ok {
		return
	}

	receipt, err := h.service.StorePrivate(c.Request.Context(), c.Param("pid"), data)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (h *handler) GetPrivate(c *gin.Context) {
	data, err := h.service.LoadPrivate(c.Request.Context(), c.Param("pid"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, coordinator.DefaultMime, data)
}

func (h *handler) ListOrphans(c *gin.Context) {
	if h.journal == nil {
		respondWithError(c, http.StatusNotFound, errCodeNotFound, "Anchor journal is disabled")
		return
	}

	olderThan := time.Duration(0)
	if raw := c.Query("olderThan"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			respondBadRequest(c, "Invalid olderThan duration", raw)
			return
		}
		olderThan = d
	}

	entries, err := h.journal.ListUnrecorded(c.Request.Context(), time.Now().Add(-olderThan))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// bindOptionalJSON decodes a JSON body into dst, accepting an empty body
func bindOptionalJSON(c *gin.Context, dst interface{}) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		respondBadRequest(c, "Invalid JSON body", err.Error())
		return false
	}
	return true
}

// readUpload returns the content of the multipart field "file"
func readUpload(c *gin.Context) ([]byte, bool) {
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, err)
			return nil, false
		}
		respondBadRequest(c, "file is required")
		return nil, false
	}
	f, err := header.Open()
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return data, true
}

// attachmentName names a download after the patient and the version it came from
func attachmentName(pid, txID string) string {
	if txID == "" {
		return pid + "-current"
	}
	if len(txID) > 8 {
		txID = txID[:8]
	}
	return pid + "-" + txID
}
