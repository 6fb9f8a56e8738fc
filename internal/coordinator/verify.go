package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"ehranchor/internal/domain"
	"ehranchor/internal/fingerprint"
	"ehranchor/internal/logger"
	"ehranchor/model"
)

// Pointer is an anchored document reference as recorded on the ledger
type Pointer struct {
	Address     string `json:"address"`
	Fingerprint string `json:"fingerprint"`
	Mime        string `json:"mime"`
	Size        int64  `json:"size"`
	UpdatedAt   string `json:"updatedAt"`
	// TxID is set when the pointer was resolved from a historical version
	TxID string `json:"txId,omitempty"`
}

// VerifyResult reports whether the stored object still matches the ledger fingerprint
type VerifyResult struct {
	OK bool `json:"ok"`
	Pointer
}

// Document is a fetched and verified plaintext
type Document struct {
	Data []byte
	Pointer
}

// Verify retrieves the object the ledger points at, opens it and compares its fingerprint.
// With an empty txID the current pointer is used; otherwise the pointer recorded by that
// transaction. A corrupted or substituted object yields OK=false rather than an error.
func (s *Service) Verify(ctx context.Context, patientID, txID string) (*VerifyResult, error) {
	const op = "verify"
	ptr, err := s.resolve(ctx, op, patientID, txID)
	if err != nil {
		return nil, err
	}

	sealed, err := s.store.Retrieve(ctx, ptr.Address)
	if err != nil {
		return nil, stageError(op, StageStorage, err)
	}

	result := &VerifyResult{Pointer: *ptr}
	plain, err := s.sealer.Open(sealed)
	switch {
	case err == nil:
		result.OK = fingerprint.Equal(fingerprint.Of(plain), ptr.Fingerprint)
	case errors.Is(err, domain.ErrIntegrity), errors.Is(err, domain.ErrMalformedInput):
		result.OK = false
	default:
		return nil, stageError(op, StageDecryption, err)
	}

	if !result.OK {
		logger.WarnCtx(ctx, "Document failed verification",
			zap.String("patientId", patientID),
			zap.String("address", ptr.Address),
			zap.String("txId", txID),
			zap.NamedError("openError", err))
	}
	return result, nil
}

// Fetch returns the plaintext of the anchored document after checking it against the
// ledger fingerprint. Plaintext is never returned when the check fails.
func (s *Service) Fetch(ctx context.Context, patientID, txID string) (*Document, error) {
	const op = "fetch"
	ptr, err := s.resolve(ctx, op, patientID, txID)
	if err != nil {
		return nil, err
	}

	sealed, err := s.store.Retrieve(ctx, ptr.Address)
	if err != nil {
		return nil, stageError(op, StageStorage, err)
	}

	plain, err := s.sealer.Open(sealed)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedInput) {
			err = fmt.Errorf("%v: %w", err, domain.ErrIntegrity)
		}
		return nil, stageError(op, StageDecryption, err)
	}
	if !fingerprint.Equal(fingerprint.Of(plain), ptr.Fingerprint) {
		return nil, stageError(op, StageVerification,
			fmt.Errorf("fingerprint mismatch for %s: %w", ptr.Address, domain.ErrIntegrity))
	}

	if ptr.Mime == "" {
		ptr.Mime = DefaultMime
	}
	return &Document{Data: plain, Pointer: *ptr}, nil
}

// resolve finds the pointer for patientID, either the current one or the one written by txID
func (s *Service) resolve(ctx context.Context, op, patientID, txID string) (*Pointer, error) {
	patientID, err := normalizePatientID(op, patientID)
	if err != nil {
		return nil, err
	}
	txID = strings.TrimSpace(txID)

	if txID == "" {
		ref, err := s.readPatient(ctx, patientID)
		if err != nil {
			return nil, stageError(op, StageLedger, err)
		}
		if !ref.HasDocument() {
			return nil, stageError(op, StageLedger,
				fmt.Errorf("patient '%s': %w", patientID, domain.ErrNotAnchored))
		}
		return &Pointer{
			Address:     model.StringValue(ref.LatestCid),
			Fingerprint: model.StringValue(ref.LatestDocHash),
			Mime:        model.StringValue(ref.Mime),
			Size:        parseSize(ref.Size),
			UpdatedAt:   ref.UpdatedAt,
		}, nil
	}

	records, err := s.history(ctx, patientID)
	if err != nil {
		return nil, stageError(op, StageLedger, err)
	}
	for _, r := range records {
		if r.TxID != txID {
			continue
		}
		if r.IsDelete || !r.HasDocument() {
			return nil, stageError(op, StageLedger,
				fmt.Errorf("patient '%s' at %s: %w", patientID, txID, domain.ErrNotAnchored))
		}
		return &Pointer{
			Address:     model.StringValue(r.LatestCid),
			Fingerprint: model.StringValue(r.LatestDocHash),
			Mime:        model.StringValue(r.Mime),
			Size:        parseSize(r.Size),
			UpdatedAt:   model.StringValue(r.UpdatedAt),
			TxID:        r.TxID,
		}, nil
	}
	return nil, stageError(op, StageLedger,
		fmt.Errorf("transaction %s in history of patient '%s': %w", txID, patientID, domain.ErrNotFound))
}
