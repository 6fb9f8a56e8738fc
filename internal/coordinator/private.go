package coordinator

import (
	"context"
	"encoding/base64"
	"fmt"

	"go.uber.org/zap"

	"ehranchor/internal/domain"
	"ehranchor/internal/events"
	"ehranchor/internal/fingerprint"
	"ehranchor/internal/ledger"
	"ehranchor/internal/logger"
	"ehranchor/model"
)

// PrivateReceipt describes a sealed payload written to the private collection
type PrivateReceipt struct {
	PatientID   string `json:"patientId"`
	Fingerprint string `json:"fingerprint"`
	Size        int64  `json:"size"`
	TxID        string `json:"txId"`
}

// StorePrivate seals payload and writes it to the private collection. The sealed bytes
// travel in the transient map and never appear in the transaction arguments.
func (s *Service) StorePrivate(ctx context.Context, patientID string, payload []byte) (*PrivateReceipt, error) {
	const op = "store private"
	patientID, err := normalizePatientID(op, patientID)
	if err != nil {
		return nil, err
	}

	sealed, err := s.sealer.Seal(payload)
	if err != nil {
		return nil, stageError(op, StageEncryption, err)
	}
	transient := map[string][]byte{
		model.TransientPayloadKey: []byte(base64.StdEncoding.EncodeToString(sealed)),
	}

	var txID string
	err = ledger.WithSession(ctx, s.ledger, func(sess ledger.Session) error {
		res, err := sess.SubmitWithTransient(ctx, model.DoctorContractName, model.TxWritePrivate, transient, patientID)
		if err != nil {
			return err
		}
		txID = res.TxID
		return nil
	})
	if err != nil {
		return nil, stageError(op, StageLedger, err)
	}

	receipt := &PrivateReceipt{
		PatientID:   patientID,
		Fingerprint: fingerprint.Of(payload),
		Size:        int64(len(payload)),
		TxID:        txID,
	}
	logger.InfoCtx(ctx, "Private payload written",
		zap.String("patientId", patientID),
		zap.Int64("size", receipt.Size),
		zap.String("txId", txID))
	s.publish(ctx, events.Event{
		Kind:      events.KindPrivateWritten,
		PatientID: patientID,
		TxID:      txID,
	})
	return receipt, nil
}

// LoadPrivate reads and opens the private payload of a patient.
// ErrNotFound is returned when nothing was written.
func (s *Service) LoadPrivate(ctx context.Context, patientID string) ([]byte, error) {
	const op = "load private"
	patientID, err := normalizePatientID(op, patientID)
	if err != nil {
		return nil, err
	}

	var stored []byte
	err = ledger.WithSession(ctx, s.ledger, func(sess ledger.Session) error {
		out, err := sess.Evaluate(ctx, model.DoctorContractName, model.TxReadPrivate, patientID)
		stored = out
		return err
	})
	if err != nil {
		return nil, stageError(op, StageLedger, err)
	}
	if len(stored) == 0 {
		return nil, stageError(op, StageLedger,
			fmt.Errorf("private payload of patient '%s': %w", patientID, domain.ErrNotFound))
	}

	sealed, err := base64.StdEncoding.DecodeString(string(stored))
	if err != nil {
		return nil, stageError(op, StageDecryption,
			fmt.Errorf("stored payload is not base64: %w", domain.ErrIntegrity))
	}
	plain, err := s.sealer.Open(sealed)
	if err != nil {
		return nil, stageError(op, StageDecryption, err)
	}
	return plain, nil
}
