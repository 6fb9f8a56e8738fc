package coordinator

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"ehranchor/internal/events"
	"ehranchor/internal/fingerprint"
	"ehranchor/internal/journal"
	"ehranchor/internal/ledger"
	"ehranchor/internal/logger"
	"ehranchor/model"
)

// AnchorReceipt describes a committed anchor
type AnchorReceipt struct {
	PatientID   string `json:"patientId"`
	Address     string `json:"address"`
	Fingerprint string `json:"fingerprint"`
	Mime        string `json:"mime"`
	Size        int64  `json:"size"`
	UpdatedAt   string `json:"updatedAt"`
	TxID        string `json:"txId"`
}

// Anchor seals doc, stores the sealed object and records its pointer on the ledger.
// The fingerprint is computed over the plaintext. A storage failure leaves the ledger
// untouched; a ledger failure after the push may leave an orphan object, which is
// recorded in the journal when one is configured.
func (s *Service) Anchor(ctx context.Context, patientID string, doc []byte, mime string) (*AnchorReceipt, error) {
	const op = "anchor"
	start := time.Now()

	patientID, err := normalizePatientID(op, patientID)
	if err != nil {
		return nil, err
	}
	mime = strings.TrimSpace(mime)
	if mime == "" {
		mime = DefaultMime
	}

	docHash := fingerprint.Of(doc)
	sealed, err := s.sealer.Seal(doc)
	if err != nil {
		return nil, stageError(op, StageEncryption, err)
	}

	address, err := s.store.Add(ctx, sealed)
	if err != nil {
		logger.WarnCtx(ctx, "Sealed object push failed",
			zap.String("patientId", patientID),
			zap.Error(err))
		return nil, stageError(op, StageStorage, err)
	}

	attempt := s.recordPush(ctx, journal.Entry{
		PatientID: patientID,
		Address:   address,
		DocHash:   docHash,
		Mime:      mime,
		Size:      int64(len(doc)),
	})

	var (
		ref  model.PatientReference
		txID string
	)
	err = ledger.WithSession(ctx, s.ledger, func(sess ledger.Session) error {
		res, err := sess.Submit(ctx, model.DoctorContractName, model.TxUpdatePatientMedicalDetails,
			patientID, address, docHash, mime, strconv.Itoa(len(doc)))
		if err != nil {
			return err
		}
		txID = res.TxID
		// the payload is the reference as committed by this transaction
		return json.Unmarshal(res.Payload, &ref)
	})
	if err != nil {
		// decoding the result can fail after a successful commit
		if txID != "" {
			s.markRecorded(ctx, attempt, txID)
		} else {
			s.markFailed(ctx, attempt, err)
		}
		logger.WarnCtx(ctx, "Anchor ledger write failed",
			zap.String("patientId", patientID),
			zap.String("address", address),
			zap.String("txId", txID),
			zap.Error(err))
		return nil, stageError(op, StageLedger, err)
	}
	s.markRecorded(ctx, attempt, txID)

	receipt := &AnchorReceipt{
		PatientID:   patientID,
		Address:     address,
		Fingerprint: docHash,
		Mime:        mime,
		Size:        int64(len(doc)),
		UpdatedAt:   ref.UpdatedAt,
		TxID:        txID,
	}

	logger.InfoCtx(ctx, "Document anchored",
		zap.String("patientId", patientID),
		zap.String("address", receipt.Address),
		zap.String("fingerprint", receipt.Fingerprint),
		zap.Int64("size", receipt.Size),
		zap.String("txId", txID),
		zap.Duration("elapsed", time.Since(start)))

	s.publish(ctx, events.Event{
		Kind:        events.KindAnchored,
		PatientID:   patientID,
		TxID:        txID,
		Address:     receipt.Address,
		Fingerprint: receipt.Fingerprint,
		Mime:        receipt.Mime,
		Size:        receipt.Size,
		Timestamp:   receipt.UpdatedAt,
	})
	return receipt, nil
}

// Journal bookkeeping is advisory: failures are logged and never change the anchor outcome.

func (s *Service) recordPush(ctx context.Context, e journal.Entry) string {
	if s.journal == nil {
		return ""
	}
	saved, err := s.journal.RecordPush(context.WithoutCancel(ctx), e)
	if err != nil {
		logger.WarnCtx(ctx, "Failed to journal object push",
			zap.String("patientId", e.PatientID),
			zap.String("address", e.Address),
			zap.Error(err))
		return ""
	}
	return saved.ID
}

func (s *Service) markRecorded(ctx context.Context, id, txID string) {
	if s.journal == nil || id == "" {
		return
	}
	if err := s.journal.MarkRecorded(context.WithoutCancel(ctx), id, txID); err != nil {
		logger.WarnCtx(ctx, "Failed to journal ledger commit",
			zap.String("attempt", id),
			zap.String("txId", txID),
			zap.Error(err))
	}
}

func (s *Service) markFailed(ctx context.Context, id string, cause error) {
	if s.journal == nil || id == "" {
		return
	}
	if err := s.journal.MarkFailed(context.WithoutCancel(ctx), id, cause); err != nil {
		logger.WarnCtx(ctx, "Failed to journal ledger failure",
			zap.String("attempt", id),
			zap.Error(err))
	}
}
