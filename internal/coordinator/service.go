// Package coordinator ties sealing, the object store and the ledger contracts together.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"ehranchor/internal/domain"
	"ehranchor/internal/events"
	"ehranchor/internal/journal"
	"ehranchor/internal/ledger"
	"ehranchor/internal/logger"
	"ehranchor/internal/objectstore"
	"ehranchor/internal/sealing"
	"ehranchor/model"
)

// DefaultMime is used when a document is anchored without a declared type
const DefaultMime = "application/octet-stream"

// Params holds the collaborators of a Service
type Params struct {
	Sealer  *sealing.Engine   `validate:"required"`
	Store   objectstore.Store `validate:"required"`
	Ledger  ledger.Connector  `validate:"required"`
	Journal journal.Journal   // optional
	Events  events.Publisher  // optional
}

// Service runs the anchor, verify and fetch protocol. It holds no mutable state of its own
// and is safe for concurrent use.
type Service struct {
	sealer  *sealing.Engine
	store   objectstore.Store
	ledger  ledger.Connector
	journal journal.Journal
	events  events.Publisher
}

// New validates params and creates a Service
func New(p Params) (*Service, error) {
	if err := validator.New().Struct(p); err != nil {
		return nil, fmt.Errorf("invalid coordinator params: %w", err)
	}
	if p.Events == nil {
		p.Events = events.Nop{}
	}
	return &Service{
		sealer:  p.Sealer,
		store:   p.Store,
		ledger:  p.Ledger,
		journal: p.Journal,
		events:  p.Events,
	}, nil
}

// RegisterPatient creates the ledger reference for a new patient
func (s *Service) RegisterPatient(ctx context.Context, patientID, ownerOrg string) (*model.PatientReference, error) {
	const op = "register"
	patientID, err := normalizePatientID(op, patientID)
	if err != nil {
		return nil, err
	}

	var (
		ref  model.PatientReference
		txID string
	)
	err = ledger.WithSession(ctx, s.ledger, func(sess ledger.Session) error {
		res, err := sess.Submit(ctx, model.AdminContractName, model.TxRegisterPatient, patientID, ownerOrg)
		if err != nil {
			return err
		}
		txID = res.TxID
		return json.Unmarshal(res.Payload, &ref)
	})
	if err != nil {
		return nil, stageError(op, StageLedger, err)
	}

	logger.InfoCtx(ctx, "Patient registered",
		zap.String("patientId", patientID),
		zap.String("ownerOrg", ref.OwnerOrg),
		zap.String("txId", txID))
	s.publish(ctx, events.Event{
		Kind:      events.KindRegistered,
		PatientID: patientID,
		TxID:      txID,
		Timestamp: ref.CreatedAt,
	})
	return &ref, nil
}

// ReadPatient returns the current ledger reference
func (s *Service) ReadPatient(ctx context.Context, patientID string) (*model.PatientReference, error) {
	const op = "read patient"
	patientID, err := normalizePatientID(op, patientID)
	if err != nil {
		return nil, err
	}
	ref, err := s.readPatient(ctx, patientID)
	if err != nil {
		return nil, stageError(op, StageLedger, err)
	}
	return ref, nil
}

// History returns the committed versions of the patient reference, oldest first
func (s *Service) History(ctx context.Context, patientID string) ([]model.HistoryRecord, error) {
	const op = "history"
	patientID, err := normalizePatientID(op, patientID)
	if err != nil {
		return nil, err
	}
	records, err := s.history(ctx, patientID)
	if err != nil {
		return nil, stageError(op, StageLedger, err)
	}
	return records, nil
}

func (s *Service) readPatient(ctx context.Context, patientID string) (*model.PatientReference, error) {
	var ref model.PatientReference
	err := ledger.WithSession(ctx, s.ledger, func(sess ledger.Session) error {
		out, err := sess.Evaluate(ctx, model.AdminContractName, model.TxReadPatient, patientID)
		if err != nil {
			return err
		}
		return json.Unmarshal(out, &ref)
	})
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (s *Service) history(ctx context.Context, patientID string) ([]model.HistoryRecord, error) {
	records := []model.HistoryRecord{}
	err := ledger.WithSession(ctx, s.ledger, func(sess ledger.Session) error {
		out, err := sess.Evaluate(ctx, model.AdminContractName, model.TxHistory, patientID)
		if err != nil {
			return err
		}
		return json.Unmarshal(out, &records)
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// publish never fails the caller; notification is best effort
func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		logger.WarnCtx(ctx, "Failed to publish event",
			zap.String("kind", string(e.Kind)),
			zap.String("patientId", e.PatientID),
			zap.Error(err))
	}
}

func normalizePatientID(op, patientID string) (string, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return "", stageError(op, StageValidation, fmt.Errorf("patient id is required: %w", domain.ErrMalformedInput))
	}
	return patientID, nil
}

func parseSize(s *string) int64 {
	if s == nil {
		return 0
	}
	n, err := strconv.ParseInt(*s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
