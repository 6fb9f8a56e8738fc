package contract

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"ehranchor/internal/domain"
	"ehranchor/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// minSealedPayloadSize is the decoded size of a sealed payload with an empty ciphertext.
const minSealedPayloadSize = 12 + 16

// DoctorContract updates the anchored document pointer and manages the private payload.
type DoctorContract struct {
	contractapi.Contract
	Policy AuthorizationPolicy
}

// NewDoctorContract creates the contract under its ledger name. A nil policy falls back to
// DefaultParticipants.
func NewDoctorContract(policy AuthorizationPolicy) *DoctorContract {
	c := &DoctorContract{Policy: policy}
	c.Name = model.DoctorContractName
	return c
}

// UpdatePatientMedicalDetails replaces the four pointer fields of a registered patient.
// Every call supplies the full new state: each empty input clears its own field, and a
// non-empty size must be a decimal byte count.
func (c *DoctorContract) UpdatePatientMedicalDetails(ctx contractapi.TransactionContextInterface, patientID, cid, docHash, mime, size string) (string, error) {
	logger.Infof("Chaincode Call: UpdatePatientMedicalDetails '%s' cid '%s'", patientID, cid)

	caller, err := authorize(ctx, c.Policy, "UpdatePatientMedicalDetails")
	if err != nil {
		return "", err
	}
	key, err := createPatientCompositeKey(ctx, patientID)
	if err != nil {
		return "", fmt.Errorf("UpdatePatientMedicalDetails: %w", err)
	}
	if err := validateSize(size); err != nil {
		return "", fmt.Errorf("UpdatePatientMedicalDetails: %w", err)
	}

	ref, err := getPatient(ctx, key, strings.TrimSpace(patientID))
	if err != nil {
		return "", fmt.Errorf("UpdatePatientMedicalDetails: %w", err)
	}
	now, err := getTxTimestamp(ctx)
	if err != nil {
		return "", fmt.Errorf("UpdatePatientMedicalDetails: %w", err)
	}

	ref.LatestCid = nullable(cid)
	ref.LatestDocHash = nullable(docHash)
	ref.Mime = nullable(mime)
	ref.Size = nullable(size)
	ref.UpdatedAt = now
	if err := putPatient(ctx, key, ref); err != nil {
		return "", fmt.Errorf("UpdatePatientMedicalDetails: %w", err)
	}

	emitPatientEvent(ctx, model.EventMedicalDetailsUpdated, model.PatientEvent{
		PatientID:     ref.PatientID,
		LatestCid:     ref.LatestCid,
		LatestDocHash: ref.LatestDocHash,
		Mime:          ref.Mime,
		Size:          ref.Size,
		Timestamp:     now,
		Actor:         caller.MSPID,
	})
	return marshalResult(ref)
}

// validateSize accepts an empty size, which clears the field, or a decimal byte count.
func validateSize(size string) error {
	if size == "" {
		return nil
	}
	if _, err := strconv.ParseUint(size, 10, 63); err != nil {
		return fmt.Errorf("size '%s' is not a byte count: %w", size, domain.ErrMalformedInput)
	}
	return nil
}

// WritePrivate stores the sealed payload for a registered patient in the private collection.
// The Base64 text arrives in the transient map and is stored exactly as received.
func (c *DoctorContract) WritePrivate(ctx contractapi.TransactionContextInterface, patientID string) (string, error) {
	logger.Infof("Chaincode Call: WritePrivate '%s'", patientID)

	caller, err := authorize(ctx, c.Policy, "WritePrivate")
	if err != nil {
		return "", err
	}
	key, err := createPatientCompositeKey(ctx, patientID)
	if err != nil {
		return "", fmt.Errorf("WritePrivate: %w", err)
	}
	patientID = strings.TrimSpace(patientID)
	if _, err := getPatient(ctx, key, patientID); err != nil {
		return "", fmt.Errorf("WritePrivate: %w", err)
	}

	transient, err := ctx.GetStub().GetTransient()
	if err != nil {
		return "", fmt.Errorf("WritePrivate: failed to read transient data: %w", err)
	}
	payload, ok := transient[model.TransientPayloadKey]
	if !ok || len(payload) == 0 {
		return "", fmt.Errorf("WritePrivate: transient field '%s' is required: %w", model.TransientPayloadKey, domain.ErrMalformedInput)
	}
	decoded, err := base64.StdEncoding.DecodeString(string(payload))
	if err != nil {
		return "", fmt.Errorf("WritePrivate: payload is not valid Base64: %w", domain.ErrMalformedInput)
	}
	if len(decoded) < minSealedPayloadSize {
		return "", fmt.Errorf("WritePrivate: sealed payload decodes to %d bytes, need at least %d: %w", len(decoded), minSealedPayloadSize, domain.ErrMalformedInput)
	}

	if err := ctx.GetStub().PutPrivateData(model.PrivateCollection, key, payload); err != nil {
		return "", fmt.Errorf("WritePrivate: failed to put private data: %w", err)
	}

	now, err := getTxTimestamp(ctx)
	if err != nil {
		return "", fmt.Errorf("WritePrivate: %w", err)
	}
	emitPatientEvent(ctx, model.EventPrivatePayloadWritten, model.PatientEvent{
		PatientID: patientID,
		Timestamp: now,
		Actor:     caller.MSPID,
	})
	return "OK", nil
}

// ReadPrivate returns the stored Base64 text, or an empty string when nothing was written.
// Patient existence is not rechecked: writes are already gated on registration.
func (c *DoctorContract) ReadPrivate(ctx contractapi.TransactionContextInterface, patientID string) (string, error) {
	logger.Debugf("Chaincode Call: ReadPrivate '%s'", patientID)

	if _, err := authorize(ctx, c.Policy, "ReadPrivate"); err != nil {
		return "", err
	}
	key, err := createPatientCompositeKey(ctx, patientID)
	if err != nil {
		return "", fmt.Errorf("ReadPrivate: %w", err)
	}
	data, err := ctx.GetStub().GetPrivateData(model.PrivateCollection, key)
	if err != nil {
		return "", fmt.Errorf("ReadPrivate: failed to read private data: %w", err)
	}
	return string(data), nil
}
