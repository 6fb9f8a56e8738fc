package contract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ehranchor/internal/domain"
	"ehranchor/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// isoTimeLayout matches the millisecond UTC form used for all ledger timestamps.
const isoTimeLayout = "2006-01-02T15:04:05.000Z"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(isoTimeLayout)
}

// getTxTimestamp returns the transaction time agreed by all endorsers, formatted for storage.
func getTxTimestamp(ctx contractapi.TransactionContextInterface) (string, error) {
	ts, err := ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return "", fmt.Errorf("failed to get transaction timestamp: %w", err)
	}
	return formatTimestamp(ts.AsTime()), nil
}

// createPatientCompositeKey builds the key shared by the public reference and the private payload.
func createPatientCompositeKey(ctx contractapi.TransactionContextInterface, patientID string) (string, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return "", fmt.Errorf("patientID cannot be empty: %w", domain.ErrMalformedInput)
	}
	return ctx.GetStub().CreateCompositeKey(model.PatientRefObjectType, []string{patientID})
}

// getPatient loads the reference stored under key, failing with domain.ErrNotFound if absent.
func getPatient(ctx contractapi.TransactionContextInterface, key, patientID string) (*model.PatientReference, error) {
	data, err := ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read patient '%s': %w", patientID, err)
	}
	if data == nil {
		return nil, fmt.Errorf("patient '%s' does not exist: %w", patientID, domain.ErrNotFound)
	}
	var ref model.PatientReference
	if err := json.Unmarshal(data, &ref); err != nil {
		return nil, fmt.Errorf("failed to unmarshal patient '%s': %w", patientID, err)
	}
	return &ref, nil
}

func putPatient(ctx contractapi.TransactionContextInterface, key string, ref *model.PatientReference) error {
	data, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("failed to marshal patient '%s': %w", ref.PatientID, err)
	}
	if err := ctx.GetStub().PutState(key, data); err != nil {
		return fmt.Errorf("failed to put patient '%s' to world state: %w", ref.PatientID, err)
	}
	return nil
}

// nullable maps empty input to nil.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// marshalResult renders a transaction result as JSON text.
// Results are returned as strings because the nullable pointer fields cannot be described
// in contract metadata.
func marshalResult(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(data), nil
}

// emitPatientEvent sets the chaincode event for the transaction. Failure only logs a warning.
func emitPatientEvent(ctx contractapi.TransactionContextInterface, name string, payload model.PatientEvent) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Warningf("Failed to marshal event %s for patient '%s': %v", name, payload.PatientID, err)
		return
	}
	if err := ctx.GetStub().SetEvent(name, data); err != nil {
		logger.Warningf("Failed to set event %s for patient '%s': %v", name, payload.PatientID, err)
	}
}
