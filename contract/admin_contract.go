package contract

import (
	"fmt"
	"strings"

	"ehranchor/internal/domain"
	"ehranchor/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var logger = flogging.MustGetLogger("ehr.contract")

// AdminContract registers patients and serves their public metadata and audit history.
type AdminContract struct {
	contractapi.Contract
	Policy AuthorizationPolicy
}

// NewAdminContract creates the contract under its ledger name. A nil policy falls back to
// DefaultParticipants.
func NewAdminContract(policy AuthorizationPolicy) *AdminContract {
	c := &AdminContract{Policy: policy}
	c.Name = model.AdminContractName
	return c
}

// RegisterPatient creates the reference for a new patient with no document attached.
// Registration is create-once: an existing patient fails with an already-exists error.
func (c *AdminContract) RegisterPatient(ctx contractapi.TransactionContextInterface, patientID, ownerOrg string) (string, error) {
	logger.Infof("Chaincode Call: RegisterPatient '%s' owned by '%s'", patientID, ownerOrg)

	caller, err := authorize(ctx, c.Policy, "RegisterPatient")
	if err != nil {
		return "", err
	}
	key, err := createPatientCompositeKey(ctx, patientID)
	if err != nil {
		return "", fmt.Errorf("RegisterPatient: %w", err)
	}
	ownerOrg = strings.TrimSpace(ownerOrg)
	if ownerOrg == "" {
		return "", fmt.Errorf("RegisterPatient: ownerOrg cannot be empty: %w", domain.ErrMalformedInput)
	}
	patientID = strings.TrimSpace(patientID)

	existing, err := ctx.GetStub().GetState(key)
	if err != nil {
		return "", fmt.Errorf("RegisterPatient: failed to check patient '%s': %w", patientID, err)
	}
	if existing != nil {
		return "", fmt.Errorf("RegisterPatient: patient '%s' is already registered: %w", patientID, domain.ErrAlreadyExists)
	}

	now, err := getTxTimestamp(ctx)
	if err != nil {
		return "", fmt.Errorf("RegisterPatient: %w", err)
	}
	ref := &model.PatientReference{
		Type:      model.PatientRefObjectType,
		PatientID: patientID,
		OwnerOrg:  ownerOrg,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := putPatient(ctx, key, ref); err != nil {
		return "", fmt.Errorf("RegisterPatient: %w", err)
	}

	emitPatientEvent(ctx, model.EventPatientRegistered, model.PatientEvent{
		PatientID: patientID,
		OwnerOrg:  ownerOrg,
		Timestamp: now,
		Actor:     caller.MSPID,
	})
	logger.Infof("Patient '%s' registered by '%s'", patientID, caller.MSPID)
	return marshalResult(ref)
}

// ReadPatient returns the current reference of a registered patient.
func (c *AdminContract) ReadPatient(ctx contractapi.TransactionContextInterface, patientID string) (string, error) {
	logger.Debugf("Chaincode Call: ReadPatient '%s'", patientID)

	if _, err := authorize(ctx, c.Policy, "ReadPatient"); err != nil {
		return "", err
	}
	key, err := createPatientCompositeKey(ctx, patientID)
	if err != nil {
		return "", fmt.Errorf("ReadPatient: %w", err)
	}
	ref, err := getPatient(ctx, key, strings.TrimSpace(patientID))
	if err != nil {
		return "", fmt.Errorf("ReadPatient: %w", err)
	}
	return marshalResult(ref)
}

// History returns every committed version of the patient reference, as a JSON array in
// ledger delivery order. It is open to any caller.
func (c *AdminContract) History(ctx contractapi.TransactionContextInterface, patientID string) (string, error) {
	logger.Debugf("Chaincode Call: History '%s'", patientID)

	key, err := createPatientCompositeKey(ctx, patientID)
	if err != nil {
		return "", fmt.Errorf("History: %w", err)
	}
	records, err := readHistory(ctx, key)
	if err != nil {
		return "", fmt.Errorf("History: %w", err)
	}
	return marshalResult(records)
}
