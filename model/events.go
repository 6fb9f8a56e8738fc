package model

// Chaincode event names.
const (
	EventPatientRegistered     = "PatientRegistered"
	EventMedicalDetailsUpdated = "MedicalDetailsUpdated"
	EventPrivatePayloadWritten = "PrivatePayloadWritten"
)

// PatientEvent is the payload attached to chaincode events. It never carries document content.
type PatientEvent struct {
	PatientID     string  `json:"patientId"`
	OwnerOrg      string  `json:"ownerOrg,omitempty"`
	LatestCid     *string `json:"latestCid,omitempty"`
	LatestDocHash *string `json:"latestDocHash,omitempty"`
	Mime          *string `json:"mime,omitempty"`
	Size          *string `json:"size,omitempty"`
	Timestamp     string  `json:"timestamp"`
	Actor         string  `json:"actor"` // MSP id of the invoking organization
}
