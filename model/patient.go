package model

// PatientRefObjectType is the composite key namespace for patient references.
const PatientRefObjectType = "patientRef"

// Contract names as registered in the chaincode.
const (
	AdminContractName  = "AdminContract"
	DoctorContractName = "DoctorContract"
)

// Transaction names exposed by the contracts.
const (
	TxRegisterPatient             = "RegisterPatient"
	TxReadPatient                 = "ReadPatient"
	TxHistory                     = "History"
	TxUpdatePatientMedicalDetails = "UpdatePatientMedicalDetails"
	TxWritePrivate                = "WritePrivate"
	TxReadPrivate                 = "ReadPrivate"
)

const (
	PrivateCollection   = "ehrpvt"  // Segregated collection holding sealed private payloads
	TransientPayloadKey = "pvt_b64" // Transient map field carrying the Base64 sealed payload
)

// PatientReference is the public ledger document kept for every registered patient.
// The four pointer fields are either all nil or all set.
type PatientReference struct {
	Type          string  `json:"type"`          // Always PatientRefObjectType
	PatientID     string  `json:"patientId"`     // Immutable once created
	OwnerOrg      string  `json:"ownerOrg"`      // MSP id of the owning organization
	LatestCid     *string `json:"latestCid"`     // Object store address of the latest sealed document
	LatestDocHash *string `json:"latestDocHash"` // Hex sha256 of the latest plaintext
	Mime          *string `json:"mime"`          // Declared content type of the latest document
	Size          *string `json:"size"`          // Plaintext length in bytes, decimal string
	CreatedAt     string  `json:"createdAt"`     // Transaction time of registration
	UpdatedAt     string  `json:"updatedAt"`     // Transaction time of the last mutation
}

// HasDocument reports whether a document has ever been anchored for the patient.
func (p *PatientReference) HasDocument() bool {
	return p != nil && p.LatestCid != nil && *p.LatestCid != ""
}

// HistoryRecord is a point-in-time snapshot of a PatientReference rebuilt from the key history.
type HistoryRecord struct {
	TxID          string  `json:"txId"`
	IsDelete      bool    `json:"isDelete"`
	Timestamp     string  `json:"timestamp"`
	LatestCid     *string `json:"latestCid"`
	LatestDocHash *string `json:"latestDocHash"`
	Mime          *string `json:"mime"`
	Size          *string `json:"size"`
	UpdatedAt     *string `json:"updatedAt"`
}

// HasDocument reports whether the snapshot points at an anchored document.
func (h *HistoryRecord) HasDocument() bool {
	return h != nil && h.LatestCid != nil && *h.LatestCid != ""
}

// StringValue dereferences a nullable ledger field, returning "" for nil.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
