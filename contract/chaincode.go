package contract

import (
	"fmt"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// Version is reported in the chaincode metadata.
const Version = "1.0.0"

// NewChaincode assembles both contracts under a shared authorization policy.
// AdminContract is the default contract.
func NewChaincode(policy AuthorizationPolicy) (*contractapi.ContractChaincode, error) {
	cc, err := contractapi.NewChaincode(NewAdminContract(policy), NewDoctorContract(policy))
	if err != nil {
		return nil, fmt.Errorf("failed to create chaincode: %w", err)
	}
	cc.Info.Title = "ehr-anchor"
	cc.Info.Version = Version
	return cc, nil
}
