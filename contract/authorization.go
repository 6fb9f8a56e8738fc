package contract

import (
	"fmt"
	"strings"

	"ehranchor/internal/domain"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var authLogger = flogging.MustGetLogger("ehr.authorization")

// DefaultParticipants lists the organizations recognized when no policy is configured.
var DefaultParticipants = []string{"Org1MSP", "Org2MSP"}

// CallerIdentity holds the ledger-verified details of a transaction invoker.
type CallerIdentity struct {
	MSPID string // Organization MSP id from the creator certificate
	ID    string // Full X.509 identity string (x509::subject::issuer)
}

// AuthorizationPolicy decides whether a caller may use the contracts.
type AuthorizationPolicy interface {
	IsAuthorized(identity CallerIdentity) bool
}

// MSPAllowList authorizes callers whose organization appears in the list.
type MSPAllowList map[string]bool

// NewMSPAllowList builds an allow-list, ignoring blank entries.
func NewMSPAllowList(mspIDs ...string) MSPAllowList {
	list := make(MSPAllowList, len(mspIDs))
	for _, id := range mspIDs {
		if id = strings.TrimSpace(id); id != "" {
			list[id] = true
		}
	}
	return list
}

// IsAuthorized implements AuthorizationPolicy.
func (l MSPAllowList) IsAuthorized(identity CallerIdentity) bool {
	return l[identity.MSPID]
}

// getCallerIdentity reads the invoker's MSP id and full id from the client identity.
func getCallerIdentity(ctx contractapi.TransactionContextInterface) (CallerIdentity, error) {
	ci := ctx.GetClientIdentity()
	if ci == nil {
		return CallerIdentity{}, fmt.Errorf("client identity is not available: %w", domain.ErrUnauthorized)
	}
	mspID, err := ci.GetMSPID()
	if err != nil {
		return CallerIdentity{}, fmt.Errorf("failed to get caller MSPID: %w", err)
	}
	fullID, err := ci.GetID()
	if err != nil {
		return CallerIdentity{}, fmt.Errorf("failed to get caller ID: %w", err)
	}
	return CallerIdentity{MSPID: mspID, ID: fullID}, nil
}

// authorize must run before any state access. The failure message only names the caller's
// organization so it cannot reveal whether a key exists.
func authorize(ctx contractapi.TransactionContextInterface, policy AuthorizationPolicy, op string) (CallerIdentity, error) {
	caller, err := getCallerIdentity(ctx)
	if err != nil {
		return CallerIdentity{}, fmt.Errorf("%s: %w", op, err)
	}
	if policy == nil {
		policy = NewMSPAllowList(DefaultParticipants...)
	}
	if !policy.IsAuthorized(caller) {
		authLogger.Warningf("%s: rejected caller from organization '%s'", op, caller.MSPID)
		return CallerIdentity{}, fmt.Errorf("%s: organization '%s' is not a participant: %w", op, caller.MSPID, domain.ErrUnauthorized)
	}
	return caller, nil
}
