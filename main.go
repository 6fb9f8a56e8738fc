package main

import (
	"os"
	"strings"

	"github.com/hyperledger/fabric-chaincode-go/shim"

	"ehranchor/contract"
)

func main() {
	var policy contract.AuthorizationPolicy
	if msps := os.Getenv("EHR_PARTICIPANT_MSPS"); msps != "" {
		policy = contract.NewMSPAllowList(strings.Split(msps, ",")...)
	}

	cc, err := contract.NewChaincode(policy)
	if err != nil {
		panic("Error creating ehr-anchor chaincode: " + err.Error())
	}

	// chaincode-as-a-service when the peer connects to us
	address, ccid := os.Getenv("CHAINCODE_SERVER_ADDRESS"), os.Getenv("CHAINCODE_ID")
	if address != "" && ccid != "" {
		server := &shim.ChaincodeServer{
			CCID:     ccid,
			Address:  address,
			CC:       cc,
			TLSProps: shim.TLSProperties{Disabled: true},
		}
		if err := server.Start(); err != nil {
			panic("Error starting chaincode server: " + err.Error())
		}
		return
	}

	if err := cc.Start(); err != nil {
		panic("Error starting chaincode: " + err.Error())
	}
}
