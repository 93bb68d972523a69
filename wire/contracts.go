package wire

import (
	"fmt"

	"github.com/stacks-network/gsigner/params"
)

// Boot contract deployers per network flavor.
const (
	mainnetDeployer = "SP000000000000000000002Q6VF78"
	testnetDeployer = "ST000000000000000000002AMW42H"
)

// ContractID resolves a qualified chunk-bus contract identifier from a
// contract name and the mainnet flag.
func ContractID(name string, mainnet bool) string {
	deployer := testnetDeployer
	if mainnet {
		deployer = mainnetDeployer
	}
	return fmt.Sprintf("%s.%s", deployer, name)
}

// SignersContractID returns the contract carrying signer packets.
func SignersContractID(mainnet bool) string {
	return ContractID(params.SignersContractName, mainnet)
}

// MinersContractID returns the contract carrying miner block proposals.
func MinersContractID(mainnet bool) string {
	return ContractID(params.MinersContractName, mainnet)
}
