package signer

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stacks-network/gsigner/frost"
)

// CalculateCoordinator deterministically elects the round coordinator
// from the peer set: the signer with the smallest id drives the round.
// Every peer evaluates this identically.
//
// TODO: replace with a VRF-based election so the coordinator rotates
// unpredictably between rounds.
func CalculateCoordinator(publicKeys *frost.PublicKeys) (uint32, *btcec.PublicKey) {
	first := true
	var minID uint32
	for id := range publicKeys.Signers {
		if first || id < minID {
			minID = id
			first = false
		}
	}
	return minID, publicKeys.Signers[minID]
}
