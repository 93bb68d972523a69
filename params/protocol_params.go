package params

const (
	// SignerSlotsPerUser is the number of consecutive chunk-bus slots
	// owned by each signer. Signer i writes into
	// [i*SignerSlotsPerUser, (i+1)*SignerSlotsPerUser).
	SignerSlotsPerUser uint32 = 12

	// PingSlotID is the slot offset reserved for RTT probes inside a
	// signer's slot window. Signer i's ping slot is
	// i*SignerSlotsPerUser + PingSlotID.
	PingSlotID uint32 = 11

	// SignersContractName and MinersContractName resolve the chunk-bus
	// contracts carrying signer packets and miner block proposals.
	SignersContractName = "signers"
	MinersContractName  = "miners"
)

// Threshold returns the number of key shares required to produce a
// signature: ceil(7*totalKeys/10).
func Threshold(totalKeys uint32) uint32 {
	return (totalKeys*7 + 9) / 10
}

// DkgThreshold returns the number of key shares required to complete a
// key generation round: ceil(9*totalKeys/10).
func DkgThreshold(totalKeys uint32) uint32 {
	return (totalKeys*9 + 9) / 10
}
