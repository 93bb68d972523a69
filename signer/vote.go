package signer

import (
	"github.com/stacks-network/gsigner/common"
	"github.com/stacks-network/gsigner/core/types"
	"github.com/stacks-network/gsigner/frost"
)

// rejectMarker is appended to a signature hash to turn it into a
// rejection vote.
const rejectMarker = byte('n')

// acceptVote and rejectVote encode the two vote forms: the bare hash
// approves the block, the hash followed by 'n' rejects it.
func acceptVote(hash common.Hash) []byte {
	return append([]byte(nil), hash[:]...)
}

func rejectVote(hash common.Hash) []byte {
	return append(append([]byte(nil), hash[:]...), rejectMarker)
}

// parseVote splits a vote back into its hash and verdict. ok is false
// for anything that is neither a 32-byte acceptance nor a 33-byte
// rejection.
func parseVote(vote []byte) (hash common.Hash, accepted, ok bool) {
	switch {
	case len(vote) == common.HashLength:
		return common.BytesToHash(vote), true, true
	case len(vote) == common.HashLength+1 && vote[common.HashLength] == rejectMarker:
		return common.BytesToHash(vote[:common.HashLength]), false, true
	default:
		return common.Hash{}, false, false
	}
}

// validateNonceRequest runs the vote decision over a verified
// nonce-request packet. The signer never signs the coordinator-proposed
// bytes verbatim: the request message is rewritten to this signer's own
// vote so a coordinator cannot sneak an unexamined payload into the
// round. Returns true when the (rewritten) request should be forwarded
// to the signing roles now; false when it was dropped or parked until
// the block's validation verdict arrives.
func (r *RunLoop) validateNonceRequest(packet *frost.Packet) bool {
	request, ok := packet.Msg.(*frost.NonceRequest)
	if !ok {
		return false
	}
	block, err := types.DecodeBlockBytes(request.Message)
	if err != nil {
		r.logger.Warn("Nonce request does not carry a block", "err", err)
		return false
	}
	hash, err := block.SignatureHash()
	if err != nil {
		r.logger.Warn("Nonce request block has no signature hash", "err", err)
		return false
	}
	info, known := r.blocks.get(hash)
	if !known {
		// First sight of this block: park the request and ask the chain
		// node for a verdict. The validation event resumes it.
		info = r.blocks.ensure(hash, block)
		info.NonceRequest = packet
		if err := r.stacksClient.SubmitBlockForValidation(block); err != nil {
			r.logger.Warn("Failed to submit block for validation", "block", hash, "err", err)
		}
		return false
	}
	if info.Valid == nil {
		info.NonceRequest = packet
		return false
	}
	if info.Vote == nil {
		accept := *info.Valid && r.expectedTxsPresent(block)
		if accept {
			info.Vote = acceptVote(hash)
		} else {
			info.Vote = rejectVote(hash)
		}
	}
	request.Message = info.Vote
	return true
}

// expectedTxsPresent checks that every transaction the signer insists
// on appears in the block.
func (r *RunLoop) expectedTxsPresent(block *types.NakamotoBlock) bool {
	for _, txid := range r.transactions {
		if !block.ContainsTx(txid) {
			r.logger.Debug("Block is missing an expected transaction", "txid", txid)
			return false
		}
	}
	return true
}

// validateSignatureShareRequest vets a verified signature-share request
// against the vote this signer already took. The request message is
// overwritten with the stored vote, defending against a coordinator
// equivocating between the nonce and share phases. Requests over blocks
// we never voted on are dropped.
func (r *RunLoop) validateSignatureShareRequest(packet *frost.Packet) bool {
	request, ok := packet.Msg.(*frost.SignatureShareRequest)
	if !ok {
		return false
	}
	hash, _, ok := parseVote(request.Message)
	if !ok {
		r.logger.Warn("Signature share request message is not a vote", "len", len(request.Message))
		return false
	}
	info, known := r.blocks.get(hash)
	if !known {
		r.logger.Warn("Signature share request for an unknown block", "block", hash)
		return false
	}
	if info.Vote == nil {
		r.logger.Warn("Signature share request for a block we have not voted on", "block", hash)
		return false
	}
	request.Message = info.Vote
	return true
}
