package frost

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stacks-network/gsigner/codec"
	"github.com/stacks-network/gsigner/crypto"
)

const (
	bindingTag   = "frost/binding/v1"
	challengeTag = "frost/challenge/v1"
	tweakTag     = "frost/taproot-tweak/v1"
)

// Signature is an aggregated Schnorr signature (R, z) verifying as
// z*G == R + c*X with c = H(R || X || m).
type Signature struct {
	R *btcec.PublicKey
	Z secp256k1.ModNScalar
}

// Bytes returns the 65-byte wire form: compressed R followed by z.
func (s *Signature) Bytes() []byte {
	z := s.Z.Bytes()
	out := make([]byte, 0, 65)
	out = append(out, s.R.SerializeCompressed()...)
	out = append(out, z[:]...)
	return out
}

// ParseSignature parses the 65-byte wire form.
func ParseSignature(b []byte) (*Signature, error) {
	if len(b) != 65 {
		return nil, ErrInvalidPoint
	}
	r, err := btcec.ParsePubKey(b[:33])
	if err != nil {
		return nil, ErrInvalidPoint
	}
	var sig Signature
	sig.R = r
	sig.Z.SetByteSlice(b[33:])
	return &sig, nil
}

// Verify checks the signature over msg against the aggregate key.
func (s *Signature) Verify(msg []byte, key *btcec.PublicKey) bool {
	if s == nil || s.R == nil || key == nil {
		return false
	}
	c := challenge(s.R, key, msg)
	lhs := basePoint(&s.Z)
	rhs := addPoints(s.R, mulPoint(c, key))
	if rhs == nil {
		return false
	}
	return lhs.IsEqual(rhs)
}

// challenge computes c = H(R || X || m) as a scalar.
func challenge(r, key *btcec.PublicKey, msg []byte) *secp256k1.ModNScalar {
	return hashToScalar(challengeTag, r.SerializeCompressed(), key.SerializeCompressed(), msg)
}

// bindingFactor ties a participant's nonce commitments to the whole
// commitment list and the message being signed.
func bindingFactor(signerID uint32, msg []byte, commitmentList []byte) *secp256k1.ModNScalar {
	var id [4]byte
	id[0] = byte(signerID)
	id[1] = byte(signerID >> 8)
	id[2] = byte(signerID >> 16)
	id[3] = byte(signerID >> 24)
	return hashToScalar(bindingTag, id[:], msg, commitmentList)
}

// encodeCommitmentList serializes the (id, D, E) triples of the
// participating nonce responses, in ascending signer id order, for use
// in the binding factor hash.
func encodeCommitmentList(responses []*NonceResponse) []byte {
	var buf bytes.Buffer
	for _, nr := range responses {
		codec.WriteUint32(&buf, nr.SignerID)
		buf.Write(nr.HidingNonce)
		buf.Write(nr.BindingNonce)
	}
	return buf.Bytes()
}

// TaprootTweak derives the scalar tweaking the aggregate key for a
// taproot-style signature committing to merkleRoot.
func TaprootTweak(key *btcec.PublicKey, merkleRoot []byte) *secp256k1.ModNScalar {
	return hashToScalar(tweakTag, key.SerializeCompressed(), merkleRoot)
}

// TweakedKey returns X + t*G for the taproot tweak t.
func TweakedKey(key *btcec.PublicKey, merkleRoot []byte) *btcec.PublicKey {
	t := TaprootTweak(key, merkleRoot)
	return addPoints(key, basePoint(t))
}

// groupCommitment folds the nonce commitments of all participants into
// the group R and the per-signer binding factors.
func groupCommitment(msg []byte, responses []*NonceResponse) (*btcec.PublicKey, map[uint32]*secp256k1.ModNScalar, error) {
	listEnc := encodeCommitmentList(responses)
	factors := make(map[uint32]*secp256k1.ModNScalar, len(responses))
	parts := make([]*btcec.PublicKey, 0, len(responses))
	for _, nr := range responses {
		d, err := btcec.ParsePubKey(nr.HidingNonce)
		if err != nil {
			return nil, nil, ErrInvalidPoint
		}
		e, err := btcec.ParsePubKey(nr.BindingNonce)
		if err != nil {
			return nil, nil, ErrInvalidPoint
		}
		rho := bindingFactor(nr.SignerID, msg, listEnc)
		factors[nr.SignerID] = rho
		parts = append(parts, addPoints(d, mulPoint(rho, e)))
	}
	r := addPoints(parts...)
	if r == nil {
		return nil, nil, ErrInvalidPoint
	}
	return r, factors, nil
}

// hashMessage is the digest each protocol message signs over for packet
// authentication.
func hashMessage(typ MsgType, body []byte) []byte {
	digest := crypto.Sha512_256([]byte{byte(typ)}, body)
	return digest[:]
}
