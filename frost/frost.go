// Package frost implements the DKG and threshold-Schnorr (FROST) state
// machines driven by the signer run-loop: a per-participant Signer that
// answers protocol packets, and a Coordinator that drives rounds forward
// and aggregates the results.
//
// The group arithmetic follows RFC 9591 over secp256k1: Feldman
// commitments for the distributed key generation, per-participant nonce
// commitments bound together with a binding factor, and Lagrange
// interpolation over key-share ids at signing time.
package frost

import (
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stacks-network/gsigner/crypto"
)

var (
	ErrInvalidPoint     = errors.New("frost: invalid curve point")
	ErrUnknownSigner    = errors.New("frost: unknown signer id")
	ErrUnknownKeyID     = errors.New("frost: unknown key id")
	ErrNoAggregateKey   = errors.New("frost: aggregate public key not set")
	ErrCoordinatorState = errors.New("frost: coordinator in wrong state")
)

// PublicKeys is the immutable peer set: the message-signing key of every
// signer and the key-share ids each one holds.
type PublicKeys struct {
	Signers map[uint32]*btcec.PublicKey
	KeyIDs  map[uint32][]uint32
}

// TotalKeys returns the number of key shares across all signers.
func (pk *PublicKeys) TotalKeys() uint32 {
	var n uint32
	for _, ids := range pk.KeyIDs {
		n += uint32(len(ids))
	}
	return n
}

// SignerOfKey returns the signer holding the given key share id.
func (pk *PublicKeys) SignerOfKey(keyID uint32) (uint32, bool) {
	for signer, ids := range pk.KeyIDs {
		for _, id := range ids {
			if id == keyID {
				return signer, true
			}
		}
	}
	return 0, false
}

// newScalar samples a uniformly random non-zero scalar.
func newScalar() (*secp256k1.ModNScalar, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &priv.Key, nil
}

// hashToScalar maps the input bytes onto a scalar with a domain tag.
func hashToScalar(tag string, data ...[]byte) *secp256k1.ModNScalar {
	chunks := make([][]byte, 0, len(data)+1)
	chunks = append(chunks, []byte(tag))
	chunks = append(chunks, data...)
	digest := crypto.Sha512_256(chunks...)
	var s secp256k1.ModNScalar
	s.SetByteSlice(digest[:])
	return &s
}

// basePoint returns k*G.
func basePoint(k *secp256k1.ModNScalar) *btcec.PublicKey {
	var j secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(k, &j)
	j.ToAffine()
	return secp256k1.NewPublicKey(&j.X, &j.Y)
}

// mulPoint returns k*P.
func mulPoint(k *secp256k1.ModNScalar, p *btcec.PublicKey) *btcec.PublicKey {
	var j, r secp256k1.JacobianPoint
	p.AsJacobian(&j)
	secp256k1.ScalarMultNonConst(k, &j, &r)
	r.ToAffine()
	return secp256k1.NewPublicKey(&r.X, &r.Y)
}

// addPoints sums the given points. Returns nil for the empty sum or the
// point at infinity.
func addPoints(ps ...*btcec.PublicKey) *btcec.PublicKey {
	var acc secp256k1.JacobianPoint
	have := false
	for _, p := range ps {
		if p == nil {
			continue
		}
		var j secp256k1.JacobianPoint
		p.AsJacobian(&j)
		secp256k1.AddNonConst(&acc, &j, &acc)
		have = true
	}
	if !have || (acc.X.IsZero() && acc.Y.IsZero() && acc.Z.IsZero()) {
		return nil
	}
	acc.ToAffine()
	if acc.X.IsZero() && acc.Y.IsZero() {
		return nil
	}
	return secp256k1.NewPublicKey(&acc.X, &acc.Y)
}

// evalPoly evaluates the polynomial with the given coefficients at x
// using Horner's rule. Coefficient zero is the constant term.
func evalPoly(coeffs []*secp256k1.ModNScalar, x uint32) *secp256k1.ModNScalar {
	var xs secp256k1.ModNScalar
	xs.SetInt(x)
	result := new(secp256k1.ModNScalar)
	for i := len(coeffs) - 1; i >= 0; i-- {
		result.Mul(&xs)
		result.Add(coeffs[i])
	}
	return result
}

// evalPolyCommitment evaluates the commitment polynomial at x:
// sum_j x^j * A_j. Used to check a private share against the sender's
// public Feldman commitments.
func evalPolyCommitment(commitments []*btcec.PublicKey, x uint32) *btcec.PublicKey {
	var xs, pow secp256k1.ModNScalar
	xs.SetInt(x)
	pow.SetInt(1)
	terms := make([]*btcec.PublicKey, 0, len(commitments))
	for _, a := range commitments {
		p := pow
		terms = append(terms, mulPoint(&p, a))
		pow.Mul(&xs)
	}
	return addPoints(terms...)
}

// lagrangeCoeff computes the Lagrange coefficient at zero for key id k
// within the participating key id set.
func lagrangeCoeff(k uint32, participating []uint32) *secp256k1.ModNScalar {
	num := new(secp256k1.ModNScalar).SetInt(1)
	den := new(secp256k1.ModNScalar).SetInt(1)
	var negK secp256k1.ModNScalar
	negK.SetInt(k)
	negK.Negate()
	for _, j := range participating {
		if j == k {
			continue
		}
		var jj, diff secp256k1.ModNScalar
		jj.SetInt(j)
		num.Mul(&jj)
		diff = jj
		diff.Add(&negK)
		den.Mul(&diff)
	}
	den.InverseNonConst()
	return num.Mul(den)
}
