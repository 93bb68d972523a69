// Package crypto holds the key handling and signature primitives shared by
// the signer: secp256k1 ECDSA keys for message authentication and the
// sha512/256 digest used as the block signature hash.
package crypto

import (
	"crypto/sha512"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	btc_ecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/stacks-network/gsigner/common"
)

// SignatureLength indicates the byte length required to carry a signature
// with recovery id.
const SignatureLength = 65

var (
	ErrInvalidSignatureLen = errors.New("crypto: invalid signature length")
	ErrInvalidPubKey       = errors.New("crypto: invalid public key")
)

// Sha512_256 calculates and returns the sha512/256 digest of the input data.
func Sha512_256(data ...[]byte) (h common.Hash) {
	d := sha512.New512_256()
	for _, b := range data {
		d.Write(b)
	}
	d.Sum(h[:0])
	return h
}

// GenerateKey generates a new secp256k1 private key.
func GenerateKey() (*btcec.PrivateKey, error) {
	return btcec.NewPrivateKey()
}

// PrivKeyFromSeed deterministically derives a private key from a seed by
// hashing until the digest is a valid non-zero scalar. Intended for test
// and load-test key material only.
func PrivKeyFromSeed(seed []byte) *btcec.PrivateKey {
	digest := Sha512_256(seed)
	for {
		priv, _ := btcec.PrivKeyFromBytes(digest[:])
		if !priv.Key.IsZero() {
			return priv
		}
		digest = Sha512_256(digest[:])
	}
}

// Sign calculates a recoverable ECDSA signature over digest.
// The produced signature is in the 65-byte [R || S || V] format.
func Sign(digest []byte, prv *btcec.PrivateKey) ([]byte, error) {
	if len(digest) != common.HashLength {
		return nil, errors.New("crypto: digest is required to be exactly 32 bytes")
	}
	sig, err := btc_ecdsa.SignCompact(prv, digest, false)
	if err != nil {
		return nil, err
	}
	// Convert to Ethereum-less [R || S || V] layout with V at the end.
	v := sig[0]
	copy(sig, sig[1:])
	sig[SignatureLength-1] = v
	return sig, nil
}

// SigToPub returns the public key that created the given signature.
func SigToPub(digest, sig []byte) (*btcec.PublicKey, error) {
	if len(sig) != SignatureLength {
		return nil, ErrInvalidSignatureLen
	}
	// Convert back to the btcec [V || R || S] input format.
	btcsig := make([]byte, SignatureLength)
	btcsig[0] = sig[SignatureLength-1]
	copy(btcsig[1:], sig)
	pub, _, err := btc_ecdsa.RecoverCompact(btcsig, digest)
	return pub, err
}

// VerifySignature checks that the given public key created signature over
// digest. The signature should be in the 65-byte [R || S || V] format.
func VerifySignature(digest, sig []byte, pub *btcec.PublicKey) bool {
	recovered, err := SigToPub(digest, sig)
	if err != nil {
		return false
	}
	return recovered.IsEqual(pub)
}

// CompressPubkey encodes a public key to the 33-byte compressed format.
func CompressPubkey(pub *btcec.PublicKey) []byte {
	return pub.SerializeCompressed()
}

// DecompressPubkey parses a public key in the 33-byte compressed format.
func DecompressPubkey(data []byte) (*btcec.PublicKey, error) {
	if len(data) != 33 {
		return nil, ErrInvalidPubKey
	}
	return btcec.ParsePubKey(data)
}
