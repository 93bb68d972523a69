package frost

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/hkdf"
)

const shareKeyInfo = "frost/dkg-share-encryption/v1"

var ErrShareDecrypt = errors.New("frost: failed to decrypt private share")

// shareCipher derives an AEAD from the ECDH secret between the two
// message keys. Both directions derive the same cipher.
func shareCipher(priv *btcec.PrivateKey, peer *btcec.PublicKey) (cipher.AEAD, error) {
	shared := mulPoint(&priv.Key, peer)
	kdf := hkdf.New(sha256.New, shared.SerializeCompressed(), nil, []byte(shareKeyInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// shareAAD binds a ciphertext to its round, sender and target key id.
func shareAAD(dkgID uint64, senderID, keyID uint32) []byte {
	var aad [16]byte
	binary.LittleEndian.PutUint64(aad[0:], dkgID)
	binary.LittleEndian.PutUint32(aad[8:], senderID)
	binary.LittleEndian.PutUint32(aad[12:], keyID)
	return aad[:]
}

// encryptShare seals the private polynomial evaluation for the signer
// holding keyID.
func encryptShare(priv *btcec.PrivateKey, peer *btcec.PublicKey, dkgID uint64, senderID, keyID uint32, share *secp256k1.ModNScalar) (*EncryptedShare, error) {
	aead, err := shareCipher(priv, peer)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	plain := share.Bytes()
	ct := aead.Seal(nil, nonce, plain[:], shareAAD(dkgID, senderID, keyID))
	return &EncryptedShare{KeyID: keyID, Nonce: nonce, Ciphertext: ct}, nil
}

// decryptShare opens a private share addressed to us.
func decryptShare(priv *btcec.PrivateKey, peer *btcec.PublicKey, dkgID uint64, senderID uint32, es *EncryptedShare) (*secp256k1.ModNScalar, error) {
	aead, err := shareCipher(priv, peer)
	if err != nil {
		return nil, err
	}
	if len(es.Nonce) != aead.NonceSize() {
		return nil, ErrShareDecrypt
	}
	plain, err := aead.Open(nil, es.Nonce, es.Ciphertext, shareAAD(dkgID, senderID, es.KeyID))
	if err != nil {
		return nil, ErrShareDecrypt
	}
	if len(plain) != 32 {
		return nil, ErrShareDecrypt
	}
	var s secp256k1.ModNScalar
	s.SetByteSlice(plain)
	return &s, nil
}
