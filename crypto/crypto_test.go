package crypto

import (
	"bytes"
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	digest := Sha512_256([]byte("some message"))
	sig, err := Sign(digest[:], key)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(sig) != SignatureLength {
		t.Fatalf("unexpected signature length: have %d want %d", len(sig), SignatureLength)
	}
	if !VerifySignature(digest[:], sig, key.PubKey()) {
		t.Fatalf("signature did not verify")
	}
	other, _ := GenerateKey()
	if VerifySignature(digest[:], sig, other.PubKey()) {
		t.Fatalf("signature verified against wrong key")
	}
	sig[3] ^= 0xff
	if VerifySignature(digest[:], sig, key.PubKey()) {
		t.Fatalf("mangled signature verified")
	}
}

func TestPrivKeyFromSeedDeterministic(t *testing.T) {
	a := PrivKeyFromSeed([]byte("0secret"))
	b := PrivKeyFromSeed([]byte("0secret"))
	c := PrivKeyFromSeed([]byte("1secret"))
	if !a.Key.Equals(&b.Key) {
		t.Fatalf("same seed produced different keys")
	}
	if a.Key.Equals(&c.Key) {
		t.Fatalf("different seeds produced the same key")
	}
}

func TestPubkeyCompressRoundTrip(t *testing.T) {
	key, _ := GenerateKey()
	enc := CompressPubkey(key.PubKey())
	dec, err := DecompressPubkey(enc)
	if err != nil {
		t.Fatalf("failed to decompress: %v", err)
	}
	if !bytes.Equal(CompressPubkey(dec), enc) {
		t.Fatalf("compressed pubkey round trip mismatch")
	}
	if _, err := DecompressPubkey(enc[1:]); err == nil {
		t.Fatalf("expected error for truncated pubkey")
	}
}
