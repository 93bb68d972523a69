package common

import (
	"bytes"
	"testing"
)

func TestBytesToHashCropsLeft(t *testing.T) {
	in := make([]byte, 40)
	for i := range in {
		in[i] = byte(i)
	}
	h := BytesToHash(in)
	if !bytes.Equal(h.Bytes(), in[8:]) {
		t.Fatalf("hash not cropped from the left: have %x", h)
	}
}

func TestHexToHashRoundTrip(t *testing.T) {
	s := "0x00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	h := HexToHash(s)
	if h.Hex() != s {
		t.Fatalf("hex round trip mismatch: have %s want %s", h.Hex(), s)
	}
}

func TestCopyBytes(t *testing.T) {
	if CopyBytes(nil) != nil {
		t.Fatalf("copy of nil should be nil")
	}
	in := []byte{1, 2, 3}
	out := CopyBytes(in)
	out[0] = 9
	if in[0] != 1 {
		t.Fatalf("copy aliases input")
	}
}
