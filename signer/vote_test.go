package signer

import (
	"testing"

	"github.com/stacks-network/gsigner/crypto"
)

func TestParseVote(t *testing.T) {
	hash := crypto.Sha512_256([]byte("block"))

	h, accepted, ok := parseVote(acceptVote(hash))
	if !ok || !accepted || h != hash {
		t.Fatalf("acceptance vote did not parse: ok=%v accepted=%v", ok, accepted)
	}
	h, accepted, ok = parseVote(rejectVote(hash))
	if !ok || accepted || h != hash {
		t.Fatalf("rejection vote did not parse: ok=%v accepted=%v", ok, accepted)
	}
	if _, _, ok := parseVote(hash[:31]); ok {
		t.Fatalf("short vote accepted")
	}
	if _, _, ok := parseVote(append(acceptVote(hash), 'x')); ok {
		t.Fatalf("vote with wrong marker accepted")
	}
	if _, _, ok := parseVote(append(rejectVote(hash), 'n')); ok {
		t.Fatalf("overlong vote accepted")
	}

	// A vote always embeds the hash it was derived from.
	for _, vote := range [][]byte{acceptVote(hash), rejectVote(hash)} {
		if got, _, _ := parseVote(vote); got != hash {
			t.Fatalf("vote prefix does not equal the block hash")
		}
	}
}
