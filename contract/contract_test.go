package contract

import (
	"strings"
	"testing"

	"github.com/stacks-network/gsigner/params"
)

func TestBuildContract(t *testing.T) {
	addrs := []string{"ST2E7G2V8QAJ9KS1DMHYNMBWFWY2EHGGYTGRTH12B", "ST1NHW9S3XP1937EX5WTJSF599YPZRB0H85W1WCP0"}
	src, err := Build(addrs, params.SignerSlotsPerUser, 4096)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	for _, addr := range addrs {
		if !strings.Contains(src, addr) {
			t.Fatalf("contract omits signer %s", addr)
		}
	}
	if !strings.Contains(src, "num-slots: u12") {
		t.Fatalf("contract omits slot allocation")
	}
	if !strings.Contains(src, "chunk-size: u4096") {
		t.Fatalf("contract omits chunk size")
	}
	if _, err := Build(nil, 12, 4096); err != ErrNoSigners {
		t.Fatalf("expected ErrNoSigners, got %v", err)
	}
}

func TestSeedAddresses(t *testing.T) {
	a := SeedAddresses("secret", 3, false)
	b := SeedAddresses("secret", 3, false)
	if len(a) != 3 {
		t.Fatalf("expected 3 addresses, have %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("seed derivation not deterministic at %d", i)
		}
		if !strings.HasPrefix(a[i], "ST") {
			t.Fatalf("testnet address has wrong version: %s", a[i])
		}
	}
	if a[0] == a[1] {
		t.Fatalf("distinct signers derived the same address")
	}
	if SeedAddresses("secret", 1, true)[0][:2] != "SP" {
		t.Fatalf("mainnet address has wrong version")
	}
	if SeedAddresses("other", 1, false)[0] == a[0] {
		t.Fatalf("different seeds derived the same address")
	}
}
