package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stacks-network/gsigner/crypto"
)

func testConfigTOML(t *testing.T) string {
	t.Helper()
	var signers string
	for id := 0; id < 3; id++ {
		pub := crypto.PrivKeyFromSeed([]byte{byte(id)}).PubKey()
		signers += fmt.Sprintf(
			"[[Signers]]\nID = %d\nPublicKey = %q\nKeyIDs = [%d]\n\n",
			id, hex.EncodeToString(crypto.CompressPubkey(pub)), id+1,
		)
	}
	priv := crypto.PrivKeyFromSeed([]byte{0})
	key := priv.Key.Bytes()
	return fmt.Sprintf(`NodeHost = "http://localhost:20443"
Network = "testnet"
SignerID = 0
MessagePrivateKey = %q
EventTimeoutMs = 250

%s`, hex.EncodeToString(key[:]), signers)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signer.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfigTOML(t)))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Network.IsMainnet() {
		t.Fatalf("testnet config reported mainnet")
	}
	pks, err := cfg.PublicKeys()
	if err != nil {
		t.Fatalf("failed to build peer set: %v", err)
	}
	if len(pks.Signers) != 3 || pks.TotalKeys() != 3 {
		t.Fatalf("unexpected peer set: %d signers, %d keys", len(pks.Signers), pks.TotalKeys())
	}
	if got := cfg.EventTimeout().Milliseconds(); got != 250 {
		t.Fatalf("unexpected event timeout: have %dms want 250ms", got)
	}
	if ids := cfg.KeyIDs(); len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("unexpected own key ids: %v", ids)
	}
	priv, err := cfg.PrivateKey()
	if err != nil {
		t.Fatalf("failed to parse private key: %v", err)
	}
	if !priv.PubKey().IsEqual(pks.Signers[0]) {
		t.Fatalf("private key does not match signer 0's public key")
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	base := testConfigTOML(t)

	cases := map[string]func(*Config){
		"unknown network":   func(c *Config) { c.Network = "lemonnet" },
		"missing signer id": func(c *Config) { c.SignerID = 99 },
		"duplicate key ids": func(c *Config) { c.Signers[1].KeyIDs = []uint32{1} },
		"bad private key":   func(c *Config) { c.MessagePrivateKey = "zz" },
		"bad public key":    func(c *Config) { c.Signers[0].PublicKey = "00" },
		"bad expected tx":   func(c *Config) { c.ExpectedTransactions = []string{"nothex"} },
		"empty signer set":  func(c *Config) { c.Signers = nil },
	}
	for name, mutate := range cases {
		cfg, err := Load(writeConfig(t, base))
		if err != nil {
			t.Fatalf("%s: baseline config did not load: %v", name, err)
		}
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation failure", name)
		}
	}
}
