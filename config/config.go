// Package config holds the signer's on-disk configuration: network
// flavor, transports, key material and the peer set.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/naoina/toml"

	"github.com/stacks-network/gsigner/common"
	"github.com/stacks-network/gsigner/crypto"
	"github.com/stacks-network/gsigner/frost"
)

var (
	ErrUnknownNetwork  = errors.New("config: unknown network")
	ErrMissingSigner   = errors.New("config: signer id not present in the signer set")
	ErrDuplicateKeyID  = errors.New("config: duplicate key id")
	ErrInvalidKey      = errors.New("config: invalid key material")
	ErrEmptySignerSet  = errors.New("config: empty signer set")
	ErrInvalidTimeouts = errors.New("config: timeouts must be positive")
)

// Network selects the chain flavor; it decides the contract deployer.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// IsMainnet reports whether this is the mainnet flavor.
func (n Network) IsMainnet() bool { return n == Mainnet }

func (n Network) validate() error {
	switch n {
	case Mainnet, Testnet:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownNetwork, string(n))
	}
}

// SignerEntry describes one member of the signer set.
type SignerEntry struct {
	ID        uint32
	PublicKey string
	KeyIDs    []uint32
}

// PingConfig tunes the periodic RTT prober.
type PingConfig struct {
	IntervalMs  uint64 `toml:",omitempty"`
	PayloadSize int    `toml:",omitempty"`
}

// Config is the top-level signer configuration, TOML-encoded on disk.
type Config struct {
	NodeHost          string
	Network           Network
	SignerID          uint32
	MessagePrivateKey string
	EventTimeoutMs    uint64 `toml:",omitempty"`
	SendTimeoutMs     uint64 `toml:",omitempty"`
	EventEndpoint     string `toml:",omitempty"`

	// ExpectedTransactions lists txids (hex) every accepted block must
	// carry.
	ExpectedTransactions []string `toml:",omitempty"`

	Signers []SignerEntry
	Ping    PingConfig `toml:",omitempty"`
}

// Load reads and validates a TOML config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks internal consistency without touching the network.
func (c *Config) Validate() error {
	if err := c.Network.validate(); err != nil {
		return err
	}
	if len(c.Signers) == 0 {
		return ErrEmptySignerSet
	}
	if _, err := c.PrivateKey(); err != nil {
		return err
	}
	if _, err := c.PublicKeys(); err != nil {
		return err
	}
	if _, err := c.ExpectedTxs(); err != nil {
		return err
	}
	found := false
	for _, s := range c.Signers {
		if s.ID == c.SignerID {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: %d", ErrMissingSigner, c.SignerID)
	}
	return nil
}

// PrivateKey parses the signer's message-signing key.
func (c *Config) PrivateKey() (*btcec.PrivateKey, error) {
	raw, err := hex.DecodeString(c.MessagePrivateKey)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("%w: message private key", ErrInvalidKey)
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return priv, nil
}

// PublicKeys assembles the peer set from the signer entries.
func (c *Config) PublicKeys() (*frost.PublicKeys, error) {
	pks := &frost.PublicKeys{
		Signers: make(map[uint32]*btcec.PublicKey, len(c.Signers)),
		KeyIDs:  make(map[uint32][]uint32, len(c.Signers)),
	}
	seen := make(map[uint32]bool)
	for _, s := range c.Signers {
		raw, err := hex.DecodeString(s.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: signer %d public key", ErrInvalidKey, s.ID)
		}
		key, err := crypto.DecompressPubkey(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: signer %d public key", ErrInvalidKey, s.ID)
		}
		pks.Signers[s.ID] = key
		for _, keyID := range s.KeyIDs {
			if seen[keyID] {
				return nil, fmt.Errorf("%w: %d", ErrDuplicateKeyID, keyID)
			}
			seen[keyID] = true
		}
		ids := append([]uint32(nil), s.KeyIDs...)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		pks.KeyIDs[s.ID] = ids
	}
	return pks, nil
}

// KeyIDs returns this signer's own key-share ids.
func (c *Config) KeyIDs() []uint32 {
	for _, s := range c.Signers {
		if s.ID == c.SignerID {
			return append([]uint32(nil), s.KeyIDs...)
		}
	}
	return nil
}

// ExpectedTxs parses the expected transaction ids.
func (c *Config) ExpectedTxs() ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(c.ExpectedTransactions))
	for _, s := range c.ExpectedTransactions {
		raw, err := hex.DecodeString(s)
		if err != nil || len(raw) != common.HashLength {
			return nil, fmt.Errorf("%w: expected transaction %q", ErrInvalidKey, s)
		}
		out = append(out, common.BytesToHash(raw))
	}
	return out, nil
}

// EventTimeout bounds the host loop's per-pass event wait.
func (c *Config) EventTimeout() time.Duration {
	if c.EventTimeoutMs == 0 {
		return 5 * time.Second
	}
	return time.Duration(c.EventTimeoutMs) * time.Millisecond
}

// SendTimeout bounds one chunk-bus write including retries.
func (c *Config) SendTimeout() time.Duration {
	if c.SendTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.SendTimeoutMs) * time.Millisecond
}
