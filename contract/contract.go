// Package contract renders and publishes the chunk-bus contract that
// allocates every signer its slot window. Meant for test and load-test
// deployments; production contracts ship with the chain.
package contract

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stacks-network/gsigner/client"
	"github.com/stacks-network/gsigner/crypto"
	"github.com/stacks-network/gsigner/log"
	"github.com/stacks-network/gsigner/params"
)

var ErrNoSigners = errors.New("contract: no signer addresses")

// Build renders the chunk-bus contract source granting each address
// slotsPerUser slots of chunkSize bytes.
func Build(addresses []string, slotsPerUser uint32, chunkSize uint32) (string, error) {
	if len(addresses) == 0 {
		return "", ErrNoSigners
	}
	var b strings.Builder
	b.WriteString(";; Auto-generated chunk-bus allocation contract\n")
	b.WriteString("(define-read-only (stackerdb-get-signer-slots)\n")
	b.WriteString("    (ok (list\n")
	for _, addr := range addresses {
		fmt.Fprintf(&b, "        { signer: '%s, num-slots: u%d }\n", addr, slotsPerUser)
	}
	b.WriteString("    )))\n\n")
	b.WriteString("(define-read-only (stackerdb-get-config)\n")
	fmt.Fprintf(&b, "    (ok { chunk-size: u%d, write-freq: u0, max-writes: u4096, max-neighbors: u32, hint-replicas: (list) }))\n", chunkSize)
	return b.String(), nil
}

// SeedAddresses derives deterministic signer addresses from a shared
// seed. Anyone holding the seed can recreate the signer keys, so this
// is strictly a test facility.
func SeedAddresses(seed string, numSigners uint32, mainnet bool) []string {
	version := "ST"
	if mainnet {
		version = "SP"
	}
	out := make([]string, 0, numSigners)
	for i := uint32(0); i < numSigners; i++ {
		priv := crypto.PrivKeyFromSeed([]byte(fmt.Sprintf("%d%s", i, seed)))
		digest := crypto.Sha512_256(crypto.CompressPubkey(priv.PubKey()))
		out = append(out, fmt.Sprintf("%s%X", version, digest[:20]))
	}
	return out
}

// Publisher submits a contract and polls until the node serves its
// source.
type Publisher struct {
	client *client.StacksClient
	logger log.Logger

	// PollInterval is how often publication is re-checked.
	PollInterval time.Duration
}

// NewPublisher creates a publisher over the given chain client.
func NewPublisher(c *client.StacksClient) *Publisher {
	return &Publisher{
		client:       c,
		logger:       log.New("module", "contract"),
		PollInterval: 500 * time.Millisecond,
	}
}

// Publish submits the raw contract-deploy transaction and blocks until
// the contract source is visible, or quit closes.
func (p *Publisher) Publish(rawTx []byte, principal, name string, quit <-chan struct{}) error {
	if err := p.client.SubmitTx(rawTx); err != nil {
		return err
	}
	for {
		_, err := p.client.GetContractSource(principal, name)
		switch {
		case err == nil:
			p.logger.Info("Contract published", "contract", fmt.Sprintf("%s.%s", principal, name))
			return nil
		case errors.Is(err, client.ErrContractMissing):
			p.logger.Debug("Contract not yet mined, polling", "contract", name)
		default:
			return err
		}
		select {
		case <-quit:
			return errors.New("contract: publication wait canceled")
		case <-time.After(p.PollInterval):
		}
	}
}

// DefaultSlots returns the slot allocation the signer protocol expects.
func DefaultSlots() uint32 { return params.SignerSlotsPerUser }
