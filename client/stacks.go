// Package client provides the two transports the signer consumes: the
// chain-node HTTP API and the slot-addressed chunk bus (stackerdb).
package client

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stacks-network/gsigner/core/types"
	"github.com/stacks-network/gsigner/crypto"
)

var (
	ErrRequestFailure  = errors.New("client: request failure")
	ErrMalformedReply  = errors.New("client: malformed reply")
	ErrContractMissing = errors.New("client: contract source not found")
)

// StacksClient talks to a chain node over its HTTP API.
type StacksClient struct {
	host string
	http *http.Client
}

// NewStacksClient creates a client for the node at host
// (e.g. http://localhost:20443).
func NewStacksClient(host string, timeout time.Duration) *StacksClient {
	return &StacksClient{
		host: host,
		http: &http.Client{Timeout: timeout},
	}
}

type aggregateKeyReply struct {
	AggregatePublicKey string `json:"aggregate_public_key"`
}

// GetAggregatePublicKey queries the chain for the signer set's
// aggregate public key. A nil key with nil error means the key has not
// been set yet, and a DKG round is required.
func (c *StacksClient) GetAggregatePublicKey() (*btcec.PublicKey, error) {
	resp, err := c.http.Get(c.host + "/v2/pox/aggregate_public_key")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailure, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrRequestFailure, resp.StatusCode)
	}
	var reply aggregateKeyReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if reply.AggregatePublicKey == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(reply.AggregatePublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	key, err := crypto.DecompressPubkey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return key, nil
}

// SubmitBlockForValidation hands a proposed block to the chain node.
// The verdict arrives asynchronously as a block validation event.
func (c *StacksClient) SubmitBlockForValidation(block *types.NakamotoBlock) error {
	enc, err := block.Encode()
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]string{"block": hex.EncodeToString(enc)})
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.host+"/v2/block_proposal", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequestFailure, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("%w: status %d", ErrRequestFailure, resp.StatusCode)
	}
	return nil
}

// SubmitTx broadcasts a raw transaction, used when publishing the
// chunk-bus contract.
func (c *StacksClient) SubmitTx(rawTx []byte) error {
	resp, err := c.http.Post(c.host+"/v2/transactions", "application/octet-stream", bytes.NewReader(rawTx))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequestFailure, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrRequestFailure, resp.StatusCode)
	}
	return nil
}

// GetContractSource fetches the source of a published contract,
// returning ErrContractMissing while it has not yet been mined.
func (c *StacksClient) GetContractSource(principal, contractName string) (string, error) {
	url := fmt.Sprintf("%s/v2/contracts/source/%s/%s", c.host, principal, contractName)
	resp, err := c.http.Get(url)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRequestFailure, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", ErrContractMissing
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrRequestFailure, resp.StatusCode)
	}
	var reply struct {
		Source string `json:"source"`
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return reply.Source, nil
}
