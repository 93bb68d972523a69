package client

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stacks-network/gsigner/crypto"
	"github.com/stacks-network/gsigner/log"
	"github.com/stacks-network/gsigner/wire"
)

// Ack is the bus's reply to a chunk write.
type Ack struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// StackerDB writes signer messages into this signer's slots on the
// chunk bus.
type StackerDB struct {
	host        string
	http        *http.Client
	signersID   string
	minersID    string
	chunkKey    *btcec.PrivateKey
	sendTimeout time.Duration
	logger      log.Logger

	// slotVersions tracks the last version the bus accepted per slot; the
	// next write uses one more, since the bus rejects writes that do not
	// increase the version.
	slotVersions map[uint32]uint32
}

// NewStackerDB creates a chunk-bus client writing with the given chunk
// signing key.
func NewStackerDB(host string, mainnet bool, chunkKey *btcec.PrivateKey, sendTimeout time.Duration) *StackerDB {
	return &StackerDB{
		host:         host,
		http:         &http.Client{Timeout: sendTimeout},
		signersID:    wire.SignersContractID(mainnet),
		minersID:     wire.MinersContractID(mainnet),
		chunkKey:     chunkKey,
		sendTimeout:  sendTimeout,
		logger:       log.New("module", "stackerdb"),
		slotVersions: make(map[uint32]uint32),
	}
}

// SignersContractID returns the contract carrying signer packets.
func (db *StackerDB) SignersContractID() string { return db.signersID }

// MinersContractID returns the contract carrying miner proposals.
func (db *StackerDB) MinersContractID() string { return db.minersID }

// SendMessageWithRetry encodes msg into the sender's slot for that
// message kind and retries failed writes with exponential backoff for
// at most the send timeout. A reply that refuses the chunk is returned
// as is, without a retry; only an accepted chunk advances the slot
// version.
func (db *StackerDB) SendMessageWithRetry(signerID uint32, msg wire.SignerMessage) (Ack, error) {
	data, err := wire.EncodeMessage(msg)
	if err != nil {
		return Ack{}, err
	}
	slot := wire.SlotID(msg, signerID)
	version := db.slotVersions[slot] + 1

	chunk := wire.Chunk{
		SlotID:      slot,
		SlotVersion: version,
		Data:        data,
	}
	digest := crypto.Sha512_256(chunkSigPayload(&chunk))
	if chunk.Sig, err = crypto.Sign(digest[:], db.chunkKey); err != nil {
		return Ack{}, err
	}

	var ack Ack
	err = RetryWithExponentialBackoff(func() error {
		a, err := db.putChunk(&chunk)
		if err != nil {
			db.logger.Debug("Chunk write failed, backing off", "slot", slot, "err", err)
			return err
		}
		ack = a
		return nil
	}, db.sendTimeout)
	if err != nil {
		return Ack{}, err
	}
	if ack.Accepted {
		db.slotVersions[slot] = version
	}
	return ack, nil
}

// chunkSigPayload is the byte string the chunk signature covers.
func chunkSigPayload(c *wire.Chunk) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{
		byte(c.SlotID), byte(c.SlotID >> 8), byte(c.SlotID >> 16), byte(c.SlotID >> 24),
		byte(c.SlotVersion), byte(c.SlotVersion >> 8), byte(c.SlotVersion >> 16), byte(c.SlotVersion >> 24),
	})
	buf.Write(c.Data)
	return buf.Bytes()
}

type chunkWire struct {
	SlotID      uint32 `json:"slot_id"`
	SlotVersion uint32 `json:"slot_version"`
	Sig         string `json:"sig"`
	Data        string `json:"data"`
}

func (db *StackerDB) putChunk(c *wire.Chunk) (Ack, error) {
	body, err := json.Marshal(chunkWire{
		SlotID:      c.SlotID,
		SlotVersion: c.SlotVersion,
		Sig:         hex.EncodeToString(c.Sig),
		Data:        hex.EncodeToString(c.Data),
	})
	if err != nil {
		return Ack{}, err
	}
	url := fmt.Sprintf("%s/v2/stackerdb/%s/chunks", db.host, db.signersID)
	resp, err := db.http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return Ack{}, fmt.Errorf("%w: %v", ErrRequestFailure, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Ack{}, fmt.Errorf("%w: status %d", ErrRequestFailure, resp.StatusCode)
	}
	var ack Ack
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return Ack{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return ack, nil
}
