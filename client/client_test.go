package client

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stacks-network/gsigner/core/types"
	"github.com/stacks-network/gsigner/crypto"
	"github.com/stacks-network/gsigner/wire"
)

func TestGetAggregatePublicKey(t *testing.T) {
	key := crypto.PrivKeyFromSeed([]byte("aggregate")).PubKey()
	unset := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/pox/aggregate_public_key" {
			http.NotFound(w, r)
			return
		}
		reply := map[string]string{"aggregate_public_key": hex.EncodeToString(crypto.CompressPubkey(key))}
		if unset {
			reply["aggregate_public_key"] = ""
		}
		json.NewEncoder(w).Encode(reply)
	}))
	defer srv.Close()

	c := NewStacksClient(srv.URL, time.Second)
	got, err := c.GetAggregatePublicKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || !got.IsEqual(key) {
		t.Fatalf("wrong aggregate key returned")
	}

	unset = true
	got, err = c.GetAggregatePublicKey()
	if err != nil || got != nil {
		t.Fatalf("expected unset key: key=%v err=%v", got, err)
	}
}

func TestSubmitBlockForValidation(t *testing.T) {
	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/block_proposal" {
			http.NotFound(w, r)
			return
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		received = body["block"]
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	block := &types.NakamotoBlock{
		Header: types.Header{Version: types.BlockVersion, MinerSignature: make([]byte, 65)},
	}
	c := NewStacksClient(srv.URL, time.Second)
	if err := c.SubmitBlockForValidation(block); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	raw, err := hex.DecodeString(received)
	if err != nil {
		t.Fatalf("node received non-hex block: %v", err)
	}
	if _, err := types.DecodeBlockBytes(raw); err != nil {
		t.Fatalf("node received undecodable block: %v", err)
	}
}

func TestSendMessageWithRetry(t *testing.T) {
	var (
		writes   int
		lastSlot uint32
		versions []uint32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writes++
		if writes == 1 {
			// First attempt fails; the client must back off and retry.
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		var c chunkWire
		json.NewDecoder(r.Body).Decode(&c)
		lastSlot = c.SlotID
		versions = append(versions, c.SlotVersion)
		json.NewEncoder(w).Encode(Ack{Accepted: true})
	}))
	defer srv.Close()

	key := crypto.PrivKeyFromSeed([]byte("chunks"))
	db := NewStackerDB(srv.URL, false, key, 5*time.Second)

	ping := &wire.Ping{ID: 1}
	ack, err := db.SendMessageWithRetry(2, ping)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if !ack.Accepted {
		t.Fatalf("ack not accepted: %v", ack.Reason)
	}
	if writes < 2 {
		t.Fatalf("expected a retry after the first failure, have %d writes", writes)
	}
	if lastSlot != wire.PingSlot(2) {
		t.Fatalf("chunk written to wrong slot: have %d want %d", lastSlot, wire.PingSlot(2))
	}

	if _, err := db.SendMessageWithRetry(2, ping); err != nil {
		t.Fatalf("second send failed: %v", err)
	}
	if len(versions) < 2 || versions[len(versions)-1] <= versions[0] {
		t.Fatalf("slot version did not increase: %v", versions)
	}
}

func TestGetContractSourceMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	c := NewStacksClient(srv.URL, time.Second)
	if _, err := c.GetContractSource("SP0", "signers"); !errors.Is(err, ErrContractMissing) {
		t.Fatalf("expected ErrContractMissing, got %v", err)
	}
}

func TestRetryWithExponentialBackoffGivesUp(t *testing.T) {
	calls := 0
	err := RetryWithExponentialBackoff(func() error {
		calls++
		return fmt.Errorf("always failing")
	}, 50*time.Millisecond)
	if err == nil {
		t.Fatalf("expected failure after timeout")
	}
	if calls == 0 {
		t.Fatalf("function never called")
	}
}
