package wire

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stacks-network/gsigner/core/types"
	"github.com/stacks-network/gsigner/crypto"
	"github.com/stacks-network/gsigner/frost"
	"github.com/stacks-network/gsigner/params"
)

func testBlock() *types.NakamotoBlock {
	return &types.NakamotoBlock{
		Header: types.Header{
			Version:        types.BlockVersion,
			ChainLength:    7,
			MinerSignature: make([]byte, 65),
		},
		Txs: []*types.Transaction{{Payload: []byte("tx")}},
	}
}

func TestMessageRoundTrips(t *testing.T) {
	priv := crypto.PrivKeyFromSeed([]byte("wire test"))
	packet := &frost.Packet{Msg: &frost.DkgBegin{DkgID: 3}}
	require.NoError(t, packet.Sign(priv))

	msgs := []SignerMessage{
		&PacketMessage{Packet: packet},
		&BlockProposal{Block: testBlock()},
		&BlockAccepted{Block: testBlock()},
		&BlockRejection{Code: RejectValidationFailed, Reason: "no good", Block: testBlock()},
		&Ping{ID: 99, Payload: []byte{1, 2, 3}},
		&Pong{ID: 99, Payload: []byte{1, 2, 3}},
	}
	for _, m := range msgs {
		enc, err := EncodeMessage(m)
		require.NoError(t, err, "encode %T", m)
		dec, err := DecodeMessage(enc)
		require.NoError(t, err, "decode %T", m)
		require.Equal(t, m.WireType(), dec.WireType())
		reenc, err := EncodeMessage(dec)
		require.NoError(t, err)
		require.True(t, bytes.Equal(enc, reenc), "round trip of %T not canonical", m)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := DecodeMessage(nil); err != ErrEmptyChunk {
		t.Fatalf("expected ErrEmptyChunk, got %v", err)
	}
	if _, err := DecodeMessage([]byte{0xEE}); err == nil {
		t.Fatalf("expected error for unknown message type")
	}
	if _, err := DecodeMessage([]byte{byte(TypeBlockProposal), 0x01}); err == nil {
		t.Fatalf("expected error for truncated block")
	}
}

func TestSlotLayout(t *testing.T) {
	// Every signer owns a distinct ping slot and the predicate agrees.
	seen := make(map[uint32]bool)
	for id := uint32(0); id < 100; id++ {
		slot := PingSlot(id)
		if seen[slot] {
			t.Fatalf("ping slot %d reused by signer %d", slot, id)
		}
		seen[slot] = true
		if !IsPingSlot(slot) {
			t.Fatalf("signer %d ping slot %d not recognized", id, slot)
		}
	}
	if IsPingSlot(0) || IsPingSlot(params.PingSlotID-1) || IsPingSlot(params.SignerSlotsPerUser) {
		t.Fatalf("non-ping slots recognized as ping slots")
	}
	if !IsPingSlot(params.PingSlotID) || !IsPingSlot(params.PingSlotID+params.SignerSlotsPerUser) {
		t.Fatalf("ping slots not recognized")
	}

	// Ping and pong share the sender's ping slot.
	ping := &Ping{ID: 1}
	if SlotID(ping, 4) != SlotID(ping.Pong(), 4) {
		t.Fatalf("ping and pong map to different slots")
	}
	if SlotID(ping, 4) != PingSlot(4) {
		t.Fatalf("ping slot mismatch: have %d want %d", SlotID(ping, 4), PingSlot(4))
	}
}

func TestPingFormattingHidesPayload(t *testing.T) {
	ping := &Ping{ID: 42, Payload: []byte("sensitive ballast")}
	pong := ping.Pong()
	for _, s := range []string{
		ping.String(),
		pong.String(),
		fmt.Sprintf("%v", ping),
		fmt.Sprintf("%+v", pong),
	} {
		if strings.Contains(s, "payload") || strings.Contains(s, "ballast") {
			t.Fatalf("formatted ping exposes payload: %q", s)
		}
	}
}

func TestContractIDs(t *testing.T) {
	if SignersContractID(true) == SignersContractID(false) {
		t.Fatalf("mainnet and testnet signer contracts collide")
	}
	if SignersContractID(true) == MinersContractID(true) {
		t.Fatalf("signers and miners contracts collide")
	}
	if !strings.HasSuffix(SignersContractID(true), "."+params.SignersContractName) {
		t.Fatalf("unexpected signers contract id: %s", SignersContractID(true))
	}
}
