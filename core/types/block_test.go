package types

import (
	"testing"

	"github.com/stacks-network/gsigner/common"
)

func testBlock() *NakamotoBlock {
	return &NakamotoBlock{
		Header: Header{
			Version:        BlockVersion,
			ChainLength:    42,
			BurnSpent:      1000,
			ParentBlockID:  common.HexToHash("0xaa"),
			StateIndexRoot: common.HexToHash("0xbb"),
			Timestamp:      1700000000,
			MinerSignature: make([]byte, 65),
		},
		Txs: []*Transaction{
			{Payload: []byte("tx-one")},
			{Payload: []byte("tx-two")},
		},
	}
}

func TestBlockEncodeDecodeRoundTrip(t *testing.T) {
	b := testBlock()
	b.Header.TxMerkleRoot = TxMerkleRoot(b.Txs)
	enc, err := b.Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	dec, err := DecodeBlockBytes(enc)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	h1, err := b.SignatureHash()
	if err != nil {
		t.Fatalf("signature hash failed: %v", err)
	}
	h2, err := dec.SignatureHash()
	if err != nil {
		t.Fatalf("signature hash of decoded block failed: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("signature hash changed over round trip: have %s want %s", h2, h1)
	}
	if len(dec.Txs) != 2 || dec.Txs[0].TxID() != b.Txs[0].TxID() {
		t.Fatalf("transactions did not survive round trip")
	}
}

func TestSignatureHashExcludesSignerSignature(t *testing.T) {
	b := testBlock()
	before, err := b.SignatureHash()
	if err != nil {
		t.Fatalf("signature hash failed: %v", err)
	}
	b.Header.SignerSignature = []byte{1, 2, 3}
	after, err := b.SignatureHash()
	if err != nil {
		t.Fatalf("signature hash failed: %v", err)
	}
	if before != after {
		t.Fatalf("attaching the signer signature changed the block identity")
	}
}

func TestSignatureHashUnknownVersion(t *testing.T) {
	b := testBlock()
	b.Header.Version = 0xff
	if _, err := b.SignatureHash(); err != ErrUnknownBlockVersion {
		t.Fatalf("expected ErrUnknownBlockVersion, got %v", err)
	}
}

func TestContainsTx(t *testing.T) {
	b := testBlock()
	if !b.ContainsTx(b.Txs[1].TxID()) {
		t.Fatalf("block should contain its own txid")
	}
	if b.ContainsTx(common.HexToHash("0xdead")) {
		t.Fatalf("block should not contain a foreign txid")
	}
}

func TestTxMerkleRoot(t *testing.T) {
	if (TxMerkleRoot(nil) != common.Hash{}) {
		t.Fatalf("empty merkle root should be zero")
	}
	txs := []*Transaction{{Payload: []byte("a")}, {Payload: []byte("b")}, {Payload: []byte("c")}}
	r1 := TxMerkleRoot(txs)
	r2 := TxMerkleRoot(txs)
	if r1 != r2 {
		t.Fatalf("merkle root not deterministic")
	}
	if r1 == TxMerkleRoot(txs[:2]) {
		t.Fatalf("merkle root ignored a transaction")
	}
}
