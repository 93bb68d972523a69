package frost

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stacks-network/gsigner/crypto"
)

// testGroup wires three signers holding four key shares between them to
// one coordinator, with every packet broadcast to every participant.
type testGroup struct {
	t           *testing.T
	coordinator *FrostCoordinator
	signers     []*Signer
}

func newTestGroup(t *testing.T) *testGroup {
	keyIDs := map[uint32][]uint32{0: {1, 2}, 1: {3}, 2: {4}}
	pks := &PublicKeys{
		Signers: make(map[uint32]*btcec.PublicKey),
		KeyIDs:  keyIDs,
	}
	privs := make(map[uint32]*btcec.PrivateKey)
	for id := uint32(0); id < 3; id++ {
		priv := crypto.PrivKeyFromSeed([]byte{byte(id), 't', 'e', 's', 't'})
		privs[id] = priv
		pks.Signers[id] = priv.PubKey()
	}
	const (
		totalKeys    = uint32(4)
		threshold    = uint32(3) // ceil(7*4/10)
		dkgThreshold = uint32(4) // ceil(9*4/10)
	)
	g := &testGroup{t: t}
	for id := uint32(0); id < 3; id++ {
		g.signers = append(g.signers, NewSigner(threshold, dkgThreshold, 3, totalKeys, id, keyIDs[id], privs[id], pks))
	}
	g.coordinator = NewFrostCoordinator(Config{
		Threshold:      threshold,
		DkgThreshold:   dkgThreshold,
		NumSigners:     3,
		NumKeys:        totalKeys,
		MessagePrivKey: privs[0],
		PublicKeys:     pks,
	})
	return g
}

// broadcast runs packets through every signer and the coordinator until
// the network goes quiet, returning all operation results.
func (g *testGroup) broadcast(initial ...*Packet) []*OperationResult {
	queue := initial
	var results []*OperationResult
	for rounds := 0; len(queue) > 0; rounds++ {
		if rounds > 16 {
			g.t.Fatalf("protocol did not converge")
		}
		var next []*Packet
		for _, s := range g.signers {
			out, err := s.ProcessInboundMessages(queue)
			if err != nil {
				g.t.Fatalf("signer %d failed: %v", s.SignerID, err)
			}
			next = append(next, out...)
		}
		out, res, err := g.coordinator.ProcessInboundMessages(queue)
		if err != nil {
			g.t.Fatalf("coordinator failed: %v", err)
		}
		next = append(next, out...)
		results = append(results, res...)
		queue = next
	}
	return results
}

func (g *testGroup) runDkg() *btcec.PublicKey {
	begin, err := g.coordinator.StartDkgRound()
	if err != nil {
		g.t.Fatalf("failed to start dkg: %v", err)
	}
	results := g.broadcast(begin)
	if len(results) != 1 || results[0].Type != OpDkg {
		g.t.Fatalf("expected a single Dkg result, got %d", len(results))
	}
	return results[0].Point
}

func TestDkgRound(t *testing.T) {
	g := newTestGroup(t)
	key := g.runDkg()
	if key == nil {
		t.Fatalf("dkg produced no aggregate key")
	}
	if g.coordinator.AggregatePublicKey() == nil {
		t.Fatalf("coordinator did not install the aggregate key")
	}
	for _, s := range g.signers {
		if s.GroupKey() == nil || !s.GroupKey().IsEqual(key) {
			t.Fatalf("signer %d disagrees on the group key", s.SignerID)
		}
	}
}

func TestSigningRound(t *testing.T) {
	g := newTestGroup(t)
	key := g.runDkg()

	msg := []byte("a message everyone agrees on")
	req, err := g.coordinator.StartSigningRound(msg, false, nil)
	if err != nil {
		t.Fatalf("failed to start signing round: %v", err)
	}
	results := g.broadcast(req)
	if len(results) != 1 || results[0].Type != OpSign {
		t.Fatalf("expected a single Sign result, got %d", len(results))
	}
	sig := results[0].Signature
	if !bytes.Equal(results[0].Message, msg) {
		t.Fatalf("result covers the wrong message")
	}
	if !sig.Verify(msg, key) {
		t.Fatalf("aggregate signature does not verify")
	}
	if sig.Verify([]byte("another message"), key) {
		t.Fatalf("signature verified over the wrong message")
	}

	parsed, err := ParseSignature(sig.Bytes())
	if err != nil {
		t.Fatalf("failed to parse serialized signature: %v", err)
	}
	if !parsed.Verify(msg, key) {
		t.Fatalf("serialized signature round trip broke verification")
	}
}

func TestTaprootSigningRound(t *testing.T) {
	g := newTestGroup(t)
	key := g.runDkg()

	msg := []byte("taproot spend digest")
	root := crypto.Sha512_256([]byte("merkle root"))
	req, err := g.coordinator.StartSigningRound(msg, true, root[:])
	if err != nil {
		t.Fatalf("failed to start taproot round: %v", err)
	}
	results := g.broadcast(req)
	if len(results) != 1 || results[0].Type != OpSignTaproot {
		t.Fatalf("expected a single SignTaproot result, got %d", len(results))
	}
	tweaked := TweakedKey(key, root[:])
	if !results[0].Signature.Verify(msg, tweaked) {
		t.Fatalf("taproot signature does not verify against the tweaked key")
	}
	if results[0].Signature.Verify(msg, key) {
		t.Fatalf("taproot signature verified against the untweaked key")
	}
}

func TestStartSigningRoundRequiresKey(t *testing.T) {
	g := newTestGroup(t)
	if _, err := g.coordinator.StartSigningRound([]byte("m"), false, nil); err != ErrNoAggregateKey {
		t.Fatalf("expected ErrNoAggregateKey, got %v", err)
	}
}

func TestPacketSignatureVerification(t *testing.T) {
	priv := crypto.PrivKeyFromSeed([]byte("packet key"))
	p := &Packet{Msg: &DkgBegin{DkgID: 7}}
	if err := p.Sign(priv); err != nil {
		t.Fatalf("failed to sign packet: %v", err)
	}
	if !p.Verify(priv.PubKey()) {
		t.Fatalf("packet did not verify against the signing key")
	}
	other := crypto.PrivKeyFromSeed([]byte("other key"))
	if p.Verify(other.PubKey()) {
		t.Fatalf("packet verified against the wrong key")
	}
	p.Msg = &DkgBegin{DkgID: 8}
	if p.Verify(priv.PubKey()) {
		t.Fatalf("tampered packet still verified")
	}
}

func TestMessageCodecRoundTrip(t *testing.T) {
	nr := &NonceResponse{
		DkgID: 1, SignID: 2, SignerID: 3,
		KeyIDs:       []uint32{4, 5},
		HidingNonce:  bytes.Repeat([]byte{0x02}, 33),
		BindingNonce: bytes.Repeat([]byte{0x03}, 33),
		Message:      []byte("echo"),
	}
	msgs := []Message{
		&DkgBegin{DkgID: 1},
		&DkgPrivateBegin{DkgID: 1},
		&DkgEnd{DkgID: 1, SignerID: 2, Status: DkgFailure, FailureReason: "bad share"},
		&DkgPublicShares{DkgID: 1, SignerID: 2, Commitments: [][]byte{bytes.Repeat([]byte{0x02}, 33)}},
		&DkgPrivateShares{DkgID: 1, SignerID: 2, Shares: []EncryptedShare{{KeyID: 3, Nonce: []byte{1, 2}, Ciphertext: []byte{3, 4}}}},
		&NonceRequest{DkgID: 1, SignID: 2, Message: []byte("m"), IsTaproot: true, MerkleRoot: []byte("root")},
		nr,
		&SignatureShareRequest{DkgID: 1, SignID: 2, Message: []byte("m"), NonceResponses: []*NonceResponse{nr}},
		&SignatureShareResponse{DkgID: 1, SignID: 2, SignerID: 3, KeyIDs: []uint32{4}, Share: bytes.Repeat([]byte{0x05}, 32)},
	}
	for _, m := range msgs {
		var buf bytes.Buffer
		if err := EncodeMessage(&buf, m); err != nil {
			t.Fatalf("encode of %T failed: %v", m, err)
		}
		dec, err := DecodeMessage(&buf)
		if err != nil {
			t.Fatalf("decode of %T failed: %v", m, err)
		}
		var reenc bytes.Buffer
		if err := EncodeMessage(&reenc, dec); err != nil {
			t.Fatalf("re-encode of %T failed: %v", m, err)
		}
		var orig bytes.Buffer
		EncodeMessage(&orig, m)
		if !bytes.Equal(orig.Bytes(), reenc.Bytes()) {
			t.Fatalf("codec round trip of %T not canonical", m)
		}
	}
}
