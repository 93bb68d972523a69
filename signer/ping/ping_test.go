package ping

import (
	"testing"
	"time"

	"github.com/stacks-network/gsigner/core/types"
	"github.com/stacks-network/gsigner/params"
	"github.com/stacks-network/gsigner/wire"
)

func minimalBlock() *types.NakamotoBlock {
	return &types.NakamotoBlock{
		Header: types.Header{Version: types.BlockVersion, MinerSignature: make([]byte, 65)},
	}
}

func TestIsPingSlotPredicate(t *testing.T) {
	if wire.IsPingSlot(0) || wire.IsPingSlot(1) || wire.IsPingSlot(params.SignerSlotsPerUser) {
		t.Fatalf("non-ping slots matched the predicate")
	}
	if !wire.IsPingSlot(params.PingSlotID) {
		t.Fatalf("signer 0 ping slot not matched")
	}
	if !wire.IsPingSlot(params.PingSlotID + params.SignerSlotsPerUser) {
		t.Fatalf("signer 1 ping slot not matched")
	}
}

func TestRegistryObserve(t *testing.T) {
	r := NewRegistry()
	r.Track(7)
	if r.Outstanding() != 1 {
		t.Fatalf("expected one outstanding ping")
	}
	time.Sleep(time.Millisecond)
	rtt, ok := r.Observe(7)
	if !ok {
		t.Fatalf("tracked ping not observed")
	}
	if rtt <= 0 {
		t.Fatalf("rtt sample should be strictly positive, have %v", rtt)
	}
	if r.Outstanding() != 0 {
		t.Fatalf("observed ping should leave the registry")
	}
	if _, ok := r.Observe(7); ok {
		t.Fatalf("ping observed twice")
	}
	if _, ok := r.Observe(999); ok {
		t.Fatalf("unknown pong id recorded a sample")
	}
	if len(r.Samples()) != 1 {
		t.Fatalf("expected exactly one sample, have %d", len(r.Samples()))
	}
}

func pingChunk(t *testing.T, slot uint32, msg wire.SignerMessage) *wire.Chunk {
	t.Helper()
	data, err := wire.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("failed to encode: %v", err)
	}
	return &wire.Chunk{SlotID: slot, Data: data}
}

func TestInterceptRouting(t *testing.T) {
	probe, err := NewPing(4)
	if err != nil {
		t.Fatalf("failed to build ping: %v", err)
	}

	// Non-ping slots pass through untouched.
	if _, consumed := Intercept(&wire.Chunk{SlotID: 0, Data: []byte{1}}, 0); consumed {
		t.Fatalf("non-ping slot consumed by the filter")
	}

	// Undecodable payloads in ping slots are swallowed.
	if msg, consumed := Intercept(&wire.Chunk{SlotID: params.PingSlotID, Data: []byte{0xff, 0xff}}, 1); !consumed || msg != nil {
		t.Fatalf("undecodable ping chunk not dropped")
	}

	// Our own slot echo is swallowed without producing a message.
	own := pingChunk(t, wire.PingSlot(0), probe)
	if msg, consumed := Intercept(own, 0); !consumed || msg != nil {
		t.Fatalf("self-echo not suppressed: msg=%v consumed=%v", msg, consumed)
	}

	// A peer's ping is delivered.
	msg, consumed := Intercept(own, 1)
	if !consumed || msg == nil {
		t.Fatalf("peer ping not delivered")
	}
	in, ok := msg.(*wire.Ping)
	if !ok {
		t.Fatalf("expected a ping, have %T", msg)
	}
	if in.ID != probe.ID {
		t.Fatalf("ping id mangled in transit")
	}

	// A non-ping message sitting in a ping slot is swallowed.
	stray := pingChunk(t, wire.PingSlot(0), &wire.BlockRejection{
		Code:   wire.RejectValidationFailed,
		Reason: "stray",
		Block:  minimalBlock(),
	})
	if msg, consumed := Intercept(stray, 1); !consumed || msg != nil {
		t.Fatalf("stray message in ping slot not dropped")
	}
}

func TestPingerProbesUntilStopped(t *testing.T) {
	sent := make(chan int, 16)
	p := NewPinger(sendFunc(func(size int) error {
		sent <- size
		return nil
	}), 5*time.Millisecond, 3)
	p.Start()
	select {
	case size := <-sent:
		if size != 3 {
			t.Fatalf("unexpected payload size: have %d want 3", size)
		}
	case <-time.After(time.Second):
		t.Fatalf("pinger never probed")
	}
	p.Stop()
	drained := len(sent)
	time.Sleep(20 * time.Millisecond)
	if len(sent) > drained+1 {
		t.Fatalf("pinger kept probing after stop")
	}
}

type sendFunc func(int) error

func (f sendFunc) SendPing(size int) error { return f(size) }
