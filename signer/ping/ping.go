// Package ping implements the RTT-probe subsystem multiplexed on the
// chunk bus: ping-slot interception, the outstanding-ping registry and
// the periodic pinger used for load tests.
package ping

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/stacks-network/gsigner/log"
	"github.com/stacks-network/gsigner/wire"
)

// NewPing builds a probe with a fresh random id and payloadSize bytes
// of random ballast.
func NewPing(payloadSize int) (*wire.Ping, error) {
	var id [8]byte
	if _, err := rand.Read(id[:]); err != nil {
		return nil, err
	}
	payload := make([]byte, payloadSize)
	if _, err := rand.Read(payload); err != nil {
		return nil, err
	}
	return &wire.Ping{ID: binary.LittleEndian.Uint64(id[:]), Payload: payload}, nil
}

// Registry tracks outstanding pings by id until the matching pong
// arrives. Entries for pings that are never answered are retained for
// the life of the process.
type Registry struct {
	mu      sync.Mutex
	pending map[uint64]time.Time
	samples []time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[uint64]time.Time)}
}

// Track records that a ping with the given id was sent now.
func (r *Registry) Track(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[id] = time.Now()
}

// Observe resolves an outstanding ping with the answering pong,
// recording and returning the RTT sample. Unknown ids are ignored.
func (r *Registry) Observe(id uint64) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sent, ok := r.pending[id]
	if !ok {
		return 0, false
	}
	delete(r.pending, id)
	rtt := time.Since(sent)
	r.samples = append(r.samples, rtt)
	return rtt, true
}

// Outstanding returns the number of pings still awaiting a pong.
func (r *Registry) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Samples returns a copy of the recorded RTT samples.
func (r *Registry) Samples() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.samples...)
}

// Intercept offers a chunk to the ping filter. The second return is
// true when the chunk belongs to a ping slot and is consumed either
// way; the message is nil when the chunk should simply be dropped
// (self-echo, undecodable payload or a non-ping message in a ping
// slot).
func Intercept(chunk *wire.Chunk, signerID uint32) (wire.SignerMessage, bool) {
	if !wire.IsPingSlot(chunk.SlotID) {
		return nil, false
	}
	msg, err := wire.DecodeMessage(chunk.Data)
	if err != nil {
		log.Warn("Failed to decode ping slot chunk", "slot", chunk.SlotID, "err", err)
		return nil, true
	}
	switch msg.(type) {
	case *wire.Ping, *wire.Pong:
	default:
		log.Warn("Non-ping message in a ping slot", "slot", chunk.SlotID)
		return nil, true
	}
	// Don't process our own slot echoes.
	if chunk.SlotID == wire.PingSlot(signerID) {
		return nil, true
	}
	return msg, true
}
