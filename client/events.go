package client

import (
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"

	"github.com/stacks-network/gsigner/core/types"
	"github.com/stacks-network/gsigner/log"
	"github.com/stacks-network/gsigner/wire"
)

// EventListener is the HTTP endpoint the chain node pushes signer
// events into: chunk-bus slot updates and block validation verdicts.
// Received events come out of Events in the order they arrived.
type EventListener struct {
	endpoint string
	events   chan interface{}
	server   *http.Server
	logger   log.Logger
}

// NewEventListener creates a listener bound to endpoint
// (e.g. 127.0.0.1:30000).
func NewEventListener(endpoint string) *EventListener {
	return &EventListener{
		endpoint: endpoint,
		events:   make(chan interface{}, 256),
		logger:   log.New("module", "events"),
	}
}

// Events returns the inbound event stream.
func (l *EventListener) Events() <-chan interface{} { return l.events }

// Start begins serving the event endpoint.
func (l *EventListener) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/stackerdb_chunks", l.handleChunks)
	mux.HandleFunc("/proposal_response", l.handleProposalResponse)
	listener, err := net.Listen("tcp", l.endpoint)
	if err != nil {
		return err
	}
	l.server = &http.Server{Handler: mux}
	go func() {
		if err := l.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			l.logger.Error("Event listener stopped", "err", err)
		}
	}()
	l.logger.Info("Event listener started", "endpoint", l.endpoint)
	return nil
}

// Stop shuts the endpoint down.
func (l *EventListener) Stop() error {
	if l.server == nil {
		return nil
	}
	return l.server.Close()
}

type chunksEventWire struct {
	ContractID    string      `json:"contract_id"`
	ModifiedSlots []chunkWire `json:"modified_slots"`
}

func (l *EventListener) handleChunks(w http.ResponseWriter, r *http.Request) {
	var ev chunksEventWire
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		l.logger.Warn("Undecodable chunks event", "err", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	out := &wire.ChunksEvent{ContractID: ev.ContractID}
	for _, c := range ev.ModifiedSlots {
		sig, err := hex.DecodeString(c.Sig)
		if err != nil {
			l.logger.Warn("Chunk carries non-hex signature", "slot", c.SlotID)
			continue
		}
		data, err := hex.DecodeString(c.Data)
		if err != nil {
			l.logger.Warn("Chunk carries non-hex data", "slot", c.SlotID)
			continue
		}
		out.ModifiedSlots = append(out.ModifiedSlots, wire.Chunk{
			SlotID:      c.SlotID,
			SlotVersion: c.SlotVersion,
			Sig:         sig,
			Data:        data,
		})
	}
	l.deliver(out)
	w.WriteHeader(http.StatusOK)
}

type proposalResponseWire struct {
	Accepted     bool   `json:"accepted"`
	Block        string `json:"block"`
	RejectReason string `json:"reject_reason,omitempty"`
}

func (l *EventListener) handleProposalResponse(w http.ResponseWriter, r *http.Request) {
	var ev proposalResponseWire
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		l.logger.Warn("Undecodable proposal response", "err", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	raw, err := hex.DecodeString(ev.Block)
	if err != nil {
		l.logger.Warn("Proposal response carries non-hex block")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	block, err := types.DecodeBlockBytes(raw)
	if err != nil {
		l.logger.Warn("Proposal response carries undecodable block", "err", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	l.deliver(&wire.BlockValidationEvent{
		Accepted:     ev.Accepted,
		Block:        block,
		RejectReason: ev.RejectReason,
	})
	w.WriteHeader(http.StatusOK)
}

func (l *EventListener) deliver(ev interface{}) {
	select {
	case l.events <- ev:
	default:
		l.logger.Warn("Event queue full, dropping event")
	}
}
