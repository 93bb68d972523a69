// Package signer implements the per-signer run-loop: the command queue,
// the global state machine, the block cache with its vote decision, the
// packet verification and rewrite pipeline, and the RTT-probe handling
// multiplexed on the same transport.
package signer

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stacks-network/gsigner/client"
	"github.com/stacks-network/gsigner/common"
	"github.com/stacks-network/gsigner/core/types"
	"github.com/stacks-network/gsigner/frost"
	"github.com/stacks-network/gsigner/log"
	"github.com/stacks-network/gsigner/signer/ping"
	"github.com/stacks-network/gsigner/wire"
)

// State is the run-loop's global state.
type State uint8

const (
	// StateUninitialized means the aggregate key has not been fetched
	// from the chain node yet.
	StateUninitialized State = iota
	// StateIdle means commands may execute.
	StateIdle
	// StateDkg means a key generation round is in flight.
	StateDkg
	// StateSign means a signing round is in flight.
	StateSign
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateIdle:
		return "idle"
	case StateDkg:
		return "dkg"
	case StateSign:
		return "sign"
	default:
		return "unknown"
	}
}

// StacksNode is the chain-node surface the run-loop consumes.
type StacksNode interface {
	GetAggregatePublicKey() (*btcec.PublicKey, error)
	SubmitBlockForValidation(block *types.NakamotoBlock) error
}

// ChunkBus is the chunk-bus surface the run-loop consumes.
type ChunkBus interface {
	SendMessageWithRetry(signerID uint32, msg wire.SignerMessage) (client.Ack, error)
	SignersContractID() string
	MinersContractID() string
}

// RunLoop is the single-threaded signer orchestrator. The host drives
// it by calling RunOnePass; all state is owned here and mutated
// serially.
type RunLoop struct {
	eventTimeout time.Duration
	initTimeout  time.Duration

	coordinator  frost.Coordinator
	signingRound *frost.Signer
	stacksClient StacksNode
	stackerDB    ChunkBus

	commands []Command
	state    State

	blocks       *blockCache
	pings        *ping.Registry
	transactions []common.Hash

	logger log.Logger
}

// New assembles a run-loop in the Uninitialized state.
func New(coordinator frost.Coordinator, signingRound *frost.Signer, stacks StacksNode, bus ChunkBus, eventTimeout time.Duration, expectedTxs []common.Hash) *RunLoop {
	return &RunLoop{
		eventTimeout: eventTimeout,
		initTimeout:  30 * time.Second,
		coordinator:  coordinator,
		signingRound: signingRound,
		stacksClient: stacks,
		stackerDB:    bus,
		state:        StateUninitialized,
		blocks:       newBlockCache(),
		pings:        ping.NewRegistry(),
		transactions: expectedTxs,
		logger:       log.New("signer", signingRound.SignerID),
	}
}

// SetEventTimeout bounds the per-pass event wait of the host loop.
func (r *RunLoop) SetEventTimeout(d time.Duration) { r.eventTimeout = d }

// GetEventTimeout returns the per-pass event wait.
func (r *RunLoop) GetEventTimeout() time.Duration { return r.eventTimeout }

// State returns the current run-loop state.
func (r *RunLoop) State() State { return r.state }

// PingRegistry exposes the RTT registry for reporting.
func (r *RunLoop) PingRegistry() *ping.Registry { return r.pings }

// RunOnePass executes one cooperative pass: enqueue the optional
// command, initialize if needed, dispatch the optional event, then try
// the next queued command. Finished operation results are pushed into
// results.
func (r *RunLoop) RunOnePass(event interface{}, cmd Command, results chan<- []*frost.OperationResult) {
	r.logger.Trace("Running one pass", "state", r.state, "queued", len(r.commands))
	if cmd != nil {
		r.commands = append(r.commands, cmd)
	}
	if r.state == StateUninitialized {
		err := client.RetryWithExponentialBackoff(r.initialize, r.initTimeout)
		if err != nil {
			log.Crit("Failed to initialize signer, chain node may be down", "err", err)
		}
	}
	switch ev := event.(type) {
	case nil:
	case *wire.BlockValidationEvent:
		r.handleBlockValidation(ev, results)
	case *wire.ChunksEvent:
		r.handleChunksEvent(ev, results)
	default:
		r.logger.Warn("Dropping unknown event", "type", fmt.Sprintf("%T", event))
	}
	// Commands run after the event: a verdict processed above may have
	// moved us back to idle or queued a Sign for a fresh block.
	r.processNextCommand()
}

// Run drives RunOnePass from channels until quit closes. Each pass
// takes at most one event and one command, event first.
func (r *RunLoop) Run(events <-chan interface{}, cmds <-chan Command, results chan<- []*frost.OperationResult, quit <-chan struct{}) {
	for {
		var (
			event interface{}
			cmd   Command
		)
		select {
		case <-quit:
			return
		case event = <-events:
		case cmd = <-cmds:
		case <-time.After(r.eventTimeout):
		}
		// Opportunistically drain one command to pair with the event.
		if cmd == nil {
			select {
			case cmd = <-cmds:
			default:
			}
		}
		r.RunOnePass(event, cmd, results)
	}
}

// SendPing enqueues a ping command; satisfies ping.Sender for the
// periodic pinger.
func (r *RunLoop) SendPing(payloadSize int) error {
	r.commands = append(r.commands, PingCommand{PayloadSize: payloadSize})
	return nil
}

// initialize fetches the aggregate public key. With no key on chain,
// the elected coordinator seeds the queue with a DKG round.
func (r *RunLoop) initialize() error {
	key, err := r.stacksClient.GetAggregatePublicKey()
	if err != nil {
		return err
	}
	if key != nil {
		r.logger.Debug("Aggregate public key is set", "key", common.Bytes2Hex(key.SerializeCompressed()))
		r.coordinator.SetAggregatePublicKey(key)
	} else {
		coordinatorID, _ := CalculateCoordinator(r.signingRound.PublicKeys)
		if coordinatorID == r.signingRound.SignerID && !r.queueHeadsWithDkg() {
			r.commands = append([]Command{DkgCommand{}}, r.commands...)
		}
	}
	r.state = StateIdle
	return nil
}

func (r *RunLoop) queueHeadsWithDkg() bool {
	if len(r.commands) == 0 {
		return false
	}
	_, ok := r.commands[0].(DkgCommand)
	return ok
}

// processNextCommand pops and executes the next queued command when
// idle. Retriable failures are retried in place; the rest are dropped.
func (r *RunLoop) processNextCommand() {
	switch r.state {
	case StateUninitialized:
		r.logger.Debug("Signer is uninitialized, waiting for the aggregate public key")
	case StateIdle:
		if len(r.commands) == 0 {
			r.logger.Trace("Nothing to process, waiting for command")
			return
		}
		cmd := r.commands[0]
		r.commands = r.commands[1:]
		for {
			ok, retry := r.executeCommand(cmd)
			if ok || !retry {
				return
			}
			r.logger.Warn("Failed to execute command, retrying")
		}
	case StateDkg, StateSign:
		r.logger.Trace("Waiting for operation to finish", "state", r.state)
	}
}

// executeCommand runs one command. The first return reports success;
// the second whether a failure is worth retrying.
func (r *RunLoop) executeCommand(cmd Command) (bool, bool) {
	switch c := cmd.(type) {
	case DkgCommand:
		r.logger.Info("Starting DKG")
		packet, err := r.coordinator.StartDkgRound()
		if err != nil {
			r.logger.Error("Failed to start DKG", "err", err)
			r.logger.Warn("Resetting coordinator's internal state")
			r.coordinator.Reset()
			return false, true
		}
		r.publish(&wire.PacketMessage{Packet: packet})
		r.state = StateDkg
		return true, false

	case SignCommand:
		hash, err := c.Block.SignatureHash()
		if err != nil {
			r.logger.Error("Refusing to sign a block with no signature hash", "err", err)
			return false, false
		}
		info := r.blocks.ensure(hash, c.Block)
		if info.SignedOver {
			r.logger.Debug("Block already entered a signing round", "block", hash)
			return false, false
		}
		blockBytes, err := c.Block.Encode()
		if err != nil {
			r.logger.Error("Failed to serialize block for signing", "block", hash, "err", err)
			return false, false
		}
		r.logger.Info("Starting signing round", "block", hash)
		packet, err := r.coordinator.StartSigningRound(blockBytes, c.IsTaproot, c.MerkleRoot)
		if err != nil {
			r.logger.Error("Failed to start signing round", "err", err)
			r.logger.Warn("Resetting coordinator's internal state")
			r.coordinator.Reset()
			return false, true
		}
		r.publish(&wire.PacketMessage{Packet: packet})
		info.SignedOver = true
		r.state = StateSign
		return true, false

	case PingCommand:
		probe, err := ping.NewPing(c.PayloadSize)
		if err != nil {
			r.logger.Error("Failed to build ping", "err", err)
			return false, true
		}
		r.pings.Track(probe.ID)
		r.publish(probe)
		return true, false

	default:
		r.logger.Error("Dropping unknown command")
		return false, false
	}
}

// handleBlockValidation reconciles a chain-node verdict with the block
// cache and any parked nonce request.
func (r *RunLoop) handleBlockValidation(ev *wire.BlockValidationEvent, results chan<- []*frost.OperationResult) {
	hash, err := ev.Block.SignatureHash()
	if err != nil {
		r.logger.Warn("Validated block has no signature hash", "err", err)
		r.publish(&wire.BlockRejection{
			Code:   wire.RejectInvalidSignatureHash,
			Reason: err.Error(),
			Block:  ev.Block,
		})
		return
	}
	info := r.blocks.ensure(hash, ev.Block)
	info.markValid(ev.Accepted)
	if !ev.Accepted {
		r.publish(&wire.BlockRejection{
			Code:   wire.RejectValidationFailed,
			Reason: ev.RejectReason,
			Block:  ev.Block,
		})
	}
	if info.NonceRequest != nil {
		// Resume the request that was parked waiting for this verdict,
		// exactly as if it had just arrived.
		packet := info.NonceRequest
		info.NonceRequest = nil
		if r.validateNonceRequest(packet) {
			r.dispatchPackets([]*frost.Packet{packet}, results)
		}
		return
	}
	coordinatorID, _ := CalculateCoordinator(r.signingRound.PublicKeys)
	if ev.Accepted && !info.SignedOver && coordinatorID == r.signingRound.SignerID {
		r.commands = append(r.commands, SignCommand{Block: ev.Block})
	}
}

// handleChunksEvent routes a chunk-bus event by contract id.
func (r *RunLoop) handleChunksEvent(ev *wire.ChunksEvent, results chan<- []*frost.OperationResult) {
	switch ev.ContractID {
	case r.stackerDB.MinersContractID():
		r.processEventMiner(ev)
	case r.stackerDB.SignersContractID():
		r.processEventSigner(ev, results)
	default:
		r.logger.Warn("Received event from unknown contract", "contract", ev.ContractID)
	}
}

// processEventMiner ingests miner chunks: block proposals headed for
// validation.
func (r *RunLoop) processEventMiner(ev *wire.ChunksEvent) {
	for i := range ev.ModifiedSlots {
		chunk := &ev.ModifiedSlots[i]
		msg, err := wire.DecodeMessage(chunk.Data)
		if err != nil {
			r.logger.Warn("Unrecognized message in miners contract", "slot", chunk.SlotID, "err", err)
			continue
		}
		proposal, ok := msg.(*wire.BlockProposal)
		if !ok {
			r.logger.Warn("Non-proposal message in miners contract", "slot", chunk.SlotID)
			continue
		}
		hash, err := proposal.Block.SignatureHash()
		if err != nil {
			r.logger.Warn("Proposed block has no signature hash", "err", err)
			r.publish(&wire.BlockRejection{
				Code:   wire.RejectInvalidSignatureHash,
				Reason: err.Error(),
				Block:  proposal.Block,
			})
			continue
		}
		r.blocks.ensure(hash, proposal.Block)
		if err := r.stacksClient.SubmitBlockForValidation(proposal.Block); err != nil {
			r.logger.Warn("Failed to submit proposed block for validation", "block", hash, "err", err)
		}
	}
}

// processEventSigner ingests signer chunks: ping traffic is intercepted
// first, surviving packets are verified and rewritten, then fed to both
// the signer and the coordinator role.
func (r *RunLoop) processEventSigner(ev *wire.ChunksEvent, results chan<- []*frost.OperationResult) {
	_, coordinatorKey := CalculateCoordinator(r.signingRound.PublicKeys)

	var inbound []*frost.Packet
	for i := range ev.ModifiedSlots {
		chunk := &ev.ModifiedSlots[i]
		if msg, consumed := ping.Intercept(chunk, r.signingRound.SignerID); consumed {
			r.handlePingTraffic(msg)
			continue
		}
		msg, err := wire.DecodeMessage(chunk.Data)
		if err != nil {
			r.logger.Warn("Unrecognized message in signers contract", "slot", chunk.SlotID, "err", err)
			continue
		}
		pm, ok := msg.(*wire.PacketMessage)
		if !ok {
			// Blocks and responses in the signers contract are meant for
			// observing miners.
			continue
		}
		if r.verifyPacket(pm.Packet, coordinatorKey) {
			inbound = append(inbound, pm.Packet)
		}
	}
	if len(inbound) > 0 {
		r.dispatchPackets(inbound, results)
	}
}

// handlePingTraffic answers pings and resolves pongs.
func (r *RunLoop) handlePingTraffic(msg wire.SignerMessage) {
	switch m := msg.(type) {
	case *wire.Ping:
		r.logger.Debug("Answering ping", "id", m.ID)
		r.publish(m.Pong())
	case *wire.Pong:
		if rtt, ok := r.pings.Observe(m.ID); ok {
			r.logger.Info("Observed ping round trip", "id", m.ID, "rtt", rtt)
		} else {
			r.logger.Debug("Ignoring pong for unknown ping", "id", m.ID)
		}
	}
}

// dispatchPackets feeds verified packets to both roles, publishes their
// outbound packets and post-processes any finished operation results.
// Non-elected signers track the round through their own coordinator
// too; their coordinator packets are dropped by peers at verification.
func (r *RunLoop) dispatchPackets(inbound []*frost.Packet, results chan<- []*frost.OperationResult) {
	outbound, err := r.signingRound.ProcessInboundMessages(inbound)
	if err != nil {
		r.logger.Error("Signing round failed to process inbound messages", "err", err)
		outbound = nil
	}
	var operationResults []*frost.OperationResult
	msgs, opResults, err := r.coordinator.ProcessInboundMessages(inbound)
	if err != nil {
		r.logger.Error("Coordinator failed to process inbound messages", "err", err)
	} else {
		outbound = append(outbound, msgs...)
		operationResults = opResults
	}
	r.logger.Debug("Publishing outbound packets", "count", len(outbound))
	for _, p := range outbound {
		r.publish(&wire.PacketMessage{Packet: p})
	}
	if len(operationResults) == 0 {
		return
	}
	kept := r.handleOperationResults(operationResults)
	// The operation finished; free the loop for the next command.
	r.state = StateIdle
	if len(kept) == 0 {
		return
	}
	select {
	case results <- kept:
		r.logger.Debug("Forwarded operation results", "count", len(kept))
	default:
		r.logger.Warn("Results sink is full, dropping operation results", "count", len(kept))
	}
}

// handleOperationResults post-processes finished operations: signing
// results become block responses on the bus; invalid ones are dropped.
func (r *RunLoop) handleOperationResults(opResults []*frost.OperationResult) []*frost.OperationResult {
	kept := opResults[:0]
	for _, result := range opResults {
		switch result.Type {
		case frost.OpSign:
			if r.finishSignResult(result) {
				kept = append(kept, result)
			}
		default:
			kept = append(kept, result)
		}
	}
	return kept
}

// finishSignResult verifies a signing result and publishes the block
// response it stands for. Returns false when the result is dropped.
func (r *RunLoop) finishSignResult(result *frost.OperationResult) bool {
	aggregateKey := r.coordinator.AggregatePublicKey()
	if aggregateKey == nil {
		r.logger.Error("Aggregate key unset while finishing a signing round")
		return false
	}
	if !result.Signature.Verify(r.coordinator.Message(), aggregateKey) {
		r.logger.Warn("Dropping signing result with an invalid signature")
		return false
	}
	hash, accepted, ok := parseVote(result.Message)
	if !ok {
		r.logger.Warn("Signing result covers a non-vote message", "len", len(result.Message))
		return false
	}
	info, known := r.blocks.remove(hash)
	if !known {
		r.logger.Warn("Signing result for an unknown block", "block", hash)
		return false
	}
	if accepted {
		info.Block.Header.SignerSignature = result.Signature.Bytes()
		r.publish(&wire.BlockAccepted{Block: info.Block})
	} else {
		r.publish(&wire.BlockRejection{
			Code:   wire.RejectSignedRejection,
			Reason: "signer set rejected the block",
			Block:  info.Block,
		})
	}
	return true
}

// verifyPacket authenticates a packet per message variant:
// coordinator-originated messages against the elected coordinator's
// key, signer-originated ones against the sending signer's key. Nonce
// and signature-share requests are additionally rewritten to this
// signer's vote.
func (r *RunLoop) verifyPacket(packet *frost.Packet, coordinatorKey *btcec.PublicKey) bool {
	switch msg := packet.Msg.(type) {
	case *frost.DkgBegin, *frost.DkgPrivateBegin:
		if !packet.Verify(coordinatorKey) {
			r.logger.Warn("Dropping DKG begin with an invalid signature")
			return false
		}
	case *frost.DkgEnd:
		if !r.verifySignerPacket(packet, msg.SignerID, "DkgEnd") {
			return false
		}
	case *frost.DkgPublicShares:
		if !r.verifySignerPacket(packet, msg.SignerID, "DkgPublicShares") {
			return false
		}
	case *frost.DkgPrivateShares:
		if !r.verifySignerPacket(packet, msg.SignerID, "DkgPrivateShares") {
			return false
		}
	case *frost.NonceRequest:
		if !packet.Verify(coordinatorKey) {
			r.logger.Warn("Dropping nonce request with an invalid signature")
			return false
		}
		if !r.validateNonceRequest(packet) {
			return false
		}
	case *frost.NonceResponse:
		if !r.verifySignerPacket(packet, msg.SignerID, "NonceResponse") {
			return false
		}
	case *frost.SignatureShareRequest:
		if !packet.Verify(coordinatorKey) {
			r.logger.Warn("Dropping signature share request with an invalid signature")
			return false
		}
		if !r.validateSignatureShareRequest(packet) {
			return false
		}
	case *frost.SignatureShareResponse:
		if !r.verifySignerPacket(packet, msg.SignerID, "SignatureShareResponse") {
			return false
		}
	default:
		r.logger.Warn("Dropping packet with unknown message type")
		return false
	}
	return true
}

func (r *RunLoop) verifySignerPacket(packet *frost.Packet, signerID uint32, kind string) bool {
	key, ok := r.signingRound.PublicKeys.Signers[signerID]
	if !ok {
		r.logger.Warn("Dropping packet from unknown signer", "kind", kind, "signer", signerID)
		return false
	}
	if !packet.Verify(key) {
		r.logger.Warn("Dropping packet with an invalid signature", "kind", kind, "signer", signerID)
		return false
	}
	return true
}

// publish writes one message into this signer's slot for that kind.
func (r *RunLoop) publish(msg wire.SignerMessage) {
	ack, err := r.stackerDB.SendMessageWithRetry(r.signingRound.SignerID, msg)
	if err != nil {
		r.logger.Warn("Failed to send message to the chunk bus", "err", err)
		return
	}
	if !ack.Accepted {
		r.logger.Warn("Chunk bus refused message", "reason", ack.Reason)
		return
	}
	r.logger.Trace("Chunk accepted", "type", msg.WireType())
}
