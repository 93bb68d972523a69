// Package wire defines the chunk-bus envelope and the SignerMessage
// tagged union every signer publishes and consumes, together with the
// deterministic slot layout mapping message kinds to slot ids.
package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/stacks-network/gsigner/codec"
	"github.com/stacks-network/gsigner/core/types"
	"github.com/stacks-network/gsigner/frost"
	"github.com/stacks-network/gsigner/params"
)

var (
	ErrUnknownMessageType = errors.New("wire: unknown signer message type")
	ErrEmptyChunk         = errors.New("wire: empty chunk payload")
)

// Chunk is one slot update as stored on the chunk bus.
type Chunk struct {
	SlotID      uint32
	SlotVersion uint32
	Sig         []byte
	Data        []byte
}

// ChunksEvent notifies the run-loop that slots of a contract changed.
type ChunksEvent struct {
	ContractID    string
	ModifiedSlots []Chunk
}

// BlockValidationEvent is the chain node's asynchronous verdict on a
// block previously submitted for validation.
type BlockValidationEvent struct {
	Accepted     bool
	Block        *types.NakamotoBlock
	RejectReason string
}

// MessageType discriminates the SignerMessage variants.
type MessageType uint8

const (
	TypePacket MessageType = iota
	TypeBlockProposal
	TypeBlockResponse
	TypeBlockRejection
	TypePing
	TypePong
)

// RejectCode explains a block rejection to observing miners.
type RejectCode uint8

const (
	// RejectValidationFailed marks a block the chain node refused.
	RejectValidationFailed RejectCode = iota
	// RejectSignedRejection marks a rejection carrying a threshold
	// signature over the rejection vote.
	RejectSignedRejection
	// RejectInvalidSignatureHash marks a block whose header cannot
	// produce a signature hash.
	RejectInvalidSignatureHash
)

func (c RejectCode) String() string {
	switch c {
	case RejectValidationFailed:
		return "validation failed"
	case RejectSignedRejection:
		return "signed rejection"
	case RejectInvalidSignatureHash:
		return "invalid signature hash"
	default:
		return fmt.Sprintf("reject code %d", uint8(c))
	}
}

// SignerMessage is one of the closed set of payloads carried in a chunk.
type SignerMessage interface {
	WireType() MessageType
	// SlotOffset is the slot this message occupies inside its sender's
	// slot window.
	SlotOffset() uint32
	encodeBody(w io.Writer) error
}

// PacketMessage wraps a protocol packet.
type PacketMessage struct {
	Packet *frost.Packet
}

// BlockProposal is a miner's candidate block.
type BlockProposal struct {
	Block *types.NakamotoBlock
}

// BlockAccepted publishes a block whose threshold signature the signer
// set produced.
type BlockAccepted struct {
	Block *types.NakamotoBlock
}

// BlockRejection tells miners a block will not be signed.
type BlockRejection struct {
	Code   RejectCode
	Reason string
	Block  *types.NakamotoBlock
}

// Ping asks the receiving signers to publish a Pong into their own ping
// slots. The payload is opaque load-test ballast.
type Ping struct {
	ID      uint64
	Payload []byte
}

// Pong answers a Ping, echoing its id and payload.
type Pong struct {
	ID      uint64
	Payload []byte
}

// String intentionally omits the payload bytes.
func (p *Ping) String() string { return fmt.Sprintf("Ping{id: %d}", p.ID) }

// String intentionally omits the payload bytes.
func (p *Pong) String() string { return fmt.Sprintf("Pong{id: %d}", p.ID) }

// Pong builds the answer to a ping, carrying the same id and payload.
func (p *Ping) Pong() *Pong { return &Pong{ID: p.ID, Payload: p.Payload} }

func (*PacketMessage) WireType() MessageType  { return TypePacket }
func (*BlockProposal) WireType() MessageType  { return TypeBlockProposal }
func (*BlockAccepted) WireType() MessageType  { return TypeBlockResponse }
func (*BlockRejection) WireType() MessageType { return TypeBlockRejection }
func (*Ping) WireType() MessageType           { return TypePing }
func (*Pong) WireType() MessageType           { return TypePong }

// Packet slot offsets track the frost message type, occupying offsets
// zero through eight of a signer's window.
func (m *PacketMessage) SlotOffset() uint32 { return uint32(m.Packet.Msg.Type()) }

func (*BlockProposal) SlotOffset() uint32  { return 9 }
func (*BlockAccepted) SlotOffset() uint32  { return 10 }
func (*BlockRejection) SlotOffset() uint32 { return 10 }
func (*Ping) SlotOffset() uint32           { return params.PingSlotID }
func (*Pong) SlotOffset() uint32           { return params.PingSlotID }

// SlotID returns the absolute slot the given signer uses for this
// message.
func SlotID(m SignerMessage, signerID uint32) uint32 {
	return signerID*params.SignerSlotsPerUser + m.SlotOffset()
}

// IsPingSlot reports whether a slot id is some signer's ping slot.
func IsPingSlot(slotID uint32) bool {
	if slotID < params.PingSlotID {
		return false
	}
	return (slotID-params.PingSlotID)%params.SignerSlotsPerUser == 0
}

// PingSlot returns the ping slot owned by the given signer.
func PingSlot(signerID uint32) uint32 {
	return signerID*params.SignerSlotsPerUser + params.PingSlotID
}

func (m *PacketMessage) encodeBody(w io.Writer) error {
	return frost.EncodePacket(w, m.Packet)
}

func (m *BlockProposal) encodeBody(w io.Writer) error {
	return m.Block.EncodeTo(w)
}

func (m *BlockAccepted) encodeBody(w io.Writer) error {
	return m.Block.EncodeTo(w)
}

func (m *BlockRejection) encodeBody(w io.Writer) error {
	if err := codec.WriteUint8(w, uint8(m.Code)); err != nil {
		return err
	}
	if err := codec.WriteBytes(w, []byte(m.Reason)); err != nil {
		return err
	}
	return m.Block.EncodeTo(w)
}

func (m *Ping) encodeBody(w io.Writer) error {
	if err := codec.WriteUint64(w, m.ID); err != nil {
		return err
	}
	return codec.WriteBytes(w, m.Payload)
}

func (m *Pong) encodeBody(w io.Writer) error {
	if err := codec.WriteUint64(w, m.ID); err != nil {
		return err
	}
	return codec.WriteBytes(w, m.Payload)
}

// EncodeMessage serializes a SignerMessage: one type byte, then the
// variant body.
func EncodeMessage(m SignerMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := codec.WriteUint8(&buf, uint8(m.WireType())); err != nil {
		return nil, err
	}
	if err := m.encodeBody(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeMessage parses a SignerMessage from chunk data.
func DecodeMessage(data []byte) (SignerMessage, error) {
	if len(data) == 0 {
		return nil, ErrEmptyChunk
	}
	r := bytes.NewReader(data)
	typ, err := codec.ReadUint8(r)
	if err != nil {
		return nil, err
	}
	switch MessageType(typ) {
	case TypePacket:
		p, err := frost.DecodePacket(r)
		if err != nil {
			return nil, err
		}
		return &PacketMessage{Packet: p}, nil
	case TypeBlockProposal:
		b, err := types.DecodeBlock(r)
		if err != nil {
			return nil, err
		}
		return &BlockProposal{Block: b}, nil
	case TypeBlockResponse:
		b, err := types.DecodeBlock(r)
		if err != nil {
			return nil, err
		}
		return &BlockAccepted{Block: b}, nil
	case TypeBlockRejection:
		code, err := codec.ReadUint8(r)
		if err != nil {
			return nil, err
		}
		reason, err := codec.ReadBytes(r)
		if err != nil {
			return nil, err
		}
		b, err := types.DecodeBlock(r)
		if err != nil {
			return nil, err
		}
		return &BlockRejection{Code: RejectCode(code), Reason: string(reason), Block: b}, nil
	case TypePing:
		id, err := codec.ReadUint64(r)
		if err != nil {
			return nil, err
		}
		payload, err := codec.ReadBytes(r)
		if err != nil {
			return nil, err
		}
		return &Ping{ID: id, Payload: payload}, nil
	case TypePong:
		id, err := codec.ReadUint64(r)
		if err != nil {
			return nil, err
		}
		payload, err := codec.ReadBytes(r)
		if err != nil {
			return nil, err
		}
		return &Pong{ID: id, Payload: payload}, nil
	default:
		return nil, ErrUnknownMessageType
	}
}
