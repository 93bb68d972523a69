package frost

import (
	"bytes"
	"errors"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stacks-network/gsigner/codec"
	"github.com/stacks-network/gsigner/crypto"
)

// MsgType discriminates the protocol message variants.
type MsgType uint8

const (
	MsgDkgBegin MsgType = iota
	MsgDkgPrivateBegin
	MsgDkgEnd
	MsgDkgPublicShares
	MsgDkgPrivateShares
	MsgNonceRequest
	MsgNonceResponse
	MsgSignatureShareRequest
	MsgSignatureShareResponse
)

// DkgStatus is the terminal status a signer reports in DkgEnd.
type DkgStatus uint8

const (
	DkgSuccess DkgStatus = iota
	DkgFailure
)

var ErrUnknownMsgType = errors.New("frost: unknown message type")

// Message is one of the closed set of protocol messages carried in a
// Packet.
type Message interface {
	Type() MsgType
	encodeBody(w io.Writer) error
}

// Packet is a signed protocol message as it travels on the chunk bus.
type Packet struct {
	Msg Message
	Sig []byte
}

// DkgBegin starts a key generation round. Coordinator-originated.
type DkgBegin struct {
	DkgID uint64
}

// DkgPrivateBegin asks signers to distribute their encrypted private
// shares. Coordinator-originated.
type DkgPrivateBegin struct {
	DkgID uint64
}

// DkgEnd reports a signer's terminal DKG status.
type DkgEnd struct {
	DkgID         uint64
	SignerID      uint32
	Status        DkgStatus
	FailureReason string
}

// DkgPublicShares carries a signer's Feldman polynomial commitments.
type DkgPublicShares struct {
	DkgID       uint64
	SignerID    uint32
	Commitments [][]byte
}

// EncryptedShare is one private polynomial evaluation, encrypted to the
// signer holding the target key id.
type EncryptedShare struct {
	KeyID      uint32
	Nonce      []byte
	Ciphertext []byte
}

// DkgPrivateShares carries a signer's encrypted private shares, one per
// key id in the group.
type DkgPrivateShares struct {
	DkgID    uint64
	SignerID uint32
	Shares   []EncryptedShare
}

// NonceRequest opens a signing round over Message. Coordinator-originated.
type NonceRequest struct {
	DkgID      uint64
	SignID     uint64
	Message    []byte
	IsTaproot  bool
	MerkleRoot []byte
}

// NonceResponse publishes a signer's nonce commitments for a signing
// round, echoing the message it agreed to sign.
type NonceResponse struct {
	DkgID        uint64
	SignID       uint64
	SignerID     uint32
	KeyIDs       []uint32
	HidingNonce  []byte
	BindingNonce []byte
	Message      []byte
}

// SignatureShareRequest asks the participating signers for their
// signature shares. Coordinator-originated.
type SignatureShareRequest struct {
	DkgID          uint64
	SignID         uint64
	Message        []byte
	IsTaproot      bool
	MerkleRoot     []byte
	NonceResponses []*NonceResponse
}

// SignatureShareResponse carries a signer's aggregated signature share
// over its key ids.
type SignatureShareResponse struct {
	DkgID    uint64
	SignID   uint64
	SignerID uint32
	KeyIDs   []uint32
	Share    []byte
}

func (*DkgBegin) Type() MsgType               { return MsgDkgBegin }
func (*DkgPrivateBegin) Type() MsgType        { return MsgDkgPrivateBegin }
func (*DkgEnd) Type() MsgType                 { return MsgDkgEnd }
func (*DkgPublicShares) Type() MsgType        { return MsgDkgPublicShares }
func (*DkgPrivateShares) Type() MsgType       { return MsgDkgPrivateShares }
func (*NonceRequest) Type() MsgType           { return MsgNonceRequest }
func (*NonceResponse) Type() MsgType          { return MsgNonceResponse }
func (*SignatureShareRequest) Type() MsgType  { return MsgSignatureShareRequest }
func (*SignatureShareResponse) Type() MsgType { return MsgSignatureShareResponse }

func (m *DkgBegin) encodeBody(w io.Writer) error {
	return codec.WriteUint64(w, m.DkgID)
}

func (m *DkgPrivateBegin) encodeBody(w io.Writer) error {
	return codec.WriteUint64(w, m.DkgID)
}

func (m *DkgEnd) encodeBody(w io.Writer) error {
	if err := codec.WriteUint64(w, m.DkgID); err != nil {
		return err
	}
	if err := codec.WriteUint32(w, m.SignerID); err != nil {
		return err
	}
	if err := codec.WriteUint8(w, uint8(m.Status)); err != nil {
		return err
	}
	return codec.WriteBytes(w, []byte(m.FailureReason))
}

func (m *DkgPublicShares) encodeBody(w io.Writer) error {
	if err := codec.WriteUint64(w, m.DkgID); err != nil {
		return err
	}
	if err := codec.WriteUint32(w, m.SignerID); err != nil {
		return err
	}
	if err := codec.WriteUint32(w, uint32(len(m.Commitments))); err != nil {
		return err
	}
	for _, c := range m.Commitments {
		if err := codec.WriteBytes(w, c); err != nil {
			return err
		}
	}
	return nil
}

func (m *DkgPrivateShares) encodeBody(w io.Writer) error {
	if err := codec.WriteUint64(w, m.DkgID); err != nil {
		return err
	}
	if err := codec.WriteUint32(w, m.SignerID); err != nil {
		return err
	}
	if err := codec.WriteUint32(w, uint32(len(m.Shares))); err != nil {
		return err
	}
	for _, s := range m.Shares {
		if err := codec.WriteUint32(w, s.KeyID); err != nil {
			return err
		}
		if err := codec.WriteBytes(w, s.Nonce); err != nil {
			return err
		}
		if err := codec.WriteBytes(w, s.Ciphertext); err != nil {
			return err
		}
	}
	return nil
}

func (m *NonceRequest) encodeBody(w io.Writer) error {
	if err := codec.WriteUint64(w, m.DkgID); err != nil {
		return err
	}
	if err := codec.WriteUint64(w, m.SignID); err != nil {
		return err
	}
	if err := codec.WriteBytes(w, m.Message); err != nil {
		return err
	}
	if err := writeBool(w, m.IsTaproot); err != nil {
		return err
	}
	return codec.WriteBytes(w, m.MerkleRoot)
}

func writeBool(w io.Writer, v bool) error {
	var b uint8
	if v {
		b = 1
	}
	return codec.WriteUint8(w, b)
}

func readBool(r io.Reader) (bool, error) {
	b, err := codec.ReadUint8(r)
	return b != 0, err
}

func (m *NonceResponse) encodeBody(w io.Writer) error {
	if err := codec.WriteUint64(w, m.DkgID); err != nil {
		return err
	}
	if err := codec.WriteUint64(w, m.SignID); err != nil {
		return err
	}
	if err := codec.WriteUint32(w, m.SignerID); err != nil {
		return err
	}
	if err := codec.WriteUint32Slice(w, m.KeyIDs); err != nil {
		return err
	}
	if err := codec.WriteBytes(w, m.HidingNonce); err != nil {
		return err
	}
	if err := codec.WriteBytes(w, m.BindingNonce); err != nil {
		return err
	}
	return codec.WriteBytes(w, m.Message)
}

func (m *SignatureShareRequest) encodeBody(w io.Writer) error {
	if err := codec.WriteUint64(w, m.DkgID); err != nil {
		return err
	}
	if err := codec.WriteUint64(w, m.SignID); err != nil {
		return err
	}
	if err := codec.WriteBytes(w, m.Message); err != nil {
		return err
	}
	if err := writeBool(w, m.IsTaproot); err != nil {
		return err
	}
	if err := codec.WriteBytes(w, m.MerkleRoot); err != nil {
		return err
	}
	if err := codec.WriteUint32(w, uint32(len(m.NonceResponses))); err != nil {
		return err
	}
	for _, nr := range m.NonceResponses {
		if err := nr.encodeBody(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *SignatureShareResponse) encodeBody(w io.Writer) error {
	if err := codec.WriteUint64(w, m.DkgID); err != nil {
		return err
	}
	if err := codec.WriteUint64(w, m.SignID); err != nil {
		return err
	}
	if err := codec.WriteUint32(w, m.SignerID); err != nil {
		return err
	}
	if err := codec.WriteUint32Slice(w, m.KeyIDs); err != nil {
		return err
	}
	return codec.WriteBytes(w, m.Share)
}

func decodeDkgEnd(r io.Reader) (*DkgEnd, error) {
	var (
		m   DkgEnd
		err error
	)
	if m.DkgID, err = codec.ReadUint64(r); err != nil {
		return nil, err
	}
	if m.SignerID, err = codec.ReadUint32(r); err != nil {
		return nil, err
	}
	status, err := codec.ReadUint8(r)
	if err != nil {
		return nil, err
	}
	m.Status = DkgStatus(status)
	reason, err := codec.ReadBytes(r)
	if err != nil {
		return nil, err
	}
	m.FailureReason = string(reason)
	return &m, nil
}

func decodeDkgPublicShares(r io.Reader) (*DkgPublicShares, error) {
	var (
		m   DkgPublicShares
		err error
	)
	if m.DkgID, err = codec.ReadUint64(r); err != nil {
		return nil, err
	}
	if m.SignerID, err = codec.ReadUint32(r); err != nil {
		return nil, err
	}
	n, err := codec.ReadUint32(r)
	if err != nil {
		return nil, err
	}
	if n > codec.MaxPayloadLen/33 {
		return nil, codec.ErrPayloadTooLarge
	}
	m.Commitments = make([][]byte, n)
	for i := range m.Commitments {
		if m.Commitments[i], err = codec.ReadBytes(r); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func decodeDkgPrivateShares(r io.Reader) (*DkgPrivateShares, error) {
	var (
		m   DkgPrivateShares
		err error
	)
	if m.DkgID, err = codec.ReadUint64(r); err != nil {
		return nil, err
	}
	if m.SignerID, err = codec.ReadUint32(r); err != nil {
		return nil, err
	}
	n, err := codec.ReadUint32(r)
	if err != nil {
		return nil, err
	}
	if n > codec.MaxPayloadLen/16 {
		return nil, codec.ErrPayloadTooLarge
	}
	m.Shares = make([]EncryptedShare, n)
	for i := range m.Shares {
		if m.Shares[i].KeyID, err = codec.ReadUint32(r); err != nil {
			return nil, err
		}
		if m.Shares[i].Nonce, err = codec.ReadBytes(r); err != nil {
			return nil, err
		}
		if m.Shares[i].Ciphertext, err = codec.ReadBytes(r); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func decodeNonceRequest(r io.Reader) (*NonceRequest, error) {
	var (
		m   NonceRequest
		err error
	)
	if m.DkgID, err = codec.ReadUint64(r); err != nil {
		return nil, err
	}
	if m.SignID, err = codec.ReadUint64(r); err != nil {
		return nil, err
	}
	if m.Message, err = codec.ReadBytes(r); err != nil {
		return nil, err
	}
	if m.IsTaproot, err = readBool(r); err != nil {
		return nil, err
	}
	if m.MerkleRoot, err = codec.ReadBytes(r); err != nil {
		return nil, err
	}
	return &m, nil
}

func decodeNonceResponse(r io.Reader) (*NonceResponse, error) {
	var (
		m   NonceResponse
		err error
	)
	if m.DkgID, err = codec.ReadUint64(r); err != nil {
		return nil, err
	}
	if m.SignID, err = codec.ReadUint64(r); err != nil {
		return nil, err
	}
	if m.SignerID, err = codec.ReadUint32(r); err != nil {
		return nil, err
	}
	if m.KeyIDs, err = codec.ReadUint32Slice(r); err != nil {
		return nil, err
	}
	if m.HidingNonce, err = codec.ReadBytes(r); err != nil {
		return nil, err
	}
	if m.BindingNonce, err = codec.ReadBytes(r); err != nil {
		return nil, err
	}
	if m.Message, err = codec.ReadBytes(r); err != nil {
		return nil, err
	}
	return &m, nil
}

func decodeSignatureShareRequest(r io.Reader) (*SignatureShareRequest, error) {
	var (
		m   SignatureShareRequest
		err error
	)
	if m.DkgID, err = codec.ReadUint64(r); err != nil {
		return nil, err
	}
	if m.SignID, err = codec.ReadUint64(r); err != nil {
		return nil, err
	}
	if m.Message, err = codec.ReadBytes(r); err != nil {
		return nil, err
	}
	if m.IsTaproot, err = readBool(r); err != nil {
		return nil, err
	}
	if m.MerkleRoot, err = codec.ReadBytes(r); err != nil {
		return nil, err
	}
	n, err := codec.ReadUint32(r)
	if err != nil {
		return nil, err
	}
	if n > codec.MaxPayloadLen/64 {
		return nil, codec.ErrPayloadTooLarge
	}
	m.NonceResponses = make([]*NonceResponse, n)
	for i := range m.NonceResponses {
		if m.NonceResponses[i], err = decodeNonceResponse(r); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func decodeSignatureShareResponse(r io.Reader) (*SignatureShareResponse, error) {
	var (
		m   SignatureShareResponse
		err error
	)
	if m.DkgID, err = codec.ReadUint64(r); err != nil {
		return nil, err
	}
	if m.SignID, err = codec.ReadUint64(r); err != nil {
		return nil, err
	}
	if m.SignerID, err = codec.ReadUint32(r); err != nil {
		return nil, err
	}
	if m.KeyIDs, err = codec.ReadUint32Slice(r); err != nil {
		return nil, err
	}
	if m.Share, err = codec.ReadBytes(r); err != nil {
		return nil, err
	}
	return &m, nil
}

// DecodeMessage parses one protocol message: a type byte followed by the
// variant body.
func DecodeMessage(r io.Reader) (Message, error) {
	typ, err := codec.ReadUint8(r)
	if err != nil {
		return nil, err
	}
	switch MsgType(typ) {
	case MsgDkgBegin:
		id, err := codec.ReadUint64(r)
		if err != nil {
			return nil, err
		}
		return &DkgBegin{DkgID: id}, nil
	case MsgDkgPrivateBegin:
		id, err := codec.ReadUint64(r)
		if err != nil {
			return nil, err
		}
		return &DkgPrivateBegin{DkgID: id}, nil
	case MsgDkgEnd:
		return decodeDkgEnd(r)
	case MsgDkgPublicShares:
		return decodeDkgPublicShares(r)
	case MsgDkgPrivateShares:
		return decodeDkgPrivateShares(r)
	case MsgNonceRequest:
		return decodeNonceRequest(r)
	case MsgNonceResponse:
		return decodeNonceResponse(r)
	case MsgSignatureShareRequest:
		return decodeSignatureShareRequest(r)
	case MsgSignatureShareResponse:
		return decodeSignatureShareResponse(r)
	default:
		return nil, ErrUnknownMsgType
	}
}

// EncodeMessage writes one protocol message: a type byte followed by the
// variant body.
func EncodeMessage(w io.Writer, m Message) error {
	if err := codec.WriteUint8(w, uint8(m.Type())); err != nil {
		return err
	}
	return m.encodeBody(w)
}

// sigDigest is the digest the packet signature covers: the message type
// and its canonical body.
func (p *Packet) sigDigest() ([]byte, error) {
	var body bytes.Buffer
	if err := p.Msg.encodeBody(&body); err != nil {
		return nil, err
	}
	return hashMessage(p.Msg.Type(), body.Bytes()), nil
}

// Sign attaches a packet signature made with the given message key.
func (p *Packet) Sign(priv *btcec.PrivateKey) error {
	digest, err := p.sigDigest()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(digest, priv)
	if err != nil {
		return err
	}
	p.Sig = sig
	return nil
}

// Verify checks the packet signature against the given public key.
func (p *Packet) Verify(pub *btcec.PublicKey) bool {
	digest, err := p.sigDigest()
	if err != nil {
		return false
	}
	return crypto.VerifySignature(digest, p.Sig, pub)
}

// EncodePacket writes the packet: the message and the packet signature.
func EncodePacket(w io.Writer, p *Packet) error {
	if err := EncodeMessage(w, p.Msg); err != nil {
		return err
	}
	return codec.WriteBytes(w, p.Sig)
}

// DecodePacket parses a packet produced by EncodePacket.
func DecodePacket(r io.Reader) (*Packet, error) {
	msg, err := DecodeMessage(r)
	if err != nil {
		return nil, err
	}
	sig, err := codec.ReadBytes(r)
	if err != nil {
		return nil, err
	}
	return &Packet{Msg: msg, Sig: sig}, nil
}
