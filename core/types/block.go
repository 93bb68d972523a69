// Package types contains the block data types finalized by the signer set.
package types

import (
	"bytes"
	"errors"
	"io"

	"github.com/stacks-network/gsigner/codec"
	"github.com/stacks-network/gsigner/common"
	"github.com/stacks-network/gsigner/crypto"
)

// BlockVersion is the only header version this signer knows how to hash.
const BlockVersion = uint8(1)

// MaxTxsPerBlock bounds the transaction list accepted by the decoder.
const MaxTxsPerBlock = 1 << 16

var (
	ErrUnknownBlockVersion = errors.New("types: unknown block header version")
	ErrTooManyTxs          = errors.New("types: too many transactions in block")
)

// Transaction is an opaque chain transaction carried in a proposed block.
// The signer only ever inspects its id.
type Transaction struct {
	Payload []byte
}

// TxID returns the transaction identifier, the sha512/256 of the payload.
func (tx *Transaction) TxID() common.Hash {
	return crypto.Sha512_256(tx.Payload)
}

// Header is a Nakamoto block header.
type Header struct {
	Version        uint8
	ChainLength    uint64
	BurnSpent      uint64
	ParentBlockID  common.Hash
	TxMerkleRoot   common.Hash
	StateIndexRoot common.Hash
	Timestamp      uint64
	MinerSignature []byte
	// SignerSignature carries the threshold signature once the signer set
	// has accepted the block. It is excluded from the signature hash.
	SignerSignature []byte
}

// NakamotoBlock is a block proposed by a miner and finalized by the
// signer set.
type NakamotoBlock struct {
	Header Header
	Txs    []*Transaction
}

// SignatureHash returns the 32-byte digest the signer set signs over.
// The digest covers every header field except the signer signature, so a
// block keeps its identity when the threshold signature is attached.
func (b *NakamotoBlock) SignatureHash() (common.Hash, error) {
	if b.Header.Version != BlockVersion {
		return common.Hash{}, ErrUnknownBlockVersion
	}
	var buf bytes.Buffer
	if err := b.Header.encodeSigned(&buf); err != nil {
		return common.Hash{}, err
	}
	return crypto.Sha512_256(buf.Bytes()), nil
}

// ContainsTx reports whether the block carries a transaction with the
// given id.
func (b *NakamotoBlock) ContainsTx(txid common.Hash) bool {
	for _, tx := range b.Txs {
		if tx.TxID() == txid {
			return true
		}
	}
	return false
}

// TxMerkleRoot computes the merkle root over the transaction ids,
// pairwise-hashing with sha512/256. The root of an empty list is zero.
func TxMerkleRoot(txs []*Transaction) common.Hash {
	if len(txs) == 0 {
		return common.Hash{}
	}
	layer := make([]common.Hash, len(txs))
	for i, tx := range txs {
		layer[i] = tx.TxID()
	}
	for len(layer) > 1 {
		if len(layer)%2 == 1 {
			layer = append(layer, layer[len(layer)-1])
		}
		next := layer[:0]
		for i := 0; i < len(layer); i += 2 {
			next = append(next, crypto.Sha512_256(layer[i][:], layer[i+1][:]))
		}
		layer = next
	}
	return layer[0]
}

// encodeSigned writes the header fields covered by the signature hash.
func (h *Header) encodeSigned(w io.Writer) error {
	if err := codec.WriteUint8(w, h.Version); err != nil {
		return err
	}
	if err := codec.WriteUint64(w, h.ChainLength); err != nil {
		return err
	}
	if err := codec.WriteUint64(w, h.BurnSpent); err != nil {
		return err
	}
	if err := codec.WriteHash(w, h.ParentBlockID); err != nil {
		return err
	}
	if err := codec.WriteHash(w, h.TxMerkleRoot); err != nil {
		return err
	}
	if err := codec.WriteHash(w, h.StateIndexRoot); err != nil {
		return err
	}
	if err := codec.WriteUint64(w, h.Timestamp); err != nil {
		return err
	}
	return codec.WriteBytes(w, h.MinerSignature)
}

// EncodeTo writes the canonical encoding of the full block.
func (b *NakamotoBlock) EncodeTo(w io.Writer) error {
	if err := b.Header.encodeSigned(w); err != nil {
		return err
	}
	if err := codec.WriteBytes(w, b.Header.SignerSignature); err != nil {
		return err
	}
	if err := codec.WriteUint32(w, uint32(len(b.Txs))); err != nil {
		return err
	}
	for _, tx := range b.Txs {
		if err := codec.WriteBytes(w, tx.Payload); err != nil {
			return err
		}
	}
	return nil
}

// Encode returns the canonical encoding of the full block.
func (b *NakamotoBlock) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.EncodeTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeBlock parses a canonical block encoding.
func DecodeBlock(r io.Reader) (*NakamotoBlock, error) {
	var (
		b   NakamotoBlock
		err error
	)
	if b.Header.Version, err = codec.ReadUint8(r); err != nil {
		return nil, err
	}
	if b.Header.ChainLength, err = codec.ReadUint64(r); err != nil {
		return nil, err
	}
	if b.Header.BurnSpent, err = codec.ReadUint64(r); err != nil {
		return nil, err
	}
	if b.Header.ParentBlockID, err = codec.ReadHash(r); err != nil {
		return nil, err
	}
	if b.Header.TxMerkleRoot, err = codec.ReadHash(r); err != nil {
		return nil, err
	}
	if b.Header.StateIndexRoot, err = codec.ReadHash(r); err != nil {
		return nil, err
	}
	if b.Header.Timestamp, err = codec.ReadUint64(r); err != nil {
		return nil, err
	}
	if b.Header.MinerSignature, err = codec.ReadBytes(r); err != nil {
		return nil, err
	}
	if b.Header.SignerSignature, err = codec.ReadBytes(r); err != nil {
		return nil, err
	}
	ntxs, err := codec.ReadUint32(r)
	if err != nil {
		return nil, err
	}
	if ntxs > MaxTxsPerBlock {
		return nil, ErrTooManyTxs
	}
	b.Txs = make([]*Transaction, ntxs)
	for i := range b.Txs {
		payload, err := codec.ReadBytes(r)
		if err != nil {
			return nil, err
		}
		b.Txs[i] = &Transaction{Payload: payload}
	}
	return &b, nil
}

// DecodeBlockBytes parses a canonical block encoding from data.
func DecodeBlockBytes(data []byte) (*NakamotoBlock, error) {
	return DecodeBlock(bytes.NewReader(data))
}
