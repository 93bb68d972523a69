// Package codec implements the canonical binary encoding shared by every
// message that crosses the chunk bus: little-endian integers, uint32
// length-prefixed byte strings and fixed-width 32-byte hashes. There is
// no fixed-width key form: public keys and other curve points are
// written as length-prefixed byte strings.
package codec

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/stacks-network/gsigner/common"
)

// MaxPayloadLen bounds any single length-prefixed field. Chunks above
// this size are rejected by the bus anyway.
const MaxPayloadLen = 16 << 20

var (
	ErrPayloadTooLarge = errors.New("codec: payload exceeds maximum length")
	ErrShortRead       = errors.New("codec: short read")
)

// WriteUint8 writes a single byte.
func WriteUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

// ReadUint8 reads a single byte.
func ReadUint8(r io.Reader) (uint8, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, ErrShortRead
	}
	return buf[0], nil
}

// WriteUint32 writes v in little-endian order.
func WriteUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// ReadUint32 reads a little-endian uint32.
func ReadUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, ErrShortRead
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteUint64 writes v in little-endian order.
func WriteUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// ReadUint64 reads a little-endian uint64.
func ReadUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, ErrShortRead
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteBytes writes b with a uint32 little-endian length prefix.
func WriteBytes(w io.Writer, b []byte) error {
	if len(b) > MaxPayloadLen {
		return ErrPayloadTooLarge
	}
	if err := WriteUint32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadBytes reads a uint32 length-prefixed byte string.
func ReadBytes(r io.Reader) ([]byte, error) {
	n, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	if n > MaxPayloadLen {
		return nil, ErrPayloadTooLarge
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, ErrShortRead
	}
	return b, nil
}

// WriteHash writes the fixed-width 32-byte hash.
func WriteHash(w io.Writer, h common.Hash) error {
	_, err := w.Write(h[:])
	return err
}

// ReadHash reads a fixed-width 32-byte hash.
func ReadHash(r io.Reader) (common.Hash, error) {
	var h common.Hash
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return common.Hash{}, ErrShortRead
	}
	return h, nil
}

// WriteUint32Slice writes a uint32 count followed by the values.
func WriteUint32Slice(w io.Writer, vs []uint32) error {
	if err := WriteUint32(w, uint32(len(vs))); err != nil {
		return err
	}
	for _, v := range vs {
		if err := WriteUint32(w, v); err != nil {
			return err
		}
	}
	return nil
}

// ReadUint32Slice reads a uint32 count followed by the values.
func ReadUint32Slice(r io.Reader) ([]uint32, error) {
	n, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	if n > MaxPayloadLen/4 {
		return nil, ErrPayloadTooLarge
	}
	vs := make([]uint32, n)
	for i := range vs {
		if vs[i], err = ReadUint32(r); err != nil {
			return nil, err
		}
	}
	return vs, nil
}
