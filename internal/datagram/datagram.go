// Package datagram encodes and decodes the single-chunk datagrams sent by
// the one-way upload protocol.
//
// Wire layout (little-endian):
//
//	offset  size  field
//	0       4     block id
//	4       4     expected chunk count
//	8       4     chunk id
//	12      2     payload length
//	14      n     payload
package datagram

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	HeaderSize = 14
	MaxPayload = math.MaxUint16

	// MaxUDPPayload is the largest IPv4 UDP payload (65535 - 8 - 20).
	MaxUDPPayload = 65507
	// MaxChunkSize is the largest chunk payload that still fits one UDP
	// datagram together with the header.
	MaxChunkSize = MaxUDPPayload - HeaderSize
)

var (
	ErrMalformedDatagram = errors.New("datagram: malformed")
	ErrPayloadTooLarge   = errors.New("datagram: payload too large")
)

// Header is the fixed datagram header.
type Header struct {
	BlockID    uint32
	ChunkCount uint32
	ChunkID    uint32
	PayloadLen uint16
}

// Datagram is one decoded chunk with its positional metadata.
type Datagram struct {
	Header  Header
	Payload []byte
}

// Limits bounds what Decode accepts.
type Limits struct {
	MaxChunksPerBlock uint32
}

func DefaultLimits() Limits {
	return Limits{MaxChunksPerBlock: 1 << 20}
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	putHeader(buf, h)
	return buf
}

func putHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint32(buf[0:4], h.BlockID)
	binary.LittleEndian.PutUint32(buf[4:8], h.ChunkCount)
	binary.LittleEndian.PutUint32(buf[8:12], h.ChunkID)
	binary.LittleEndian.PutUint16(buf[12:14], h.PayloadLen)
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedDatagram, len(b))
	}
	return Header{
		BlockID:    binary.LittleEndian.Uint32(b[0:4]),
		ChunkCount: binary.LittleEndian.Uint32(b[4:8]),
		ChunkID:    binary.LittleEndian.Uint32(b[8:12]),
		PayloadLen: binary.LittleEndian.Uint16(b[12:14]),
	}, nil
}

// Encode serialises d. PayloadLen is taken from the payload, not the header.
func Encode(d Datagram) ([]byte, error) {
	if len(d.Payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	h := d.Header
	h.PayloadLen = uint16(len(d.Payload))

	buf := make([]byte, HeaderSize+len(d.Payload))
	putHeader(buf, h)
	copy(buf[HeaderSize:], d.Payload)
	return buf, nil
}

// Decode parses one datagram. The returned payload does not alias b, so the
// caller may reuse its read buffer. Bytes past the declared payload are
// ignored.
func Decode(b []byte, limits Limits) (Datagram, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Datagram{}, err
	}

	end := HeaderSize + int(h.PayloadLen)
	if len(b) < end {
		return Datagram{}, fmt.Errorf("%w: payload length %d exceeds %d available bytes",
			ErrMalformedDatagram, h.PayloadLen, len(b)-HeaderSize)
	}
	if h.ChunkCount == 0 {
		return Datagram{}, fmt.Errorf("%w: zero chunk count", ErrMalformedDatagram)
	}
	if h.ChunkID >= h.ChunkCount {
		return Datagram{}, fmt.Errorf("%w: chunk id %d out of range for %d chunks",
			ErrMalformedDatagram, h.ChunkID, h.ChunkCount)
	}
	if limits.MaxChunksPerBlock > 0 && h.ChunkCount > limits.MaxChunksPerBlock {
		return Datagram{}, fmt.Errorf("%w: chunk count %d above limit %d",
			ErrMalformedDatagram, h.ChunkCount, limits.MaxChunksPerBlock)
	}

	payload := make([]byte, h.PayloadLen)
	copy(payload, b[HeaderSize:end])
	return Datagram{Header: h, Payload: payload}, nil
}
