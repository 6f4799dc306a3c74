// Package chunker splits logical blocks into datagram-sized chunks for the
// one-way upload protocol.
package chunker

import (
	"bytes"
	"fmt"
	"io"

	"github.com/itskernel/backend/internal/datagram"
)

// LineTerminator ends every line block. Receivers strip it.
const LineTerminator = '\n'

// ChunkOptions controls how blocks are split.
type ChunkOptions struct {
	ChunkSize int
}

// DefaultChunkOptions matches the sender's pbuf size.
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{ChunkSize: 1024}
}

func (o ChunkOptions) validate() error {
	if o.ChunkSize <= 0 || o.ChunkSize > datagram.MaxChunkSize {
		return fmt.Errorf("chunk size must be in [1,%d], got %d", datagram.MaxChunkSize, o.ChunkSize)
	}
	return nil
}

// Line returns the block payload for a text line.
func Line(s string) []byte {
	b := make([]byte, 0, len(s)+1)
	b = append(b, s...)
	return append(b, LineTerminator)
}

// SplitBlock cuts data into datagrams for block blockID. An empty block is
// sent as a single empty chunk so the receiver can still see it complete.
func SplitBlock(blockID uint32, data []byte, options ChunkOptions) ([]datagram.Datagram, error) {
	if err := options.validate(); err != nil {
		return nil, err
	}

	chunkCount := len(data) / options.ChunkSize
	if len(data)%options.ChunkSize != 0 {
		chunkCount++
	}
	if chunkCount == 0 {
		return []datagram.Datagram{{
			Header: datagram.Header{BlockID: blockID, ChunkCount: 1, ChunkID: 0},
		}}, nil
	}

	c, err := NewChunker(bytes.NewReader(data), options.ChunkSize)
	if err != nil {
		return nil, err
	}

	out := make([]datagram.Datagram, 0, chunkCount)
	for i := 0; ; i++ {
		chunk, err := c.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read chunk %d: %w", i, err)
		}
		payload := make([]byte, len(chunk))
		copy(payload, chunk)
		out = append(out, datagram.Datagram{
			Header: datagram.Header{
				BlockID:    blockID,
				ChunkCount: uint32(chunkCount),
				ChunkID:    uint32(i),
				PayloadLen: uint16(len(payload)),
			},
			Payload: payload,
		})
	}
	return out, nil
}

// Chunker provides streaming chunking of data from an io.Reader
type Chunker struct {
	reader    io.Reader
	chunkSize int
	buffer    []byte
}

// NewChunker creates a new streaming chunker
func NewChunker(r io.Reader, chunkSize int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	return &Chunker{
		reader:    r,
		chunkSize: chunkSize,
		buffer:    make([]byte, chunkSize),
	}, nil
}

// Next returns the next full chunk, or a short final one. The slice is
// reused by the following call.
func (c *Chunker) Next() ([]byte, error) {
	n, err := io.ReadFull(c.reader, c.buffer)
	if err == io.ErrUnexpectedEOF {
		return c.buffer[:n], nil
	}
	if err != nil {
		return nil, err
	}
	return c.buffer[:n], nil
}
