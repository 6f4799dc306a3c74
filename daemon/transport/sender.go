package transport

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/itskernel/backend/internal/chunker"
	"github.com/itskernel/backend/internal/datagram"
)

// BlockSender writes blocks as datagrams with consecutive block ids. It is
// the sending half of the one-way protocol.
type BlockSender struct {
	conn    io.Writer
	next    uint32
	options chunker.ChunkOptions
	limiter *rate.Limiter
	copies  int
}

// SenderOptions configures a BlockSender.
type SenderOptions struct {
	// StartBlockID is the id of the first block sent. It must match the
	// receiver's cursor.
	StartBlockID uint32
	Chunk        chunker.ChunkOptions
	// Limiter paces datagrams. nil sends as fast as the socket allows.
	Limiter *rate.Limiter
	// Copies sends every datagram this many times. The receiver discards
	// duplicates, so extra copies only buy loss tolerance.
	Copies int
}

// NewBlockSender creates a sender writing each datagram with one Write call,
// so conn should be a connected packet socket.
func NewBlockSender(conn io.Writer, opts SenderOptions) *BlockSender {
	if opts.Chunk.ChunkSize <= 0 {
		opts.Chunk = chunker.DefaultChunkOptions()
	}
	if opts.Copies < 1 {
		opts.Copies = 1
	}
	return &BlockSender{
		conn:    conn,
		next:    opts.StartBlockID,
		options: opts.Chunk,
		limiter: opts.Limiter,
		copies:  opts.Copies,
	}
}

// NextBlockID returns the id the next block will be sent under.
func (s *BlockSender) NextBlockID() uint32 {
	return s.next
}

// SendBlock sends data as one block.
func (s *BlockSender) SendBlock(ctx context.Context, data []byte) error {
	chunks, err := chunker.SplitBlock(s.next, data, s.options)
	if err != nil {
		return err
	}
	for i := 0; i < s.copies; i++ {
		for _, c := range chunks {
			if err := s.write(ctx, c); err != nil {
				return fmt.Errorf("send block %d chunk %d: %w", s.next, c.Header.ChunkID, err)
			}
		}
	}
	s.next++
	return nil
}

// SendLine sends s plus the line terminator as one block.
func (s *BlockSender) SendLine(ctx context.Context, line string) error {
	return s.SendBlock(ctx, chunker.Line(line))
}

// SendOut uploads a file: the keyword, name, length and content blocks.
func (s *BlockSender) SendOut(ctx context.Context, name string, data []byte) error {
	if err := s.SendLine(ctx, "sendout"); err != nil {
		return err
	}
	if err := s.SendLine(ctx, name); err != nil {
		return err
	}
	if err := s.SendLine(ctx, strconv.Itoa(len(data))); err != nil {
		return err
	}
	return s.SendBlock(ctx, data)
}

// SendExit sends the exit keyword.
func (s *BlockSender) SendExit(ctx context.Context) error {
	return s.SendLine(ctx, "exit")
}

func (s *BlockSender) write(ctx context.Context, d datagram.Datagram) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	b, err := datagram.Encode(d)
	if err != nil {
		return err
	}
	_, err = s.conn.Write(b)
	return err
}
