// Package udptest provides an in-memory packet socket for receiver tests.
package udptest

import (
	"net"
	"os"
	"sync"
	"time"

	"github.com/itskernel/backend/internal/chunker"
	"github.com/itskernel/backend/internal/datagram"
)

// DefaultSender is the source address reported for every queued datagram.
var DefaultSender = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4000}

// PacketConn serves queued datagrams and honours read deadlines. It
// satisfies transport.PacketReader.
type PacketConn struct {
	mu       sync.Mutex
	deadline time.Time
	packets  chan []byte
	from     net.Addr
	closed   chan struct{}
	once     sync.Once
}

func NewPacketConn() *PacketConn {
	return &PacketConn{
		packets: make(chan []byte, 1024),
		from:    DefaultSender,
		closed:  make(chan struct{}),
	}
}

func (c *PacketConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = t
	return nil
}

func (c *PacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()

	// Queued packets win over an expired deadline.
	select {
	case pkt := <-c.packets:
		return copy(p, pkt), c.from, nil
	default:
	}

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case pkt := <-c.packets:
		return copy(p, pkt), c.from, nil
	case <-timeout:
		return 0, nil, os.ErrDeadlineExceeded
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

// Close makes pending and future reads fail with net.ErrClosed.
func (c *PacketConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// Push queues one raw datagram.
func (c *PacketConn) Push(raw []byte) {
	c.packets <- raw
}

func (c *PacketConn) PushDatagram(d datagram.Datagram) {
	raw, err := datagram.Encode(d)
	if err != nil {
		panic(err)
	}
	c.Push(raw)
}

// PushBlock queues every chunk of data as block blockID.
func (c *PacketConn) PushBlock(blockID uint32, data []byte, chunkSize int) {
	chunks, err := chunker.SplitBlock(blockID, data, chunker.ChunkOptions{ChunkSize: chunkSize})
	if err != nil {
		panic(err)
	}
	for _, d := range chunks {
		c.PushDatagram(d)
	}
}

// PushLine queues a terminated text line as block blockID.
func (c *PacketConn) PushLine(blockID uint32, line string, chunkSize int) {
	c.PushBlock(blockID, chunker.Line(line), chunkSize)
}
