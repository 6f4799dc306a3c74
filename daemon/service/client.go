package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/itskernel/backend/daemon/transport"
	"github.com/itskernel/backend/internal/quicutil"
)

// StreamClient speaks the client side of the stream command protocol.
type StreamClient struct {
	r      *bufio.Reader
	w      *bufio.Writer
	closer io.Closer
}

// NewStreamClient wraps an established stream. Close closes rw if it is an
// io.Closer.
func NewStreamClient(rw io.ReadWriter) *StreamClient {
	c := &StreamClient{r: bufio.NewReader(rw), w: bufio.NewWriter(rw)}
	if closer, ok := rw.(io.Closer); ok {
		c.closer = closer
	}
	return c
}

// DialTCP connects to a TCP stream listener.
func DialTCP(ctx context.Context, addr string) (*StreamClient, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewStreamClient(conn), nil
}

// DialQUIC connects to a QUIC stream listener and opens the session stream.
func DialQUIC(ctx context.Context, addr string) (*StreamClient, error) {
	qc, err := transport.DialQUIC(ctx, addr, quicutil.MakeClientTLSConfig())
	if err != nil {
		return nil, err
	}
	stream, err := qc.OpenStream(ctx)
	if err != nil {
		qc.Close()
		return nil, err
	}
	c := NewStreamClient(stream)
	c.closer = closerFunc(func() error {
		stream.Close()
		return qc.Close()
	})
	return c, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// List returns the names of the files the server offers.
func (c *StreamClient) List() ([]string, error) {
	if err := c.command("ls"); err != nil {
		return nil, err
	}
	n, err := c.readLength()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, n)
	for i := int64(0); i < n; i++ {
		name, err := readLine(c.r)
		if err != nil {
			return nil, fmt.Errorf("read file name %d of %d: %w", i+1, n, err)
		}
		names = append(names, name)
	}
	return names, nil
}

// SendIn downloads name. A missing file yields MissingFilePayload as its
// content, the protocol has no other way to report it.
func (c *StreamClient) SendIn(name string) ([]byte, error) {
	if err := c.command("sendin", name); err != nil {
		return nil, err
	}
	n, err := c.readLength()
	if err != nil {
		return nil, err
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(c.r, data); err != nil {
		return nil, fmt.Errorf("read %d bytes: %w", n, err)
	}
	return data, nil
}

// SendOut uploads data under name.
func (c *StreamClient) SendOut(name string, data []byte) error {
	fmt.Fprintf(c.w, "sendout\n%s\n%d\n", name, len(data))
	if _, err := c.w.Write(data); err != nil {
		return err
	}
	return c.w.Flush()
}

// Exit ends the session and waits for the server to close its side.
func (c *StreamClient) Exit() error {
	if err := c.command("exit"); err != nil {
		return err
	}
	// Teardown errors after exit carry no information.
	io.Copy(io.Discard, c.r)
	return nil
}

func (c *StreamClient) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

func (c *StreamClient) command(lines ...string) error {
	for _, line := range lines {
		fmt.Fprintf(c.w, "%s\n", line)
	}
	return c.w.Flush()
}

func (c *StreamClient) readLength() (int64, error) {
	line, err := readLine(c.r)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(line, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLength, line)
	}
	return n, nil
}
