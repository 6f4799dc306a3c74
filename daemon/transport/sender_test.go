package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/itskernel/backend/daemon/manager"
	"github.com/itskernel/backend/internal/chunker"
	"github.com/itskernel/backend/internal/datagram"
)

// recordingWriter keeps every datagram written.
type recordingWriter struct {
	writes [][]byte
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.writes = append(w.writes, append([]byte(nil), p...))
	return len(p), nil
}

func TestBlockSender_SendOutBlockIDs(t *testing.T) {
	w := &recordingWriter{}
	s := NewBlockSender(w, SenderOptions{StartBlockID: 10, Chunk: chunker.ChunkOptions{ChunkSize: 2}})

	if err := s.SendOut(context.Background(), "a.bin", []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SendOut failed: %v", err)
	}
	if s.NextBlockID() != 14 {
		t.Errorf("Expected 4 blocks sent, next id %d", s.NextBlockID())
	}

	perBlock := map[uint32]int{}
	for _, raw := range w.writes {
		d, err := datagram.Decode(raw, datagram.DefaultLimits())
		if err != nil {
			t.Fatalf("Sender wrote malformed datagram: %v", err)
		}
		perBlock[d.Header.BlockID]++
	}
	// "sendout\n"=4 chunks, "a.bin\n"=3, "4\n"=1, content=2
	want := map[uint32]int{10: 4, 11: 3, 12: 1, 13: 2}
	for id, n := range want {
		if perBlock[id] != n {
			t.Errorf("Block %d: expected %d chunks, got %d", id, n, perBlock[id])
		}
	}
}

func TestBlockSender_Copies(t *testing.T) {
	w := &recordingWriter{}
	s := NewBlockSender(w, SenderOptions{Copies: 3})

	if err := s.SendExit(context.Background()); err != nil {
		t.Fatalf("SendExit failed: %v", err)
	}
	if len(w.writes) != 3 {
		t.Errorf("Expected 3 copies, got %d writes", len(w.writes))
	}
}

func TestBlockSender_LimiterHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewBlockSender(&recordingWriter{}, SenderOptions{Limiter: rate.NewLimiter(1, 1)})
	if err := s.SendLine(ctx, "exit"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if s.NextBlockID() != 0 {
		t.Error("Failed send must not consume a block id")
	}
}

func TestBlockSender_LoopbackUDP(t *testing.T) {
	server, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket failed: %v", err)
	}
	defer server.Close()

	client, err := net.Dial("udp", server.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	content := bytes.Repeat([]byte("itskernel"), 500)
	s := NewBlockSender(client, SenderOptions{
		Chunk:   chunker.ChunkOptions{ChunkSize: 512},
		Limiter: rate.NewLimiter(rate.Limit(2000), 16),
	})
	if err := s.SendOut(context.Background(), "kernel.log", content); err != nil {
		t.Fatalf("SendOut failed: %v", err)
	}

	opts := ReceiverOptions{MinIdle: 200 * time.Millisecond, MaxWait: 2 * time.Second, PollInterval: 20 * time.Millisecond}
	d := NewDecoder(NewBlockReceiver(server, manager.NewBlockStore(0), opts, nil, nil), nil)
	ctx := context.Background()

	for _, want := range []string{"sendout", "kernel.log", "4500"} {
		line, err := d.ReceiveLine(ctx)
		if err != nil {
			t.Fatalf("ReceiveLine failed: %v", err)
		}
		if line != want {
			t.Errorf("Expected %q, got %q", want, line)
		}
	}
	got, err := d.ReceiveBytes(ctx, int64(len(content)))
	if err != nil {
		t.Fatalf("ReceiveBytes failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("Content corrupted over loopback")
	}
}

func TestBlockSender_MaxChunkSizeLoopback(t *testing.T) {
	server, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket failed: %v", err)
	}
	defer server.Close()

	client, err := net.Dial("udp", server.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	content := bytes.Repeat([]byte{0xAB}, datagram.MaxChunkSize)
	s := NewBlockSender(client, SenderOptions{Chunk: chunker.ChunkOptions{ChunkSize: datagram.MaxChunkSize}})
	if err := s.SendBlock(context.Background(), content); err != nil {
		t.Fatalf("SendBlock with the largest chunk size failed: %v", err)
	}

	opts := ReceiverOptions{MinIdle: 200 * time.Millisecond, MaxWait: 2 * time.Second, PollInterval: 20 * time.Millisecond}
	d := NewDecoder(NewBlockReceiver(server, manager.NewBlockStore(0), opts, nil, nil), nil)
	got, err := d.ReceiveBytes(context.Background(), int64(len(content)))
	if err != nil {
		t.Fatalf("ReceiveBytes failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("Content corrupted over loopback")
	}
}
