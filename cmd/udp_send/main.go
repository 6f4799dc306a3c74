package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/itskernel/backend/daemon/transport"
	"github.com/itskernel/backend/internal/chunker"
	"github.com/itskernel/backend/internal/datagram"
	"github.com/itskernel/backend/internal/observability"
)

var (
	addr       string
	filePath   string
	remoteName string
	startBlock uint
	chunkSize  int
	pps        float64
	minIdle    time.Duration
	copies     int
	exit       bool
)

func main() {
	flag.StringVar(&addr, "addr", "127.0.0.1:17572", "Datagram sink address (host:port)")
	flag.StringVar(&filePath, "file", "", "File to upload")
	flag.StringVar(&remoteName, "name", "", "File name on the receiver (default: base name of -file)")
	flag.UintVar(&startBlock, "start-block", 0, "Block id of the first block; must match the receiver's cursor")
	flag.IntVar(&chunkSize, "chunk-size", chunker.DefaultChunkOptions().ChunkSize,
		fmt.Sprintf("Payload bytes per datagram (max %d)", datagram.MaxChunkSize))
	flag.Float64Var(&pps, "pps", 0, "Datagrams per second (0: unpaced). Gaps of -min-idle or more make every block time out at the receiver")
	flag.DurationVar(&minIdle, "min-idle", 250*time.Millisecond, "Receiver's min_idle, used to check -pps")
	flag.IntVar(&copies, "copies", 1, "Send every datagram this many times")
	flag.BoolVar(&exit, "exit", false, "Send the exit command after the upload")
	flag.Parse()

	if filePath == "" {
		fmt.Fprintln(os.Stderr, "Usage: udp_send -file <path> [-addr host:port] [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if remoteName == "" {
		remoteName = filepath.Base(filePath)
	}
	if warning := pacingWarning(pps, minIdle); warning != "" {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
	}

	// Init tracing if configured
	if shutdown, err := observability.InitTracing(context.Background(), "itskernel-udp-send", "1.0.0"); err == nil {
		defer shutdown(context.Background())
	}

	if err := send(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func send() error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	ctx, span := observability.StartSpan(context.Background(), "udp_send",
		attribute.String("file.name", remoteName),
		attribute.Int("file.size", len(data)),
	)
	defer span.End()

	conn, err := net.Dial("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	defer conn.Close()

	opts := transport.SenderOptions{
		StartBlockID: uint32(startBlock),
		Chunk:        chunker.ChunkOptions{ChunkSize: chunkSize},
		Copies:       copies,
	}
	if pps > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(pps), 1)
	}
	sender := transport.NewBlockSender(conn, opts)

	start := time.Now()
	if err := sender.SendOut(ctx, remoteName, data); err != nil {
		return err
	}
	if exit {
		if err := sender.SendExit(ctx); err != nil {
			return err
		}
	}

	fmt.Printf("Sent %s (%d bytes) as blocks %d..%d in %s\n",
		remoteName, len(data), startBlock, sender.NextBlockID()-1, time.Since(start).Round(time.Millisecond))
	fmt.Printf("Next block id: %d\n", sender.NextBlockID())
	return nil
}

// pacingWarning describes a rate so low that the receiver gives up on a
// block between two of its datagrams. It returns "" for usable rates.
func pacingWarning(pps float64, minIdle time.Duration) string {
	if pps <= 0 || minIdle <= 0 {
		return ""
	}
	gap := time.Duration(float64(time.Second) / pps)
	if gap < minIdle {
		return ""
	}
	return fmt.Sprintf("-pps %g sends one datagram every %s, not less than the receiver's min idle of %s; multi-datagram blocks will arrive partial",
		pps, gap, minIdle)
}
