package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itskernel/backend/daemon/manager"
	"github.com/itskernel/backend/daemon/service"
	"github.com/itskernel/backend/daemon/transport"
	"github.com/itskernel/backend/internal/observability"
)

var (
	listen    string
	outputDir string
	minIdle   time.Duration
	maxWait   time.Duration
	logLevel  string
)

// udp_recv runs only the datagram sink, without ledger, stream listeners or
// HTTP endpoints.
func main() {
	flag.StringVar(&listen, "listen", ":17572", "Listen address (host:port)")
	flag.StringVar(&outputDir, "output-dir", "./received", "Output directory for uploaded files")
	flag.DurationVar(&minIdle, "min-idle", 250*time.Millisecond, "Silence that ends the wait for a block")
	flag.DurationVar(&maxWait, "max-wait", 5*time.Second, "Hard ceiling on the wait for one block")
	flag.StringVar(&logLevel, "log-level", "info", "Log level")
	flag.Parse()

	logger := observability.NewLogger("itskernel-udp-recv", "1.0.0", os.Stdout)
	if err := logger.SetLevel(logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}

	if err := receive(logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func receive(logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	files, err := service.NewDirFileStore(outputDir, outputDir)
	if err != nil {
		return err
	}

	conn, err := net.ListenPacket("udp", listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", listen, err)
	}
	context.AfterFunc(ctx, func() { conn.Close() })
	logger.ListenerStarted(service.TransportUDP, conn.LocalAddr().String())

	opts := transport.DefaultReceiverOptions()
	opts.MinIdle = minIdle
	opts.MaxWait = maxWait
	receiver := transport.NewBlockReceiver(conn, manager.NewBlockStore(4096), opts, logger, nil)
	svc := service.NewOneWayService(transport.NewDecoder(receiver, nil), files, nil, nil, 256<<20, logger, nil)
	return svc.Run(ctx)
}
