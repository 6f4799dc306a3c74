package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/itskernel/backend/daemon/config"
	"github.com/itskernel/backend/daemon/manager"
	"github.com/itskernel/backend/daemon/service"
	"github.com/itskernel/backend/daemon/transport"
	"github.com/itskernel/backend/internal/datagram"
	"github.com/itskernel/backend/internal/observability"
	"github.com/itskernel/backend/internal/quicutil"
)

const (
	serviceName = "itskernel-daemon"
	version     = "1.0.0"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML or TOML config file")
	flag.Parse()

	logger := observability.NewLogger(serviceName, version, os.Stdout)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal(err, "Failed to load config")
	}
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		logger.Fatal(err, "Invalid log level")
	}
	logger.Info("itskernel daemon starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Init tracing if configured
	if shutdown, err := observability.InitTracing(ctx, serviceName, version); err == nil {
		defer shutdown(context.Background())
	} else {
		logger.Error(err, "Tracing disabled")
	}

	metrics := observability.NewMetrics(nil)
	healthChecker := observability.NewHealthChecker(version)
	eventPublisher := service.NewEventPublisher(cfg.EventBuffer)

	files, err := service.NewDirFileStore(cfg.InDirectory, cfg.OutDirectory)
	if err != nil {
		logger.Fatal(err, "Failed to prepare directories")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LedgerPath), 0o755); err != nil {
		logger.Fatal(err, "Failed to create ledger directory")
	}
	ledger, err := manager.OpenLedger(cfg.LedgerPath)
	if err != nil {
		logger.Fatal(err, "Failed to open ledger")
	}
	defer ledger.Close()
	service.StartLedgerGCLoop(ctx, ledger, cfg.LedgerRetention.Std(), cfg.LedgerGCInterval.Std(), logger)

	healthChecker.RegisterCheck("out_directory", observability.DirectoryCheck(cfg.OutDirectory))
	healthChecker.RegisterCheck("ledger", observability.PingCheck("ledger", 100*time.Millisecond, func() error {
		_, err := ledger.Count()
		return err
	}))

	var wg sync.WaitGroup
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				logger.Error(err, name+" stopped")
				stop()
			}
		}()
	}

	// One-way datagram sink
	udpConn, err := net.ListenPacket("udp", cfg.UDPAddress)
	if err != nil {
		logger.Fatal(err, "Failed to start UDP listener")
	}
	context.AfterFunc(ctx, func() { udpConn.Close() })
	logger.ListenerStarted(service.TransportUDP, udpConn.LocalAddr().String())
	healthChecker.RegisterCheck("udp_listener", observability.ListenerCheck(service.TransportUDP, udpConn.LocalAddr().String()))

	opts := transport.ReceiverOptions{
		MinIdle:      cfg.MinIdle.Std(),
		MaxWait:      cfg.MaxWait.Std(),
		PollInterval: cfg.PollInterval.Std(),
		Limits:       datagram.Limits{MaxChunksPerBlock: cfg.MaxChunksPerBlock},
	}
	if cfg.SenderIP != "" {
		opts.AllowFrom = net.ParseIP(cfg.SenderIP)
	}
	receiver := transport.NewBlockReceiver(udpConn, manager.NewBlockStore(cfg.MaxPendingBlocks), opts, logger, metrics)
	oneWay := service.NewOneWayService(transport.NewDecoder(receiver, metrics), files, ledger, eventPublisher, cfg.MaxFileSize, logger, metrics)
	run("one-way receive loop", func() error { return oneWay.Run(ctx) })

	// Two-way stream protocol
	limiter := rate.NewLimiter(rate.Limit(cfg.AcceptRate), cfg.AcceptBurst)
	twoWay := service.NewTwoWayService(files, ledger, eventPublisher, cfg.MaxFileSize, limiter, logger, metrics)

	if cfg.TCPAddress != "" {
		ln, err := net.Listen("tcp", cfg.TCPAddress)
		if err != nil {
			logger.Fatal(err, "Failed to start TCP listener")
		}
		healthChecker.RegisterCheck("tcp_listener", observability.ListenerCheck(service.TransportTCP, ln.Addr().String()))
		run("tcp listener", func() error { return twoWay.ServeTCP(ctx, ln) })
	}

	if cfg.QUICAddress != "" {
		certPEM, keyPEM, err := quicutil.GenerateSelfSignedCert()
		if err != nil {
			logger.Fatal(err, "Failed to generate TLS certificate")
		}
		tlsConfig, err := quicutil.MakeTLSConfig(certPEM, keyPEM)
		if err != nil {
			logger.Fatal(err, "Failed to create TLS config")
		}
		quicListener, err := transport.ListenQUIC(cfg.QUICAddress, tlsConfig)
		if err != nil {
			logger.Fatal(err, "Failed to start QUIC listener")
		}
		defer quicListener.Close()
		healthChecker.RegisterCheck("quic_listener", observability.ListenerCheck(service.TransportQUIC, quicListener.Addr().String()))
		run("quic listener", func() error { return twoWay.ServeQUIC(ctx, quicListener) })
	}

	if cfg.ObservabilityAddress != "" {
		server := newObservabilityServer(cfg.ObservabilityAddress, metrics, healthChecker, eventPublisher, ledger)
		go func() {
			logger.ListenerStarted("http", cfg.ObservabilityAddress)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(err, "Observability server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("itskernel daemon running")
	logger.Info("Press Ctrl+C to stop")

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")
	wg.Wait()
	logger.Info("Daemon stopped")
}

// newObservabilityServer exposes /metrics, /health, /events, /receipts and
// /debug/pprof.
func newObservabilityServer(addr string, metrics *observability.Metrics, health *observability.HealthChecker, events *service.EventPublisher, ledger *manager.Ledger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", health.Handler())
	mux.Handle("/events", events.Handler())
	mux.HandleFunc("/receipts", func(w http.ResponseWriter, r *http.Request) {
		receipts, err := ledger.Recent(50)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(receipts)
	})
	// pprof endpoints
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
