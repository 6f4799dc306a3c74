package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/itskernel/backend/daemon/manager"
	"github.com/itskernel/backend/daemon/transport"
	"github.com/itskernel/backend/internal/observability"
	"github.com/itskernel/backend/internal/validation"
)

// MissingFilePayload is sent in place of a file that cannot be served.
const MissingFilePayload = "File does not exist."

// TwoWayService serves the command protocol over reliable ordered streams.
// Each session runs on its own goroutine.
type TwoWayService struct {
	uploadSink
	maxFileSize int64
	limiter     *rate.Limiter
}

// NewTwoWayService creates the service. limiter bounds the accept rate and
// may be nil, as may ledger, events, logger and metrics.
func NewTwoWayService(
	files FileStore,
	ledger *manager.Ledger,
	events *EventPublisher,
	maxFileSize int64,
	limiter *rate.Limiter,
	logger *observability.Logger,
	metrics *observability.Metrics,
) *TwoWayService {
	return &TwoWayService{
		uploadSink:  newUploadSink(files, ledger, events, logger, metrics),
		maxFileSize: maxFileSize,
		limiter:     limiter,
	}
}

// ServeTCP accepts sessions until ctx is cancelled or ln is closed, then
// waits for open sessions to finish.
func (s *TwoWayService) ServeTCP(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	s.logger.ListenerStarted(TransportTCP, ln.Addr().String())
	for {
		if err := s.waitAccept(ctx); err != nil {
			return nil
		}
		conn, err := ln.Accept()
		if err != nil {
			return stopError(ctx, err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			closeOnCancel := context.AfterFunc(ctx, func() { conn.Close() })
			defer closeOnCancel()
			s.serveSession(ctx, conn, TransportTCP, conn.RemoteAddr().String())
		}()
	}
}

// ServeQUIC accepts QUIC connections and serves the first stream of each
// as one session.
func (s *TwoWayService) ServeQUIC(ctx context.Context, ln *transport.QUICListener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	s.logger.ListenerStarted(TransportQUIC, ln.Addr().String())
	for {
		if err := s.waitAccept(ctx); err != nil {
			return nil
		}
		qc, err := ln.Accept(ctx)
		if err != nil {
			return stopError(ctx, err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer qc.Close()
			closeOnCancel := context.AfterFunc(ctx, func() { qc.Close() })
			defer closeOnCancel()
			remote := qc.RemoteAddr().String()
			stream, err := qc.AcceptStream(ctx)
			if err != nil {
				s.logger.ConnectionClosed(remote, err)
				return
			}
			defer stream.Close()
			s.serveSession(ctx, stream, TransportQUIC, remote)
		}()
	}
}

func (s *TwoWayService) waitAccept(ctx context.Context) error {
	if s.limiter == nil {
		return ctx.Err()
	}
	return s.limiter.Wait(ctx)
}

func (s *TwoWayService) serveSession(ctx context.Context, rw io.ReadWriter, transportName, remote string) {
	ctx, span := observability.StartSpan(ctx, "twoway.session",
		attribute.String("net.transport", transportName),
		attribute.String("net.peer", remote),
	)
	s.logger.ConnectionEstablished(remote, transportName)
	s.metrics.RecordStreamSession(transportName, true)
	s.events.PublishSession(transportName, remote, true)

	err := s.ServeConn(ctx, rw, transportName, remote)

	observability.EndSpan(span, err)
	s.logger.ConnectionClosed(remote, err)
	s.metrics.RecordStreamSession(transportName, false)
	s.events.PublishSession(transportName, remote, false)
}

// ServeConn runs one session on rw until the client sends exit or the
// stream ends.
func (s *TwoWayService) ServeConn(ctx context.Context, rw io.ReadWriter, transportName, remote string) error {
	r := bufio.NewReader(rw)
	w := bufio.NewWriter(rw)
	log := s.logger.WithPeer(remote, transportName)

	for {
		command, err := readLine(r)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		log.SessionCommand(command)
		s.metrics.RecordCommand(transportName, command)
		s.events.PublishCommand(transportName, command)

		switch command {
		case "exit":
			return nil
		case "ls":
			err = s.handleList(w)
		case "sendin":
			err = s.handleSendIn(r, w, log)
		case "sendout":
			err = s.handleSendOut(ctx, r, transportName)
		default:
			log.CommandIgnored(command)
			s.events.PublishIgnored(transportName, command)
		}
		if err != nil {
			return err
		}
	}
}

func (s *TwoWayService) handleList(w *bufio.Writer) error {
	names, err := s.files.List()
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}
	fmt.Fprintf(w, "%d\n", len(names))
	for _, name := range names {
		fmt.Fprintf(w, "%s\n", name)
	}
	return w.Flush()
}

func (s *TwoWayService) handleSendIn(r *bufio.Reader, w *bufio.Writer, log *observability.Logger) error {
	name, err := readLine(r)
	if err != nil {
		return err
	}

	data, err := s.files.Load(name)
	if err != nil {
		if !errors.Is(err, ErrFileNotFound) {
			log.Error(err, "failed to read file")
		}
		data = []byte(MissingFilePayload)
	}

	fmt.Fprintf(w, "%d\n", len(data))
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.Flush()
}

// handleSendOut receives one upload. The stream stays usable after a bad
// file name because the content is still read in full; an unreadable length
// leaves the stream position unknown and ends the session.
func (s *TwoWayService) handleSendOut(ctx context.Context, r *bufio.Reader, transportName string) error {
	a, log := s.begin("sendout", transportName)
	_, span := observability.StartSpan(ctx, "twoway.sendout", attribute.String("attempt.id", a.ID))

	data, err := s.readUpload(r, a)
	if err != nil {
		observability.EndSpan(span, err)
		s.fail(a, log, err, 0, 0)
		return err
	}

	err = validation.ValidateFileName(a.FileName)
	if err == nil {
		err = s.save(a, log, data)
	}
	observability.EndSpan(span, err)
	if err != nil {
		s.fail(a, log, err, 0, 0)
	}
	return nil
}

func (s *TwoWayService) readUpload(r *bufio.Reader, a *manager.Attempt) ([]byte, error) {
	name, err := readLine(r)
	if err != nil {
		return nil, err
	}
	a.ReadCompleted()
	a.FileName = name

	lengthLine, err := readLine(r)
	if err != nil {
		return nil, err
	}
	a.ReadCompleted()
	size, err := parseLength(lengthLine, s.maxFileSize)
	if err != nil {
		return nil, err
	}
	a.FileSize = size

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read %d bytes: %w", size, err)
	}
	a.ReadCompleted()
	return data, nil
}

// readLine reads one '\n'-terminated line without its terminator. A final
// unterminated line is returned as is.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
