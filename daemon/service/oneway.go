package service

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.opentelemetry.io/otel/attribute"

	"github.com/itskernel/backend/daemon/manager"
	"github.com/itskernel/backend/daemon/transport"
	"github.com/itskernel/backend/internal/observability"
	"github.com/itskernel/backend/internal/validation"
)

// sendoutReads is the number of blocks a sender emits after the sendout
// keyword, whether or not they arrive.
const sendoutReads = 3

var errReceiveStopped = errors.New("receive stopped")

// OneWayService runs the datagram command protocol: it reads command
// keywords from the decoder and acts on them. Nothing is ever sent back.
type OneWayService struct {
	uploadSink
	decoder     *transport.Decoder
	maxFileSize int64
}

// NewOneWayService creates the service. ledger, events, logger and metrics
// may be nil.
func NewOneWayService(
	decoder *transport.Decoder,
	files FileStore,
	ledger *manager.Ledger,
	events *EventPublisher,
	maxFileSize int64,
	logger *observability.Logger,
	metrics *observability.Metrics,
) *OneWayService {
	return &OneWayService{
		uploadSink:  newUploadSink(files, ledger, events, logger, metrics),
		decoder:     decoder,
		maxFileSize: maxFileSize,
	}
}

// Run processes commands until ctx is cancelled or the socket is closed,
// both of which return nil. Failed commands never end the loop.
func (s *OneWayService) Run(ctx context.Context) error {
	for {
		command, err := s.decoder.ReceiveLine(ctx)
		if err != nil {
			if !isProtocolError(err) {
				return stopError(ctx, err)
			}
			s.recoverKeyword(err)
			continue
		}

		s.logger.CommandReceived(command, s.decoder.Cursor()-1)
		s.metrics.RecordCommand(TransportUDP, command)
		s.events.PublishCommand(TransportUDP, command)

		switch command {
		case "sendout":
			if err := s.handleSendOut(ctx); err != nil {
				return stopError(ctx, err)
			}
		case "exit":
			// No payload blocks; back to waiting for a keyword.
		default:
			s.logger.CommandIgnored(command)
			s.events.PublishIgnored(TransportUDP, command)
		}
	}
}

// recoverKeyword handles a keyword block that could not be read. With
// nothing stored the wire is just idle; otherwise the block is lost or
// broken and is skipped.
func (s *OneWayService) recoverKeyword(err error) {
	if errors.Is(err, transport.ErrPartialDelivery) && !s.decoder.HasPending() {
		return
	}
	cursor := s.decoder.Cursor()
	s.decoder.Skip(1)
	s.logger.BlockSkipped(cursor, err)
	s.events.PublishSkipped(TransportUDP, cursor, err.Error())
}

// handleSendOut runs one sendout attempt. It returns an error only when the
// receive loop must stop; a failed attempt is resynchronised by skipping the
// blocks it did not consume.
func (s *OneWayService) handleSendOut(ctx context.Context) error {
	a, log := s.begin("sendout", TransportUDP)
	spanCtx, span := observability.StartSpan(ctx, "oneway.sendout",
		attribute.String("attempt.id", a.ID),
		attribute.Int64("block.cursor", int64(s.decoder.Cursor())),
	)

	data, err := s.receiveUpload(spanCtx, a)
	if err == nil {
		err = s.save(a, log, data)
	}
	observability.EndSpan(span, err)

	if err == nil {
		return nil
	}
	if errors.Is(err, errReceiveStopped) {
		a.TransitionTo(manager.StateFailed, err.Error())
		return err
	}

	skip := uint32(sendoutReads - a.CompletedReads)
	s.decoder.Skip(skip)
	s.fail(a, log, err, skip, s.decoder.Cursor())
	return nil
}

// receiveUpload reads the name, length and content blocks in order.
func (s *OneWayService) receiveUpload(ctx context.Context, a *manager.Attempt) ([]byte, error) {
	name, err := s.decoder.ReceiveLine(ctx)
	if err != nil {
		return nil, classifyReceive(err)
	}
	a.ReadCompleted()
	if err := validation.ValidateFileName(name); err != nil {
		return nil, err
	}
	a.FileName = name

	lengthLine, err := s.decoder.ReceiveLine(ctx)
	if err != nil {
		return nil, classifyReceive(err)
	}
	a.ReadCompleted()
	size, err := parseLength(lengthLine, s.maxFileSize)
	if err != nil {
		return nil, err
	}
	a.FileSize = size

	data, err := s.decoder.ReceiveBytes(ctx, size)
	if err != nil {
		return nil, classifyReceive(err)
	}
	a.ReadCompleted()
	return data, nil
}

func isProtocolError(err error) bool {
	return errors.Is(err, transport.ErrPartialDelivery) ||
		errors.Is(err, transport.ErrLengthMismatch) ||
		errors.Is(err, manager.ErrChunkCountConflict)
}

// classifyReceive marks decoder errors that are not protocol failures as
// loop-stopping.
func classifyReceive(err error) error {
	if isProtocolError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", errReceiveStopped, err)
}

// stopError maps shutdown conditions to nil.
func stopError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
