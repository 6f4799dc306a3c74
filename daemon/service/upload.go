package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/itskernel/backend/daemon/manager"
	"github.com/itskernel/backend/internal/observability"
	"github.com/itskernel/backend/internal/validation"
)

const (
	TransportUDP  = "udp"
	TransportTCP  = "tcp"
	TransportQUIC = "quic"
)

var ErrInvalidLength = errors.New("invalid file length")

// uploadSink finishes upload attempts for both protocols.
type uploadSink struct {
	files   FileStore
	ledger  *manager.Ledger
	events  *EventPublisher
	logger  *observability.Logger
	metrics *observability.Metrics
}

func newUploadSink(files FileStore, ledger *manager.Ledger, events *EventPublisher, logger *observability.Logger, metrics *observability.Metrics) uploadSink {
	if events == nil {
		events = NewEventPublisher(1)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return uploadSink{files: files, ledger: ledger, events: events, logger: logger, metrics: metrics}
}

// begin starts an attempt for command on transport.
func (u *uploadSink) begin(command, transport string) (*manager.Attempt, *observability.Logger) {
	a := manager.NewAttempt(command, transport)
	a.TransitionTo(manager.StateActive, "")
	u.events.PublishStarted(a.ID, transport, command)
	return a, u.logger.WithAttempt(a.ID, command)
}

// save persists data under the attempt's file name and records a receipt.
func (u *uploadSink) save(a *manager.Attempt, log *observability.Logger, data []byte) error {
	if err := u.files.Save(a.FileName, data); err != nil {
		return fmt.Errorf("save %s: %w", a.FileName, err)
	}

	receipt := manager.NewReceipt(a.ID, a.FileName, a.Transport, data)
	if u.ledger != nil {
		if u.ledger.HasHash(receipt.Hash) {
			log.Debug("identical content received before")
		}
		if err := u.ledger.Record(receipt); err != nil {
			log.Error(err, "failed to record receipt")
		}
	}

	a.TransitionTo(manager.StateCompleted, "")
	log.UploadSaved(a.FileName, receipt.Size, receipt.Hash, a.Duration())
	u.metrics.RecordUpload(a.Transport, true, len(data), a.Duration().Seconds())
	u.events.PublishCompleted(a.ID, a.Transport, a.FileName, receipt.Size, receipt.Hash, a.Duration())
	return nil
}

// fail closes the attempt as failed. skipped is the number of datagram
// blocks abandoned to resynchronise, always zero on stream transports.
func (u *uploadSink) fail(a *manager.Attempt, log *observability.Logger, err error, skipped, cursor uint32) {
	a.TransitionTo(manager.StateFailed, err.Error())
	log.AttemptAbandoned(err, a.CompletedReads, skipped, cursor)
	u.metrics.RecordUpload(a.Transport, false, 0, a.Duration().Seconds())
	u.events.PublishFailed(a.ID, a.Transport, err.Error(), skipped)
}

// parseLength parses a decimal length line and bounds it by max.
func parseLength(line string, max int64) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLength, line)
	}
	if err := validation.ValidateRangeInt64(n, 0, max); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidLength, err)
	}
	return n, nil
}
