package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// NopLogger discards everything.
func NopLogger() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// SetLevel sets the minimum level from a name such as "debug" or "warn".
func (l *Logger) SetLevel(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	l.logger = l.logger.Level(lvl)
	return nil
}

// WithAttempt adds attempt context to logger.
func (l *Logger) WithAttempt(attemptID, command string) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("attempt_id", attemptID).
			Str("command", command).
			Logger(),
	}
}

// WithPeer adds remote address context to logger.
func (l *Logger) WithPeer(remoteAddr, transport string) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("remote_addr", remoteAddr).
			Str("transport", transport).
			Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// CommandReceived logs a command keyword read off the wire.
func (l *Logger) CommandReceived(command string, cursor uint32) {
	l.logger.Info().
		Str("command", command).
		Uint32("cursor", cursor).
		Msg("command received")
}

// SessionCommand logs a command read from a stream session.
func (l *Logger) SessionCommand(command string) {
	l.logger.Debug().
		Str("command", command).
		Msg("session command")
}

// BlockSkipped logs a command block abandoned outside any attempt.
func (l *Logger) BlockSkipped(blockID uint32, err error) {
	l.logger.Warn().
		Err(err).
		Uint32("block_id", blockID).
		Msg("unreadable command block skipped")
}

// CommandIgnored logs an unrecognised command keyword.
func (l *Logger) CommandIgnored(command string) {
	l.logger.Warn().
		Str("command", command).
		Msg("invalid command ignored")
}

// UploadSaved logs a file persisted after a successful sendout.
func (l *Logger) UploadSaved(fileName string, fileSize int64, hash string, duration time.Duration) {
	l.logger.Info().
		Str("file_name", fileName).
		Int64("file_size", fileSize).
		Str("hash", hash).
		Float64("duration_seconds", duration.Seconds()).
		Msg("file saved")
}

// AttemptAbandoned logs a failed command attempt and the resync skip.
func (l *Logger) AttemptAbandoned(err error, completedReads int, skipped uint32, cursor uint32) {
	l.logger.Error().
		Err(err).
		Int("completed_reads", completedReads).
		Uint32("skipped_blocks", skipped).
		Uint32("cursor", cursor).
		Msg("command attempt abandoned")
}

// PartialDelivery logs a block that did not complete inside the wait window.
func (l *Logger) PartialDelivery(blockID uint32, received int, expected uint32, missing []uint32) {
	l.logger.Warn().
		Uint32("block_id", blockID).
		Int("chunks_received", received).
		Uint32("chunks_expected", expected).
		Interface("missing_sample", missing).
		Msg("partial delivery")
}

// DatagramDropped logs a datagram that could not be used.
func (l *Logger) DatagramDropped(reason string, from string, err error) {
	ev := l.logger.Warn().
		Str("reason", reason).
		Str("remote_addr", from)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("datagram dropped")
}

// ListenerStarted logs a bound listener.
func (l *Logger) ListenerStarted(transport, addr string) {
	l.logger.Info().
		Str("transport", transport).
		Str("addr", addr).
		Msg("listener started")
}

// ConnectionEstablished logs a stream protocol client connecting.
func (l *Logger) ConnectionEstablished(remoteAddr, transport string) {
	l.logger.Info().
		Str("remote_addr", remoteAddr).
		Str("transport", transport).
		Msg("client connected")
}

// ConnectionClosed logs the end of a stream protocol session.
func (l *Logger) ConnectionClosed(remoteAddr string, err error) {
	ev := l.logger.Info().Str("remote_addr", remoteAddr)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("client disconnected")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
