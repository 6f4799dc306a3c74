package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/itskernel/backend/daemon/manager"
	"github.com/itskernel/backend/internal/datagram"
	"github.com/itskernel/backend/internal/observability"
)

var ErrPartialDelivery = errors.New("partial delivery")

// PartialDeliveryError reports a cursor block that was absent or incomplete
// when the wait window closed.
type PartialDeliveryError struct {
	BlockID  uint32
	Received int
	Expected uint32 // zero when no chunk of the block arrived
}

func (e *PartialDeliveryError) Error() string {
	if e.Expected == 0 {
		return fmt.Sprintf("partial delivery: block %d never arrived", e.BlockID)
	}
	return fmt.Sprintf("partial delivery: block %d has %d of %d chunks", e.BlockID, e.Received, e.Expected)
}

func (e *PartialDeliveryError) Is(target error) bool {
	return target == ErrPartialDelivery
}

// PacketReader is the socket side of the receiver. *net.UDPConn and any
// other net.PacketConn satisfy it.
type PacketReader interface {
	SetReadDeadline(t time.Time) error
	ReadFrom(p []byte) (n int, addr net.Addr, err error)
}

// ReceiverOptions holds the bounded-wait policy.
type ReceiverOptions struct {
	// MinIdle is how long the receiver keeps waiting for a block before a
	// quiet socket is taken to mean nothing more is coming.
	MinIdle time.Duration
	// MaxWait is the hard ceiling for one ReceiveBlock call.
	MaxWait time.Duration
	// PollInterval is the read deadline used once MinIdle has passed.
	PollInterval time.Duration
	Limits       datagram.Limits
	// AllowFrom, when set, drops datagrams from any other sender IP.
	AllowFrom net.IP
}

func DefaultReceiverOptions() ReceiverOptions {
	return ReceiverOptions{
		MinIdle:      250 * time.Millisecond,
		MaxWait:      5 * time.Second,
		PollInterval: 10 * time.Millisecond,
		Limits:       datagram.DefaultLimits(),
	}
}

// BlockReceiver drains a packet socket into a BlockStore and decides when
// the block at the cursor is as complete as it is going to get.
//
// It owns the store and must be driven from a single goroutine.
type BlockReceiver struct {
	conn    PacketReader
	store   *manager.BlockStore
	opts    ReceiverOptions
	logger  *observability.Logger
	metrics *observability.Metrics
	buf     []byte
}

// NewBlockReceiver creates a receiver. logger and metrics may be nil.
func NewBlockReceiver(conn PacketReader, store *manager.BlockStore, opts ReceiverOptions, logger *observability.Logger, metrics *observability.Metrics) *BlockReceiver {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	if opts.MaxWait < opts.MinIdle {
		opts.MaxWait = opts.MinIdle
	}
	if opts.Limits.MaxChunksPerBlock == 0 {
		opts.Limits = datagram.DefaultLimits()
	}
	return &BlockReceiver{
		conn:    conn,
		store:   store,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		buf:     make([]byte, datagram.HeaderSize+datagram.MaxPayload),
	}
}

// Store returns the underlying block store.
func (r *BlockReceiver) Store() *manager.BlockStore {
	return r.store
}

// ReceiveBlock waits for the block at the cursor and returns it without
// advancing the cursor.
//
// Waiting stops when the block completes, when the socket has been quiet
// after MinIdle, or unconditionally at MaxWait. A block that is still
// missing or incomplete then yields a *PartialDeliveryError; a conflicted
// block yields manager.ErrChunkCountConflict.
func (r *BlockReceiver) ReceiveBlock(ctx context.Context) (*manager.Block, error) {
	start := time.Now()
	cursor := r.store.Cursor()
	ceiling := start.Add(r.opts.MaxWait)

	for !r.store.IsComplete(cursor) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		now := time.Now()
		if !now.Before(ceiling) {
			break
		}
		idle := now.Sub(start) >= r.opts.MinIdle
		deadline := start.Add(r.opts.MinIdle)
		if idle {
			deadline = now.Add(r.opts.PollInterval)
		}
		if deadline.After(ceiling) {
			deadline = ceiling
		}
		if err := r.conn.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}

		n, from, err := r.conn.ReadFrom(r.buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				// Only a quiet poll read counts as silence; the read that
				// ends at MinIdle is followed by at least one poll.
				if idle {
					break
				}
				continue
			}
			return nil, err
		}
		r.handleDatagram(r.buf[:n], from)
	}

	waited := time.Since(start).Seconds()
	b, ok := r.store.Get(cursor)
	switch {
	case ok && b.Conflicted():
		r.metrics.RecordBlockWait(false, waited)
		return nil, fmt.Errorf("%w: block %d", manager.ErrChunkCountConflict, cursor)
	case !ok:
		// An empty store is an idle wire, not a loss.
		if r.store.HasPending() {
			r.metrics.RecordBlockWait(false, waited)
			r.logger.PartialDelivery(cursor, 0, 0, nil)
		}
		return nil, &PartialDeliveryError{BlockID: cursor}
	case !b.IsComplete():
		r.metrics.RecordBlockWait(false, waited)
		r.logger.PartialDelivery(cursor, b.ChunkCount(), b.ExpectedChunkCount, b.Missing(8))
		return nil, &PartialDeliveryError{BlockID: cursor, Received: b.ChunkCount(), Expected: b.ExpectedChunkCount}
	}
	r.metrics.RecordBlockWait(true, waited)
	return b, nil
}

func (r *BlockReceiver) handleDatagram(b []byte, from net.Addr) {
	r.metrics.RecordDatagram(len(b))

	if r.opts.AllowFrom != nil && !senderIP(from).Equal(r.opts.AllowFrom) {
		r.drop("foreign_sender", from, nil)
		return
	}

	d, err := datagram.Decode(b, r.opts.Limits)
	if err != nil {
		r.drop("malformed", from, err)
		return
	}

	res, err := r.store.StoreChunk(d.Header.BlockID, d.Header.ChunkCount, d.Header.ChunkID, d.Payload)
	if err != nil {
		r.drop("conflict", from, err)
		return
	}
	switch res {
	case manager.StoreAdded:
		r.metrics.RecordChunk(false)
	case manager.StoreDuplicate:
		r.metrics.RecordChunk(true)
	case manager.StoreStale:
		r.metrics.RecordDatagramDropped("stale")
	case manager.StoreDropped:
		r.drop("capacity", from, nil)
	}
	r.metrics.RecordStore(r.store.Cursor(), r.store.Len())
}

func (r *BlockReceiver) drop(reason string, from net.Addr, err error) {
	r.metrics.RecordDatagramDropped(reason)
	r.logger.DatagramDropped(reason, addrString(from), err)
}

func senderIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	case nil:
		return nil
	default:
		host, _, err := net.SplitHostPort(a.String())
		if err != nil {
			return nil
		}
		return net.ParseIP(host)
	}
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
