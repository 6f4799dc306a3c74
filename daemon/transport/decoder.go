package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/itskernel/backend/daemon/manager"
	"github.com/itskernel/backend/internal/chunker"
	"github.com/itskernel/backend/internal/observability"
)

var ErrLengthMismatch = errors.New("length mismatch")

// LengthMismatchError reports a byte block whose size differs from the
// length announced before it.
type LengthMismatchError struct {
	BlockID  uint32
	Expected int64
	Actual   int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("length mismatch: block %d carries %d bytes, expected %d", e.BlockID, e.Actual, e.Expected)
}

func (e *LengthMismatchError) Is(target error) bool {
	return target == ErrLengthMismatch
}

// Decoder turns completed blocks into lines and byte arrays. Every
// successful read consumes exactly one block.
type Decoder struct {
	receiver *BlockReceiver
	store    *manager.BlockStore
	metrics  *observability.Metrics
}

func NewDecoder(receiver *BlockReceiver, metrics *observability.Metrics) *Decoder {
	return &Decoder{
		receiver: receiver,
		store:    receiver.Store(),
		metrics:  metrics,
	}
}

// ReceiveLine reads the cursor block as text with every terminator byte
// removed.
func (d *Decoder) ReceiveLine(ctx context.Context) (string, error) {
	b, err := d.receiver.ReceiveBlock(ctx)
	if err != nil {
		return "", err
	}
	line := bytes.ReplaceAll(b.Assemble(), []byte{chunker.LineTerminator}, nil)
	d.advance()
	return string(line), nil
}

// ReceiveBytes reads the cursor block, which must hold exactly length
// bytes. On a mismatch the cursor is left in place.
func (d *Decoder) ReceiveBytes(ctx context.Context, length int64) ([]byte, error) {
	b, err := d.receiver.ReceiveBlock(ctx)
	if err != nil {
		return nil, err
	}
	if int64(b.Size()) != length {
		return nil, &LengthMismatchError{BlockID: b.ID, Expected: length, Actual: b.Size()}
	}
	data := b.Assemble()
	d.advance()
	return data, nil
}

// Skip abandons n blocks starting at the cursor.
func (d *Decoder) Skip(n uint32) {
	d.store.Skip(n)
	d.metrics.RecordSkip(n)
	d.metrics.RecordStore(d.store.Cursor(), d.store.Len())
}

func (d *Decoder) Cursor() uint32 {
	return d.store.Cursor()
}

// HasPending reports whether any chunk is held at or after the cursor.
func (d *Decoder) HasPending() bool {
	return d.store.HasPending()
}

func (d *Decoder) advance() {
	d.store.Advance()
	d.metrics.RecordStore(d.store.Cursor(), d.store.Len())
}
