package manager

import (
	"errors"
	"fmt"
)

var ErrChunkCountConflict = errors.New("chunk count conflict")

// StoreResult says what StoreChunk did with a chunk.
type StoreResult int

const (
	StoreAdded StoreResult = iota + 1
	StoreDuplicate
	StoreStale
	StoreDropped
)

func (r StoreResult) String() string {
	switch r {
	case StoreAdded:
		return "ADDED"
	case StoreDuplicate:
		return "DUPLICATE"
	case StoreStale:
		return "STALE"
	case StoreDropped:
		return "DROPPED"
	default:
		return "UNKNOWN"
	}
}

// BlockStore accumulates chunks into blocks and exposes a single cursor: the
// id of the only block that may be consumed next.
//
// A BlockStore is owned by one receive loop and is not safe for concurrent
// use.
type BlockStore struct {
	blocks     map[uint32]*Block
	cursor     uint32
	maxPending int
}

// NewBlockStore creates a store holding at most maxPending blocks at or
// after the cursor. maxPending <= 0 means unbounded.
func NewBlockStore(maxPending int) *BlockStore {
	return &BlockStore{
		blocks:     make(map[uint32]*Block),
		maxPending: maxPending,
	}
}

// StoreChunk files a chunk under its block, creating the block on first
// sight. A chunk whose expected count disagrees with the block's marks the
// block conflicted and returns ErrChunkCountConflict.
func (s *BlockStore) StoreChunk(blockID, expectedChunkCount, chunkID uint32, payload []byte) (StoreResult, error) {
	if blockID < s.cursor {
		return StoreStale, nil
	}

	b, ok := s.blocks[blockID]
	if !ok {
		if s.maxPending > 0 && len(s.blocks) >= s.maxPending && blockID != s.cursor {
			return StoreDropped, nil
		}
		b = newBlock(blockID, expectedChunkCount)
		s.blocks[blockID] = b
	}

	if b.ExpectedChunkCount != expectedChunkCount {
		b.conflicted = true
		return StoreDropped, fmt.Errorf("%w: block %d expects %d chunks, datagram says %d",
			ErrChunkCountConflict, blockID, b.ExpectedChunkCount, expectedChunkCount)
	}

	if _, dup := b.chunks[chunkID]; dup {
		return StoreDuplicate, nil
	}

	b.chunks[chunkID] = Chunk{Length: uint16(len(payload)), Payload: payload}
	b.size += len(payload)
	return StoreAdded, nil
}

// IsComplete reports whether the block exists and holds all expected chunks.
func (s *BlockStore) IsComplete(blockID uint32) bool {
	b, ok := s.blocks[blockID]
	return ok && b.IsComplete()
}

// Get returns the block. Callers check completeness first.
func (s *BlockStore) Get(blockID uint32) (*Block, bool) {
	b, ok := s.blocks[blockID]
	return b, ok
}

// Cursor returns the id of the next retrievable block.
func (s *BlockStore) Cursor() uint32 {
	return s.cursor
}

// Advance consumes the block at the cursor.
func (s *BlockStore) Advance() {
	s.Skip(1)
}

// Skip moves the cursor forward by n without requiring completeness and
// evicts every block that falls below it.
func (s *BlockStore) Skip(n uint32) {
	if n == 0 {
		return
	}
	s.cursor += n
	for id := range s.blocks {
		if id < s.cursor {
			delete(s.blocks, id)
		}
	}
}

// Len returns the number of blocks held.
func (s *BlockStore) Len() int {
	return len(s.blocks)
}

// HasPending reports whether anything is stored at or after the cursor.
func (s *BlockStore) HasPending() bool {
	return len(s.blocks) > 0
}
