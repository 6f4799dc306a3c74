package manager

import "sort"

// Chunk is one stored datagram payload. It is never modified after insert.
type Chunk struct {
	Length  uint16
	Payload []byte
}

// Block collects the chunks of one logical unit.
type Block struct {
	ID                 uint32
	ExpectedChunkCount uint32

	chunks     map[uint32]Chunk
	size       int
	conflicted bool
}

func newBlock(id, expected uint32) *Block {
	return &Block{
		ID:                 id,
		ExpectedChunkCount: expected,
		chunks:             make(map[uint32]Chunk),
	}
}

// IsComplete reports whether every expected chunk id is present.
func (b *Block) IsComplete() bool {
	return !b.conflicted && uint32(len(b.chunks)) == b.ExpectedChunkCount
}

// Conflicted reports whether two datagrams disagreed on the chunk count.
func (b *Block) Conflicted() bool {
	return b.conflicted
}

// ChunkCount returns the number of distinct chunks received so far.
func (b *Block) ChunkCount() int {
	return len(b.chunks)
}

// Size returns the summed payload length of the stored chunks.
func (b *Block) Size() int {
	return b.size
}

// Chunk returns the chunk with the given id.
func (b *Block) Chunk(id uint32) (Chunk, bool) {
	c, ok := b.chunks[id]
	return c, ok
}

// Assemble concatenates payloads in chunk-id order. Arrival order does not
// matter.
func (b *Block) Assemble() []byte {
	ids := make([]uint32, 0, len(b.chunks))
	for id := range b.chunks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]byte, 0, b.size)
	for _, id := range ids {
		out = append(out, b.chunks[id].Payload...)
	}
	return out
}

// Missing returns up to max missing chunk ids in ascending order.
func (b *Block) Missing(max int) []uint32 {
	var missing []uint32
	for id := uint32(0); id < b.ExpectedChunkCount && len(missing) < max; id++ {
		if _, ok := b.chunks[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
