package manager

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func chunkPayloads(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte{byte(i), byte(i * 7), byte(i * 13)}
	}
	return out
}

func TestBlockStore_PermutationWithDuplicates(t *testing.T) {
	const n = 16
	payloads := chunkPayloads(n)
	var expected []byte
	for _, p := range payloads {
		expected = append(expected, p...)
	}

	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		order := rng.Perm(n)
		// Re-send a random selection of chunks.
		for i := 0; i < rng.Intn(n); i++ {
			order = append(order, rng.Intn(n))
		}
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		store := NewBlockStore(0)
		for _, id := range order {
			if _, err := store.StoreChunk(0, n, uint32(id), payloads[id]); err != nil {
				t.Fatalf("StoreChunk failed: %v", err)
			}
		}

		if !store.IsComplete(0) {
			t.Fatalf("Round %d: expected block to be complete", round)
		}
		b, _ := store.Get(0)
		if got := b.Assemble(); !bytes.Equal(got, expected) {
			t.Fatalf("Round %d: expected %x, got %x", round, expected, got)
		}
	}
}

func TestBlockStore_StoreChunkIdempotent(t *testing.T) {
	once := NewBlockStore(0)
	twice := NewBlockStore(0)

	if res, _ := once.StoreChunk(4, 2, 1, []byte("tail")); res != StoreAdded {
		t.Errorf("Expected ADDED, got %s", res)
	}
	twice.StoreChunk(4, 2, 1, []byte("tail"))
	if res, _ := twice.StoreChunk(4, 2, 1, []byte("tail")); res != StoreDuplicate {
		t.Errorf("Expected DUPLICATE, got %s", res)
	}

	a, _ := once.Get(4)
	b, _ := twice.Get(4)
	if a.ChunkCount() != b.ChunkCount() || a.Size() != b.Size() {
		t.Errorf("Duplicate changed block: %d/%d vs %d/%d", a.ChunkCount(), a.Size(), b.ChunkCount(), b.Size())
	}
	if !bytes.Equal(a.Assemble(), b.Assemble()) {
		t.Error("Duplicate changed block content")
	}
}

func TestBlockStore_DuplicateKeepsFirstPayload(t *testing.T) {
	store := NewBlockStore(0)
	store.StoreChunk(0, 1, 0, []byte("first"))
	store.StoreChunk(0, 1, 0, []byte("second"))

	b, _ := store.Get(0)
	if string(b.Assemble()) != "first" {
		t.Errorf("Expected first payload to win, got %q", b.Assemble())
	}
	c, ok := b.Chunk(0)
	if !ok {
		t.Fatal("Expected chunk 0 to be stored")
	}
	if c.Length != 5 || string(c.Payload) != "first" {
		t.Errorf("Expected chunk 0 = 5/%q, got %d/%q", "first", c.Length, c.Payload)
	}
	if _, ok := b.Chunk(1); ok {
		t.Error("Expected no chunk 1")
	}
}

func TestBlockStore_ChunkCountConflict(t *testing.T) {
	store := NewBlockStore(0)
	store.StoreChunk(0, 2, 0, []byte("a"))

	_, err := store.StoreChunk(0, 3, 1, []byte("b"))
	if !errors.Is(err, ErrChunkCountConflict) {
		t.Fatalf("Expected ErrChunkCountConflict, got %v", err)
	}

	store.StoreChunk(0, 2, 1, []byte("b"))
	if store.IsComplete(0) {
		t.Error("Conflicted block must never be complete")
	}
	b, _ := store.Get(0)
	if !b.Conflicted() {
		t.Error("Expected block to be marked conflicted")
	}
}

func TestBlockStore_IsCompleteMissingBlock(t *testing.T) {
	store := NewBlockStore(0)
	if store.IsComplete(0) {
		t.Error("Missing block should not be complete")
	}
	store.StoreChunk(0, 3, 0, nil)
	store.StoreChunk(0, 3, 2, nil)
	if store.IsComplete(0) {
		t.Error("Partial block should not be complete")
	}

	b, _ := store.Get(0)
	missing := b.Missing(10)
	if len(missing) != 1 || missing[0] != 1 {
		t.Errorf("Expected missing [1], got %v", missing)
	}
}

func TestBlockStore_Skip(t *testing.T) {
	store := NewBlockStore(0)
	store.StoreChunk(0, 1, 0, []byte("zero"))
	store.StoreChunk(1, 2, 0, []byte("one"))
	store.StoreChunk(3, 1, 0, []byte("three"))

	store.Skip(2)

	if store.Cursor() != 2 {
		t.Errorf("Expected cursor 2, got %d", store.Cursor())
	}
	if _, ok := store.Get(0); ok {
		t.Error("Expected block 0 to be evicted")
	}
	if _, ok := store.Get(1); ok {
		t.Error("Expected block 1 to be evicted")
	}
	b, ok := store.Get(3)
	if !ok {
		t.Fatal("Expected block 3 to survive skip")
	}
	if string(b.Assemble()) != "three" {
		t.Errorf("Skip altered block 3: %q", b.Assemble())
	}

	store.Skip(0)
	if store.Cursor() != 2 {
		t.Errorf("Skip(0) moved cursor to %d", store.Cursor())
	}

	store.Advance()
	if store.Cursor() != 3 {
		t.Errorf("Expected cursor 3 after Advance, got %d", store.Cursor())
	}
}

func TestBlockStore_StaleChunk(t *testing.T) {
	store := NewBlockStore(0)
	store.Skip(5)

	res, err := store.StoreChunk(2, 1, 0, []byte("late"))
	if err != nil {
		t.Fatalf("StoreChunk failed: %v", err)
	}
	if res != StoreStale {
		t.Errorf("Expected STALE, got %s", res)
	}
	if store.Len() != 0 {
		t.Errorf("Expected empty store, got %d blocks", store.Len())
	}
}

func TestBlockStore_MaxPending(t *testing.T) {
	store := NewBlockStore(2)
	store.StoreChunk(1, 1, 0, nil)
	store.StoreChunk(2, 1, 0, nil)

	if res, _ := store.StoreChunk(3, 1, 0, nil); res != StoreDropped {
		t.Errorf("Expected DROPPED beyond capacity, got %s", res)
	}
	// Known blocks still accept chunks.
	if res, _ := store.StoreChunk(2, 1, 0, nil); res != StoreDuplicate {
		t.Errorf("Expected DUPLICATE, got %s", res)
	}
	// The cursor block is always admitted.
	if res, _ := store.StoreChunk(0, 1, 0, nil); res != StoreAdded {
		t.Errorf("Expected cursor block to be ADDED, got %s", res)
	}
	if !store.HasPending() {
		t.Error("Expected pending blocks")
	}
}
