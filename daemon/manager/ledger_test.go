package manager

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := OpenLedger(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("OpenLedger failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedger_RecordAndGet(t *testing.T) {
	l := openTestLedger(t)

	r := NewReceipt("r1", "a.bin", "udp", []byte{1, 2, 3, 4})
	if r.Size != 4 {
		t.Errorf("Expected size 4, got %d", r.Size)
	}
	if len(r.Hash) != 64 {
		t.Errorf("Expected 64 hex chars of BLAKE3, got %d", len(r.Hash))
	}

	if err := l.Record(r); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, err := l.Get("r1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.FileName != "a.bin" || got.Hash != r.Hash || got.Transport != "udp" {
		t.Errorf("Unexpected receipt: %+v", got)
	}
	if !l.HasHash(r.Hash) {
		t.Error("Expected HasHash to find recorded hash")
	}
	if l.HasHash("deadbeef") {
		t.Error("Expected HasHash to miss unknown hash")
	}

	if _, err := l.Get("missing"); !errors.Is(err, ErrReceiptNotFound) {
		t.Errorf("Expected ErrReceiptNotFound, got %v", err)
	}
}

func TestLedger_RecentNewestFirst(t *testing.T) {
	l := openTestLedger(t)

	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"first", "second", "third"} {
		r := NewReceipt(name, name+".bin", "tcp", []byte(name))
		r.ReceivedAt = base.Add(time.Duration(i) * time.Minute)
		if err := l.Record(r); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	recent, err := l.Recent(2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Expected 2 receipts, got %d", len(recent))
	}
	if recent[0].ID != "third" || recent[1].ID != "second" {
		t.Errorf("Expected [third second], got [%s %s]", recent[0].ID, recent[1].ID)
	}

	n, err := l.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 receipts, got %d", n)
	}
}

func TestLedger_GC(t *testing.T) {
	l := openTestLedger(t)

	for i, age := range []time.Duration{72 * time.Hour, 48 * time.Hour, time.Minute} {
		r := NewReceipt(string(rune('a'+i)), "f.bin", "udp", []byte{byte(i)})
		r.ReceivedAt = time.Now().Add(-age)
		l.Record(r)
	}

	removed, err := l.GC(24 * time.Hour)
	if err != nil {
		t.Fatalf("GC failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 receipts removed, got %d", removed)
	}

	if _, err := l.Get("c"); err != nil {
		t.Errorf("Expected fresh receipt to survive GC: %v", err)
	}
	if _, err := l.Get("a"); !errors.Is(err, ErrReceiptNotFound) {
		t.Errorf("Expected old receipt to be collected, got %v", err)
	}
}

func TestLedger_HashIndexFollowsReceipts(t *testing.T) {
	l := openTestLedger(t)

	old := NewReceipt("r1", "a.bin", "udp", []byte("first content"))
	old.ReceivedAt = time.Now().Add(-72 * time.Hour)
	if err := l.Record(old); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	// Same id, new content: the old hash must no longer match.
	replaced := NewReceipt("r1", "a.bin", "udp", []byte("second content"))
	if err := l.Record(replaced); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if l.HasHash(old.Hash) {
		t.Error("Expected replaced receipt's hash to be unindexed")
	}
	if !l.HasHash(replaced.Hash) {
		t.Error("Expected new hash to be indexed")
	}
	if l.HasHash(replaced.Hash[:10]) {
		t.Error("Expected a hash prefix not to match")
	}
	if l.HasHash("") {
		t.Error("Expected empty hash not to match")
	}

	stale := NewReceipt("r2", "b.bin", "tcp", []byte("stale"))
	stale.ReceivedAt = time.Now().Add(-72 * time.Hour)
	l.Record(stale)
	if _, err := l.GC(24 * time.Hour); err != nil {
		t.Fatalf("GC failed: %v", err)
	}
	if l.HasHash(stale.Hash) {
		t.Error("Expected GC to drop the hash index entry")
	}
	if !l.HasHash(replaced.Hash) {
		t.Error("Expected fresh receipt to stay indexed after GC")
	}
	recent, err := l.Recent(0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != "r1" {
		t.Errorf("Expected only r1 after GC, got %+v", recent)
	}
}
