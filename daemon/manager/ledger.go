package manager

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/zeebo/blake3"
)

var ErrReceiptNotFound = errors.New("receipt not found")

var (
	bucketReceipts = []byte("receipts")
	bucketByTime   = []byte("receipts_by_time")
	bucketByHash   = []byte("receipts_by_hash")
)

// Receipt records one file that was received and saved.
type Receipt struct {
	ID         string    `json:"id"`
	FileName   string    `json:"file_name"`
	Size       int64     `json:"size"`
	Hash       string    `json:"hash"`
	Transport  string    `json:"transport"`
	ReceivedAt time.Time `json:"received_at"`
}

// NewReceipt builds a receipt for data, hashing it with BLAKE3.
func NewReceipt(id, fileName, transport string, data []byte) Receipt {
	sum := blake3.Sum256(data)
	return Receipt{
		ID:         id,
		FileName:   fileName,
		Size:       int64(len(data)),
		Hash:       hex.EncodeToString(sum[:]),
		Transport:  transport,
		ReceivedAt: time.Now(),
	}
}

// Ledger is a bolt-backed log of upload receipts.
type Ledger struct{ db *bolt.DB }

func OpenLedger(path string) (*Ledger, error) {
	db, err := bolt.Open(filepath.Clean(path), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketReceipts, bucketByTime, bucketByHash} {
			if _, e := tx.CreateBucketIfNotExists(b); e != nil {
				return e
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

// timeKey orders receipts by receive time, ties broken by id.
func timeKey(r Receipt) []byte {
	k := make([]byte, 8, 8+len(r.ID))
	binary.BigEndian.PutUint64(k, uint64(r.ReceivedAt.UnixNano()))
	return append(k, r.ID...)
}

// hashKey indexes receipts by content hash, one key per receipt.
func hashKey(r Receipt) []byte {
	return []byte(r.Hash + "/" + r.ID)
}

// Record stores r, replacing any receipt with the same id.
func (l *Ledger) Record(r Receipt) error {
	val, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		receipts := tx.Bucket(bucketReceipts)
		if old := receipts.Get([]byte(r.ID)); old != nil {
			var prev Receipt
			if err := json.Unmarshal(old, &prev); err == nil {
				if err := deleteIndexes(tx, prev); err != nil {
					return err
				}
			}
		}
		if err := receipts.Put([]byte(r.ID), val); err != nil {
			return err
		}
		if err := tx.Bucket(bucketByTime).Put(timeKey(r), []byte(r.ID)); err != nil {
			return err
		}
		return tx.Bucket(bucketByHash).Put(hashKey(r), []byte(r.ID))
	})
}

func deleteIndexes(tx *bolt.Tx, r Receipt) error {
	if err := tx.Bucket(bucketByTime).Delete(timeKey(r)); err != nil {
		return err
	}
	return tx.Bucket(bucketByHash).Delete(hashKey(r))
}

// Get returns the receipt with the given id.
func (l *Ledger) Get(id string) (Receipt, error) {
	var r Receipt
	err := l.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketReceipts).Get([]byte(id))
		if v == nil {
			return ErrReceiptNotFound
		}
		return json.Unmarshal(v, &r)
	})
	return r, err
}

// HasHash reports whether any receipt carries the given content hash.
func (l *Ledger) HasHash(hash string) bool {
	if hash == "" {
		return false
	}
	prefix := []byte(hash + "/")
	found := false
	_ = l.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(bucketByHash).Cursor().Seek(prefix)
		found = k != nil && bytes.HasPrefix(k, prefix)
		return nil
	})
	return found
}

// Recent returns up to limit receipts, newest first.
func (l *Ledger) Recent(limit int) ([]Receipt, error) {
	var out []Receipt
	err := l.db.View(func(tx *bolt.Tx) error {
		receipts := tx.Bucket(bucketReceipts)
		c := tx.Bucket(bucketByTime).Cursor()
		for k, id := c.Last(); k != nil && (limit <= 0 || len(out) < limit); k, id = c.Prev() {
			v := receipts.Get(id)
			if v == nil {
				continue
			}
			var r Receipt
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

// Count returns the number of stored receipts.
func (l *Ledger) Count() (int, error) {
	n := 0
	err := l.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketReceipts).Stats().KeyN
		return nil
	})
	return n, err
}

// GC removes receipts received more than maxAge ago.
func (l *Ledger) GC(maxAge time.Duration) (int, error) {
	cutoff := uint64(time.Now().Add(-maxAge).UnixNano())
	removed := 0
	err := l.db.Update(func(tx *bolt.Tx) error {
		receipts := tx.Bucket(bucketReceipts)
		byTime := tx.Bucket(bucketByTime)

		// Collect first: deleting under a live cursor skips entries.
		var keys, ids [][]byte
		c := byTime.Cursor()
		for k, id := c.First(); k != nil; k, id = c.Next() {
			if len(k) < 8 || binary.BigEndian.Uint64(k[:8]) >= cutoff {
				break
			}
			keys = append(keys, append([]byte(nil), k...))
			ids = append(ids, append([]byte(nil), id...))
		}
		for i := range keys {
			if v := receipts.Get(ids[i]); v != nil {
				var r Receipt
				if err := json.Unmarshal(v, &r); err == nil {
					if err := tx.Bucket(bucketByHash).Delete(hashKey(r)); err != nil {
						return err
					}
				}
			}
			if err := receipts.Delete(ids[i]); err != nil {
				return err
			}
			if err := byTime.Delete(keys[i]); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}
