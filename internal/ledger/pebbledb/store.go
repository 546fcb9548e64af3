// Package pebbledb implements the ledger.Store contract on top of a
// cockroachdb/pebble key-value database, for runs that need the ledger
// to survive restarts.
//
// Revisions are stored in an 8-byte big-endian header in front of each
// JSON value, assigned from a store-wide sequence persisted under a
// meta key. A single commit mutex serializes transactions; atomicity of
// a commit's writes comes from a synced pebble batch.
package pebbledb

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"papertrade/internal/ledger"
)

// seqKey sorts before every document key ("\x00" < any printable
// prefix), so prefix queries never see it.
var seqKey = []byte("\x00seq")

const revHeaderLen = 8

// Store is a pebble-backed ledger store.
type Store struct {
	db  *pebble.DB
	mu  sync.Mutex // serializes commit validation+apply
	seq uint64
	hub ledger.Hub
}

// Open opens (or creates) the database at path and restores the
// revision sequence.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebbledb: open %s: %w", path, err)
	}
	s := &Store{db: db}

	val, closer, err := db.Get(seqKey)
	switch err {
	case nil:
		if len(val) == revHeaderLen {
			s.seq = binary.BigEndian.Uint64(val)
		}
		closer.Close()
	case pebble.ErrNotFound:
	default:
		db.Close()
		return nil, fmt.Errorf("pebbledb: read sequence: %w", err)
	}
	return s, nil
}

func encodeValue(rev uint64, data []byte) []byte {
	buf := make([]byte, revHeaderLen+len(data))
	binary.BigEndian.PutUint64(buf, rev)
	copy(buf[revHeaderLen:], data)
	return buf
}

func decodeValue(key string, val []byte) ledger.Document {
	doc := ledger.Document{Key: key}
	if len(val) >= revHeaderLen {
		doc.Rev = binary.BigEndian.Uint64(val)
		doc.Data = append([]byte(nil), val[revHeaderLen:]...)
	}
	return doc
}

// keyUpperBound returns the smallest key greater than every key with
// the given prefix.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff; no upper bound
}

func (s *Store) get(key string) (ledger.Document, bool) {
	val, closer, err := s.db.Get([]byte(key))
	if err != nil {
		return ledger.Document{}, false
	}
	doc := decodeValue(key, val)
	closer.Close()
	return doc, true
}

func (s *Store) scan(prefix string) []ledger.Document {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: keyUpperBound([]byte(prefix)),
	})
	if err != nil {
		return nil
	}
	defer iter.Close()

	var docs []ledger.Document
	for iter.First(); iter.Valid(); iter.Next() {
		docs = append(docs, decodeValue(string(iter.Key()), iter.Value()))
	}
	return docs
}

// Get returns the committed document at key.
func (s *Store) Get(_ context.Context, key string) (ledger.Document, error) {
	doc, ok := s.get(key)
	if !ok {
		return ledger.Document{}, ledger.ErrNotFound
	}
	return doc, nil
}

// Query returns all committed documents under prefix, ordered by key.
func (s *Store) Query(_ context.Context, prefix string) ([]ledger.Document, error) {
	return s.scan(prefix), nil
}

// Transact runs fn optimistically, then validates its read set under
// the commit mutex and applies all writes in one synced batch.
func (s *Store) Transact(ctx context.Context, fn func(tx *ledger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := ledger.NewTxn(storeView{s})
	if err := fn(tx); err != nil {
		return err
	}
	_, writes := tx.Staged()
	if len(writes) == 0 {
		return nil
	}

	s.mu.Lock()
	if !tx.ValidateReads(storeView{s}) {
		s.mu.Unlock()
		return ledger.ErrConflict
	}

	batch := s.db.NewBatch()
	changed := make([]string, 0, len(writes))
	for key, data := range writes {
		if data == nil {
			if err := batch.Delete([]byte(key), nil); err != nil {
				batch.Close()
				s.mu.Unlock()
				return err
			}
		} else {
			s.seq++
			if err := batch.Set([]byte(key), encodeValue(s.seq, data), nil); err != nil {
				batch.Close()
				s.mu.Unlock()
				return err
			}
		}
		changed = append(changed, key)
	}
	seqBuf := make([]byte, revHeaderLen)
	binary.BigEndian.PutUint64(seqBuf, s.seq)
	if err := batch.Set(seqKey, seqBuf, nil); err != nil {
		batch.Close()
		s.mu.Unlock()
		return err
	}
	if err := s.db.Apply(batch, pebble.Sync); err != nil {
		batch.Close()
		s.mu.Unlock()
		return fmt.Errorf("pebbledb: apply batch: %w", err)
	}
	batch.Close()
	s.mu.Unlock()

	s.hub.Broadcast(changed, s.scan)
	return nil
}

// storeView adapts the store to the transaction's read interface.
type storeView struct{ s *Store }

func (v storeView) Get(key string) (ledger.Document, bool) { return v.s.get(key) }
func (v storeView) Scan(prefix string) []ledger.Document   { return v.s.scan(prefix) }

// Subscribe registers a commit subscription for the prefix.
func (s *Store) Subscribe(prefix string) (<-chan []ledger.Document, func()) {
	return s.hub.Subscribe(prefix)
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }
