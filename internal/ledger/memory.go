package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is the in-memory Store implementation. It backs tests and
// single-process runs, and is the reference for the transactional
// contract: revisions come from a store-wide commit counter, so a
// deleted-and-recreated document never reuses a revision.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]Document
	seq  uint64
	hub  Hub
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]Document)}
}

func (s *Memory) get(key string) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[key]
	return doc, ok
}

func (s *Memory) scan(prefix string) []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanLocked(prefix)
}

// memView adapts the store to the transaction read interface.
type memView struct{ s *Memory }

func (v memView) Get(key string) (Document, bool) { return v.s.get(key) }
func (v memView) Scan(prefix string) []Document   { return v.s.scan(prefix) }

func (s *Memory) scanLocked(prefix string) []Document {
	var docs []Document
	for key, doc := range s.docs {
		if strings.HasPrefix(key, prefix) {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Key < docs[j].Key })
	return docs
}

// Get returns the committed document at key.
func (s *Memory) Get(_ context.Context, key string) (Document, error) {
	doc, ok := s.get(key)
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

// Query returns all committed documents under prefix, ordered by key.
func (s *Memory) Query(_ context.Context, prefix string) ([]Document, error) {
	return s.scan(prefix), nil
}

// Transact runs fn optimistically and commits its writes if no document
// in the read set changed since it was read.
func (s *Memory) Transact(ctx context.Context, fn func(tx *Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := NewTxn(memView{s})
	if err := fn(tx); err != nil {
		return err
	}
	_, writes := tx.Staged()
	if len(writes) == 0 {
		return nil
	}

	s.mu.Lock()
	if !tx.ValidateReads(lockedView{s}) {
		s.mu.Unlock()
		return ErrConflict
	}
	changed := make([]string, 0, len(writes))
	for key, data := range writes {
		if data == nil {
			delete(s.docs, key)
		} else {
			s.seq++
			s.docs[key] = Document{Key: key, Rev: s.seq, Data: data}
		}
		changed = append(changed, key)
	}
	s.mu.Unlock()

	s.hub.Broadcast(changed, s.scan)
	return nil
}

// lockedView reads committed state while the commit lock is already
// held, avoiding recursive locking during read-set validation.
type lockedView struct{ s *Memory }

func (v lockedView) Get(key string) (Document, bool) {
	doc, ok := v.s.docs[key]
	return doc, ok
}

func (v lockedView) Scan(prefix string) []Document {
	return v.s.scanLocked(prefix)
}

// Subscribe registers a commit subscription for the prefix.
func (s *Memory) Subscribe(prefix string) (<-chan []Document, func()) {
	return s.hub.Subscribe(prefix)
}

// Close is a no-op for the in-memory store.
func (s *Memory) Close() error { return nil }
