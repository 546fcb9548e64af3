// Package ledger defines the transactional document store the trading
// engine runs against: keyed JSON documents, prefix queries, atomic
// read-then-conditional-write transactions, and commit subscriptions.
//
// Transactions are optimistic. Reads record the revision of every
// document they observe (including observed absence); commit validates
// all recorded revisions and fails with ErrConflict if any document
// changed underneath the transaction. The conflict is the store's only
// cross-process mutual-exclusion signal: for lifecycle transitions it
// means another evaluator already settled the order.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("ledger: document not found")
	// ErrConflict is returned when a transaction's read set changed
	// before its writes could commit.
	ErrConflict = errors.New("ledger: transaction conflict")
)

// Document is a committed snapshot of a single record.
type Document struct {
	Key  string
	Rev  uint64
	Data []byte
}

// Unmarshal decodes the document's JSON payload into v.
func (d Document) Unmarshal(v any) error {
	return json.Unmarshal(d.Data, v)
}

// Store is the document store contract. Both the in-memory store and
// the pebble-backed store implement it; the engine is written against
// this interface only.
type Store interface {
	// Get returns the committed document at key, or ErrNotFound.
	Get(ctx context.Context, key string) (Document, error)
	// Query returns all committed documents whose key starts with
	// prefix, ordered by key.
	Query(ctx context.Context, prefix string) ([]Document, error)
	// Transact runs fn against a transaction and atomically commits
	// its writes, or returns ErrConflict without committing anything.
	// An error returned by fn aborts the transaction unchanged.
	Transact(ctx context.Context, fn func(tx *Txn) error) error
	// Subscribe returns a channel that receives the full matching
	// document set after every commit touching the prefix. Slow
	// consumers observe the latest state, not every intermediate one.
	Subscribe(prefix string) (<-chan []Document, func())
	Close() error
}

// View is the committed state a transaction reads through. Store
// implementations provide one to NewTxn.
type View interface {
	Get(key string) (Document, bool)
	Scan(prefix string) []Document
}

// pendingWrite is a buffered mutation; nil data means delete.
type pendingWrite struct {
	data []byte
}

// Txn buffers a transaction's reads and writes. Reads see the
// transaction's own pending writes; revision tracking always refers to
// the committed state observed first.
type Txn struct {
	v      View
	reads  map[string]uint64 // key → committed rev observed (0 = absent)
	writes map[string]pendingWrite
}

// NewTxn creates a transaction reading through v. Only store
// implementations call this.
func NewTxn(v View) *Txn {
	return &Txn{
		v:      v,
		reads:  make(map[string]uint64),
		writes: make(map[string]pendingWrite),
	}
}

// Get reads a document within the transaction.
func (t *Txn) Get(key string) (Document, error) {
	if w, ok := t.writes[key]; ok {
		if w.data == nil {
			return Document{}, ErrNotFound
		}
		return Document{Key: key, Data: w.data}, nil
	}
	doc, ok := t.v.Get(key)
	if _, seen := t.reads[key]; !seen {
		if ok {
			t.reads[key] = doc.Rev
		} else {
			t.reads[key] = 0
		}
	}
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

// GetJSON reads a document and decodes it into v.
func (t *Txn) GetJSON(key string, v any) error {
	doc, err := t.Get(key)
	if err != nil {
		return err
	}
	return doc.Unmarshal(v)
}

// Query returns committed documents under prefix, recording each one in
// the read set. Pending writes of this transaction are not merged in.
func (t *Txn) Query(prefix string) []Document {
	docs := t.v.Scan(prefix)
	for _, doc := range docs {
		if _, seen := t.reads[doc.Key]; !seen {
			t.reads[doc.Key] = doc.Rev
		}
	}
	return docs
}

// Put stages a JSON write of v at key.
func (t *Txn) Put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.writes[key] = pendingWrite{data: data}
	return nil
}

// Delete stages a deletion of key.
func (t *Txn) Delete(key string) {
	t.writes[key] = pendingWrite{}
}

// Staged exposes the transaction's read revisions and buffered writes
// (nil data means delete) to store implementations at commit time.
func (t *Txn) Staged() (reads map[string]uint64, writes map[string][]byte) {
	writes = make(map[string][]byte, len(t.writes))
	for key, w := range t.writes {
		writes[key] = w.data
	}
	return t.reads, writes
}

// ValidateReads checks the recorded read revisions against the current
// committed state. Store implementations call this under their commit
// lock.
func (t *Txn) ValidateReads(v View) bool {
	for key, rev := range t.reads {
		cur, ok := v.Get(key)
		if !ok {
			if rev != 0 {
				return false
			}
			continue
		}
		if cur.Rev != rev {
			return false
		}
	}
	return true
}

// hasPrefix reports whether any of the keys starts with prefix.
func hasPrefix(keys []string, prefix string) bool {
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}
