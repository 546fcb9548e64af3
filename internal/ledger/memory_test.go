package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

type record struct {
	Value int `json:"value"`
}

func put(t *testing.T, s Store, key string, v any) {
	t.Helper()
	err := s.Transact(context.Background(), func(tx *Txn) error {
		return tx.Put(key, v)
	})
	if err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
}

func TestMemoryGetPutDelete(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty store: got %v, want ErrNotFound", err)
	}

	put(t, s, "a", record{Value: 1})

	doc, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var r record
	if err := doc.Unmarshal(&r); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if r.Value != 1 {
		t.Errorf("value = %d, want 1", r.Value)
	}
	if doc.Rev == 0 {
		t.Error("committed document has rev 0")
	}

	err = s.Transact(ctx, func(tx *Txn) error {
		tx.Delete("a")
		return nil
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete: got %v, want ErrNotFound", err)
	}
}

func TestMemoryRevisionsAdvance(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	put(t, s, "a", record{Value: 1})
	first, _ := s.Get(ctx, "a")

	put(t, s, "a", record{Value: 2})
	second, _ := s.Get(ctx, "a")

	if second.Rev <= first.Rev {
		t.Errorf("rev did not advance: %d then %d", first.Rev, second.Rev)
	}
}

func TestMemoryQueryPrefix(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	put(t, s, "order/u1/b", record{Value: 2})
	put(t, s, "order/u1/a", record{Value: 1})
	put(t, s, "order/u2/c", record{Value: 3})
	put(t, s, "account/u1", record{Value: 9})

	docs, err := s.Query(ctx, "order/u1/")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	if docs[0].Key != "order/u1/a" || docs[1].Key != "order/u1/b" {
		t.Errorf("documents not ordered by key: %s, %s", docs[0].Key, docs[1].Key)
	}
}

func TestMemoryTransactConflictOnWrite(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	put(t, s, "a", record{Value: 1})

	// The transaction reads "a", then "a" changes before it can commit.
	interfered := false
	err := s.Transact(ctx, func(tx *Txn) error {
		var r record
		if err := tx.GetJSON("a", &r); err != nil {
			return err
		}
		if !interfered {
			interfered = true
			put(t, s, "a", record{Value: 99})
		}
		return tx.Put("a", record{Value: r.Value + 1})
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}

	// The losing transaction must not have committed anything.
	doc, _ := s.Get(ctx, "a")
	var r record
	_ = doc.Unmarshal(&r)
	if r.Value != 99 {
		t.Errorf("value = %d, want 99 (loser must not commit)", r.Value)
	}
}

func TestMemoryTransactConflictOnObservedAbsence(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	// The transaction observes "a" absent; "a" is then created before
	// commit. The observed absence is part of the read set.
	interfered := false
	err := s.Transact(ctx, func(tx *Txn) error {
		if _, err := tx.Get("a"); !errors.Is(err, ErrNotFound) {
			return err
		}
		if !interfered {
			interfered = true
			put(t, s, "a", record{Value: 1})
		}
		return tx.Put("a", record{Value: 2})
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
}

func TestMemoryTransactFnErrorAborts(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Transact(ctx, func(tx *Txn) error {
		if err := tx.Put("a", record{Value: 1}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatal("aborted transaction committed a write")
	}
}

func TestMemoryTxnReadsOwnWrites(t *testing.T) {
	s := NewMemory()

	err := s.Transact(context.Background(), func(tx *Txn) error {
		if err := tx.Put("a", record{Value: 7}); err != nil {
			return err
		}
		var r record
		if err := tx.GetJSON("a", &r); err != nil {
			return err
		}
		if r.Value != 7 {
			t.Errorf("read own write: value = %d, want 7", r.Value)
		}
		tx.Delete("a")
		if _, err := tx.Get("a"); !errors.Is(err, ErrNotFound) {
			t.Errorf("read own delete: got %v, want ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
}

func TestMemorySubscribe(t *testing.T) {
	s := NewMemory()

	ch, cancel := s.Subscribe("order/u1/")
	defer cancel()

	put(t, s, "order/u1/a", record{Value: 1})

	select {
	case docs := <-ch:
		if len(docs) != 1 || docs[0].Key != "order/u1/a" {
			t.Fatalf("unexpected snapshot: %+v", docs)
		}
	case <-time.After(time.Second):
		t.Fatal("no notification for matching commit")
	}

	// A commit outside the prefix must not notify.
	put(t, s, "account/u1", record{Value: 2})
	select {
	case docs := <-ch:
		t.Fatalf("unexpected notification for non-matching commit: %+v", docs)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemorySubscribeCancelCloses(t *testing.T) {
	s := NewMemory()

	ch, cancel := s.Subscribe("order/")
	cancel()

	select {
	case _, open := <-ch:
		if open {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}

	// Commits after cancel must not panic.
	put(t, s, "order/a", record{Value: 1})
}

func TestWithRetryRetriesConflicts(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	put(t, s, "a", record{Value: 0})

	// First two attempts race against an external writer; the third wins.
	attempt := 0
	err := WithRetry(ctx, s, 3, func(tx *Txn) error {
		var r record
		if err := tx.GetJSON("a", &r); err != nil {
			return err
		}
		attempt++
		if attempt <= 2 {
			put(t, s, "a", record{Value: 100 + attempt})
		}
		return tx.Put("a", record{Value: r.Value + 1})
	})
	if err != nil {
		t.Fatalf("WithRetry: %v", err)
	}
	if attempt != 3 {
		t.Errorf("attempts = %d, want 3", attempt)
	}
}

func TestWithRetryGivesUp(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	put(t, s, "a", record{Value: 0})

	err := WithRetry(ctx, s, 2, func(tx *Txn) error {
		var r record
		if err := tx.GetJSON("a", &r); err != nil {
			return err
		}
		put(t, s, "a", record{Value: r.Value + 10})
		return tx.Put("a", record{Value: r.Value + 1})
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("got %v, want ErrConflict after exhausting attempts", err)
	}
}

func TestWithRetryDoesNotRetryOtherErrors(t *testing.T) {
	s := NewMemory()
	calls := 0
	boom := errors.New("boom")

	err := WithRetry(context.Background(), s, 5, func(tx *Txn) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
