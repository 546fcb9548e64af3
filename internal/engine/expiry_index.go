package engine

import (
	"time"

	"github.com/google/btree"
)

// expiryEntry orders tracked orders by expiration time, then order ID
// for a total order.
type expiryEntry struct {
	at      time.Time
	orderID string
}

func expiryLess(a, b expiryEntry) bool {
	if !a.at.Equal(b.at) {
		return a.at.Before(b.at)
	}
	return a.orderID < b.orderID
}

// expiryIndex is a btree of pending orders keyed by expires_at, so the
// periodic sweep visits only orders that are actually due. Not
// goroutine-safe; the evaluator's mutex guards it.
type expiryIndex struct {
	tree *btree.BTreeG[expiryEntry]
}

func newExpiryIndex() *expiryIndex {
	const degree = 32
	return &expiryIndex{tree: btree.NewG[expiryEntry](degree, expiryLess)}
}

func (x *expiryIndex) add(at time.Time, orderID string) {
	x.tree.ReplaceOrInsert(expiryEntry{at: at, orderID: orderID})
}

func (x *expiryIndex) remove(at time.Time, orderID string) {
	x.tree.Delete(expiryEntry{at: at, orderID: orderID})
}

// due returns the IDs of all orders with expires_at <= now.
func (x *expiryIndex) due(now time.Time) []string {
	pivot := expiryEntry{at: now.Add(time.Nanosecond)}
	var ids []string
	x.tree.AscendLessThan(pivot, func(e expiryEntry) bool {
		ids = append(ids, e.orderID)
		return true
	})
	return ids
}

func (x *expiryIndex) len() int {
	return x.tree.Len()
}
