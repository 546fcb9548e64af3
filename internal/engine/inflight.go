package engine

import "sync"

// inflightGuard tracks order IDs currently under evaluation in this
// process, so a price-triggered pass and a timer-triggered pass that
// overlap on the same order do not both issue a transaction. This is an
// optimization to reduce store contention; correctness comes from the
// transaction's status re-check, which makes the losing attempt a
// no-op anyway.
type inflightGuard struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newInflightGuard() *inflightGuard {
	return &inflightGuard{ids: make(map[string]struct{})}
}

// TryAcquire marks the order as in-flight. Returns false if another
// evaluation of the same order is already running.
func (g *inflightGuard) TryAcquire(orderID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.ids[orderID]; busy {
		return false
	}
	g.ids[orderID] = struct{}{}
	return true
}

// Release clears the in-flight mark.
func (g *inflightGuard) Release(orderID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.ids, orderID)
}

// Size returns the number of orders currently in flight.
func (g *inflightGuard) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ids)
}
