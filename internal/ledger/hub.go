package ledger

import "sync"

// Hub fans committed changes out to prefix subscribers. Both store
// implementations embed one; Broadcast is called after the commit lock
// is released so a slow subscriber never blocks a commit.
type Hub struct {
	mu   sync.Mutex
	subs map[int]*hubSub
	next int
}

type hubSub struct {
	prefix string
	ch     chan []Document
}

// Subscribe registers a prefix subscription. The returned cancel func
// unregisters it and closes the channel.
func (h *Hub) Subscribe(prefix string) (<-chan []Document, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs == nil {
		h.subs = make(map[int]*hubSub)
	}
	id := h.next
	h.next++
	sub := &hubSub{prefix: prefix, ch: make(chan []Document, 1)}
	h.subs[id] = sub

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if s, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// Broadcast notifies every subscriber whose prefix matches one of the
// changed keys, sending the full current document set for that prefix
// (query is evaluated per subscriber against committed state). Sends are
// latest-wins: a full channel is drained before the new state goes in,
// so consumers skip intermediate states instead of blocking commits.
// Holding the hub lock across the (non-blocking) sends keeps Broadcast
// from racing a cancel's channel close.
func (h *Hub) Broadcast(changed []string, query func(prefix string) []Document) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range h.subs {
		if !hasPrefix(changed, s.prefix) {
			continue
		}
		docs := query(s.prefix)
		select {
		case s.ch <- docs:
		default:
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- docs:
			default:
			}
		}
	}
}
