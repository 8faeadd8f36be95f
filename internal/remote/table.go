package remote

import (
	"encoding/json"
	"time"
)

// result is the settlement of a single invoke: response data or an error
type result struct {
	data json.RawMessage
	err  error
}

// pendingRequest tracks one in-flight invoke: the caller's result channel
// and the expiry timer that guarantees settlement even if the backend
// never responds.
type pendingRequest struct {
	ch    chan result
	timer *time.Timer
}

// table is the correlation table mapping request ids to pending-result
// handles. It is owned by the connection run loop and is therefore
// mutated from a single goroutine only.
type table struct {
	pending map[string]*pendingRequest
}

func newTable() *table {
	return &table{pending: make(map[string]*pendingRequest)}
}

// add registers a pending request under id. Ids come from uuid generation
// and are never reused while outstanding.
func (t *table) add(id string, ch chan result, timer *time.Timer) {
	t.pending[id] = &pendingRequest{ch: ch, timer: timer}
}

// settle delivers r to the pending request for id and deregisters it.
// Exactly one of response, error, or timeout settles a given request;
// whichever comes later finds the id gone and is a no-op. The expiry
// timer is cancelled on removal so it cannot fire against a reused id.
func (t *table) settle(id string, r result) bool {
	p, ok := t.pending[id]
	if !ok {
		return false
	}
	delete(t.pending, id)
	p.timer.Stop()
	p.ch <- r
	return true
}

// settleAll settles every pending request with r (used on shutdown)
func (t *table) settleAll(r result) {
	for id := range t.pending {
		t.settle(id, r)
	}
}

func (t *table) size() int {
	return len(t.pending)
}
