package connection

import (
	"sync"
	"sync/atomic"

	"github.com/c360/connkit/transport"
)

// pendingResult resolves one request: a response frame or an error, never
// both.
type pendingResult struct {
	frame *transport.Frame
	err   error
}

// pendingEntry is one outstanding request. sent flips when the frame goes
// out on a socket, so a connection loss fails exactly the requests that
// were on the wire and spares the ones still queued for the next socket.
type pendingEntry struct {
	ch   chan pendingResult
	sent bool
}

// pendingRequests correlates response frames to outstanding requests.
// Every race is decided by the map delete under the mutex: whoever removes
// an entry owns its single resolution. Result channels are buffered, so
// the resolving side never blocks even when the waiter already gave up.
type pendingRequests struct {
	nextID atomic.Uint64

	mu      sync.Mutex
	entries map[uint64]*pendingEntry
}

func newPendingRequests() *pendingRequests {
	return &pendingRequests{entries: make(map[uint64]*pendingEntry)}
}

// register allocates a correlation ID and the channel its result arrives on.
func (p *pendingRequests) register() (uint64, <-chan pendingResult) {
	id := p.nextID.Add(1)
	entry := &pendingEntry{ch: make(chan pendingResult, 1)}
	p.mu.Lock()
	p.entries[id] = entry
	p.mu.Unlock()
	return id, entry.ch
}

// markSent flags the request as on the wire. Called just before the write,
// so a loss racing the write cannot strand the entry.
func (p *pendingRequests) markSent(id uint64) {
	p.mu.Lock()
	if e, ok := p.entries[id]; ok {
		e.sent = true
	}
	p.mu.Unlock()
}

// resolve delivers a response frame to its waiter. Returns false when the
// ID is unknown: a late response after timeout, or one that was never ours.
func (p *pendingRequests) resolve(id uint64, f *transport.Frame) bool {
	p.mu.Lock()
	e, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	e.ch <- pendingResult{frame: f}
	return true
}

// fail resolves one request with an error.
func (p *pendingRequests) fail(id uint64, err error) bool {
	p.mu.Lock()
	e, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	e.ch <- pendingResult{err: err}
	return true
}

// remove withdraws an entry without resolving it. A true return means the
// caller owns the outcome; false means the result already won the race and
// sits in the channel buffer.
func (p *pendingRequests) remove(id uint64) bool {
	p.mu.Lock()
	_, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()
	return ok
}

// failAllSent fails every request that went out on the lost socket. Queued
// requests stay pending for the next connection. Returns how many failed.
func (p *pendingRequests) failAllSent(err error) int {
	p.mu.Lock()
	var failed []*pendingEntry
	for id, e := range p.entries {
		if e.sent {
			delete(p.entries, id)
			failed = append(failed, e)
		}
	}
	p.mu.Unlock()
	for _, e := range failed {
		e.ch <- pendingResult{err: err}
	}
	return len(failed)
}

// failAll fails everything, sent or queued. Used at terminal states.
func (p *pendingRequests) failAll(err error) int {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[uint64]*pendingEntry)
	p.mu.Unlock()
	for _, e := range entries {
		e.ch <- pendingResult{err: err}
	}
	return len(entries)
}

// waiting reports how many requests are outstanding.
func (p *pendingRequests) waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
