package signal

import (
	"sync"

	"github.com/dkeye/voice-client/internal/domain"
	"github.com/dkeye/voice-client/internal/metrics"
)

// result is the tagged completion of a request: a response or an error.
type result struct {
	msg *Message
	err error
}

type pendingEntry struct {
	gen  uint64
	done chan result
}

// pendingTable correlates request ids with their waiters.
// Ids are uint32, never 0, and never reuse an id still in flight.
type pendingTable struct {
	mu      sync.Mutex
	next    uint32
	entries map[uint32]pendingEntry
	// closedThrough is the newest connection generation that failed. Generations
	// only grow and an older connection is superseded before a newer one opens,
	// so every generation up to it is dead.
	closedThrough uint64
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[uint32]pendingEntry)}
}

// issue allocates the next free id for a request sent on connection gen.
func (p *pendingTable) issue(gen uint64) (uint32, <-chan result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen <= p.closedThrough {
		return 0, nil, domain.ErrNotConnected
	}
	for {
		p.next++
		if p.next == 0 {
			continue
		}
		if _, busy := p.entries[p.next]; !busy {
			break
		}
	}
	done := make(chan result, 1)
	p.entries[p.next] = pendingEntry{gen: gen, done: done}
	metrics.PendingRequests.Set(float64(len(p.entries)))
	return p.next, done, nil
}

// resolve completes the request waiting on id. It reports false when no
// request owns id, so the frame is an unsolicited event.
func (p *pendingTable) resolve(id uint32, msg *Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		return false
	}
	delete(p.entries, id)
	p.next++
	metrics.PendingRequests.Set(float64(len(p.entries)))
	e.done <- result{msg: msg}
	return true
}

func (p *pendingTable) cancel(id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, id)
	metrics.PendingRequests.Set(float64(len(p.entries)))
}

// failAll rejects every request sent on connection gen and refuses new ones for it.
func (p *pendingTable) failAll(gen uint64, err error) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen > p.closedThrough {
		p.closedThrough = gen
	}
	n := 0
	for id, e := range p.entries {
		if e.gen != gen {
			continue
		}
		delete(p.entries, id)
		e.done <- result{err: err}
		n++
	}
	metrics.PendingRequests.Set(float64(len(p.entries)))
	return n
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
