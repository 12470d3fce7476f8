package signal

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// eventQueue is the FIFO between the read loop and dispatch. push never
// blocks, so responses keep resolving while an event handler is stuck.
// A backlog above warnAt is logged once until it drains to half of it.
type eventQueue struct {
	mu     sync.Mutex
	items  []inbound
	closed bool
	ready  chan struct{}
	warnAt int
	warned bool
}

func newEventQueue(warnAt int) *eventQueue {
	return &eventQueue{ready: make(chan struct{}, 1), warnAt: warnAt}
}

func (q *eventQueue) push(ev inbound) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	n := len(q.items)
	warn := n > q.warnAt && !q.warned
	if warn {
		q.warned = true
	}
	q.mu.Unlock()

	if warn {
		log.Warn().Str("module", "signal").Int("backlog", n).Msg("event handlers falling behind")
	}
	q.wake()
}

// close ends the queue once the items already pushed are drained.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop blocks until an item is available. It reports false after close once
// the queue is empty.
func (q *eventQueue) pop() (inbound, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = inbound{}
			q.items = q.items[1:]
			if len(q.items) <= q.warnAt/2 {
				q.warned = false
			}
			q.mu.Unlock()
			return ev, true
		}
		if q.closed {
			q.mu.Unlock()
			return inbound{}, false
		}
		q.mu.Unlock()
		<-q.ready
	}
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
