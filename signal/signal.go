// Package signal implements the coordinator's asynchronous message
// primitive (spec §2, §5, §9): every externally visible operation is
// triggered by a delivered Signal, handlers run to completion without
// blocking, and long work is sliced into self-posted CONTINUEB
// continuations drained by the same single-threaded loop.
package signal

import "sync"

// Kind names a signal (spec §6 lists the inbound/outbound catalogue;
// this is intentionally an open string set rather than a closed enum so
// new signal kinds can be added per package without a central registry).
type Kind string

// Signal is the scheduling unit: a kind plus an opaque payload. The
// dispatch runtime never inspects Payload; each package type-asserts it
// to its own request struct in the registered handler.
type Signal struct {
	Kind    Kind
	From    uint32 // sending node id, 0 for self-posted CONTINUEB
	Payload interface{}
}

// Handler processes one delivered signal. It must not block.
type Handler func(Signal)

// Queue is the single-threaded cooperative scheduler's inbound FIFO.
// Network goroutines and self-posted continuations both push into it;
// exactly one goroutine (Run) drains it, so handlers never need to
// synchronize against each other.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []Signal
	handlers map[Kind]Handler
	closed   bool
}

func NewQueue() *Queue {
	q := &Queue{handlers: make(map[Kind]Handler)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Register binds a handler to a signal kind. Must be called before Run.
func (q *Queue) Register(kind Kind, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// Post enqueues a signal for later delivery; safe to call from any
// goroutine, including from inside a handler (that is exactly how
// CONTINUEB self-rescheduling works: a handler posts its own
// continuation and returns).
func (q *Queue) Post(s Signal) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, s)
	q.cond.Signal()
}

// ContinueB posts a self-message: the language-neutral
// sendSignal(..., CONTINUEB, ...) primitive (spec §9).
func (q *Queue) ContinueB(kind Kind, payload interface{}) {
	q.Post(Signal{Kind: kind, Payload: payload})
}

// Run drains the queue on the calling goroutine until Close is called.
// Each delivered signal runs its registered handler to completion before
// the next is dequeued — the single-threaded cooperative guarantee the
// rest of the coordinator relies on.
func (q *Queue) Run() {
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed && len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		s := q.items[0]
		q.items = q.items[1:]
		h := q.handlers[s.Kind]
		q.mu.Unlock()

		if h != nil {
			h(s)
		}
	}
}

func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len reports the number of signals currently queued (used by tests and
// by the monitor to detect a stuck dispatch loop).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
