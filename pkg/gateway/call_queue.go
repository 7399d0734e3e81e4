package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"
	"github.com/joripage/order-relay/pkg/relay/model"
)

const (
	callPending int32 = iota
	callRunning
	callAbandoned
)

type call struct {
	ctx   context.Context
	fn    func(ctx context.Context) error
	done  chan error
	state atomic.Int32
}

// claim marks the call as running. It fails if the caller already gave up.
func (c *call) claim() bool {
	return c.state.CompareAndSwap(callPending, callRunning)
}

// abandon withdraws a call that has not started yet.
func (c *call) abandon() bool {
	return c.state.CompareAndSwap(callPending, callAbandoned)
}

// callQueue is a FIFO of gateway calls drained by exactly one worker.
type callQueue struct {
	mu     sync.Mutex
	calls  deque.Deque[*call]
	ready  chan struct{}
	closed bool
}

func newCallQueue() *callQueue {
	return &callQueue{ready: make(chan struct{}, 1)}
}

func (q *callQueue) push(c *call) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("%w: gateway session closed", model.ErrServiceUnavailable)
	}
	q.calls.PushBack(c)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

func (q *callQueue) pop() (*call, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.calls.Len() == 0 {
		return nil, false
	}
	return q.calls.PopFront(), true
}

func (q *callQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls.Len()
}

// close rejects new calls and returns whatever was still queued.
func (q *callQueue) close() []*call {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	pending := make([]*call, 0, q.calls.Len())
	for q.calls.Len() > 0 {
		pending = append(pending, q.calls.PopFront())
	}
	return pending
}

// run executes queued calls one at a time until stop is closed.
func (q *callQueue) run(stop <-chan struct{}) {
	for {
		for {
			c, ok := q.pop()
			if !ok {
				break
			}
			if !c.claim() {
				continue
			}
			if err := c.ctx.Err(); err != nil {
				c.done <- fmt.Errorf("%w: %v", model.ErrServiceUnavailable, err)
				continue
			}
			c.done <- c.fn(c.ctx)
		}

		select {
		case <-q.ready:
		case <-stop:
			for _, c := range q.close() {
				if c.claim() {
					c.done <- fmt.Errorf("%w: gateway session closed", model.ErrServiceUnavailable)
				}
			}
			return
		}
	}
}
