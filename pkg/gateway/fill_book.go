package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/joripage/order-relay/pkg/relay/model"
	"github.com/shopspring/decimal"
)

type orderTrack struct {
	events  []model.OrderEvent
	status  model.OrderStatus
	avgFill decimal.Decimal
	updated time.Time
	waiters []chan struct{}
}

// fillBook keeps the events pushed by the gateway per order id so callers can
// wait for an average fill price. Events may arrive before anyone waits.
type fillBook struct {
	mu     sync.RWMutex
	orders map[string]*orderTrack
	now    func() time.Time
}

func newFillBook() *fillBook {
	return &fillBook{
		orders: make(map[string]*orderTrack),
		now:    time.Now,
	}
}

func (b *fillBook) track(orderID string) *orderTrack {
	tr, ok := b.orders[orderID]
	if !ok {
		tr = &orderTrack{}
		b.orders[orderID] = tr
	}
	tr.updated = b.now()
	return tr
}

func (b *fillBook) apply(ev model.OrderEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tr := b.track(ev.OrderID)
	tr.events = append(tr.events, ev)
	if ev.Status != "" {
		tr.status = ev.Status
	}
	if ev.AvgFillPrice.IsPositive() {
		tr.avgFill = ev.AvgFillPrice
	}
	for _, w := range tr.waiters {
		close(w)
	}
	tr.waiters = nil
}

func (b *fillBook) avgFill(orderID string) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if tr, ok := b.orders[orderID]; ok && tr.avgFill.IsPositive() {
		return tr.avgFill, true
	}
	return decimal.Zero, false
}

func (b *fillBook) status(orderID string) (model.OrderStatus, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tr, ok := b.orders[orderID]
	if !ok || tr.status == "" {
		return "", false
	}
	return tr.status, true
}

func (b *fillBook) events(orderID string) []model.OrderEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tr, ok := b.orders[orderID]
	if !ok {
		return nil
	}
	return append([]model.OrderEvent(nil), tr.events...)
}

// wait blocks until orderID has a positive average fill price, timeout
// elapses or ctx is done.
func (b *fillBook) wait(ctx context.Context, orderID string, timeout time.Duration) (decimal.Decimal, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		b.mu.Lock()
		tr := b.track(orderID)
		if tr.avgFill.IsPositive() {
			price := tr.avgFill
			b.mu.Unlock()
			return price, true
		}
		if tr.status.IsEnd() {
			b.mu.Unlock()
			return decimal.Zero, false
		}
		ch := make(chan struct{})
		tr.waiters = append(tr.waiters, ch)
		b.mu.Unlock()

		select {
		case <-ch:
		case <-timer.C:
			b.dropWaiter(orderID, ch)
			return decimal.Zero, false
		case <-ctx.Done():
			b.dropWaiter(orderID, ch)
			return decimal.Zero, false
		}
	}
}

func (b *fillBook) dropWaiter(orderID string, ch chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tr, ok := b.orders[orderID]
	if !ok {
		return
	}
	for i, w := range tr.waiters {
		if w == ch {
			tr.waiters = append(tr.waiters[:i], tr.waiters[i+1:]...)
			return
		}
	}
}

// prune drops entries that have not changed since cutoff and nobody waits on.
func (b *fillBook) prune(cutoff time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for id, tr := range b.orders {
		if len(tr.waiters) == 0 && tr.updated.Before(cutoff) {
			delete(b.orders, id)
			removed++
		}
	}
	return removed
}

func (b *fillBook) size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.orders)
}
