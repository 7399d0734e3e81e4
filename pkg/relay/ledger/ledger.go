// Package ledger tracks open positions keyed by parent order id.
package ledger

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/joripage/order-relay/pkg/relay/model"
)

// Ledger is safe for concurrent use. Put and Take are atomic per key, so a
// position is inserted at most once and removed at most once.
type Ledger struct {
	positions sync.Map
	count     atomic.Int64
}

func New() *Ledger {
	return &Ledger{}
}

func (l *Ledger) Put(pos *model.Position) error {
	if _, loaded := l.positions.LoadOrStore(pos.OrderID, pos); loaded {
		return model.ErrDuplicateKey
	}
	l.count.Add(1)
	return nil
}

// Take removes and returns the position for orderID.
func (l *Ledger) Take(orderID string) (*model.Position, bool) {
	v, ok := l.positions.LoadAndDelete(orderID)
	if !ok {
		return nil, false
	}
	l.count.Add(-1)
	return v.(*model.Position), true
}

func (l *Ledger) Get(orderID string) (*model.Position, bool) {
	v, ok := l.positions.Load(orderID)
	if !ok {
		return nil, false
	}
	return v.(*model.Position), true
}

func (l *Ledger) Count() int {
	return int(l.count.Load())
}

// Snapshot returns the open positions ordered by open time.
func (l *Ledger) Snapshot() []model.Position {
	var out []model.Position
	l.positions.Range(func(_, v any) bool {
		out = append(out, *v.(*model.Position))
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}
