package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joripage/order-relay/pkg/relay/model"
	"github.com/shopspring/decimal"
)

type fakeConn struct {
	id         int
	events     chan model.OrderEvent
	closeOnce  sync.Once
	price      decimal.Decimal
	placeDelay time.Duration

	seq         atomic.Int64
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeConn(id int) *fakeConn {
	return &fakeConn{id: id, events: make(chan model.OrderEvent, 16)}
}

func (c *fakeConn) enter() {
	n := c.inFlight.Add(1)
	for {
		m := c.maxInFlight.Load()
		if n <= m || c.maxInFlight.CompareAndSwap(m, n) {
			return
		}
	}
}

func (c *fakeConn) exit() { c.inFlight.Add(-1) }

func (c *fakeConn) ClientID() int                   { return c.id }
func (c *fakeConn) Events() <-chan model.OrderEvent { return c.events }

func (c *fakeConn) Qualify(ctx context.Context, inst model.Instrument) (model.Instrument, error) {
	inst.SecurityID = "CON-" + inst.Symbol
	return inst, nil
}

func (c *fakeConn) PlaceOrder(ctx context.Context, inst model.Instrument, spec model.OrderSpec) (model.SubmittedOrder, error) {
	c.enter()
	defer c.exit()
	if c.placeDelay > 0 {
		select {
		case <-time.After(c.placeDelay):
		case <-ctx.Done():
			return model.SubmittedOrder{}, ctx.Err()
		}
	}
	id := fmt.Sprintf("ord-%d", c.seq.Add(1))
	return model.SubmittedOrder{OrderID: id, ClientOrderID: id, Instrument: inst, Side: spec.Side, Type: spec.Type, Quantity: spec.Quantity}, nil
}

func (c *fakeConn) CancelOrder(ctx context.Context, order model.SubmittedOrder) error {
	c.enter()
	defer c.exit()
	return nil
}

func (c *fakeConn) MarketPrice(ctx context.Context, inst model.Instrument) (decimal.Decimal, error) {
	return c.price, nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.events) })
	return nil
}

type fakeDriver struct {
	mu        sync.Mutex
	failures  int
	dialDelay time.Duration
	dials     []int
	conns     []*fakeConn
	configure func(*fakeConn)
}

func (d *fakeDriver) Dial(ctx context.Context, clientID int) (Conn, error) {
	if d.dialDelay > 0 {
		time.Sleep(d.dialDelay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, clientID)
	if len(d.dials) <= d.failures {
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn(clientID)
	if d.configure != nil {
		d.configure(conn)
	}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDriver) dialed() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.dials...)
}

func (d *fakeDriver) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func testConfig() Config {
	return Config{
		BaseClientID: 100,
		MaxAttempts:  3,
		BaseDelay:    time.Millisecond,
		CallTimeout:  time.Second,
	}
}

func newTestSession(t *testing.T, d *fakeDriver) *Session {
	t.Helper()
	s := NewSession(d, testConfig(), nil)
	t.Cleanup(func() { s.Close() })
	return s
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestEnsureConnectedRetryExhausted(t *testing.T) {
	d := &fakeDriver{failures: 100}
	s := newTestSession(t, d)

	if s.EnsureConnected(context.Background()) {
		t.Fatal("expected connect to fail")
	}
	if got := d.dialed(); !equalInts(got, []int{100, 101, 102}) {
		t.Fatalf("dialed %v, want one distinct client id per attempt", got)
	}
	if s.State() != StateDisconnected {
		t.Fatalf("state = %s", s.State())
	}
}

func TestEnsureConnectedAfterFailures(t *testing.T) {
	d := &fakeDriver{failures: 2}
	s := newTestSession(t, d)

	if !s.EnsureConnected(context.Background()) {
		t.Fatal("expected connect to succeed on third attempt")
	}
	if s.ClientID() != 102 {
		t.Fatalf("client id = %d", s.ClientID())
	}
	if !s.Connected() {
		t.Fatal("expected connected")
	}
}

func TestEnsureConnectedSingleFlight(t *testing.T) {
	d := &fakeDriver{dialDelay: 20 * time.Millisecond}
	s := newTestSession(t, d)

	var wg sync.WaitGroup
	var failed atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !s.EnsureConnected(context.Background()) {
				failed.Add(1)
			}
		}()
	}
	wg.Wait()

	if failed.Load() != 0 {
		t.Fatalf("%d callers failed to connect", failed.Load())
	}
	if n := len(d.dialed()); n != 1 {
		t.Fatalf("dialed %d times, want 1", n)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	d := &fakeDriver{}
	s := newTestSession(t, d)
	ctx := context.Background()

	if !s.EnsureConnected(ctx) {
		t.Fatal("connect failed")
	}
	d.conn(0).Close()

	deadline := time.Now().Add(time.Second)
	for s.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("session still connected after gateway dropped")
		}
		time.Sleep(time.Millisecond)
	}

	if !s.EnsureConnected(ctx) {
		t.Fatal("reconnect failed")
	}
	if got := d.dialed(); !equalInts(got, []int{100, 101}) {
		t.Fatalf("dialed %v", got)
	}
}

func TestOnConnectHook(t *testing.T) {
	d := &fakeDriver{}
	s := newTestSession(t, d)

	var got atomic.Int64
	s.OnConnect(func(ctx context.Context, clientID int) { got.Store(int64(clientID)) })
	if !s.EnsureConnected(context.Background()) {
		t.Fatal("connect failed")
	}
	if got.Load() != 100 {
		t.Fatalf("hook saw client id %d", got.Load())
	}
}

func TestGatewayCallsAreSerialized(t *testing.T) {
	d := &fakeDriver{configure: func(c *fakeConn) { c.placeDelay = 5 * time.Millisecond }}
	s := newTestSession(t, d)
	ctx := context.Background()
	if !s.EnsureConnected(ctx) {
		t.Fatal("connect failed")
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Submit(ctx, model.NewStock("AAPL"), model.MarketOrder(model.OrderSideBuy, 1))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if m := d.conn(0).maxInFlight.Load(); m != 1 {
		t.Fatalf("max concurrent gateway calls = %d, want 1", m)
	}
}

func TestSubmitWithoutConnection(t *testing.T) {
	s := newTestSession(t, &fakeDriver{})

	_, err := s.Submit(context.Background(), model.NewStock("AAPL"), model.MarketOrder(model.OrderSideBuy, 1))
	if !errors.Is(err, model.ErrServiceUnavailable) {
		t.Fatalf("err = %v, want ErrServiceUnavailable", err)
	}
}

func TestWaitFill(t *testing.T) {
	d := &fakeDriver{}
	s := newTestSession(t, d)
	ctx := context.Background()
	if !s.EnsureConnected(ctx) {
		t.Fatal("connect failed")
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		d.conn(0).events <- model.OrderEvent{OrderID: "o1", Status: model.OrderStatusNew}
		d.conn(0).events <- model.OrderEvent{OrderID: "o1", Status: model.OrderStatusFilled, FilledQty: 5, AvgFillPrice: decimal.RequireFromString("101.5")}
	}()

	price, ok := s.WaitFill(ctx, "o1", time.Second)
	if !ok {
		t.Fatal("expected fill")
	}
	if !price.Equal(decimal.RequireFromString("101.5")) {
		t.Fatalf("price = %s", price)
	}
	if st, _ := s.OrderStatus("o1"); st != model.OrderStatusFilled {
		t.Fatalf("status = %s", st)
	}

	if _, ok := s.WaitFill(ctx, "never", 20*time.Millisecond); ok {
		t.Fatal("expected timeout")
	}
}

func TestResolvePrice(t *testing.T) {
	d := &fakeDriver{configure: func(c *fakeConn) { c.price = decimal.RequireFromString("42.10") }}
	s := newTestSession(t, d)
	ctx := context.Background()
	if !s.EnsureConnected(ctx) {
		t.Fatal("connect failed")
	}

	price, err := s.ResolvePrice(ctx, model.NewStock("XYZ"), time.Second)
	if err != nil {
		t.Fatalf("resolve price: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("42.1")) {
		t.Fatalf("price = %s", price)
	}
}

func TestResolvePriceUnavailable(t *testing.T) {
	d := &fakeDriver{}
	s := newTestSession(t, d)
	ctx := context.Background()
	if !s.EnsureConnected(ctx) {
		t.Fatal("connect failed")
	}

	if _, err := s.ResolvePrice(ctx, model.NewStock("XYZ"), time.Second); !errors.Is(err, model.ErrPriceUnavailable) {
		t.Fatalf("err = %v, want ErrPriceUnavailable", err)
	}
}

func TestCloseRejectsCalls(t *testing.T) {
	d := &fakeDriver{}
	s := NewSession(d, testConfig(), nil)
	if !s.EnsureConnected(context.Background()) {
		t.Fatal("connect failed")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := s.Qualify(context.Background(), model.NewStock("AAPL")); !errors.Is(err, model.ErrServiceUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if s.EnsureConnected(context.Background()) {
		t.Fatal("closed session reconnected")
	}
}
