package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/joripage/order-relay/pkg/logging"
	"github.com/joripage/order-relay/pkg/relay/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const cleanInterval = time.Minute

// Session owns the single connection to the brokerage gateway. Connects are
// lazy and mutually exclusive, and every gateway call runs on one worker
// goroutine in arrival order.
type Session struct {
	cfg    Config
	driver Driver
	log    *logging.Logger

	connectMu sync.Mutex
	dials     int // guarded by connectMu
	mu        sync.RWMutex
	conn      Conn
	state     atomic.Int32

	queue *callQueue
	fills *fillBook

	hookMu    sync.RWMutex
	onConnect func(ctx context.Context, clientID int)

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSession(driver Driver, cfg Config, log *logging.Logger) *Session {
	if log == nil {
		log = logging.Nop()
	}
	s := &Session{
		cfg:    cfg.withDefaults(),
		driver: driver,
		log:    log,
		queue:  newCallQueue(),
		fills:  newFillBook(),
		stopCh: make(chan struct{}),
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.queue.run(s.stopCh)
	}()
	go func() {
		defer s.wg.Done()
		s.startCleaner(cleanInterval)
	}()
	return s
}

// OnConnect registers a hook invoked after every successful (re)connect.
func (s *Session) OnConnect(fn func(ctx context.Context, clientID int)) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onConnect = fn
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Connected reports the last known connection state without blocking.
func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

// ClientID returns the client id of the live connection, or 0.
func (s *Session) ClientID() int {
	if conn := s.current(); conn != nil {
		return conn.ClientID()
	}
	return 0
}

func (s *Session) current() Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// EnsureConnected returns true once a live connection exists, dialing with
// exponential backoff when needed. It returns false when the retry budget is
// exhausted or ctx is done first.
func (s *Session) EnsureConnected(ctx context.Context) bool {
	if s.Connected() {
		return true
	}

	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	// another caller may have connected while we waited
	if s.Connected() {
		return true
	}
	select {
	case <-s.stopCh:
		return false
	default:
	}

	s.state.Store(int32(StateConnecting))
	conn, err := s.connect(ctx)
	if err != nil {
		s.state.Store(int32(StateDisconnected))
		s.log.Error(ctx, "gateway connection failed",
			zap.Int("attempts", s.cfg.MaxAttempts),
			zap.Error(err))
		return false
	}

	s.attach(ctx, conn)
	return true
}

func (s *Session) connect(ctx context.Context) (Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = s.cfg.BaseDelay << uint(s.cfg.MaxAttempts)
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.cfg.MaxAttempts-1)), ctx)

	var (
		conn    Conn
		attempt int
	)
	op := func() error {
		// never reuse a client id, a stale session may still hold it
		clientID := s.cfg.BaseClientID + s.dials
		s.dials++
		attempt++

		dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
		defer cancel()
		c, err := s.driver.Dial(dialCtx, clientID)
		if err != nil {
			return fmt.Errorf("dial with client id %d: %w", clientID, err)
		}
		conn = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		s.log.Warn(ctx, "gateway connect attempt failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", next),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrServiceUnavailable, err)
	}
	return conn, nil
}

func (s *Session) attach(ctx context.Context, conn Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.state.Store(int32(StateConnected))

	s.log.Info(ctx, "gateway connected", zap.Int("client_id", conn.ClientID()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.consume(conn)
	}()

	s.hookMu.RLock()
	hook := s.onConnect
	s.hookMu.RUnlock()
	if hook != nil {
		hook(ctx, conn.ClientID())
	}
}

// consume applies gateway events until the connection drops.
func (s *Session) consume(conn Conn) {
	for ev := range conn.Events() {
		s.fills.apply(ev)
		s.log.Debug(context.Background(), "order event",
			zap.String("order_id", ev.OrderID),
			zap.String("status", string(ev.Status)),
			zap.String("avg_fill_price", ev.AvgFillPrice.String()))
	}
	s.detach(conn)
}

func (s *Session) detach(conn Conn) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.state.Store(int32(StateDisconnected))
	s.mu.Unlock()

	if err := conn.Close(); err != nil {
		s.log.Debug(context.Background(), "close dropped gateway connection", zap.Error(err))
	}
	s.log.Warn(context.Background(), "gateway session dropped", zap.Int("client_id", conn.ClientID()))
}

// do runs fn on the session worker bounded by timeout. Once fn has started
// the caller waits for its result; fn must honor ctx.
func (s *Session) do(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, conn Conn) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := &call{
		ctx:  ctx,
		done: make(chan error, 1),
		fn: func(ctx context.Context) error {
			conn := s.current()
			if conn == nil {
				return fmt.Errorf("%w: gateway not connected", model.ErrServiceUnavailable)
			}
			return fn(ctx, conn)
		},
	}
	if err := s.queue.push(c); err != nil {
		return err
	}

	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		if c.abandon() {
			return fmt.Errorf("%w: gateway call timed out: %v", model.ErrServiceUnavailable, ctx.Err())
		}
		return <-c.done
	}
}

// Qualify resolves the instrument against the gateway.
func (s *Session) Qualify(ctx context.Context, inst model.Instrument) (model.Instrument, error) {
	var qualified model.Instrument
	err := s.do(ctx, s.cfg.CallTimeout, func(ctx context.Context, conn Conn) error {
		var err error
		qualified, err = conn.Qualify(ctx, inst)
		return err
	})
	return qualified, err
}

// Submit places one order and returns once the gateway acknowledged it.
func (s *Session) Submit(ctx context.Context, inst model.Instrument, spec model.OrderSpec) (model.SubmittedOrder, error) {
	var order model.SubmittedOrder
	err := s.do(ctx, s.cfg.CallTimeout, func(ctx context.Context, conn Conn) error {
		var err error
		order, err = conn.PlaceOrder(ctx, inst, spec)
		return err
	})
	if err != nil {
		return model.SubmittedOrder{}, err
	}
	s.log.Info(ctx, "order submitted",
		zap.String("order_id", order.OrderID),
		zap.String("symbol", inst.Symbol),
		zap.String("side", string(spec.Side)),
		zap.String("type", string(spec.Type)),
		zap.Int64("quantity", spec.Quantity),
		zap.String("oca_group", spec.OCAGroup))
	return order, nil
}

func (s *Session) Cancel(ctx context.Context, order model.SubmittedOrder) error {
	return s.do(ctx, s.cfg.CallTimeout, func(ctx context.Context, conn Conn) error {
		return conn.CancelOrder(ctx, order)
	})
}

// WaitFill waits up to timeout for an average fill price of orderID. It does
// not occupy the session worker.
func (s *Session) WaitFill(ctx context.Context, orderID string, timeout time.Duration) (decimal.Decimal, bool) {
	return s.fills.wait(ctx, orderID, timeout)
}

// ResolvePrice asks the gateway for a market price, waiting at most timeout.
func (s *Session) ResolvePrice(ctx context.Context, inst model.Instrument, timeout time.Duration) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := s.do(ctx, timeout, func(ctx context.Context, conn Conn) error {
		var err error
		price, err = conn.MarketPrice(ctx, inst)
		return err
	})
	if err != nil {
		if errors.Is(err, model.ErrPriceUnavailable) {
			return decimal.Zero, err
		}
		return decimal.Zero, fmt.Errorf("%w: %v", model.ErrPriceUnavailable, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no price for %s", model.ErrPriceUnavailable, inst.Symbol)
	}
	return price, nil
}

// OrderStatus returns the last status the gateway pushed for orderID.
func (s *Session) OrderStatus(orderID string) (model.OrderStatus, bool) {
	return s.fills.status(orderID)
}

func (s *Session) startCleaner(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.fills.prune(time.Now().Add(-s.cfg.FillRetention)); n > 0 {
				s.log.Debug(context.Background(), "pruned order events", zap.Int("orders", n))
			}
		case <-s.stopCh:
			return
		}
	}
}

// Close stops the worker and drops the connection. Queued calls fail with
// ErrServiceUnavailable.
func (s *Session) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopCh)

		s.connectMu.Lock()
		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.state.Store(int32(StateDisconnected))
		s.mu.Unlock()
		s.connectMu.Unlock()

		if conn != nil {
			err = conn.Close()
		}
		s.wg.Wait()
	})
	return err
}
