package gateway

import (
	"context"
	"time"

	"github.com/joripage/order-relay/pkg/relay/model"
	"github.com/shopspring/decimal"
)

// Driver opens connections to a brokerage gateway.
type Driver interface {
	// Dial connects and completes the handshake using clientID. The ctx only
	// bounds the handshake; the returned Conn outlives it.
	Dial(ctx context.Context, clientID int) (Conn, error)
}

// Conn is one live gateway connection. Methods are invoked from a single
// goroutine owned by Session and must honor ctx deadlines.
type Conn interface {
	ClientID() int
	// Events is closed when the connection drops.
	Events() <-chan model.OrderEvent
	Qualify(ctx context.Context, inst model.Instrument) (model.Instrument, error)
	PlaceOrder(ctx context.Context, inst model.Instrument, spec model.OrderSpec) (model.SubmittedOrder, error)
	CancelOrder(ctx context.Context, order model.SubmittedOrder) error
	// MarketPrice returns the last or closing price, waiting at most until
	// ctx is done.
	MarketPrice(ctx context.Context, inst model.Instrument) (decimal.Decimal, error)
	// Close tears the connection down and closes Events.
	Close() error
}

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "disconnected"
}

type Config struct {
	BaseClientID int
	MaxAttempts  int
	BaseDelay    time.Duration
	DialTimeout  time.Duration
	CallTimeout  time.Duration
	// FillRetention is how long settled fill entries are kept.
	FillRetention time.Duration
}

const (
	DefaultMaxAttempts   = 3
	DefaultBaseDelay     = 2 * time.Second
	DefaultCallTimeout   = 10 * time.Second
	DefaultFillRetention = 15 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = c.CallTimeout
	}
	if c.FillRetention <= 0 {
		c.FillRetention = DefaultFillRetention
	}
	return c
}
