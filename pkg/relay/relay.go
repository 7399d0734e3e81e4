// Package relay turns trade signals into gateway orders with protective
// bracket legs and keeps the open-position ledger.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/joripage/order-relay/pkg/logging"
	"github.com/joripage/order-relay/pkg/relay/bracket"
	"github.com/joripage/order-relay/pkg/relay/journal"
	"github.com/joripage/order-relay/pkg/relay/ledger"
	"github.com/joripage/order-relay/pkg/relay/model"
	riskrule "github.com/joripage/order-relay/pkg/relay/riskrule"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Gateway is the brokerage session the orchestrator drives.
type Gateway interface {
	EnsureConnected(ctx context.Context) bool
	Connected() bool
	Qualify(ctx context.Context, inst model.Instrument) (model.Instrument, error)
	Submit(ctx context.Context, inst model.Instrument, spec model.OrderSpec) (model.SubmittedOrder, error)
	Cancel(ctx context.Context, order model.SubmittedOrder) error
	WaitFill(ctx context.Context, orderID string, timeout time.Duration) (decimal.Decimal, bool)
	ResolvePrice(ctx context.Context, inst model.Instrument, timeout time.Duration) (decimal.Decimal, error)
}

type Config struct {
	StopLoss     float64
	TakeProfit   float64
	PricePlaces  int32
	FillWait     time.Duration
	PaperTrading bool
}

const (
	DefaultStopLoss   = 0.02
	DefaultTakeProfit = 0.04
	DefaultFillWait   = time.Second
)

type Result struct {
	OrderID string
	Message string
}

type Status struct {
	Connected       bool `json:"connected"`
	ActivePositions int  `json:"active_positions"`
	PaperTrading    bool `json:"paper_trading"`
}

type Orchestrator struct {
	cfg     Config
	gateway Gateway
	journal journal.Journal
	ledger  *ledger.Ledger
	bracket *bracket.Calculator
	rules   []riskrule.RiskRule
	log     *logging.Logger
	now     func() time.Time
}

func New(gw Gateway, j journal.Journal, cfg Config, log *logging.Logger, rules ...riskrule.RiskRule) (*Orchestrator, error) {
	if cfg.FillWait <= 0 {
		cfg.FillWait = DefaultFillWait
	}
	if cfg.PricePlaces <= 0 {
		cfg.PricePlaces = bracket.DefaultPlaces
	}
	calc, err := bracket.NewCalculator(cfg.StopLoss, cfg.TakeProfit, cfg.PricePlaces)
	if err != nil {
		return nil, fmt.Errorf("bracket config: %w", err)
	}
	if log == nil {
		log = logging.Nop()
	}

	return &Orchestrator{
		cfg:     cfg,
		gateway: gw,
		journal: j,
		ledger:  ledger.New(),
		bracket: calc,
		rules:   rules,
		log:     log,
		now:     time.Now,
	}, nil
}

// Execute runs one intent to completion.
func (o *Orchestrator) Execute(ctx context.Context, in model.OrderIntent) (Result, error) {
	switch in.Action {
	case model.ActionCancel:
		return o.Cancel(ctx, in)
	case model.ActionClose:
		return o.Close(ctx, in)
	}
	return o.Open(ctx, in)
}

func (o *Orchestrator) Status() Status {
	return Status{
		Connected:       o.gateway.Connected(),
		ActivePositions: o.ledger.Count(),
		PaperTrading:    o.cfg.PaperTrading,
	}
}

// Positions lists the tracked positions.
func (o *Orchestrator) Positions() []model.Position {
	return o.ledger.Snapshot()
}

// LogReconnect is meant as a gateway connect hook. Tracked positions are not
// reconciled against the gateway automatically.
func (o *Orchestrator) LogReconnect(ctx context.Context, clientID int) {
	fields := []zap.Field{
		zap.Int("client_id", clientID),
		zap.Int("active_positions", o.ledger.Count()),
	}
	if o.ledger.Count() > 0 {
		o.log.Warn(ctx, "gateway connected with tracked positions, reconcile manually", fields...)
		return
	}
	o.log.Info(ctx, "gateway connected", fields...)
}

// fail logs a terminal failure with its stage and returns it as an OrderError.
func (o *Orchestrator) fail(ctx context.Context, stage model.Stage, orderID, symbol string, err error) error {
	fields := []zap.Field{
		zap.String("stage", string(stage)),
		zap.String("symbol", symbol),
		zap.Error(err),
	}
	if orderID != "" {
		fields = append(fields, zap.String("order_id", orderID))
	}
	switch model.KindOf(err) {
	case model.KindInputValidation, model.KindPositionNotFound:
		o.log.Info(ctx, "intent rejected", fields...)
	default:
		o.log.Error(ctx, "intent failed", fields...)
	}
	return model.NewOrderError(stage, orderID, symbol, err)
}
