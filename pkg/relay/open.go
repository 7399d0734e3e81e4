package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/joripage/order-relay/pkg/relay/bracket"
	"github.com/joripage/order-relay/pkg/relay/model"
	riskrule "github.com/joripage/order-relay/pkg/relay/riskrule"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Open places an entry order and its bracket legs, records the position and
// journals the trade.
func (o *Orchestrator) Open(ctx context.Context, in model.OrderIntent) (Result, error) {
	symbol := in.Symbol
	if err := in.Validate(); err != nil {
		return Result{}, o.fail(ctx, model.StageValidate, "", symbol, err)
	}
	if err := riskrule.Check(o.rules, &in); err != nil {
		return Result{}, o.fail(ctx, model.StageValidate, "", symbol, err)
	}

	if !o.gateway.EnsureConnected(ctx) {
		return Result{}, o.fail(ctx, model.StageEnsureConnection, "", symbol,
			fmt.Errorf("%w: retry budget exhausted", model.ErrServiceUnavailable))
	}

	inst, err := o.gateway.Qualify(ctx, model.NewStock(symbol))
	if err != nil {
		if model.KindOf(err) == model.KindInternal {
			err = fmt.Errorf("%w: %v", model.ErrInstrumentUnknown, err)
		}
		return Result{}, o.fail(ctx, model.StageQualify, "", symbol, err)
	}

	side := in.Action.Side()
	spec := model.MarketOrder(side, in.Quantity)
	if in.Type == model.OrderTypeLimit {
		spec = model.LimitOrder(side, in.Quantity, in.LimitPrice.Decimal)
	}

	parent, err := o.gateway.Submit(ctx, inst, spec)
	if err != nil {
		if model.KindOf(err) == model.KindInternal {
			err = fmt.Errorf("%w: %v", model.ErrGatewayRejected, err)
		}
		return Result{}, o.fail(ctx, model.StageSubmitParent, "", symbol, err)
	}

	// the parent order exists at the gateway, nothing below may be abandoned
	ctx = context.WithoutCancel(ctx)
	log := o.log.With(zap.String("order_id", parent.OrderID), zap.String("symbol", inst.Symbol))

	fill := o.resolveFillPrice(ctx, in, inst, parent)

	pos := &model.Position{
		OrderID:    parent.OrderID,
		Instrument: inst,
		Action:     in.Action,
		Quantity:   in.Quantity,
		Order:      parent,
		OpenedAt:   o.now(),
	}
	if fill.Valid {
		prices, err := o.bracket.Compute(fill.Decimal, side)
		if err != nil {
			log.Error(ctx, "bracket computation failed", zap.String("stage", string(model.StageSubmitBracket)), zap.Error(err))
		} else {
			pos.Bracket = o.submitBracket(ctx, inst, parent, side.Opposite(), in.Quantity, prices)
		}
	} else {
		log.Warn(ctx, "no fill price resolved, bracket legs skipped")
	}

	result := Result{OrderID: parent.OrderID}
	if err := o.ledger.Put(pos); err != nil {
		// the gateway handed out an order id twice
		log.Error(ctx, "position not recorded",
			zap.String("stage", string(model.StageRecordPosition)),
			zap.Error(err))
		result.Message = "order placed but position not tracked"
	}

	record := o.tradeRecord(in, pos, fill)
	if err := o.journal.Append(ctx, record); err != nil {
		log.Error(ctx, "journal append failed",
			zap.String("stage", string(model.StageJournal)),
			zap.Error(err))
		if result.Message == "" {
			result.Message = "order placed but journal write failed"
		}
	}

	log.Info(ctx, "order placed",
		zap.String("action", string(in.Action)),
		zap.Int64("quantity", in.Quantity),
		zap.String("type", string(in.Type)),
		zap.Bool("bracket", pos.Bracket != nil))
	return result, nil
}

// resolveFillPrice returns the limit price for LIMIT orders. For MARKET
// orders it waits briefly for the fill and falls back to a market price.
func (o *Orchestrator) resolveFillPrice(ctx context.Context, in model.OrderIntent, inst model.Instrument, parent model.SubmittedOrder) decimal.NullDecimal {
	if in.Type == model.OrderTypeLimit {
		return in.LimitPrice
	}

	if px, ok := o.gateway.WaitFill(ctx, parent.OrderID, o.cfg.FillWait); ok {
		return decimal.NewNullDecimal(px)
	}

	px, err := o.gateway.ResolvePrice(ctx, inst, o.cfg.FillWait)
	if err != nil {
		if !errors.Is(err, model.ErrPriceUnavailable) {
			err = fmt.Errorf("%w: %v", model.ErrPriceUnavailable, err)
		}
		o.log.Warn(ctx, "fill price unavailable",
			zap.String("order_id", parent.OrderID),
			zap.String("stage", string(model.StageResolveFillPrice)),
			zap.Error(err))
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(px)
}

// submitBracket places the stop-loss and take-profit legs in one OCA group.
// A rejected leg is logged and left nil.
func (o *Orchestrator) submitBracket(ctx context.Context, inst model.Instrument, parent model.SubmittedOrder, exitSide model.OrderSide, qty int64, prices bracket.Prices) *model.BracketGroup {
	group := &model.BracketGroup{
		OCAGroup:        model.OCAGroupFor(parent.OrderID),
		StopPrice:       prices.Stop,
		TakeProfitPrice: prices.TakeProfit,
	}

	stop := model.StopOrder(exitSide, qty, prices.Stop)
	stop.OCAGroup = group.OCAGroup
	take := model.LimitOrder(exitSide, qty, prices.TakeProfit)
	take.OCAGroup = group.OCAGroup

	if leg, err := o.gateway.Submit(ctx, inst, stop); err != nil {
		o.logLegFailure(ctx, parent.OrderID, "stop_loss", err)
	} else {
		group.StopLoss = &leg
	}
	if leg, err := o.gateway.Submit(ctx, inst, take); err != nil {
		o.logLegFailure(ctx, parent.OrderID, "take_profit", err)
	} else {
		group.TakeProfit = &leg
	}

	o.log.Info(ctx, "bracket placed",
		zap.String("order_id", parent.OrderID),
		zap.String("oca_group", group.OCAGroup),
		zap.String("sl_price", prices.Stop.StringFixed(o.cfg.PricePlaces)),
		zap.String("tp_price", prices.TakeProfit.StringFixed(o.cfg.PricePlaces)))
	return group
}

func (o *Orchestrator) logLegFailure(ctx context.Context, orderID, leg string, err error) {
	o.log.Error(ctx, "bracket leg rejected",
		zap.String("order_id", orderID),
		zap.String("stage", string(model.StageSubmitBracket)),
		zap.String("leg", leg),
		zap.Error(err))
}

func (o *Orchestrator) tradeRecord(in model.OrderIntent, pos *model.Position, fill decimal.NullDecimal) model.TradeRecord {
	record := model.TradeRecord{
		Timestamp:  o.now(),
		OrderID:    pos.OrderID,
		Symbol:     pos.Instrument.Symbol,
		Action:     string(in.Action),
		Quantity:   in.Quantity,
		OrderType:  in.Type.Code(),
		LimitPrice: model.PriceRef(in.LimitPrice),
		FillPrice:  model.PriceRef(fill),
	}
	if b := pos.Bracket; b != nil {
		if b.StopLoss != nil {
			record.SLPrice = model.PriceRef(decimal.NewNullDecimal(b.StopPrice))
		}
		if b.TakeProfit != nil {
			record.TPPrice = model.PriceRef(decimal.NewNullDecimal(b.TakeProfitPrice))
		}
	}
	return record
}
