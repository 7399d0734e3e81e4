package relay

import (
	"context"
	"fmt"

	"github.com/joripage/order-relay/pkg/relay/model"
	"go.uber.org/zap"
)

// Cancel cancels the parent order of a tracked position and then its bracket
// legs. A rejected parent cancel puts the position back so it can be retried.
func (o *Orchestrator) Cancel(ctx context.Context, in model.OrderIntent) (Result, error) {
	if err := in.Validate(); err != nil {
		return Result{}, o.fail(ctx, model.StageValidate, in.OrderID, in.Symbol, err)
	}
	if !o.gateway.EnsureConnected(ctx) {
		return Result{}, o.fail(ctx, model.StageEnsureConnection, in.OrderID, in.Symbol,
			fmt.Errorf("%w: retry budget exhausted", model.ErrServiceUnavailable))
	}

	pos, ok := o.ledger.Take(in.OrderID)
	if !ok {
		return Result{}, o.fail(ctx, model.StageCancel, in.OrderID, in.Symbol,
			fmt.Errorf("%w: %s", model.ErrPositionNotFound, in.OrderID))
	}

	ctx = context.WithoutCancel(ctx)
	symbol := pos.Instrument.Symbol
	if err := o.gateway.Cancel(ctx, pos.Order); err != nil {
		if model.KindOf(err) == model.KindInternal {
			err = fmt.Errorf("%w: %v", model.ErrGatewayRejected, err)
		}
		if putErr := o.ledger.Put(pos); putErr != nil {
			o.log.Error(ctx, "position lost after rejected cancel",
				zap.String("order_id", pos.OrderID),
				zap.Error(putErr))
		}
		return Result{}, o.fail(ctx, model.StageCancel, pos.OrderID, symbol, err)
	}

	o.cancelLegs(ctx, pos)
	o.log.Info(ctx, "position cancelled", zap.String("order_id", pos.OrderID), zap.String("symbol", symbol))
	return Result{OrderID: pos.OrderID, Message: "order cancelled"}, nil
}

// Close removes a tracked position, cancels its bracket legs and flattens it
// with an opposite-side market order.
func (o *Orchestrator) Close(ctx context.Context, in model.OrderIntent) (Result, error) {
	if err := in.Validate(); err != nil {
		return Result{}, o.fail(ctx, model.StageValidate, in.OrderID, in.Symbol, err)
	}
	if !o.gateway.EnsureConnected(ctx) {
		return Result{}, o.fail(ctx, model.StageEnsureConnection, in.OrderID, in.Symbol,
			fmt.Errorf("%w: retry budget exhausted", model.ErrServiceUnavailable))
	}

	pos, ok := o.ledger.Take(in.OrderID)
	if !ok {
		return Result{}, o.fail(ctx, model.StageClose, in.OrderID, in.Symbol,
			fmt.Errorf("%w: %s", model.ErrPositionNotFound, in.OrderID))
	}

	ctx = context.WithoutCancel(ctx)
	o.cancelLegs(ctx, pos)

	flatten := model.MarketOrder(pos.Action.Side().Opposite(), pos.Quantity)
	order, err := o.gateway.Submit(ctx, pos.Instrument, flatten)
	if err != nil {
		if model.KindOf(err) == model.KindInternal {
			err = fmt.Errorf("%w: %v", model.ErrGatewayRejected, err)
		}
		o.log.Error(ctx, "position untracked but still open at gateway, reconcile manually",
			zap.String("order_id", pos.OrderID),
			zap.String("symbol", pos.Instrument.Symbol),
			zap.String("side", string(flatten.Side)),
			zap.Int64("quantity", pos.Quantity),
			zap.NamedError("inconsistency", model.ErrInconsistentState),
			zap.Error(err))
		return Result{}, o.fail(ctx, model.StageClose, pos.OrderID, pos.Instrument.Symbol, err)
	}

	o.log.Info(ctx, "position closed",
		zap.String("order_id", pos.OrderID),
		zap.String("close_order_id", order.OrderID))
	return Result{OrderID: order.OrderID, Message: fmt.Sprintf("position %s closed", pos.OrderID)}, nil
}

// cancelLegs cancels whatever bracket legs were placed. Failures are logged;
// a leg that already filled or was cancelled by its OCA sibling is expected
// to be rejected.
func (o *Orchestrator) cancelLegs(ctx context.Context, pos *model.Position) {
	for _, leg := range pos.Bracket.Legs() {
		if err := o.gateway.Cancel(ctx, leg); err != nil {
			o.log.Warn(ctx, "bracket leg cancel failed",
				zap.String("order_id", pos.OrderID),
				zap.String("leg_order_id", leg.OrderID),
				zap.Error(err))
		}
	}
}
