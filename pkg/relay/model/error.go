package model

import (
	"errors"
	"fmt"
)

var (
	ErrInputValidation    = errors.New("invalid order intent")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrServiceUnavailable = errors.New("gateway connection not available")
	ErrInstrumentUnknown  = errors.New("instrument unknown")
	ErrGatewayRejected    = errors.New("gateway rejected request")
	ErrPriceUnavailable   = errors.New("price unavailable")
	ErrPositionNotFound   = errors.New("position not found")
	ErrDuplicateKey       = errors.New("duplicate position key")
	ErrInconsistentState  = errors.New("ledger and gateway out of sync")
)

type Kind int

const (
	KindInternal Kind = iota
	KindInputValidation
	KindUnauthorized
	KindServiceUnavailable
	KindInstrumentUnknown
	KindGatewayRejected
	KindPriceUnavailable
	KindPositionNotFound
	KindDuplicateKey
	KindInconsistentState
)

var kindOrder = []struct {
	err  error
	kind Kind
}{
	{ErrInputValidation, KindInputValidation},
	{ErrUnauthorized, KindUnauthorized},
	{ErrServiceUnavailable, KindServiceUnavailable},
	{ErrInstrumentUnknown, KindInstrumentUnknown},
	{ErrPositionNotFound, KindPositionNotFound},
	{ErrDuplicateKey, KindDuplicateKey},
	{ErrInconsistentState, KindInconsistentState},
	{ErrGatewayRejected, KindGatewayRejected},
	{ErrPriceUnavailable, KindPriceUnavailable},
}

// KindOf classifies err by the first sentinel found in its chain.
func KindOf(err error) Kind {
	for _, k := range kindOrder {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

type Stage string

const (
	StageValidate         Stage = "validate"
	StageEnsureConnection Stage = "ensure_connection"
	StageQualify          Stage = "qualify"
	StageSubmitParent     Stage = "submit_parent"
	StageResolveFillPrice Stage = "resolve_fill_price"
	StageSubmitBracket    Stage = "submit_bracket"
	StageRecordPosition   Stage = "record_position"
	StageJournal          Stage = "journal"
	StageCancel           Stage = "cancel"
	StageClose            Stage = "close"
)

// OrderError carries the orchestration stage and order id a failure happened at.
type OrderError struct {
	Stage   Stage
	OrderID string
	Symbol  string
	Err     error
}

func (e *OrderError) Error() string {
	if e.OrderID != "" {
		return fmt.Sprintf("%s [order %s %s]: %v", e.Stage, e.OrderID, e.Symbol, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Stage, e.Symbol, e.Err)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

func NewOrderError(stage Stage, orderID, symbol string, err error) *OrderError {
	return &OrderError{
		Stage:   stage,
		OrderID: orderID,
		Symbol:  symbol,
		Err:     err,
	}
}
