package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord is one journal line. Absent prices are encoded as null.
type TradeRecord struct {
	Timestamp  time.Time `json:"timestamp" gorm:"column:recorded_at"`
	OrderID    string    `json:"order_id" gorm:"column:order_id"`
	Symbol     string    `json:"symbol" gorm:"column:symbol"`
	Action     string    `json:"action" gorm:"column:action"`
	Quantity   int64     `json:"quantity" gorm:"column:quantity"`
	OrderType  string    `json:"order_type" gorm:"column:order_type"`
	LimitPrice *float64  `json:"limit_price" gorm:"column:limit_price"`
	FillPrice  *float64  `json:"fill_price" gorm:"column:fill_price"`
	SLPrice    *float64  `json:"sl_price" gorm:"column:sl_price"`
	TPPrice    *float64  `json:"tp_price" gorm:"column:tp_price"`
}

func (TradeRecord) TableName() string {
	return "trade_records"
}

// PriceRef converts an optional decimal into the journal representation.
func PriceRef(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	f := d.Decimal.InexactFloat64()
	return &f
}
