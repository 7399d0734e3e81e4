package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joripage/order-relay/pkg/relay/model"
	"github.com/shopspring/decimal"
)

// orderRef accepts an order id sent either as a JSON number or a string.
type orderRef string

func (r *orderRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = orderRef(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("order_id must be a number or string")
	}
	*r = orderRef(n.String())
	return nil
}

type webhookRequest struct {
	Action     string              `json:"action"`
	Symbol     string              `json:"symbol"`
	Quantity   *int64              `json:"quantity"`
	OrderType  string              `json:"order_type"`
	LimitPrice decimal.NullDecimal `json:"limit_price"`
	OrderID    orderRef            `json:"order_id"`
}

const defaultQuantity = 1

// intent applies request defaults. Semantic checks are left to
// OrderIntent.Validate.
func (r *webhookRequest) intent() (model.OrderIntent, error) {
	typ, err := model.ParseOrderType(r.OrderType)
	if err != nil {
		return model.OrderIntent{}, err
	}
	qty := int64(defaultQuantity)
	if r.Quantity != nil {
		qty = *r.Quantity
	}
	return model.OrderIntent{
		Action:     model.ParseAction(r.Action),
		Symbol:     strings.ToUpper(strings.TrimSpace(r.Symbol)),
		Quantity:   qty,
		Type:       typ,
		LimitPrice: r.LimitPrice,
		OrderID:    string(r.OrderID),
	}, nil
}

type webhookResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id,omitempty"`
	Message string `json:"message,omitempty"`
}

func success(orderID, message string) webhookResponse {
	return webhookResponse{Status: "success", OrderID: orderID, Message: message}
}

func failure(orderID, message string) webhookResponse {
	return webhookResponse{Status: "error", OrderID: orderID, Message: message}
}
