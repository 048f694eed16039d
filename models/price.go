package models

import "github.com/shopspring/decimal"

const Currency = "EUR"

var prices = map[Kind]decimal.Decimal{
	KindSingle: decimal.New(150, -2),
	KindDay:    decimal.New(500, -2),
	KindWeek:   decimal.New(1500, -2),
	KindMonth:  decimal.New(4500, -2),
}

// Price returns the unit price of a kind in EUR.
func (k Kind) Price() decimal.Decimal {
	if p, ok := prices[k]; ok {
		return p
	}
	return prices[KindSingle]
}

// PaymentNotification is what the payment provider publishes once a
// purchase has been captured.
type PaymentNotification struct {
	PaymentID string          `json:"payment_id"`
	UserID    string          `json:"user_id"`
	Kind      string          `json:"type"`
	Quantity  int             `json:"quantity"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	PaidAt    string          `json:"paid_at,omitempty"`
}

const PaymentSucceeded = "succeeded"
