// Package docmath holds the decimal money math shared by every priced
// document: GRNs, returns, sales and quotations. All totals are rounded
// to 2 places at the line level so header sums match what the line rows
// display.
package docmath

import (
	"errors"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ErrDiscountRange indicates a discount percent outside [0, 100].
var ErrDiscountRange = errors.New("docmath: discount percent must be between 0 and 100")

// Line is the priced portion of a document line.
type Line struct {
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	DiscountPct decimal.Decimal `json:"discount_percent"`
}

// Totals summarises a document header.
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount_amount"`
	Net      decimal.Decimal `json:"net_amount"`
}

// LineGross returns quantity * unit price before discount.
func LineGross(l Line) decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice).Round(2)
}

// LineNet returns the line total after discount:
// qty * price * (1 - disc/100), rounded to 2 places.
func LineNet(l Line) (decimal.Decimal, error) {
	if l.DiscountPct.IsNegative() || l.DiscountPct.GreaterThan(hundred) {
		return decimal.Zero, ErrDiscountRange
	}
	factor := decimal.NewFromInt(1).Sub(l.DiscountPct.Div(hundred))
	return l.Quantity.Mul(l.UnitPrice).Mul(factor).Round(2), nil
}

// Sum computes header totals across lines.
func Sum(lines []Line) (Totals, error) {
	var t Totals
	for _, l := range lines {
		gross := LineGross(l)
		net, err := LineNet(l)
		if err != nil {
			return Totals{}, err
		}
		t.Subtotal = t.Subtotal.Add(gross)
		t.Discount = t.Discount.Add(gross.Sub(net))
		t.Net = t.Net.Add(net)
	}
	return t, nil
}
