// Package pricing turns requested order lines and an optional promo code into
// charged line prices, a discount, and a final total.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/cookieshop/internal/domain/promo"
)

var hundred = decimal.NewFromInt(100)

// Line is a requested order line with the unit price it is charged at.
type Line struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Amount returns UnitPrice × Quantity.
func (l Line) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// PricedLine is a line together with the price persisted for it. Price is a
// line total and may already include a promo adjustment.
type PricedLine struct {
	Line
	Price decimal.Decimal
}

// Adjustment is the outcome of applying a promo to an order.
type Adjustment struct {
	Discount decimal.Decimal
	Lines    []PricedLine
}

// AdjustedSum returns the sum of the line prices.
func (a Adjustment) AdjustedSum() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range a.Lines {
		sum = sum.Add(l.Price)
	}
	return sum
}

// Calculate applies p to the lines. A nil promo leaves every line at its
// amount with no discount. The arithmetic is exact; rounding is left to the
// caller.
func Calculate(p *promo.Promo, subtotal decimal.Decimal, lines []Line) Adjustment {
	out := Adjustment{
		Discount: decimal.Zero,
		Lines:    make([]PricedLine, len(lines)),
	}
	for i, l := range lines {
		out.Lines[i] = PricedLine{Line: l, Price: l.Amount()}
	}
	if p == nil {
		return out
	}

	switch p.Type {
	case promo.TypeOrderPercent:
		out.Discount = subtotal.Mul(p.Value).Div(hundred)
	case promo.TypeGiftCertificate:
		out.Discount = decimal.Min(p.Value, subtotal)
	case promo.TypeProductPercent:
		if p.ProductID == "" {
			break
		}
		factor := decimal.NewFromInt(1).Sub(p.Value.Div(hundred))
		if factor.IsNegative() {
			factor = decimal.Zero
		}
		for i := range out.Lines {
			if out.Lines[i].ProductID == p.ProductID {
				out.Lines[i].Price = out.Lines[i].Price.Mul(factor)
			}
		}
	case promo.TypeBuy2Get1:
		for i := range out.Lines {
			l := &out.Lines[i]
			if l.Quantity >= 2 {
				l.Price = l.UnitPrice.Mul(decimal.NewFromInt(int64(ChargedQuantity(l.Quantity))))
			}
		}
		out.Discount = subtotal.Sub(out.AdjustedSum())
		if out.Discount.IsNegative() {
			out.Discount = decimal.Zero
		}
	}

	return out
}

// ChargedQuantity returns how many units of a line are paid for under
// BUY2GET1: ceil(q/2) when q >= 2, otherwise q.
func ChargedQuantity(q int) int {
	if q < 2 {
		return q
	}
	return (q + 1) / 2
}
