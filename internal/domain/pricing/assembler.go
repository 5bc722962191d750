package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/cookieshop/internal/domain/promo"
)

// Totals are the inputs of the final total computation.
type Totals struct {
	PromoType   promo.Type // empty when no promo applies
	Subtotal    decimal.Decimal
	Discount    decimal.Decimal
	AdjustedSum decimal.Decimal
	Tip         decimal.Decimal
	// FinalTotal, when set, replaces the computed total. It has no effect on
	// BUY2GET1 orders, whose total is always rebuilt from the line prices.
	FinalTotal *decimal.Decimal
}

// Assemble returns the charged total.
//
// BUY2GET1 orders are charged the sum of their adjusted lines plus the tip.
// Every other order is charged subtotal − discount, floored at zero, and the
// tip is kept aside on the order rather than added.
func Assemble(t Totals) decimal.Decimal {
	if t.PromoType == promo.TypeBuy2Get1 {
		return t.AdjustedSum.Add(t.Tip)
	}
	if t.FinalTotal != nil {
		return *t.FinalTotal
	}
	total := t.Subtotal.Sub(t.Discount)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}
