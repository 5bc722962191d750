package pricing

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/cookieshop/internal/domain/promo"
)

// ErrNegativeAmount is returned when a client-supplied amount is below zero.
var ErrNegativeAmount = errors.New("amount must not be negative")

// Item is a requested line whose product has already been resolved.
type Item struct {
	ProductID     string
	Quantity      int
	CatalogPrice  decimal.Decimal
	DeclaredPrice *decimal.Decimal
}

// Request is the input of PriceOrder. Pointer fields are optional client
// declarations.
type Request struct {
	Items            []Item
	DeclaredSubtotal *decimal.Decimal
	PromoCode        string
	Discount         *decimal.Decimal
	FinalTotal       *decimal.Decimal
	Tip              decimal.Decimal
}

// Quote is a priced order, rounded to cents.
type Quote struct {
	Lines    []PricedLine
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Tip      decimal.Decimal
	Total    decimal.Decimal
	// Promo is the resolved promo, nil when no code was given.
	Promo *promo.Promo
}

// Config controls how much of the client's declared pricing is honoured.
type Config struct {
	// TrustClientTotals enables declared unit prices, declared subtotal, and
	// the discount and finalTotal overrides. When false every amount except
	// the tip is computed from the catalog.
	TrustClientTotals bool
}

// Engine prices orders.
type Engine struct {
	promos promo.Resolver
	cfg    Config
}

// NewEngine creates an Engine resolving codes through promos.
func NewEngine(promos promo.Resolver, cfg Config) *Engine {
	return &Engine{promos: promos, cfg: cfg}
}

// PriceOrder resolves the promo code, if any, and prices the request. It does
// not redeem the promo.
func (e *Engine) PriceOrder(ctx context.Context, req Request) (*Quote, error) {
	if req.Tip.IsNegative() {
		return nil, errors.Wrap(ErrNegativeAmount, "tip")
	}
	if e.cfg.TrustClientTotals {
		if err := checkOverrides(req); err != nil {
			return nil, err
		}
	}

	lines := make([]Line, len(req.Items))
	for i, it := range req.Items {
		unit := it.CatalogPrice
		if e.cfg.TrustClientTotals && it.DeclaredPrice != nil {
			unit = *it.DeclaredPrice
		}
		if unit.IsNegative() {
			return nil, errors.Wrapf(ErrNegativeAmount, "price of %s", it.ProductID)
		}
		lines[i] = Line{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: unit}
	}

	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Amount())
	}
	if e.cfg.TrustClientTotals && req.DeclaredSubtotal != nil {
		subtotal = *req.DeclaredSubtotal
	}

	var p *promo.Promo
	if promo.NormalizeCode(req.PromoCode) != "" {
		resolved, err := e.promos.Resolve(ctx, req.PromoCode)
		if err != nil {
			return nil, errors.Wrap(err, "resolve promo")
		}
		p = resolved
	}

	adj := Calculate(p, subtotal, lines)
	discount := adj.Discount

	var finalTotal *decimal.Decimal
	if e.cfg.TrustClientTotals {
		if req.Discount != nil && p != nil && p.Type != promo.TypeBuy2Get1 {
			discount = *req.Discount
		}
		finalTotal = req.FinalTotal
	} else {
		if req.Discount != nil || req.FinalTotal != nil || req.DeclaredSubtotal != nil {
			zctx.From(ctx).Info("Ignoring client-declared totals",
				zap.Bool("discount", req.Discount != nil),
				zap.Bool("final_total", req.FinalTotal != nil),
				zap.Bool("subtotal", req.DeclaredSubtotal != nil),
			)
		}
		if p != nil && p.Type == promo.TypeProductPercent {
			discount = subtotal.Sub(adj.AdjustedSum())
			if discount.IsNegative() {
				discount = decimal.Zero
			}
		}
	}

	var promoType promo.Type
	if p != nil {
		promoType = p.Type
	}
	total := Assemble(Totals{
		PromoType:   promoType,
		Subtotal:    subtotal,
		Discount:    discount,
		AdjustedSum: adj.AdjustedSum(),
		Tip:         req.Tip,
		FinalTotal:  finalTotal,
	})

	roundedSum := decimal.Zero
	for i := range adj.Lines {
		adj.Lines[i].Price = adj.Lines[i].Price.Round(2)
		roundedSum = roundedSum.Add(adj.Lines[i].Price)
	}
	q := &Quote{
		Lines:    adj.Lines,
		Subtotal: subtotal.Round(2),
		Discount: discount.Round(2),
		Tip:      req.Tip.Round(2),
		Total:    total.Round(2),
		Promo:    p,
	}
	// BUY2GET1 totals are derived from the stored line prices, so they must
	// be recomputed from the rounded lines to stay consistent with them.
	if promoType == promo.TypeBuy2Get1 {
		q.Discount = decimal.Max(q.Subtotal.Sub(roundedSum), decimal.Zero)
		q.Total = roundedSum.Add(q.Tip)
	}
	return q, nil
}

// checkOverrides rejects negative client-declared totals.
func checkOverrides(req Request) error {
	for _, o := range []struct {
		name  string
		value *decimal.Decimal
	}{
		{"subtotal", req.DeclaredSubtotal},
		{"discount", req.Discount},
		{"final total", req.FinalTotal},
	} {
		if o.value != nil && o.value.IsNegative() {
			return errors.Wrap(ErrNegativeAmount, o.name)
		}
	}
	return nil
}
