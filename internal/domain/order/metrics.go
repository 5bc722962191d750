package order

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/cookieshop/internal/domain/promo"
)

// Metrics records order placement outcomes. A nil *Metrics records nothing.
type Metrics struct {
	placed      metric.Int64Counter
	rejected    metric.Int64Counter
	redemptions metric.Int64Counter
}

// NewMetrics registers the order instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	placed, err := meter.Int64Counter("shop.orders.placed",
		metric.WithDescription("Orders successfully placed"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "orders placed counter")
	}
	rejected, err := meter.Int64Counter("shop.orders.rejected",
		metric.WithDescription("Order placements rejected, by reason"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "orders rejected counter")
	}
	redemptions, err := meter.Int64Counter("shop.promo.redemptions",
		metric.WithDescription("Promo codes redeemed by placed orders"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "promo redemptions counter")
	}
	return &Metrics{placed: placed, rejected: rejected, redemptions: redemptions}, nil
}

func (m *Metrics) orderPlaced(ctx context.Context, o *Order) {
	if m == nil {
		return
	}
	m.placed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("payment_method", string(o.PaymentMethod)),
	))
	if o.Promo != nil {
		m.redemptions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("promo_type", string(o.Promo.Type)),
		))
	}
}

func (m *Metrics) orderRejected(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", rejectReason(err)),
	))
}

func rejectReason(err error) string {
	var (
		pnf *ProductNotFoundError
		iq  *InvalidQuantityError
	)
	switch {
	case errors.Is(err, ErrEmptyItems):
		return "empty_items"
	case errors.As(err, &iq):
		return "invalid_quantity"
	case errors.As(err, &pnf):
		return "product_not_found"
	case errors.Is(err, promo.ErrNotFound):
		return "promo_not_found"
	case errors.Is(err, promo.ErrInactive):
		return "promo_inactive"
	case errors.Is(err, promo.ErrExpired):
		return "promo_expired"
	case errors.Is(err, promo.ErrExhausted):
		return "promo_exhausted"
	default:
		return "other"
	}
}
