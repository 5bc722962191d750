package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/cookieshop/internal/domain/promo"
)

// ErrNotFound is returned when an order does not exist.
var ErrNotFound = errors.New("order not found")

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

// InvalidStatusError is returned for an unknown status value.
type InvalidStatusError struct {
	Value string
}

func (e *InvalidStatusError) Error() string {
	return "unknown order status " + e.Value
}

// ParseStatus parses s case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPending, StatusConfirmed, StatusDelivered, StatusCancelled:
		return st, nil
	default:
		return "", &InvalidStatusError{Value: s}
	}
}

// PaymentMethod is how the customer pays.
type PaymentMethod string

const (
	PaymentCash           PaymentMethod = "CASH"
	PaymentCardOnline     PaymentMethod = "CARD_ONLINE"
	PaymentCardOnDelivery PaymentMethod = "CARD_ON_DELIVERY"
)

// ParsePaymentMethod returns the matching method, falling back to cash for
// empty or unknown values.
func ParsePaymentMethod(s string) PaymentMethod {
	switch m := PaymentMethod(s); m {
	case PaymentCash, PaymentCardOnline, PaymentCardOnDelivery:
		return m
	default:
		return PaymentCash
	}
}

// Order is a placed customer order.
type Order struct {
	ID            string
	UserID        string
	Items         []Item
	Discount      decimal.Decimal
	Tip           decimal.Decimal
	Total         decimal.Decimal
	Status        Status
	PaymentMethod PaymentMethod
	// Promo is a copy of the promo that priced the order, nil when none.
	Promo     *promo.Snapshot
	Recipient string
	Address   string
	Comment   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is an order line. Price is the charged line total after any promo
// adjustment, not the unit price.
type Item struct {
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create stores the order and its items. When redeemPromoID is set the
	// promo's usage counter is incremented in the same transaction, and
	// promo.ErrExhausted is returned without storing anything if the promo
	// can no longer be redeemed.
	Create(ctx context.Context, o *Order, redeemPromoID string) error
	GetByID(ctx context.Context, id string) (*Order, error)
	// ListByUser returns the user's orders, newest first.
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	List(ctx context.Context) ([]Order, error)
	Update(ctx context.Context, o *Order) error
}
