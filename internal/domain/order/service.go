package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/cookieshop/internal/domain/pricing"
	"github.com/xenking/cookieshop/internal/domain/product"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems      = errors.New("items required")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

func (e *InvalidQuantityError) Unwrap() error { return ErrInvalidQuantity }

// Pricer prices an order request.
type Pricer interface {
	PriceOrder(ctx context.Context, req pricing.Request) (*pricing.Quote, error)
}

// ItemRequest is a requested line. Price is the client-declared unit price.
type ItemRequest struct {
	ProductID string
	Quantity  int
	Price     *decimal.Decimal
}

// CreateRequest holds the input for placing an order.
type CreateRequest struct {
	UserID        string
	Items         []ItemRequest
	TotalPrice    *decimal.Decimal
	PromoCode     string
	Discount      *decimal.Decimal
	FinalTotal    *decimal.Decimal
	Tip           decimal.Decimal
	Recipient     string
	Address       string
	Comment       string
	PaymentMethod string
}

// AdminUpdate is a partial admin edit of an order. Nil fields are unchanged.
type AdminUpdate struct {
	Recipient     *string
	Address       *string
	Comment       *string
	PaymentMethod *string
	Status        *string
	Total         *decimal.Decimal
	Discount      *decimal.Decimal
}

// Service encapsulates order placement and management.
type Service struct {
	products product.Repository
	pricer   Pricer
	orders   Repository
	metrics  *Metrics
	now      func() time.Time
}

// NewService creates an order Service. metrics may be nil.
func NewService(
	products product.Repository,
	pricer Pricer,
	orders Repository,
	metrics *Metrics,
) *Service {
	return &Service{
		products: products,
		pricer:   pricer,
		orders:   orders,
		metrics:  metrics,
		now:      time.Now,
	}
}

// CreateOrder validates items, fetches products in a single batch, prices the
// order, and persists it together with the promo redemption.
func (s *Service) CreateOrder(ctx context.Context, req CreateRequest) (*Order, error) {
	o, err := s.createOrder(ctx, req)
	if err != nil {
		s.metrics.orderRejected(ctx, err)
		return nil, err
	}
	s.metrics.orderPlaced(ctx, o)
	return o, nil
}

func (s *Service) createOrder(ctx context.Context, req CreateRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	productMap := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		productMap[p.ID] = p
	}

	items := make([]pricing.Item, len(req.Items))
	for i, item := range req.Items {
		p, ok := productMap[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		items[i] = pricing.Item{
			ProductID:     item.ProductID,
			Quantity:      item.Quantity,
			CatalogPrice:  p.Price,
			DeclaredPrice: item.Price,
		}
	}

	quote, err := s.pricer.PriceOrder(ctx, pricing.Request{
		Items:            items,
		DeclaredSubtotal: req.TotalPrice,
		PromoCode:        req.PromoCode,
		Discount:         req.Discount,
		FinalTotal:       req.FinalTotal,
		Tip:              req.Tip,
	})
	if err != nil {
		return nil, errors.Wrap(err, "price order")
	}

	now := s.now()
	o := &Order{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		Items:         make([]Item, len(quote.Lines)),
		Discount:      quote.Discount,
		Tip:           quote.Tip,
		Total:         quote.Total,
		Status:        StatusPending,
		PaymentMethod: ParsePaymentMethod(req.PaymentMethod),
		Recipient:     req.Recipient,
		Address:       req.Address,
		Comment:       req.Comment,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for i, l := range quote.Lines {
		o.Items[i] = Item{ProductID: l.ProductID, Quantity: l.Quantity, Price: l.Price}
	}

	var redeem string
	if quote.Promo != nil {
		o.Promo = quote.Promo.Snapshot()
		redeem = quote.Promo.ID
	}

	if err := s.orders.Create(ctx, o, redeem); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	return o, nil
}

// Get returns the order with the given id.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// ListByUser returns the user's orders, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list user orders")
	}
	return orders, nil
}

// List returns every order.
func (s *Service) List(ctx context.Context) ([]Order, error) {
	orders, err := s.orders.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// Update applies an admin edit. Unknown status values are rejected with
// *InvalidStatusError; unknown payment methods fall back to cash.
func (s *Service) Update(ctx context.Context, id string, upd AdminUpdate) (*Order, error) {
	var status Status
	if upd.Status != nil {
		st, err := ParseStatus(*upd.Status)
		if err != nil {
			return nil, err
		}
		status = st
	}
	if upd.Total != nil && upd.Total.IsNegative() {
		return nil, errors.Wrap(pricing.ErrNegativeAmount, "total")
	}
	if upd.Discount != nil && upd.Discount.IsNegative() {
		return nil, errors.Wrap(pricing.ErrNegativeAmount, "discount")
	}

	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}

	if upd.Recipient != nil {
		o.Recipient = *upd.Recipient
	}
	if upd.Address != nil {
		o.Address = *upd.Address
	}
	if upd.Comment != nil {
		o.Comment = *upd.Comment
	}
	if upd.PaymentMethod != nil {
		o.PaymentMethod = ParsePaymentMethod(*upd.PaymentMethod)
	}
	if status != "" {
		o.Status = status
	}
	if upd.Total != nil {
		o.Total = upd.Total.Round(2)
	}
	if upd.Discount != nil {
		o.Discount = upd.Discount.Round(2)
	}
	o.UpdatedAt = s.now()

	if err := s.orders.Update(ctx, o); err != nil {
		return nil, errors.Wrap(err, "update order")
	}
	return o, nil
}

// ChangeStatus sets the order status.
func (s *Service) ChangeStatus(ctx context.Context, id, status string) (*Order, error) {
	return s.Update(ctx, id, AdminUpdate{Status: &status})
}
