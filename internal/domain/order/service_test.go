package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/cookieshop/internal/domain/pricing"
	"github.com/xenking/cookieshop/internal/domain/product"
	"github.com/xenking/cookieshop/internal/domain/promo"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID   map[string]product.Product
	getErr error
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	return nil, nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockPromoRepo struct {
	byCode map[string]*promo.Promo
}

func (m *mockPromoRepo) FindByCode(_ context.Context, code string) (*promo.Promo, error) {
	p, ok := m.byCode[promo.NormalizeCode(code)]
	if !ok {
		return nil, promo.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPromoRepo) GetByID(context.Context, string) (*promo.Promo, error) {
	return nil, promo.ErrNotFound
}
func (m *mockPromoRepo) List(context.Context) ([]promo.Promo, error) { return nil, nil }
func (m *mockPromoRepo) Create(context.Context, *promo.Promo) error  { return nil }
func (m *mockPromoRepo) Update(context.Context, *promo.Promo) error  { return nil }
func (m *mockPromoRepo) Delete(context.Context, string) error        { return nil }

// mockOrderRepo redeems promos against promoRepo the way the storage layer
// does: a guarded increment that fails once the limit is reached.
type mockOrderRepo struct {
	promos    *mockPromoRepo
	orders    map[string]*Order
	redeemed  []string
	createErr error
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order, redeemPromoID string) error {
	if m.createErr != nil {
		return m.createErr
	}
	if redeemPromoID != "" {
		var target *promo.Promo
		for _, p := range m.promos.byCode {
			if p.ID == redeemPromoID {
				target = p
			}
		}
		if target == nil || !target.Active || target.Exhausted() {
			return promo.ErrExhausted
		}
		target.UsedCount++
		m.redeemed = append(m.redeemed, redeemPromoID)
	}
	m.orders[o.ID] = o
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id string) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) ListByUser(_ context.Context, userID string) ([]Order, error) {
	var out []Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockOrderRepo) List(_ context.Context) ([]Order, error) {
	var out []Order
	for _, o := range m.orders {
		out = append(out, *o)
	}
	return out, nil
}

func (m *mockOrderRepo) Update(_ context.Context, o *Order) error {
	if _, ok := m.orders[o.ID]; !ok {
		return ErrNotFound
	}
	m.orders[o.ID] = o
	return nil
}

// --- Helpers ---

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func intPtr(v int) *int { return &v }

type fixture struct {
	svc    *Service
	promos *mockPromoRepo
	orders *mockOrderRepo
}

func newFixture(t *testing.T, promos ...*promo.Promo) *fixture {
	t.Helper()

	products := &mockProductRepo{byID: map[string]product.Product{
		"1": {ID: "1", Title: "Chocolate chip", Price: d("5.00")},
		"2": {ID: "2", Title: "Oatmeal raisin", Price: d("5.00")},
		"3": {ID: "3", Title: "Milk", Price: d("2.50")},
	}}
	promoRepo := &mockPromoRepo{byCode: make(map[string]*promo.Promo)}
	for _, p := range promos {
		promoRepo.byCode[p.Code] = p
	}
	orderRepo := &mockOrderRepo{promos: promoRepo, orders: make(map[string]*Order)}

	metrics, err := NewMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	engine := pricing.NewEngine(promo.NewLookup(promoRepo), pricing.Config{})
	return &fixture{
		svc:    NewService(products, engine, orderRepo, metrics),
		promos: promoRepo,
		orders: orderRepo,
	}
}

// --- Tests ---

func TestCreateOrder_EmptyItems(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), CreateRequest{})
	require.ErrorIs(t, err, ErrEmptyItems)
}

func TestCreateOrder_InvalidQuantity(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), CreateRequest{
		Items: []ItemRequest{{ProductID: "1", Quantity: 0}},
	})

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "1", iqErr.ProductID)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestCreateOrder_ProductNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), CreateRequest{
		Items: []ItemRequest{{ProductID: "missing", Quantity: 1}},
	})

	var pnfErr *ProductNotFoundError
	require.ErrorAs(t, err, &pnfErr)
	assert.Equal(t, "missing", pnfErr.ProductID)
	assert.Empty(t, f.orders.orders)
}

func TestCreateOrder_NoPromo(t *testing.T) {
	f := newFixture(t)

	o, err := f.svc.CreateOrder(context.Background(), CreateRequest{
		UserID: "u1",
		Items: []ItemRequest{
			{ProductID: "1", Quantity: 2},
			{ProductID: "3", Quantity: 1},
		},
		Tip:           d("1.00"),
		PaymentMethod: "BITCOIN",
		Recipient:     "Ann",
	})

	require.NoError(t, err)
	assert.True(t, d("12.50").Equal(o.Total))
	assert.True(t, d("1.00").Equal(o.Tip))
	assert.True(t, o.Discount.IsZero())
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentCash, o.PaymentMethod)
	assert.Nil(t, o.Promo)
	require.Len(t, o.Items, 2)
	assert.True(t, d("10.00").Equal(o.Items[0].Price))
	assert.Empty(t, f.orders.redeemed)
	assert.Contains(t, f.orders.orders, o.ID)
}

func TestCreateOrder_RedeemsOncePerOrder(t *testing.T) {
	save10 := &promo.Promo{ID: "p1", Code: "SAVE10", Type: promo.TypeOrderPercent, Value: d("10"), Active: true}
	f := newFixture(t, save10)

	o, err := f.svc.CreateOrder(context.Background(), CreateRequest{
		Items: []ItemRequest{
			{ProductID: "1", Quantity: 10},
			{ProductID: "2", Quantity: 10},
		},
		PromoCode:     "save10",
		PaymentMethod: "CARD_ONLINE",
	})

	require.NoError(t, err)
	assert.True(t, d("90.00").Equal(o.Total))
	assert.True(t, d("10.00").Equal(o.Discount))
	assert.Equal(t, PaymentCardOnline, o.PaymentMethod)
	require.NotNil(t, o.Promo)
	assert.Equal(t, "SAVE10", o.Promo.Code)
	assert.Equal(t, promo.TypeOrderPercent, o.Promo.Type)
	assert.Equal(t, []string{"p1"}, f.orders.redeemed)
	assert.Equal(t, 1, save10.UsedCount)
}

func TestCreateOrder_Buy2Get1(t *testing.T) {
	f := newFixture(t, &promo.Promo{ID: "p2", Code: "BUY2GET1", Type: promo.TypeBuy2Get1, Active: true})

	o, err := f.svc.CreateOrder(context.Background(), CreateRequest{
		Items: []ItemRequest{
			{ProductID: "1", Quantity: 3},
			{ProductID: "2", Quantity: 3},
		},
		PromoCode: "BUY2GET1",
		Tip:       d("2.00"),
	})

	require.NoError(t, err)
	assert.True(t, d("10.00").Equal(o.Discount))
	assert.True(t, d("22.00").Equal(o.Total))
	assert.True(t, d("10.00").Equal(o.Items[0].Price))
	assert.True(t, d("10.00").Equal(o.Items[1].Price))
	assert.Equal(t, 3, o.Items[0].Quantity)
}

func TestCreateOrder_ExpiredPromo(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	expired := &promo.Promo{ID: "p3", Code: "OLD", Type: promo.TypeOrderPercent, Value: d("10"), Active: true, ExpiresAt: &past}
	f := newFixture(t, expired)

	_, err := f.svc.CreateOrder(context.Background(), CreateRequest{
		Items:     []ItemRequest{{ProductID: "1", Quantity: 1}},
		PromoCode: "OLD",
	})

	require.ErrorIs(t, err, promo.ErrExpired)
	assert.Empty(t, f.orders.orders)
	assert.Zero(t, expired.UsedCount)
}

func TestCreateOrder_LastUseTakenConcurrently(t *testing.T) {
	limited := &promo.Promo{ID: "p4", Code: "ONCE", Type: promo.TypeGiftCertificate, Value: d("5"), Active: true, MaxUses: intPtr(1)}
	f := newFixture(t, limited)

	// Another order redeemed the last use after this one passed lookup.
	f.orders.promos = &mockPromoRepo{byCode: map[string]*promo.Promo{
		"ONCE": {ID: "p4", Code: "ONCE", Active: true, MaxUses: intPtr(1), UsedCount: 1},
	}}

	_, err := f.svc.CreateOrder(context.Background(), CreateRequest{
		Items:     []ItemRequest{{ProductID: "1", Quantity: 1}},
		PromoCode: "ONCE",
	})
	require.ErrorIs(t, err, promo.ErrExhausted)
	assert.Empty(t, f.orders.orders)
	assert.Empty(t, f.orders.redeemed)
}

func TestCreateOrder_RepositoryError(t *testing.T) {
	f := newFixture(t)
	f.orders.createErr = errors.New("db write failed")

	_, err := f.svc.CreateOrder(context.Background(), CreateRequest{
		Items: []ItemRequest{{ProductID: "1", Quantity: 1}},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "create order")
}

func TestCreateOrder_NilMetrics(t *testing.T) {
	f := newFixture(t)
	f.svc.metrics = nil

	_, err := f.svc.CreateOrder(context.Background(), CreateRequest{
		Items: []ItemRequest{{ProductID: "1", Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = f.svc.CreateOrder(context.Background(), CreateRequest{})
	require.ErrorIs(t, err, ErrEmptyItems)
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, CreateRequest{
		UserID: "u1",
		Items:  []ItemRequest{{ProductID: "1", Quantity: 1}},
	})
	require.NoError(t, err)

	t.Run("partial fields", func(t *testing.T) {
		addr := "221B Baker St"
		total := d("4.999")
		got, err := f.svc.Update(ctx, o.ID, AdminUpdate{Address: &addr, Total: &total})
		require.NoError(t, err)
		assert.Equal(t, "221B Baker St", got.Address)
		assert.True(t, d("5.00").Equal(got.Total))
		assert.Equal(t, StatusPending, got.Status)
	})

	t.Run("status change", func(t *testing.T) {
		got, err := f.svc.ChangeStatus(ctx, o.ID, "delivered")
		require.NoError(t, err)
		assert.Equal(t, StatusDelivered, got.Status)
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		_, err := f.svc.ChangeStatus(ctx, o.ID, "LOST")
		var sErr *InvalidStatusError
		require.ErrorAs(t, err, &sErr)
		assert.Equal(t, "LOST", sErr.Value)
	})

	t.Run("negative discount rejected", func(t *testing.T) {
		neg := d("-1")
		_, err := f.svc.Update(ctx, o.ID, AdminUpdate{Discount: &neg})
		require.ErrorIs(t, err, pricing.ErrNegativeAmount)
	})

	t.Run("missing order", func(t *testing.T) {
		_, err := f.svc.ChangeStatus(ctx, "nope", "CONFIRMED")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestListByUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, user := range []string{"u1", "u1", "u2"} {
		_, err := f.svc.CreateOrder(ctx, CreateRequest{
			UserID: user,
			Items:  []ItemRequest{{ProductID: "3", Quantity: 1}},
		})
		require.NoError(t, err)
	}

	orders, err := f.svc.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	all, err := f.svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestParsePaymentMethod(t *testing.T) {
	assert.Equal(t, PaymentCardOnDelivery, ParsePaymentMethod("CARD_ON_DELIVERY"))
	assert.Equal(t, PaymentCash, ParsePaymentMethod(""))
	assert.Equal(t, PaymentCash, ParsePaymentMethod("card_online"))
}
