//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/cookieshop/internal/domain/order"
	"github.com/xenking/cookieshop/internal/domain/product"
	"github.com/xenking/cookieshop/internal/domain/promo"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "shop",
				"POSTGRES_PASSWORD": "shop",
				"POSTGRES_DB":       "shop",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() { _ = ctr.Terminate(context.Background()) }()

	host, err := ctr.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://shop:shop@%s:%s/shop?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	// Second run must be a no-op.
	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations rerun: %v", err)
	}

	return m.Run()
}

func seedProducts(t *testing.T, products ...product.Product) {
	t.Helper()
	repo := NewProductRepository(testPool)
	for _, p := range products {
		require.NoError(t, repo.Upsert(context.Background(), p))
	}
}

func newPromo(code string, typ promo.Type, value string, maxUses *int) *promo.Promo {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &promo.Promo{
		ID:        uuid.New().String(),
		Code:      code,
		Type:      typ,
		Value:     decimal.RequireFromString(value),
		MaxUses:   maxUses,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newOrder(userID string, items ...order.Item) *order.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &order.Order{
		ID:            uuid.New().String(),
		UserID:        userID,
		Items:         items,
		Total:         decimal.RequireFromString("10.00"),
		Discount:      decimal.Zero,
		Tip:           decimal.Zero,
		Status:        order.StatusPending,
		PaymentMethod: order.PaymentCash,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func intPtr(v int) *int { return &v }

func TestProductRepository(t *testing.T) {
	ctx := context.Background()
	seedProducts(t,
		product.Product{ID: "p-choc", Title: "Chocolate chip", Price: decimal.RequireFromString("2.50")},
		product.Product{ID: "p-oat", Title: "Oatmeal", Price: decimal.RequireFromString("2.00")},
	)
	repo := NewProductRepository(testPool)

	got, err := repo.GetByID(ctx, "p-choc")
	require.NoError(t, err)
	assert.Equal(t, "Chocolate chip", got.Title)
	assert.True(t, decimal.RequireFromString("2.50").Equal(got.Price))

	_, err = repo.GetByID(ctx, "p-missing")
	require.ErrorIs(t, err, product.ErrNotFound)

	batch, err := repo.GetByIDs(ctx, []string{"p-choc", "p-oat", "p-missing"})
	require.NoError(t, err)
	assert.Len(t, batch, 2)
}

func TestPromoRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewPromoRepository(testPool)

	p := newPromo("REPO10", promo.TypeOrderPercent, "10", nil)
	require.NoError(t, repo.Create(ctx, p))

	got, err := repo.FindByCode(ctx, "repo10")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Nil(t, got.MaxUses)
	assert.Empty(t, got.ProductID)

	dup := newPromo("repo10", promo.TypeGiftCertificate, "5", nil)
	require.ErrorIs(t, repo.Create(ctx, dup), promo.ErrCodeTaken)

	exists, err := repo.CodeExists(ctx, "Repo10")
	require.NoError(t, err)
	assert.True(t, exists)

	got.Active = false
	got.MaxUses = intPtr(7)
	require.NoError(t, repo.Update(ctx, got))
	got, err = repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	require.NotNil(t, got.MaxUses)
	assert.Equal(t, 7, *got.MaxUses)

	require.NoError(t, repo.Delete(ctx, p.ID))
	require.ErrorIs(t, repo.Delete(ctx, p.ID), promo.ErrNotFound)
	_, err = repo.FindByCode(ctx, "REPO10")
	require.ErrorIs(t, err, promo.ErrNotFound)
}

func TestOrderRepository_CreateAndRead(t *testing.T) {
	ctx := context.Background()
	seedProducts(t, product.Product{ID: "p-snap", Title: "Snickerdoodle", Price: decimal.RequireFromString("3.00")})
	promos := NewPromoRepository(testPool)
	orders := NewOrderRepository(testPool)

	p := newPromo("SNAPSHOT", promo.TypeProductPercent, "50", nil)
	p.ProductID = "p-snap"
	require.NoError(t, promos.Create(ctx, p))

	o := newOrder("reader",
		order.Item{ProductID: "p-snap", Quantity: 2, Price: decimal.RequireFromString("3.00")},
	)
	o.Promo = p.Snapshot()
	require.NoError(t, orders.Create(ctx, o, p.ID))

	stored, err := promos.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UsedCount)

	// The order keeps its snapshot after the promo is gone.
	require.NoError(t, promos.Delete(ctx, p.ID))

	got, err := orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 2, got.Items[0].Quantity)
	require.NotNil(t, got.Promo)
	assert.Equal(t, "SNAPSHOT", got.Promo.Code)
	assert.Equal(t, promo.TypeProductPercent, got.Promo.Type)
	assert.Equal(t, "p-snap", got.Promo.ProductID)

	_, err = orders.GetByID(ctx, uuid.New().String())
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestOrderRepository_ExhaustedPromoRollsBack(t *testing.T) {
	ctx := context.Background()
	seedProducts(t, product.Product{ID: "p-once", Title: "Shortbread", Price: decimal.RequireFromString("1.00")})
	promos := NewPromoRepository(testPool)
	orders := NewOrderRepository(testPool)

	p := newPromo("ONCEONLY", promo.TypeGiftCertificate, "1", intPtr(1))
	require.NoError(t, promos.Create(ctx, p))

	first := newOrder("once", order.Item{ProductID: "p-once", Quantity: 1, Price: decimal.RequireFromString("1.00")})
	require.NoError(t, orders.Create(ctx, first, p.ID))

	second := newOrder("once", order.Item{ProductID: "p-once", Quantity: 1, Price: decimal.RequireFromString("1.00")})
	require.ErrorIs(t, orders.Create(ctx, second, p.ID), promo.ErrExhausted)

	_, err := orders.GetByID(ctx, second.ID)
	require.ErrorIs(t, err, order.ErrNotFound)

	stored, err := promos.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UsedCount)
}

func TestOrderRepository_ConcurrentRedemption(t *testing.T) {
	ctx := context.Background()
	seedProducts(t, product.Product{ID: "p-race", Title: "Macaron", Price: decimal.RequireFromString("4.00")})
	promos := NewPromoRepository(testPool)
	orders := NewOrderRepository(testPool)

	p := newPromo("RACE3", promo.TypeOrderPercent, "10", intPtr(3))
	require.NoError(t, promos.Create(ctx, p))

	var placed, exhausted atomic.Int32
	var g errgroup.Group
	for range 10 {
		g.Go(func() error {
			o := newOrder("racer", order.Item{ProductID: "p-race", Quantity: 1, Price: decimal.RequireFromString("4.00")})
			err := orders.Create(ctx, o, p.ID)
			switch {
			case err == nil:
				placed.Add(1)
			case errors.Is(err, promo.ErrExhausted):
				exhausted.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 3, placed.Load())
	assert.EqualValues(t, 7, exhausted.Load())

	stored, err := promos.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.UsedCount)

	list, err := orders.ListByUser(ctx, "racer")
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestOrderRepository_Update(t *testing.T) {
	ctx := context.Background()
	seedProducts(t, product.Product{ID: "p-upd", Title: "Biscotti", Price: decimal.RequireFromString("2.00")})
	orders := NewOrderRepository(testPool)

	o := newOrder("updater", order.Item{ProductID: "p-upd", Quantity: 1, Price: decimal.RequireFromString("2.00")})
	require.NoError(t, orders.Create(ctx, o, ""))

	o.Status = order.StatusConfirmed
	o.Address = "1 Cookie Lane"
	require.NoError(t, orders.Update(ctx, o))

	got, err := orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, got.Status)
	assert.Equal(t, "1 Cookie Lane", got.Address)
	assert.Nil(t, got.Promo)

	missing := newOrder("updater")
	require.ErrorIs(t, orders.Update(ctx, missing), order.ErrNotFound)
}
