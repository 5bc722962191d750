// Command seed-db migrates the database and loads the demo catalog, demo
// promo codes and an admin API key.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/cookieshop/internal/domain/auth"
	"github.com/xenking/cookieshop/internal/domain/product"
	"github.com/xenking/cookieshop/internal/domain/promo"
	"github.com/xenking/cookieshop/internal/storage/postgres"
)

type productJSON struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"imageUrl"`
	Description string          `json:"description"`
	Ingredients string          `json:"ingredients"`
	Calories    string          `json:"calories"`
	Story       string          `json:"story"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("SHOP_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or SHOP_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("SHOP_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, postgres.NewProductRepository(pool), productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedPromos(ctx, pool); err != nil {
		return errors.Wrap(err, "seed promos")
	}

	if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedProducts(ctx context.Context, repo *postgres.ProductRepository, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if err := repo.Upsert(ctx, product.Product{
			ID:          p.ID,
			Title:       p.Title,
			Price:       p.Price,
			ImageURL:    p.ImageURL,
			Description: p.Description,
			Ingredients: p.Ingredients,
			Calories:    p.Calories,
			Story:       p.Story,
		}); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("title", p.Title))
	}

	return nil
}

// demoPromos covers every promo type. Existing codes are left untouched so
// re-running the seed does not reset usage counters.
func demoPromos() []promo.Promo {
	maxUses := 100
	expires := time.Now().AddDate(1, 0, 0).UTC()
	return []promo.Promo{
		{Code: "SAVE10", Type: promo.TypeOrderPercent, Value: decimal.NewFromInt(10), Metadata: "10% off the whole order"},
		{Code: "GIFT20", Type: promo.TypeGiftCertificate, Value: decimal.NewFromInt(20), MaxUses: &maxUses, Metadata: "20.00 gift certificate"},
		{Code: "BUY2GET1", Type: promo.TypeBuy2Get1, Metadata: "Pay for half of every multi-cookie line, rounded up"},
		{Code: "CHOC25", Type: promo.TypeProductPercent, Value: decimal.NewFromInt(25), ProductID: "chocolate-chip", ExpiresAt: &expires, Metadata: "25% off Chocolate Chip"},
	}
}

func seedPromos(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding demo promo codes")

	repo := postgres.NewPromoRepository(pool)
	for _, p := range demoPromos() {
		exists, err := repo.CodeExists(ctx, p.Code)
		if err != nil {
			return errors.Wrapf(err, "check promo %s", p.Code)
		}
		if exists {
			slog.Info("promo already present", slog.String("code", p.Code))
			continue
		}

		now := time.Now()
		p.ID = uuid.NewString()
		p.Active = true
		p.CreatedAt, p.UpdatedAt = now, now
		if err := repo.Create(ctx, &p); err != nil {
			return errors.Wrapf(err, "create promo %s", p.Code)
		}

		slog.Info("created promo", slog.String("code", p.Code), slog.String("type", string(p.Type)))
	}

	return nil
}

func seedAPIKey(ctx context.Context, repo *postgres.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding admin API key")

	if err := repo.Upsert(ctx, "admin", auth.HashKey([]byte(pepper), apiKey), "Default admin key", []string{auth.ScopeAdmin}); err != nil {
		return errors.Wrap(err, "upsert admin API key")
	}

	slog.Info("upserted API key", slog.String("id", "admin"), slog.String("name", "Default admin key"))

	return nil
}
