package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/cookieshop/internal/domain/promo"
)

const (
	promoColumns = `id::text, code, type, value, COALESCE(product_id, ''), max_uses, used_count,
		expires_at, active, metadata, created_at, updated_at`

	findPromoByCodeSQL = `SELECT ` + promoColumns + ` FROM promo_codes WHERE UPPER(code) = UPPER($1)`

	getPromoByIDSQL = `SELECT ` + promoColumns + ` FROM promo_codes WHERE id = $1`

	listPromosSQL = `SELECT ` + promoColumns + ` FROM promo_codes ORDER BY created_at DESC, code`

	listPromoCodesSQL = `SELECT code FROM promo_codes`

	promoCodeExistsSQL = `SELECT EXISTS (SELECT 1 FROM promo_codes WHERE UPPER(code) = UPPER($1))`

	createPromoSQL = `INSERT INTO promo_codes
		(id, code, type, value, product_id, max_uses, used_count, expires_at, active, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	updatePromoSQL = `UPDATE promo_codes SET
		code = $2, type = $3, value = $4, product_id = $5, max_uses = $6,
		expires_at = $7, active = $8, metadata = $9, updated_at = $10
		WHERE id = $1`

	deletePromoSQL = `DELETE FROM promo_codes WHERE id = $1`

	// The guard re-checks the limit at write time so concurrent redemptions
	// of the last use cannot both succeed.
	redeemPromoSQL = `UPDATE promo_codes SET used_count = used_count + 1, updated_at = NOW()
		WHERE id = $1 AND active AND (max_uses IS NULL OR used_count < max_uses)`
)

const uniqueViolation = "23505"

var _ promo.Repository = (*PromoRepository)(nil)

// PromoRepository implements promo.Repository backed by PostgreSQL.
type PromoRepository struct {
	pool *pgxpool.Pool
}

// NewPromoRepository returns a PromoRepository that uses the given pool.
func NewPromoRepository(pool *pgxpool.Pool) *PromoRepository {
	return &PromoRepository{pool: pool}
}

// FindByCode looks up a promo by code, case-insensitively.
func (r *PromoRepository) FindByCode(ctx context.Context, code string) (*promo.Promo, error) {
	return r.queryOne(ctx, findPromoByCodeSQL, code)
}

// GetByID returns the promo with the given id.
func (r *PromoRepository) GetByID(ctx context.Context, id string) (*promo.Promo, error) {
	return r.queryOne(ctx, getPromoByIDSQL, id)
}

// List returns all promos, newest first.
func (r *PromoRepository) List(ctx context.Context) ([]promo.Promo, error) {
	rows, err := r.pool.Query(ctx, listPromosSQL)
	if err != nil {
		return nil, fmt.Errorf("listing promos: %w", err)
	}
	return pgx.CollectRows(rows, scanPromo)
}

// Codes returns every stored promo code.
func (r *PromoRepository) Codes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listPromoCodesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing promo codes: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// CodeExists reports whether a promo with the code exists, case-insensitively.
func (r *PromoRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, promoCodeExistsSQL, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking promo code %q: %w", code, err)
	}
	return exists, nil
}

// Create inserts a promo. It returns promo.ErrCodeTaken when the code is
// already in use.
func (r *PromoRepository) Create(ctx context.Context, p *promo.Promo) error {
	_, err := r.pool.Exec(ctx, createPromoSQL,
		p.ID, p.Code, string(p.Type), p.Value, nullString(p.ProductID), p.MaxUses, p.UsedCount,
		p.ExpiresAt, p.Active, p.Metadata, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return promo.ErrCodeTaken
		}
		return fmt.Errorf("creating promo %q: %w", p.Code, err)
	}
	return nil
}

// Update overwrites the mutable fields of a promo. The usage counter is
// never written here.
func (r *PromoRepository) Update(ctx context.Context, p *promo.Promo) error {
	tag, err := r.pool.Exec(ctx, updatePromoSQL,
		p.ID, p.Code, string(p.Type), p.Value, nullString(p.ProductID), p.MaxUses,
		p.ExpiresAt, p.Active, p.Metadata, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return promo.ErrCodeTaken
		}
		return fmt.Errorf("updating promo %q: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return promo.ErrNotFound
	}
	return nil
}

// Delete removes a promo.
func (r *PromoRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deletePromoSQL, id)
	if err != nil {
		return fmt.Errorf("deleting promo %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return promo.ErrNotFound
	}
	return nil
}

func (r *PromoRepository) queryOne(ctx context.Context, query string, arg any) (*promo.Promo, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("finding promo %q: %w", arg, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPromo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promo.ErrNotFound
		}
		return nil, fmt.Errorf("finding promo %q: %w", arg, err)
	}
	return &p, nil
}

// redeemPromo consumes one use of the promo inside tx.
func redeemPromo(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, redeemPromoSQL, id)
	if err != nil {
		return fmt.Errorf("redeeming promo %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return promo.ErrExhausted
	}
	return nil
}

func scanPromo(row pgx.CollectableRow) (promo.Promo, error) {
	var (
		p         promo.Promo
		promoType string
		expiresAt *time.Time
	)
	err := row.Scan(
		&p.ID, &p.Code, &promoType, &p.Value, &p.ProductID, &p.MaxUses, &p.UsedCount,
		&expiresAt, &p.Active, &p.Metadata, &p.CreatedAt, &p.UpdatedAt,
	)
	p.Type = promo.Type(promoType)
	p.ExpiresAt = expiresAt
	return p, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
