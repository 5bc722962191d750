package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/cookieshop/internal/domain/order"
	"github.com/xenking/cookieshop/internal/domain/promo"
)

const (
	orderColumns = `id::text, user_id, total_price, discount, tip, status, payment_method,
		promo_code, promo_type, promo_value, COALESCE(promo_product_id, ''),
		recipient, address, comment, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders
		(id, user_id, total_price, discount, tip, status, payment_method,
		 promo_code, promo_type, promo_value, promo_product_id,
		 recipient, address, comment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 ORDER BY created_at DESC`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC`

	listOrderItemsSQL = `SELECT order_id::text, product_id, quantity, price FROM order_items
		WHERE order_id = ANY($1::uuid[]) ORDER BY order_id, position`

	updateOrderSQL = `UPDATE orders SET
		total_price = $2, discount = $3, status = $4, payment_method = $5,
		recipient = $6, address = $7, comment = $8, updated_at = $9
		WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order, its items and the promo redemption in a single
// transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, redeemPromoID string) error {
	orderID, err := uuid.Parse(o.ID)
	if err != nil {
		return fmt.Errorf("parsing order id %q: %w", o.ID, err)
	}

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if redeemPromoID != "" {
			if err := redeemPromo(ctx, tx, redeemPromoID); err != nil {
				return err
			}
		}

		var (
			promoCode, promoType, promoProduct *string
			promoValue                         decimal.NullDecimal
		)
		if s := o.Promo; s != nil {
			t := string(s.Type)
			promoCode, promoType, promoProduct = &s.Code, &t, nullString(s.ProductID)
			promoValue = decimal.NewNullDecimal(s.Value)
		}

		_, err := tx.Exec(ctx, createOrderSQL,
			o.ID, o.UserID, o.Total, o.Discount, o.Tip, string(o.Status), string(o.PaymentMethod),
			promoCode, promoType, promoValue, promoProduct,
			o.Recipient, o.Address, o.Comment, o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting order: %w", err)
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"order_items"},
			[]string{"order_id", "position", "product_id", "quantity", "price"},
			pgx.CopyFromSlice(len(o.Items), func(i int) ([]any, error) {
				it := o.Items[i]
				return []any{orderID, i, it.ProductID, it.Quantity, it.Price}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("inserting order items: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, promo.ErrExhausted) {
			return err
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns the order with its items.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	orders := []order.Order{o}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	return r.list(ctx, listOrdersByUserSQL, userID)
}

// List returns all orders, newest first.
func (r *OrderRepository) List(ctx context.Context) ([]order.Order, error) {
	return r.list(ctx, listOrdersSQL)
}

// Update writes the admin-editable fields of the order.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	tag, err := r.pool.Exec(ctx, updateOrderSQL,
		o.ID, o.Total, o.Discount, string(o.Status), string(o.PaymentMethod),
		o.Recipient, o.Address, o.Comment, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) list(ctx context.Context, query string, args ...any) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// attachItems loads the items of all orders with one query.
func (r *OrderRepository) attachItems(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := r.pool.Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			it      order.Item
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Quantity, &it.Price); err != nil {
			return fmt.Errorf("scanning order item: %w", err)
		}
		if i, ok := index[orderID]; ok {
			orders[i].Items = append(orders[i].Items, it)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		status        string
		paymentMethod string
		promoCode     *string
		promoType     *string
		promoValue    decimal.NullDecimal
		promoProduct  string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.Total, &o.Discount, &o.Tip, &status, &paymentMethod,
		&promoCode, &promoType, &promoValue, &promoProduct,
		&o.Recipient, &o.Address, &o.Comment, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	o.PaymentMethod = order.PaymentMethod(paymentMethod)
	if promoCode != nil {
		o.Promo = &promo.Snapshot{
			Code:      *promoCode,
			Value:     promoValue.Decimal,
			ProductID: promoProduct,
		}
		if promoType != nil {
			o.Promo.Type = promo.Type(*promoType)
		}
	}
	return o, err
}
