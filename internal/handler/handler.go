// Package handler exposes the storefront and admin HTTP API.
package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/cookieshop/internal/domain/order"
	"github.com/xenking/cookieshop/internal/domain/product"
	"github.com/xenking/cookieshop/internal/domain/promo"
	"github.com/xenking/cookieshop/pkg/httpmiddleware"
)

// UserIDHeader identifies the customer placing or listing orders.
const UserIDHeader = "X-User-Id"

// OrderService is the order workflow used by the handlers.
type OrderService interface {
	CreateOrder(ctx context.Context, req order.CreateRequest) (*order.Order, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	ListByUser(ctx context.Context, userID string) ([]order.Order, error)
	List(ctx context.Context) ([]order.Order, error)
	Update(ctx context.Context, id string, upd order.AdminUpdate) (*order.Order, error)
	ChangeStatus(ctx context.Context, id, status string) (*order.Order, error)
}

// PromoService is the promo administration used by the handlers.
type PromoService interface {
	List(ctx context.Context) ([]promo.Promo, error)
	Get(ctx context.Context, id string) (*promo.Promo, error)
	Create(ctx context.Context, params promo.CreateParams) (*promo.Promo, error)
	Update(ctx context.Context, id string, params promo.UpdateParams) (*promo.Promo, error)
	Delete(ctx context.Context, id string) error
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	// When empty, image paths are returned as stored in the database.
	ImageBaseURL string
}

// Handler serves the API, delegating business logic to the domain services.
type Handler struct {
	products     product.Repository
	orders       OrderService
	promos       PromoService
	imageBaseURL string
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg Config,
	products product.Repository,
	orders OrderService,
	promos PromoService,
) *Handler {
	return &Handler{
		products:     products,
		orders:       orders,
		promos:       promos,
		imageBaseURL: strings.TrimRight(cfg.ImageBaseURL, "/"),
	}
}

// Mount registers the API routes on r under /api. Admin routes require an
// API key checked by sec. idempotency wraps order creation.
func (h *Handler) Mount(r chi.Router, sec *SecurityHandler, idempotency httpmiddleware.Middleware) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Get("/products/{id}", h.GetProduct)

		r.With(idempotency).Post("/orders", h.CreateOrder)
		r.Get("/orders/user", h.ListUserOrders)
		r.Get("/orders/{id}", h.GetOrder)

		r.Route("/admin", func(r chi.Router) {
			r.Use(sec.Require(adminScope))

			r.Get("/promos", h.AdminListPromos)
			r.Post("/promos", h.AdminCreatePromo)
			r.Get("/promos/{id}", h.AdminGetPromo)
			r.Patch("/promos/{id}", h.AdminUpdatePromo)
			r.Delete("/promos/{id}", h.AdminDeletePromo)

			r.Get("/orders", h.AdminListOrders)
			r.Get("/orders/{id}", h.AdminGetOrder)
			r.Patch("/orders/{id}", h.AdminUpdateOrder)
			r.Post("/orders/{id}/status", h.AdminChangeOrderStatus)
		})
	})
}

// IdempotencyScope scopes idempotency keys to the calling user.
func IdempotencyScope(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserIDHeader))
}

func (h *Handler) imageURL(path string) string {
	if h.imageBaseURL == "" || path == "" ||
		strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return h.imageBaseURL + "/" + strings.TrimLeft(path, "/")
}
