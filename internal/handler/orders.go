package handler

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/cookieshop/internal/domain/order"
)

type orderItemRequest struct {
	ProductID string           `json:"productId" validate:"required,max=64"`
	Quantity  int              `json:"quantity" validate:"max=10000"`
	Price     *decimal.Decimal `json:"price"`
}

type createOrderRequest struct {
	Items         []orderItemRequest `json:"items" validate:"dive"`
	TotalPrice    *decimal.Decimal   `json:"totalPrice"`
	PromoCode     string             `json:"promoCode" validate:"max=64"`
	Discount      *decimal.Decimal   `json:"discount"`
	FinalTotal    *decimal.Decimal   `json:"finalTotal"`
	Tip           *decimal.Decimal   `json:"tip"`
	Recipient     string             `json:"recipient" validate:"max=200"`
	Address       string             `json:"address" validate:"max=500"`
	Comment       string             `json:"comment" validate:"max=1000"`
	PaymentMethod string             `json:"paymentMethod" validate:"max=32"`
}

func (req *createOrderRequest) toDomain(userID string) order.CreateRequest {
	items := make([]order.ItemRequest, len(req.Items))
	for i, it := range req.Items {
		items[i] = order.ItemRequest{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price,
		}
	}
	var tip decimal.Decimal
	if req.Tip != nil {
		tip = *req.Tip
	}
	return order.CreateRequest{
		UserID:        userID,
		Items:         items,
		TotalPrice:    req.TotalPrice,
		PromoCode:     req.PromoCode,
		Discount:      req.Discount,
		FinalTotal:    req.FinalTotal,
		Tip:           tip,
		Recipient:     req.Recipient,
		Address:       req.Address,
		Comment:       req.Comment,
		PaymentMethod: req.PaymentMethod,
	}
}

// CreateOrder prices and places an order for the X-User-Id caller.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err, false)
		return
	}
	userID := strings.TrimSpace(r.Header.Get(UserIDHeader))

	o, err := h.orders.CreateOrder(r.Context(), req.toDomain(userID))
	if err != nil {
		respondError(w, r, err, false)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

// ListUserOrders returns the caller's orders, newest first.
func (h *Handler) ListUserOrders(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
	orders, err := h.orders.ListByUser(r.Context(), userID)
	if err != nil {
		respondError(w, r, err, false)
		return
	}
	writeJSON(w, http.StatusOK, toOrderList(orders))
}

// GetOrder returns a single order.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(r, "id")
	if !ok {
		notFound(w, "order")
		return
	}
	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, err, false)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}
