package handler

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/cookieshop/internal/domain/order"
	"github.com/xenking/cookieshop/internal/domain/promo"
)

type createPromoRequest struct {
	Code      string          `json:"code" validate:"required,max=64"`
	Type      string          `json:"type" validate:"required,oneof=ORDER_PERCENT PRODUCT_PERCENT BUY2GET1 GIFT_CERTIFICATE"`
	Value     decimal.Decimal `json:"value"`
	ProductID string          `json:"productId" validate:"max=64"`
	MaxUses   *int            `json:"maxUses" validate:"omitempty,min=0"`
	ExpiresAt *time.Time      `json:"expiresAt"`
	Active    *bool           `json:"active"`
	Metadata  string          `json:"metadata" validate:"max=2000"`
}

type updatePromoRequest struct {
	Code           *string          `json:"code" validate:"omitempty,max=64"`
	Type           *string          `json:"type" validate:"omitempty,oneof=ORDER_PERCENT PRODUCT_PERCENT BUY2GET1 GIFT_CERTIFICATE"`
	Value          *decimal.Decimal `json:"value"`
	ProductID      *string          `json:"productId" validate:"omitempty,max=64"`
	MaxUses        *int             `json:"maxUses" validate:"omitempty,min=0"`
	ClearMaxUses   bool             `json:"clearMaxUses"`
	ExpiresAt      *time.Time       `json:"expiresAt"`
	ClearExpiresAt bool             `json:"clearExpiresAt"`
	Active         *bool            `json:"active"`
	Metadata       *string          `json:"metadata" validate:"omitempty,max=2000"`
}

type updateOrderRequest struct {
	Recipient     *string          `json:"recipient" validate:"omitempty,max=200"`
	Address       *string          `json:"address" validate:"omitempty,max=500"`
	Comment       *string          `json:"comment" validate:"omitempty,max=1000"`
	PaymentMethod *string          `json:"paymentMethod" validate:"omitempty,max=32"`
	Status        *string          `json:"status"`
	TotalPrice    *decimal.Decimal `json:"totalPrice"`
	Discount      *decimal.Decimal `json:"discount"`
}

type changeStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// AdminListPromos returns all promo codes.
func (h *Handler) AdminListPromos(w http.ResponseWriter, r *http.Request) {
	promos, err := h.promos.List(r.Context())
	if err != nil {
		respondError(w, r, err, true)
		return
	}
	resp := make([]promoResponse, len(promos))
	for i := range promos {
		resp[i] = toPromoResponse(&promos[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

// AdminGetPromo returns a single promo code.
func (h *Handler) AdminGetPromo(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(r, "id")
	if !ok {
		notFound(w, "promo code")
		return
	}
	p, err := h.promos.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, err, true)
		return
	}
	writeJSON(w, http.StatusOK, toPromoResponse(p))
}

// AdminCreatePromo creates a promo code. Promos are active unless the body
// says otherwise.
func (h *Handler) AdminCreatePromo(w http.ResponseWriter, r *http.Request) {
	var req createPromoRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err, true)
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	p, err := h.promos.Create(r.Context(), promo.CreateParams{
		Code:      req.Code,
		Type:      promo.Type(req.Type),
		Value:     req.Value,
		ProductID: req.ProductID,
		MaxUses:   req.MaxUses,
		ExpiresAt: req.ExpiresAt,
		Active:    active,
		Metadata:  req.Metadata,
	})
	if err != nil {
		respondError(w, r, err, true)
		return
	}
	logAdminAction(r.Context(), "promo.create", p.ID)
	writeJSON(w, http.StatusCreated, toPromoResponse(p))
}

// AdminUpdatePromo applies a partial update to a promo code.
func (h *Handler) AdminUpdatePromo(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(r, "id")
	if !ok {
		notFound(w, "promo code")
		return
	}
	var req updatePromoRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err, true)
		return
	}
	params := promo.UpdateParams{
		Code:         req.Code,
		Value:        req.Value,
		ProductID:    req.ProductID,
		MaxUses:      req.MaxUses,
		ClearMaxUses: req.ClearMaxUses,
		ExpiresAt:    req.ExpiresAt,
		ClearExpiry:  req.ClearExpiresAt,
		Active:       req.Active,
		Metadata:     req.Metadata,
	}
	if req.Type != nil {
		t := promo.Type(*req.Type)
		params.Type = &t
	}
	p, err := h.promos.Update(r.Context(), id, params)
	if err != nil {
		respondError(w, r, err, true)
		return
	}
	logAdminAction(r.Context(), "promo.update", p.ID)
	writeJSON(w, http.StatusOK, toPromoResponse(p))
}

// AdminDeletePromo deletes a promo code. Orders keep their snapshot.
func (h *Handler) AdminDeletePromo(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(r, "id")
	if !ok {
		notFound(w, "promo code")
		return
	}
	if err := h.promos.Delete(r.Context(), id); err != nil {
		respondError(w, r, err, true)
		return
	}
	logAdminAction(r.Context(), "promo.delete", id)
	w.WriteHeader(http.StatusNoContent)
}

// AdminListOrders returns every order.
func (h *Handler) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.List(r.Context())
	if err != nil {
		respondError(w, r, err, false)
		return
	}
	writeJSON(w, http.StatusOK, toOrderList(orders))
}

// AdminGetOrder returns a single order.
func (h *Handler) AdminGetOrder(w http.ResponseWriter, r *http.Request) {
	h.GetOrder(w, r)
}

// AdminUpdateOrder applies a partial admin edit to an order.
func (h *Handler) AdminUpdateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(r, "id")
	if !ok {
		notFound(w, "order")
		return
	}
	var req updateOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err, false)
		return
	}
	o, err := h.orders.Update(r.Context(), id, order.AdminUpdate{
		Recipient:     req.Recipient,
		Address:       req.Address,
		Comment:       req.Comment,
		PaymentMethod: req.PaymentMethod,
		Status:        req.Status,
		Total:         req.TotalPrice,
		Discount:      req.Discount,
	})
	if err != nil {
		respondError(w, r, err, false)
		return
	}
	logAdminAction(r.Context(), "order.update", o.ID)
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// AdminChangeOrderStatus sets the order status.
func (h *Handler) AdminChangeOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(r, "id")
	if !ok {
		notFound(w, "order")
		return
	}
	var req changeStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err, false)
		return
	}
	o, err := h.orders.ChangeStatus(r.Context(), id, req.Status)
	if err != nil {
		respondError(w, r, err, false)
		return
	}
	logAdminAction(r.Context(), "order.status", o.ID)
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}
