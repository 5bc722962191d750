package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/cookieshop/internal/domain/order"
	"github.com/xenking/cookieshop/internal/domain/product"
	"github.com/xenking/cookieshop/internal/domain/promo"
)

type productResponse struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Price       float64 `json:"price"`
	ImageURL    string  `json:"imageUrl"`
	Description string  `json:"description"`
	Ingredients string  `json:"ingredients"`
	Calories    string  `json:"calories"`
	Story       string  `json:"story"`
}

type orderItemResponse struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type promoSnapshotResponse struct {
	Code      string  `json:"code"`
	Type      string  `json:"type"`
	Value     float64 `json:"value"`
	ProductID string  `json:"productId,omitempty"`
}

type orderResponse struct {
	ID            string                 `json:"id"`
	UserID        string                 `json:"userId"`
	Items         []orderItemResponse    `json:"items"`
	Discount      float64                `json:"discount"`
	Tip           float64                `json:"tip"`
	TotalPrice    float64                `json:"totalPrice"`
	Status        string                 `json:"status"`
	PaymentMethod string                 `json:"paymentMethod"`
	Promo         *promoSnapshotResponse `json:"promo,omitempty"`
	Recipient     string                 `json:"recipient,omitempty"`
	Address       string                 `json:"address,omitempty"`
	Comment       string                 `json:"comment,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
}

type promoResponse struct {
	ID        string     `json:"id"`
	Code      string     `json:"code"`
	Type      string     `json:"type"`
	Value     float64    `json:"value"`
	ProductID string     `json:"productId,omitempty"`
	MaxUses   *int       `json:"maxUses"`
	UsedCount int        `json:"usedCount"`
	ExpiresAt *time.Time `json:"expiresAt"`
	Active    bool       `json:"active"`
	Metadata  string     `json:"metadata,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func (h *Handler) toProductResponse(p *product.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		Title:       p.Title,
		Price:       money(p.Price),
		ImageURL:    h.imageURL(p.ImageURL),
		Description: p.Description,
		Ingredients: p.Ingredients,
		Calories:    p.Calories,
		Story:       p.Story,
	}
}

func toOrderResponse(o *order.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemResponse{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     money(it.Price),
		}
	}
	resp := orderResponse{
		ID:            o.ID,
		UserID:        o.UserID,
		Items:         items,
		Discount:      money(o.Discount),
		Tip:           money(o.Tip),
		TotalPrice:    money(o.Total),
		Status:        string(o.Status),
		PaymentMethod: string(o.PaymentMethod),
		Recipient:     o.Recipient,
		Address:       o.Address,
		Comment:       o.Comment,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	if o.Promo != nil {
		resp.Promo = &promoSnapshotResponse{
			Code:      o.Promo.Code,
			Type:      string(o.Promo.Type),
			Value:     o.Promo.Value.InexactFloat64(),
			ProductID: o.Promo.ProductID,
		}
	}
	return resp
}

func toOrderList(orders []order.Order) []orderResponse {
	resp := make([]orderResponse, len(orders))
	for i := range orders {
		resp[i] = toOrderResponse(&orders[i])
	}
	return resp
}

func toPromoResponse(p *promo.Promo) promoResponse {
	return promoResponse{
		ID:        p.ID,
		Code:      p.Code,
		Type:      string(p.Type),
		Value:     p.Value.InexactFloat64(),
		ProductID: p.ProductID,
		MaxUses:   p.MaxUses,
		UsedCount: p.UsedCount,
		ExpiresAt: p.ExpiresAt,
		Active:    p.Active,
		Metadata:  p.Metadata,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
