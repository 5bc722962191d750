// Package promo holds promo codes: their record shape, lookup rules, and the
// admin operations that create and change them.
package promo

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported promo discount strategies.
type Type string

const (
	// TypeOrderPercent takes a percentage off the order subtotal.
	TypeOrderPercent Type = "ORDER_PERCENT"
	// TypeProductPercent takes a percentage off lines of the linked product.
	TypeProductPercent Type = "PRODUCT_PERCENT"
	// TypeBuy2Get1 charges only half (rounded up) of each multi-unit line.
	TypeBuy2Get1 Type = "BUY2GET1"
	// TypeGiftCertificate is a fixed amount capped at the subtotal.
	TypeGiftCertificate Type = "GIFT_CERTIFICATE"
)

// Valid reports whether t is one of the known promo types.
func (t Type) Valid() bool {
	switch t {
	case TypeOrderPercent, TypeProductPercent, TypeBuy2Get1, TypeGiftCertificate:
		return true
	default:
		return false
	}
}

var (
	// ErrNotFound is returned when no promo matches the code or id.
	ErrNotFound = errors.New("promo code not found")
	// ErrInactive is returned when the promo's active flag is off.
	ErrInactive = errors.New("promo code is inactive")
	// ErrExpired is returned when the promo's expiry is in the past.
	ErrExpired = errors.New("promo code expired")
	// ErrExhausted is returned when the promo has no uses left.
	ErrExhausted = errors.New("promo code usage limit reached")
	// ErrCodeTaken is returned when another promo already uses the code.
	ErrCodeTaken = errors.New("promo code already exists")
)

// Promo is a stored promo code record.
type Promo struct {
	ID        string
	Code      string
	Type      Type
	Value     decimal.Decimal
	ProductID string // empty when not linked
	MaxUses   *int   // nil means unlimited
	UsedCount int
	ExpiresAt *time.Time
	Active    bool
	Metadata  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Exhausted reports whether the promo has reached its usage limit.
func (p *Promo) Exhausted() bool {
	return p.MaxUses != nil && p.UsedCount >= *p.MaxUses
}

// Snapshot freezes the parts of the promo that priced an order.
func (p *Promo) Snapshot() *Snapshot {
	return &Snapshot{
		Code:      p.Code,
		Type:      p.Type,
		Value:     p.Value,
		ProductID: p.ProductID,
	}
}

// Snapshot is the immutable copy of a promo embedded in an order. It stays
// valid after the promo itself is changed or deleted.
type Snapshot struct {
	Code      string          `json:"code"`
	Type      Type            `json:"type"`
	Value     decimal.Decimal `json:"value"`
	ProductID string          `json:"productId,omitempty"`
}

// NormalizeCode trims surrounding whitespace and uppercases the code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository provides persistence of promo codes. FindByCode matches
// case-insensitively and returns ErrNotFound when nothing matches.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Promo, error)
	GetByID(ctx context.Context, id string) (*Promo, error)
	List(ctx context.Context) ([]Promo, error)
	Create(ctx context.Context, p *Promo) error
	Update(ctx context.Context, p *Promo) error
	Delete(ctx context.Context, id string) error
}
