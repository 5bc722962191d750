package promo

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/cookieshop/internal/domain/product"
)

// ValidationError reports a rejected admin input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// CreateParams holds the input for creating a promo code.
type CreateParams struct {
	Code      string
	Type      Type
	Value     decimal.Decimal
	ProductID string
	MaxUses   *int
	ExpiresAt *time.Time
	Active    bool
	Metadata  string
}

// UpdateParams holds a partial update. Nil fields are left unchanged. An
// empty ProductID unlinks the product.
type UpdateParams struct {
	Code      *string
	Type      *Type
	Value     *decimal.Decimal
	ProductID *string
	MaxUses   *int
	// ClearMaxUses removes the usage limit.
	ClearMaxUses bool
	ExpiresAt    *time.Time
	// ClearExpiry removes the expiry.
	ClearExpiry bool
	Active      *bool
	Metadata    *string
}

// Service implements admin management of promo codes.
type Service struct {
	promos   Repository
	products product.Repository
	now      func() time.Time
}

// NewService creates a promo Service.
func NewService(promos Repository, products product.Repository) *Service {
	return &Service{promos: promos, products: products, now: time.Now}
}

// List returns all promo codes.
func (s *Service) List(ctx context.Context) ([]Promo, error) {
	promos, err := s.promos.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list promos")
	}
	return promos, nil
}

// Get returns the promo with the given id.
func (s *Service) Get(ctx context.Context, id string) (*Promo, error) {
	p, err := s.promos.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get promo")
	}
	return p, nil
}

// Create validates and stores a new promo code.
func (s *Service) Create(ctx context.Context, params CreateParams) (*Promo, error) {
	now := s.now()
	p := &Promo{
		ID:        uuid.New().String(),
		Code:      NormalizeCode(params.Code),
		Type:      params.Type,
		Value:     params.Value,
		ProductID: params.ProductID,
		MaxUses:   params.MaxUses,
		ExpiresAt: params.ExpiresAt,
		Active:    params.Active,
		Metadata:  params.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.validate(ctx, p, true); err != nil {
		return nil, err
	}
	if err := s.ensureCodeFree(ctx, p.Code, ""); err != nil {
		return nil, err
	}

	if err := s.promos.Create(ctx, p); err != nil {
		return nil, errors.Wrap(err, "create promo")
	}
	return p, nil
}

// Update applies a partial update to the promo with the given id.
func (s *Service) Update(ctx context.Context, id string, params UpdateParams) (*Promo, error) {
	p, err := s.promos.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get promo")
	}

	expiryChanged := false
	if params.Code != nil {
		p.Code = NormalizeCode(*params.Code)
	}
	if params.Type != nil {
		p.Type = *params.Type
	}
	if params.Value != nil {
		p.Value = *params.Value
	}
	if params.ProductID != nil {
		p.ProductID = *params.ProductID
	}
	switch {
	case params.ClearMaxUses:
		p.MaxUses = nil
	case params.MaxUses != nil:
		p.MaxUses = params.MaxUses
	}
	switch {
	case params.ClearExpiry:
		p.ExpiresAt = nil
	case params.ExpiresAt != nil:
		p.ExpiresAt = params.ExpiresAt
		expiryChanged = true
	}
	if params.Active != nil {
		p.Active = *params.Active
	}
	if params.Metadata != nil {
		p.Metadata = *params.Metadata
	}
	p.UpdatedAt = s.now()

	if err := s.validate(ctx, p, expiryChanged); err != nil {
		return nil, err
	}
	if params.Code != nil {
		if err := s.ensureCodeFree(ctx, p.Code, p.ID); err != nil {
			return nil, err
		}
	}

	if err := s.promos.Update(ctx, p); err != nil {
		return nil, errors.Wrap(err, "update promo")
	}
	return p, nil
}

// Delete removes the promo. Orders keep their own snapshot of it.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.promos.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "delete promo")
	}
	return nil
}

func (s *Service) validate(ctx context.Context, p *Promo, checkExpiry bool) error {
	if p.Code == "" {
		return &ValidationError{Field: "code", Reason: "must not be empty"}
	}
	if !p.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown promo type %q", p.Type)}
	}
	if p.Value.IsNegative() {
		return &ValidationError{Field: "value", Reason: "must not be negative"}
	}
	if !p.Value.Equal(p.Value.Round(2)) {
		return &ValidationError{Field: "value", Reason: "must have at most 2 decimal places"}
	}
	if p.Type == TypeOrderPercent && p.Value.GreaterThan(decimal.NewFromInt(100)) {
		return &ValidationError{Field: "value", Reason: "percentage must be at most 100"}
	}
	if p.MaxUses != nil && *p.MaxUses < 0 {
		return &ValidationError{Field: "maxUses", Reason: "must not be negative"}
	}
	if checkExpiry && p.ExpiresAt != nil && !p.ExpiresAt.After(s.now()) {
		return &ValidationError{Field: "expiresAt", Reason: "must be in the future"}
	}
	if p.ProductID != "" {
		if _, err := s.products.GetByID(ctx, p.ProductID); err != nil {
			if errors.Is(err, product.ErrNotFound) {
				return &ValidationError{Field: "productId", Reason: fmt.Sprintf("product %s not found", p.ProductID)}
			}
			return errors.Wrap(err, "get linked product")
		}
	}
	return nil
}

func (s *Service) ensureCodeFree(ctx context.Context, code, selfID string) error {
	existing, err := s.promos.FindByCode(ctx, code)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return errors.Wrap(err, "check code")
	case existing.ID != selfID:
		return ErrCodeTaken
	default:
		return nil
	}
}
