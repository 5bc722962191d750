package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Resolver resolves a raw promo code into a redeemable promo.
type Resolver interface {
	Resolve(ctx context.Context, code string) (*Promo, error)
}

// Lookup implements Resolver on top of a Repository.
type Lookup struct {
	repo Repository
	now  func() time.Time
}

// NewLookup creates a Lookup backed by the given Repository.
func NewLookup(repo Repository) *Lookup {
	return &Lookup{repo: repo, now: time.Now}
}

// Resolve normalizes the code and returns the matching promo when it can be
// redeemed right now. The checks run in a fixed order and the first failure
// wins: ErrNotFound, ErrInactive, ErrExpired, ErrExhausted. The returned
// record is not modified.
func (l *Lookup) Resolve(ctx context.Context, code string) (*Promo, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrNotFound
	}

	p, err := l.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup promo")
	}

	if !p.Active {
		return nil, ErrInactive
	}
	if p.ExpiresAt != nil && p.ExpiresAt.Before(l.now()) {
		return nil, ErrExpired
	}
	if p.Exhausted() {
		return nil, ErrExhausted
	}

	return p, nil
}
