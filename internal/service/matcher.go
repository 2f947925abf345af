package service

import (
	"context"

	"stock-reconciler/internal/models"
)

// ProductFinder is the subset of the store the matcher needs. All lookups
// return (nil, nil) when no row matches.
type ProductFinder interface {
	FindActiveByExternalID(ctx context.Context, externalID string) (*models.Product, error)
	FindByExternalID(ctx context.Context, externalID string) (*models.Product, error)
	FindByInternalCode(ctx context.Context, code string) (*models.Product, error)
}

// Matcher resolves an inbound identifier/code pair to one local product.
type Matcher struct {
	store ProductFinder
}

func NewMatcher(store ProductFinder) *Matcher {
	return &Matcher{store: store}
}

// Resolve applies the fallback cascade, first match wins:
//
//  1. active row whose external_id equals the identifier
//  2. row whose external_id equals the code (legacy rows stored the code in
//     the identifier column)
//  3. row whose internal_code equals the code
//
// The order matters: later strategies are weaker fallbacks covering schema
// drift, and must never shadow an exact identifier match. Returns (nil, nil)
// when nothing matches.
func (m *Matcher) Resolve(ctx context.Context, externalID, code string) (*models.Product, error) {
	if externalID != "" {
		product, err := m.store.FindActiveByExternalID(ctx, externalID)
		if err != nil {
			return nil, err
		}
		if product != nil {
			return product, nil
		}
	}

	if code != "" {
		product, err := m.store.FindByExternalID(ctx, code)
		if err != nil {
			return nil, err
		}
		if product != nil {
			return product, nil
		}

		product, err = m.store.FindByInternalCode(ctx, code)
		if err != nil {
			return nil, err
		}
		if product != nil {
			return product, nil
		}
	}

	return nil, nil
}
