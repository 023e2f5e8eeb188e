package services

import (
	"context"
	"fmt"

	"github.com/gosimple/slug"
)

// SlugChecker is the store dependency of the allocator
type SlugChecker interface {
	SlugExists(ctx context.Context, slug string) (bool, error)
}

// SlugAllocator derives unique URL-safe slugs from report titles. The
// contract is first-available integer suffix: "ai-market", "ai-market-1",
// "ai-market-2", deterministic for a given title and existing-slug set.
// Races between concurrent allocations are resolved by the store's unique
// constraint and the finalize retry, not here.
type SlugAllocator struct {
	store SlugChecker
}

// NewSlugAllocator creates a slug allocator backed by the given store
func NewSlugAllocator(store SlugChecker) *SlugAllocator {
	return &SlugAllocator{store: store}
}

// Allocate returns the first free slug derived from the title
func (a *SlugAllocator) Allocate(ctx context.Context, title string) (string, error) {
	base := slug.Make(title)
	if base == "" {
		base = "report"
	}

	candidate := base
	for counter := 1; ; counter++ {
		exists, err := a.store.SlugExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("allocate slug: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, counter)
	}
}
