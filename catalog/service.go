package catalog

import (
	"context"
	"fmt"
	"strings"
)

// Store abstracts repository operations for the service.
type Store interface {
	Create(ctx context.Context, sellerID string, input CreateInput) (Product, error)
	GetByID(ctx context.Context, id string) (Product, error)
	ListAvailable(ctx context.Context, limit int) ([]Product, error)
	ListBySeller(ctx context.Context, sellerID string) ([]Product, error)
}

// Service exposes business-level listing operations.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create publishes a new listing for the seller. Price is fixed here; orders
// copy it at creation so it never changes under an open escrow.
func (s *Service) Create(ctx context.Context, sellerID string, input CreateInput) (Product, error) {
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return Product{}, fmt.Errorf("catalog: title is required")
	}
	if input.Price <= 0 {
		return Product{}, fmt.Errorf("catalog: price must be positive")
	}
	input.Description = strings.TrimSpace(input.Description)
	return s.store.Create(ctx, sellerID, input)
}

// GetByID returns the listing for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Product, error) {
	return s.store.GetByID(ctx, id)
}

// ListAvailable returns up to limit unsold listings.
func (s *Service) ListAvailable(ctx context.Context, limit int) ([]Product, error) {
	return s.store.ListAvailable(ctx, limit)
}

// ListBySeller returns the seller's own listings, including sold ones.
func (s *Service) ListBySeller(ctx context.Context, sellerID string) ([]Product, error) {
	return s.store.ListBySeller(ctx, sellerID)
}
