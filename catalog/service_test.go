package catalog

import (
	"context"
	"fmt"
	"testing"
)

type fakeStore struct {
	products map[string]Product
	nextID   int
}

func (f *fakeStore) Create(ctx context.Context, sellerID string, input CreateInput) (Product, error) {
	f.nextID++
	p := Product{
		ID:       fmt.Sprintf("prod-%d", f.nextID),
		SellerID: sellerID,
		Title:    input.Title,
		Price:    input.Price,
	}
	if input.Description != "" {
		d := input.Description
		p.Description = &d
	}
	if f.products == nil {
		f.products = make(map[string]Product)
	}
	f.products[p.ID] = p
	return p, nil
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (Product, error) {
	p, ok := f.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) ListAvailable(ctx context.Context, limit int) ([]Product, error) {
	out := make([]Product, 0, len(f.products))
	for _, p := range f.products {
		if !p.Sold {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) ListBySeller(ctx context.Context, sellerID string) ([]Product, error) {
	out := make([]Product, 0, len(f.products))
	for _, p := range f.products {
		if p.SellerID == sellerID {
			out = append(out, p)
		}
	}
	return out, nil
}

func TestCreateListing(t *testing.T) {
	svc := NewService(&fakeStore{})
	ctx := context.Background()

	p, err := svc.Create(ctx, "seller-1", CreateInput{Title: "  Vintage camera ", Price: 150000})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Title != "Vintage camera" {
		t.Fatalf("title must be trimmed, got %q", p.Title)
	}

	if _, err := svc.Create(ctx, "seller-1", CreateInput{Title: "", Price: 100}); err == nil {
		t.Fatal("expected error for empty title")
	}
	if _, err := svc.Create(ctx, "seller-1", CreateInput{Title: "Thing", Price: 0}); err == nil {
		t.Fatal("expected error for non-positive price")
	}
}

func TestListAvailableHidesSold(t *testing.T) {
	store := &fakeStore{products: map[string]Product{
		"prod-1": {ID: "prod-1", SellerID: "seller-1", Title: "A", Price: 100},
		"prod-2": {ID: "prod-2", SellerID: "seller-1", Title: "B", Price: 200, Sold: true},
	}}
	svc := NewService(store)

	available, err := svc.ListAvailable(context.Background(), 10)
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(available) != 1 || available[0].ID != "prod-1" {
		t.Fatalf("sold listings must be hidden, got %v", available)
	}

	mine, err := svc.ListBySeller(context.Background(), "seller-1")
	if err != nil {
		t.Fatalf("list by seller: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("seller view must include sold listings, got %d", len(mine))
	}
}
