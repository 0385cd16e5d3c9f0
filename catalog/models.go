package catalog

import "time"

// Product is a seller listing. Price is in the currency's minor unit and is
// copied onto an order at creation, so later edits never change an in-flight
// escrow. Sold flips exactly once, when an order on the product completes.
type Product struct {
	ID          string
	SellerID    string
	Title       string
	Description *string
	Price       int64
	ImageRefs   []string
	Sold        bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateInput is the seller-supplied listing data.
type CreateInput struct {
	Title       string
	Description string
	Price       int64
	ImageRefs   []string
}
