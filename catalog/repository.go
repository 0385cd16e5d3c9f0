package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested product does not exist.
var ErrNotFound = errors.New("catalog: not found")

const productColumns = `
	id, seller_id, title, description, price, image_refs, sold, created_at, updated_at`

// Repository persists product listings.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, sellerID string, input CreateInput) (Product, error) {
	insertSQL := `
		INSERT INTO products (seller_id, title, description, price, image_refs)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		RETURNING` + productColumns

	p, err := scanProduct(r.pool.QueryRow(ctx, insertSQL,
		sellerID, input.Title, input.Description, input.Price, input.ImageRefs))
	if err != nil {
		return Product{}, fmt.Errorf("catalog: insert: %w", err)
	}
	return p, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, `SELECT`+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("catalog: query by id: %w", err)
	}
	return p, nil
}

// ListAvailable fetches up to limit unsold listings, newest first.
func (r *Repository) ListAvailable(ctx context.Context, limit int) ([]Product, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx,
		`SELECT`+productColumns+` FROM products WHERE sold = false ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: list available: %w", err)
	}
	return collectProducts(rows, limit)
}

// ListBySeller fetches every listing owned by the seller, sold or not.
func (r *Repository) ListBySeller(ctx context.Context, sellerID string) ([]Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT`+productColumns+` FROM products WHERE seller_id = $1 ORDER BY created_at DESC`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list by seller: %w", err)
	}
	return collectProducts(rows, 16)
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SellerID, &p.Title, &p.Description, &p.Price,
		&p.ImageRefs, &p.Sold, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Product{}, err
	}
	return p, nil
}

func collectProducts(rows pgx.Rows, sizeHint int) ([]Product, error) {
	defer rows.Close()
	out := make([]Product, 0, sizeHint)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate products: %w", err)
	}
	return out, nil
}
