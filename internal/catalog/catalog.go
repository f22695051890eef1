// Package catalog is the built-in product catalog. It exists so the server
// is sellable out of the box; installations with their own catalog
// implement the purchasable port directly and never touch this package.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/code-and-effect/effective-orders-sub000/internal/money"
	"github.com/code-and-effect/effective-orders-sub000/internal/purchasable"
)

// Kind is the purchasable kind stored for catalog products.
const Kind = "product"

// ErrNotFound is returned when a product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is one sellable catalog row.
type Product struct {
	ID         int64
	Name       string
	PriceCents money.Cents
	Exempt     bool

	// Stocked products enforce Remaining; unstocked sell without limit.
	Stocked   bool
	Remaining int

	Seller int64 // 0 when the product has no distinct seller

	CreatedAt time.Time
	UpdatedAt time.Time

	// repo is set on load so the purchase hook can decrement stock; nil
	// for products constructed by hand.
	repo *Repository
}

var _ purchasable.Purchasable = (*Product)(nil)

func (p *Product) PurchasableRef() purchasable.Ref {
	return purchasable.Ref{Kind: Kind, ID: p.ID}
}

func (p *Product) Title() string          { return p.Name }
func (p *Product) Price() money.Cents     { return p.PriceCents }
func (p *Product) TaxExempt() bool        { return p.Exempt }
func (p *Product) QuantityEnabled() bool  { return p.Stocked }
func (p *Product) QuantityRemaining() int { return p.Remaining }

func (p *Product) SellerID() (int64, bool) {
	return p.Seller, p.Seller != 0
}

// Purchased decrements stock by the sold quantity after a settled sale.
// Plain products have no other post-purchase work.
func (p *Product) Purchased(ctx context.Context, orderID, orderItemID int64, quantity int) error {
	if p.repo == nil || !p.Stocked {
		return nil
	}
	return p.repo.decrementStock(ctx, p.ID, quantity)
}

func (p *Product) Declined(context.Context, int64, int64) error { return nil }

const (
	getProductSQL = `SELECT id, title, price, tax_exempt, quantity_enabled, quantity_remaining,
		COALESCE(seller_id, 0), created_at, updated_at
		FROM products WHERE id = $1`

	listProductsSQL = `SELECT id, title, price, tax_exempt, quantity_enabled, quantity_remaining,
		COALESCE(seller_id, 0), created_at, updated_at
		FROM products ORDER BY id`

	decrementStockSQL = `UPDATE products
		SET quantity_remaining = quantity_remaining - $2, updated_at = now()
		WHERE id = $1 AND quantity_enabled AND quantity_remaining >= $2`
)

// Repository loads products and resolves purchasable refs against them.
type Repository struct {
	pool *pgxpool.Pool
}

var _ purchasable.Resolver = (*Repository)(nil)

// NewRepository returns a Repository that uses the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns a single product by id.
func (r *Repository) Get(ctx context.Context, id int64) (*Product, error) {
	rows, err := r.pool.Query(ctx, getProductSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, r.scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	return p, nil
}

// List returns the whole catalog ordered by id.
func (r *Repository) List(ctx context.Context) ([]*Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, r.scanProduct)
}

// Resolve maps a stored purchasable ref back to the live product.
func (r *Repository) Resolve(ctx context.Context, ref purchasable.Ref) (purchasable.Purchasable, error) {
	if ref.Kind != Kind {
		return nil, errors.Errorf("unknown purchasable kind %q", ref.Kind)
	}
	return r.Get(ctx, ref.ID)
}

func (r *Repository) decrementStock(ctx context.Context, id int64, quantity int) error {
	if _, err := r.pool.Exec(ctx, decrementStockSQL, id, quantity); err != nil {
		return fmt.Errorf("decrementing stock for product %d: %w", id, err)
	}
	return nil
}

func (r *Repository) scanProduct(row pgx.CollectableRow) (*Product, error) {
	var (
		p     Product
		price int64
	)
	err := row.Scan(&p.ID, &p.Name, &price, &p.Exempt, &p.Stocked,
		&p.Remaining, &p.Seller, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.PriceCents = money.Cents(price)
	p.repo = r
	return &p, nil
}
