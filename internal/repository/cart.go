package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/code-and-effect/effective-orders-sub000/internal/cart"
	"github.com/code-and-effect/effective-orders-sub000/internal/purchasable"
)

const (
	selectCartByUserSQL    = `SELECT id, COALESCE(user_id, 0), COALESCE(session_token, ''), created_at, updated_at FROM carts WHERE user_id = $1`
	selectCartBySessionSQL = `SELECT id, COALESCE(user_id, 0), COALESCE(session_token, ''), created_at, updated_at FROM carts WHERE session_token = $1`
	selectCartByIDSQL      = `SELECT id, COALESCE(user_id, 0), COALESCE(session_token, ''), created_at, updated_at FROM carts WHERE id = $1`

	insertCartSQL = `INSERT INTO carts (user_id, session_token)
		VALUES (NULLIF($1, 0), NULLIF($2, ''))
		RETURNING id, created_at, updated_at`

	selectCartItemsSQL = `SELECT id, purchasable_kind, purchasable_id, quantity
		FROM cart_items WHERE cart_id = $1 ORDER BY id`

	upsertCartItemSQL = `INSERT INTO cart_items (cart_id, purchasable_kind, purchasable_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cart_id, purchasable_kind, purchasable_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`

	deleteCartItemSQL = `DELETE FROM cart_items WHERE cart_id = $1 AND id = $2`

	reassignCartItemsSQL = `UPDATE cart_items SET cart_id = $2 WHERE cart_id = $1`

	deleteCartSQL = `DELETE FROM carts WHERE id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Get loads one cart with its items.
func (r *CartRepository) Get(ctx context.Context, id int64) (*cart.Cart, error) {
	return r.loadCart(ctx, selectCartByIDSQL, id)
}

// Find returns the owner's cart, or nil when none exists yet.
func (r *CartRepository) Find(ctx context.Context, owner cart.Owner) (*cart.Cart, error) {
	sql, arg := ownerQuery(owner)
	c, err := r.loadCart(ctx, sql, arg)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// FindOrCreate lazily creates the owner's cart on first interaction.
func (r *CartRepository) FindOrCreate(ctx context.Context, owner cart.Owner) (*cart.Cart, error) {
	c, err := r.Find(ctx, owner)
	if err != nil || c != nil {
		return c, err
	}

	created := &cart.Cart{UserID: owner.UserID, SessionToken: owner.SessionToken}
	err = r.pool.QueryRow(ctx, insertCartSQL, owner.UserID, owner.SessionToken).
		Scan(&created.ID, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating cart for %s: %w", owner, err)
	}
	return created, nil
}

// AddOrIncrementItem inserts a line or bumps the quantity of the existing
// line for the same purchasable. The unique (cart, kind, id) index makes
// the increment race-free.
func (r *CartRepository) AddOrIncrementItem(ctx context.Context, cartID int64, ref purchasable.Ref, quantity int) error {
	_, err := r.pool.Exec(ctx, upsertCartItemSQL, cartID, ref.Kind, ref.ID, quantity)
	if err != nil {
		return fmt.Errorf("adding cart item: %w", err)
	}
	return nil
}

// RemoveItem deletes a line. Deleting an absent id affects zero rows and
// succeeds.
func (r *CartRepository) RemoveItem(ctx context.Context, cartID, itemID int64) error {
	_, err := r.pool.Exec(ctx, deleteCartItemSQL, cartID, itemID)
	if err != nil {
		return fmt.Errorf("removing cart item %d: %w", itemID, err)
	}
	return nil
}

// ReassignItems moves every line from one cart to another as-is.
func (r *CartRepository) ReassignItems(ctx context.Context, fromCartID, toCartID int64) error {
	_, err := r.pool.Exec(ctx, reassignCartItemsSQL, fromCartID, toCartID)
	if err != nil {
		return fmt.Errorf("reassigning cart items: %w", err)
	}
	return nil
}

// Delete removes a cart; its items cascade.
func (r *CartRepository) Delete(ctx context.Context, cartID int64) error {
	_, err := r.pool.Exec(ctx, deleteCartSQL, cartID)
	if err != nil {
		return fmt.Errorf("deleting cart %d: %w", cartID, err)
	}
	return nil
}

func (r *CartRepository) loadCart(ctx context.Context, sql string, arg any) (*cart.Cart, error) {
	var c cart.Cart
	err := r.pool.QueryRow(ctx, sql, arg).
		Scan(&c.ID, &c.UserID, &c.SessionToken, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("loading cart: %w", err)
	}

	rows, err := r.pool.Query(ctx, selectCartItemsSQL, c.ID)
	if err != nil {
		return nil, fmt.Errorf("loading cart items: %w", err)
	}
	c.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Item, error) {
		var it cart.Item
		err := row.Scan(&it.ID, &it.Ref.Kind, &it.Ref.ID, &it.Quantity)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("loading cart items: %w", err)
	}

	return &c, nil
}

func ownerQuery(owner cart.Owner) (sql string, arg any) {
	if owner.UserID != 0 {
		return selectCartByUserSQL, owner.UserID
	}
	return selectCartBySessionSQL, owner.SessionToken
}
