// Package purchasable defines the contract the order core requires from
// catalog items. The catalog itself lives outside this module; anything
// that can price itself and answer the hooks below can be sold.
package purchasable

import (
	"context"

	"github.com/code-and-effect/effective-orders-sub000/internal/money"
)

// Ref identifies a purchasable by its catalog kind and id, e.g.
// ("product", 42). Carts and order items reference purchasables this way.
type Ref struct {
	Kind string
	ID   int64
}

// Purchasable is the capability a catalog item must expose to be sold.
type Purchasable interface {
	PurchasableRef() Ref
	Title() string
	Price() money.Cents
	TaxExempt() bool

	// QuantityEnabled reports whether the item enforces a stock limit;
	// QuantityRemaining is only meaningful when it does.
	QuantityEnabled() bool
	QuantityRemaining() int

	// SellerID supports marketplace settlement. ok is false when the
	// item has no distinct seller.
	SellerID() (id int64, ok bool)

	// Purchased and Declined are best-effort notifications invoked after
	// an order containing this item settles. quantity is the sold line's
	// unit count, for stock bookkeeping. Errors are logged by the caller
	// and never affect the order outcome.
	Purchased(ctx context.Context, orderID, orderItemID int64, quantity int) error
	Declined(ctx context.Context, orderID, orderItemID int64) error
}

// Resolver maps a stored Ref back to the live purchasable, so cart totals
// follow current catalog prices rather than stale snapshots.
type Resolver interface {
	Resolve(ctx context.Context, ref Ref) (Purchasable, error)
}
