// Package cart implements the pre-order staging area. Carts are not
// financially binding: items reference live purchasables and are priced at
// read time, so totals drift with the catalog until checkout snapshots them
// into an order.
package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/code-and-effect/effective-orders-sub000/internal/money"
	"github.com/code-and-effect/effective-orders-sub000/internal/purchasable"
)

// Cart belongs to a signed-in user or to an anonymous browser session,
// never both.
type Cart struct {
	ID           int64
	UserID       int64  // 0 when anonymous
	SessionToken string // empty when owned by a user
	Items        []Item
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Item is one staged line: a purchasable reference and a quantity.
// Price and title are never stored here.
type Item struct {
	ID       int64
	Ref      purchasable.Ref
	Quantity int
}

// Size returns the total number of units across all lines.
func (c *Cart) Size() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// Find returns the line holding ref, if any.
func (c *Cart) Find(ref purchasable.Ref) (Item, bool) {
	for _, it := range c.Items {
		if it.Ref == ref {
			return it, true
		}
	}
	return Item{}, false
}

// Owner identifies who a cart belongs to. Exactly one field is set.
type Owner struct {
	UserID       int64
	SessionToken string
}

func (o Owner) String() string {
	if o.UserID != 0 {
		return fmt.Sprintf("user:%d", o.UserID)
	}
	return "session:" + o.SessionToken
}

// Repository defines persistence operations for carts.
type Repository interface {
	Get(ctx context.Context, id int64) (*Cart, error)
	// Find returns nil without error when no cart exists for the owner.
	Find(ctx context.Context, owner Owner) (*Cart, error)
	// FindOrCreate lazily creates the owner's cart on first interaction.
	FindOrCreate(ctx context.Context, owner Owner) (*Cart, error)
	// AddOrIncrementItem enforces at most one line per (cart, ref):
	// an existing line has its quantity incremented instead.
	AddOrIncrementItem(ctx context.Context, cartID int64, ref purchasable.Ref, quantity int) error
	// RemoveItem deletes a line; removing an absent id is a no-op.
	RemoveItem(ctx context.Context, cartID, itemID int64) error
	// ReassignItems moves every line of one cart to another as-is.
	ReassignItems(ctx context.Context, fromCartID, toCartID int64) error
	Delete(ctx context.Context, cartID int64) error
}

// Totals is the derived money view of a cart. TaxResolved is false when the
// jurisdiction is unknown; Tax and Total then exclude tax.
type Totals struct {
	Subtotal    money.Cents
	Tax         money.Cents
	Total       money.Cents
	TaxResolved bool
}
