package cart

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/code-and-effect/effective-orders-sub000/internal/money"
	"github.com/code-and-effect/effective-orders-sub000/internal/purchasable"
	"github.com/code-and-effect/effective-orders-sub000/internal/tax"
)

// SoldOutError indicates a stock-limited purchasable cannot satisfy the
// requested quantity.
type SoldOutError struct {
	Title     string
	Requested int
	Remaining int
}

func (e *SoldOutError) Error() string {
	return fmt.Sprintf("%s is sold out: requested %d, %d remaining", e.Title, e.Requested, e.Remaining)
}

// ErrInvalidQuantity is returned when a non-positive quantity is requested.
var ErrInvalidQuantity = errors.New("quantity must be at least 1")

// Service implements cart operations over a Repository, resolving live
// purchasables for stock checks and pricing.
type Service struct {
	repo     Repository
	resolver purchasable.Resolver
	rates    tax.Calculator
}

// NewService creates a cart Service.
func NewService(repo Repository, resolver purchasable.Resolver, rates tax.Calculator) *Service {
	return &Service{repo: repo, resolver: resolver, rates: rates}
}

// Fetch lazily finds or creates the owner's cart.
func (s *Service) Fetch(ctx context.Context, owner Owner) (*Cart, error) {
	c, err := s.repo.FindOrCreate(ctx, owner)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch cart for %s", owner)
	}
	return c, nil
}

// Add stages quantity units of p in the owner's cart, incrementing an
// existing line for the same purchasable. Stock-limited purchasables are
// checked against their remaining quantity, counting units already staged.
func (s *Service) Add(ctx context.Context, owner Owner, p purchasable.Purchasable, quantity int) (*Cart, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	c, err := s.Fetch(ctx, owner)
	if err != nil {
		return nil, err
	}

	if p.QuantityEnabled() {
		staged := 0
		if existing, ok := c.Find(p.PurchasableRef()); ok {
			staged = existing.Quantity
		}
		if staged+quantity > p.QuantityRemaining() {
			return nil, &SoldOutError{
				Title:     p.Title(),
				Requested: staged + quantity,
				Remaining: p.QuantityRemaining(),
			}
		}
	}

	if err := s.repo.AddOrIncrementItem(ctx, c.ID, p.PurchasableRef(), quantity); err != nil {
		return nil, errors.Wrap(err, "add cart item")
	}
	return s.repo.Get(ctx, c.ID)
}

// Remove deletes one line. A missing item id succeeds silently; the HTTP
// boundary decides whether "not found" matters for user feedback.
func (s *Service) Remove(ctx context.Context, cartID, itemID int64) error {
	if err := s.repo.RemoveItem(ctx, cartID, itemID); err != nil {
		return errors.Wrap(err, "remove cart item")
	}
	return nil
}

// MergeOnSignIn folds an anonymous session cart into the signed-in user's
// cart, then deletes the anonymous cart. Lines move as-is; identical
// purchasables across the two carts are not re-merged here.
func (s *Service) MergeOnSignIn(ctx context.Context, sessionToken string, userID int64) error {
	anon, err := s.repo.Find(ctx, Owner{SessionToken: sessionToken})
	if err != nil {
		return errors.Wrap(err, "find session cart")
	}
	if anon == nil {
		return nil
	}

	target, err := s.repo.FindOrCreate(ctx, Owner{UserID: userID})
	if err != nil {
		return errors.Wrap(err, "fetch user cart")
	}

	if err := s.repo.ReassignItems(ctx, anon.ID, target.ID); err != nil {
		return errors.Wrap(err, "reassign cart items")
	}
	if err := s.repo.Delete(ctx, anon.ID); err != nil {
		return errors.Wrap(err, "delete session cart")
	}
	return nil
}

// Destroy removes the cart entirely. Called by checkout after a successful
// purchase, or by an explicit "empty cart" action.
func (s *Service) Destroy(ctx context.Context, cartID int64) error {
	if err := s.repo.Delete(ctx, cartID); err != nil {
		return errors.Wrap(err, "destroy cart")
	}
	return nil
}

// Totals prices the cart against the live catalog for the given billing
// jurisdiction. Tax is computed per line and omitted entirely when the
// jurisdiction is unknown.
func (s *Service) Totals(ctx context.Context, c *Cart, j tax.Jurisdiction) (Totals, error) {
	rate, resolved := s.rates.Rate(ctx, j)

	t := Totals{TaxResolved: resolved}
	for _, it := range c.Items {
		p, err := s.resolver.Resolve(ctx, it.Ref)
		if err != nil {
			return Totals{}, errors.Wrapf(err, "resolve %s %d", it.Ref.Kind, it.Ref.ID)
		}

		line := p.Price() * money.Cents(it.Quantity)
		t.Subtotal += line
		if resolved && !p.TaxExempt() {
			t.Tax += money.Tax(line, rate)
		}
	}
	t.Total = t.Subtotal + t.Tax
	return t, nil
}
