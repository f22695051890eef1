// Package order implements the purchase aggregate: immutable item
// snapshots, integer-cents totals with per-line tax rounding, and the
// purchase state machine with exactly-once purchase/decline semantics.
package order

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/code-and-effect/effective-orders-sub000/internal/money"
	"github.com/code-and-effect/effective-orders-sub000/internal/purchasable"
	"github.com/code-and-effect/effective-orders-sub000/internal/tax"
)

// State is the purchase lifecycle position of an order.
type State string

const (
	// StateAbandoned marks an order never saved as pending.
	StateAbandoned State = "abandoned"
	// StatePending marks a saved, validated order awaiting payment.
	StatePending State = "pending"
	// StatePurchased is terminal success.
	StatePurchased State = "purchased"
	// StateDeclined is failure; the order may be retried and purchased.
	StateDeclined State = "declined"
	// StateVoided is an administrative reversal of a pending or purchased
	// order. Unvoid restores the prior state.
	StateVoided State = "voided"
)

// Address is a billing or shipping address. Copied from the buyer at
// assignment, then independently mutable until purchase.
type Address struct {
	Name     string `json:"name"`
	Line1    string `json:"line1"`
	Line2    string `json:"line2,omitempty"`
	City     string `json:"city"`
	Province string `json:"province"`
	Country  string `json:"country"`
	Postal   string `json:"postal"`
}

// Jurisdiction returns the tax jurisdiction this address bills into.
func (a Address) Jurisdiction() tax.Jurisdiction {
	return tax.Jurisdiction{Country: a.Country, Province: a.Province}
}

// Buyer is the identity an order is billed to.
type Buyer struct {
	ID              int64
	Email           string
	BillingAddress  *Address
	ShippingAddress *Address
}

// Item is one purchasable line, snapshotted (title, price, exemption,
// seller) at the moment it was added. Items never change once the parent
// order is purchased or declined.
type Item struct {
	ID        int64
	Ref       purchasable.Ref
	Title     string
	Price     money.Cents
	Quantity  int
	TaxExempt bool
	SellerID  int64 // 0 when the item has no distinct seller
}

// Subtotal is price times quantity.
func (it Item) Subtotal() money.Cents {
	return it.Price * money.Cents(it.Quantity)
}

// Tax is the per-line tax at the parent order's rate: zero for exempt
// items, ErrTaxRateUnresolved when the order has no resolved rate. Tax
// against an unknown jurisdiction is a contract violation, not a zero.
func (it Item) Tax(rate *decimal.Decimal) (money.Cents, error) {
	if it.TaxExempt {
		return 0, nil
	}
	if rate == nil {
		return 0, ErrTaxRateUnresolved
	}
	return money.Tax(it.Subtotal(), *rate), nil
}

// Record is the opaque provider payment payload stored with a settled
// order. Persisted as JSONB; the core never interprets its contents beyond
// logging keys.
type Record map[string]any

// Order is the aggregate root.
type Order struct {
	ID      int64
	BuyerID int64
	Email   string

	// CartID is the cart this order was built from, destroyed when the
	// order is purchased. Zero for orders assembled without a cart.
	CartID int64

	State       State
	PurchasedAt *time.Time

	Payment         Record
	PaymentProvider string
	PaymentCard     string

	// TaxRate is a percentage; nil means unresolved jurisdiction.
	TaxRate  *decimal.Decimal
	Subtotal money.Cents
	Tax      money.Cents
	Total    money.Cents

	BillingAddress  *Address
	ShippingAddress *Address

	Items []Item

	Note         string
	NoteToBuyer  string
	NoteInternal string

	CreatedAt time.Time
	UpdatedAt time.Time

	// stateBeforeVoid remembers where Unvoid should return to.
	stateBeforeVoid State
}

// New builds an in-memory order for the buyer, copying the buyer's
// addresses. The order stays abandoned until first saved as pending.
func New(buyer Buyer) *Order {
	o := &Order{
		BuyerID: buyer.ID,
		Email:   buyer.Email,
		State:   StateAbandoned,
	}
	if buyer.BillingAddress != nil {
		addr := *buyer.BillingAddress
		o.BillingAddress = &addr
	}
	if buyer.ShippingAddress != nil {
		addr := *buyer.ShippingAddress
		o.ShippingAddress = &addr
	}
	return o
}

// Purchased reports terminal success.
func (o *Order) Purchased() bool { return o.State == StatePurchased }

// Declined reports the order's last settlement attempt failed.
func (o *Order) Declined() bool { return o.State == StateDeclined }

// Voided reports administrative reversal.
func (o *Order) Voided() bool { return o.State == StateVoided }

// Settled reports the item composition is frozen.
func (o *Order) Settled() bool { return o.Purchased() || o.Declined() }

// AddPurchasable snapshots quantity units of p as a new line. Adding to a
// purchased or declined order is a contract violation and fails loudly.
func (o *Order) AddPurchasable(p purchasable.Purchasable, quantity int) error {
	if o.Settled() {
		return ErrItemsFrozen
	}
	if quantity < 1 {
		return ErrInvalidQuantity
	}

	item := Item{
		Ref:       p.PurchasableRef(),
		Title:     p.Title(),
		Price:     p.Price(),
		Quantity:  quantity,
		TaxExempt: p.TaxExempt(),
	}
	if seller, ok := p.SellerID(); ok {
		item.SellerID = seller
	}
	o.Items = append(o.Items, item)
	return nil
}

// Recalculate recomputes subtotal, tax and total from current items at the
// current tax rate. Purchased orders are frozen and never recomputed.
func (o *Order) Recalculate() error {
	if o.Purchased() {
		return nil
	}

	o.Subtotal = 0
	o.Tax = 0
	for _, it := range o.Items {
		o.Subtotal += it.Subtotal()
		if it.TaxExempt {
			continue
		}
		if o.TaxRate == nil {
			// Leave tax at the partial sum; Validate reports the
			// unresolved rate as a field error.
			continue
		}
		o.Tax += money.Tax(it.Subtotal(), *o.TaxRate)
	}
	o.Total = o.Subtotal + o.Tax
	return nil
}

// ResolveTaxRate computes and pins the order's tax rate from the billing
// address. Pre-purchase address changes re-resolve; purchased orders keep
// their frozen rate.
func (o *Order) ResolveTaxRate(rate decimal.Decimal, ok bool) {
	if o.Purchased() {
		return
	}
	if !ok {
		o.TaxRate = nil
		return
	}
	o.TaxRate = &rate
}

// markPurchased applies the purchase transition in memory. It returns
// false when the order is already purchased (idempotent replay), and an
// error when the transition is forbidden from the current state.
func (o *Order) markPurchased(payment Record, provider, card string, at time.Time) (bool, error) {
	switch o.State {
	case StatePurchased:
		return false, nil
	case StateVoided:
		return false, ErrVoided
	case StateAbandoned:
		// An order must pass through a valid saved state first.
		return false, ErrNotPending
	}

	o.State = StatePurchased
	if o.PurchasedAt == nil {
		o.PurchasedAt = &at
	}
	o.Payment = payment
	o.PaymentProvider = provider
	o.PaymentCard = card
	return true, nil
}

// markDeclined applies the decline transition in memory. Declining a
// purchased order is a conflict; re-declining is an idempotent no-op.
func (o *Order) markDeclined(payment Record, provider, card string) (bool, error) {
	switch o.State {
	case StatePurchased:
		return false, ErrAlreadyPurchased
	case StateDeclined:
		return false, nil
	case StateVoided:
		return false, ErrVoided
	}

	o.State = StateDeclined
	o.PurchasedAt = nil
	o.Payment = payment
	o.PaymentProvider = provider
	o.PaymentCard = card
	return true, nil
}

// markVoided reverses a pending or purchased order administratively.
func (o *Order) markVoided() error {
	switch o.State {
	case StatePending, StatePurchased:
		o.stateBeforeVoid = o.State
		o.State = StateVoided
		return nil
	case StateVoided:
		return ErrVoided
	default:
		return ErrNotVoidable
	}
}

// markUnvoided restores a voided order to the state it was voided from.
func (o *Order) markUnvoided() error {
	if o.State != StateVoided {
		return ErrNotVoided
	}

	prior := o.stateBeforeVoid
	if prior == "" {
		// Reloaded aggregates lose the in-memory marker; fall back on
		// purchased_at, which only settled purchases carry.
		prior = StatePending
		if o.PurchasedAt != nil {
			prior = StatePurchased
		}
	}
	o.State = prior
	o.stateBeforeVoid = ""
	return nil
}
