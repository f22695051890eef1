package payment

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/code-and-effect/effective-orders-sub000/internal/order"
)

// cardNone is the card descriptor for methods with no card at all.
const cardNone = "none"

// DeferredMethod is a payment method with no electronic leg: cheque,
// e-transfer, or phone. Initiate leaves the order pending with settlement
// instructions; Resolve is only reachable through the administrative
// mark-as-paid action, whose approval is the human's to give.
type DeferredMethod struct {
	name         string
	instructions string
}

// Cheque settles by mailed cheque.
func Cheque(instructions string) *DeferredMethod {
	return &DeferredMethod{name: "cheque", instructions: instructions}
}

// ETransfer settles by e-mail money transfer.
func ETransfer(instructions string) *DeferredMethod {
	return &DeferredMethod{name: "etransfer", instructions: instructions}
}

// Phone settles by calling the office with card details.
func Phone(instructions string) *DeferredMethod {
	return &DeferredMethod{name: "phone", instructions: instructions}
}

func (d *DeferredMethod) Name() string   { return d.name }
func (d *DeferredMethod) Deferred() bool { return true }

func (d *DeferredMethod) Initiate(_ context.Context, _ *order.Order, _ ReturnURLs) (*Initiation, error) {
	return &Initiation{Provider: d.name, Instructions: d.instructions}, nil
}

// Resolve approves for the full order total. Deferred settlement has no
// gateway to reconcile against; the admin action is the verification.
func (d *DeferredMethod) Resolve(_ context.Context, o *order.Order, payload Payload) (*Outcome, error) {
	return &Outcome{
		Approved: true,
		Provider: d.name,
		Card:     cardNone,
		Record: order.Record{
			"action": "mark_as_paid",
			"note":   payload["note"],
		},
		Amount: o.Total,
	}, nil
}

// Free settles zero-total orders with no payment at all.
type Free struct{}

func (Free) Name() string   { return "free" }
func (Free) Deferred() bool { return false }

func (Free) Initiate(_ context.Context, o *order.Order, _ ReturnURLs) (*Initiation, error) {
	if o.Total != 0 {
		return nil, errors.Errorf("free provider requires a zero total, got %s", o.Total)
	}
	return &Initiation{Provider: "free"}, nil
}

func (Free) Resolve(_ context.Context, o *order.Order, _ Payload) (*Outcome, error) {
	if o.Total != 0 {
		return nil, errors.Errorf("free provider requires a zero total, got %s", o.Total)
	}
	return &Outcome{
		Approved: true,
		Provider: "free",
		Card:     cardNone,
		Record:   order.Record{"action": "free"},
		Amount:   0,
	}, nil
}

// Refund settles negative-total orders. Money moves back to the buyer
// through an out-of-band channel; the order records that it happened.
type Refund struct{}

func (Refund) Name() string   { return "refund" }
func (Refund) Deferred() bool { return true }

func (Refund) Initiate(_ context.Context, o *order.Order, _ ReturnURLs) (*Initiation, error) {
	if o.Total >= 0 {
		return nil, errors.Errorf("refund provider requires a negative total, got %s", o.Total)
	}
	return &Initiation{Provider: "refund"}, nil
}

func (Refund) Resolve(_ context.Context, o *order.Order, payload Payload) (*Outcome, error) {
	if o.Total >= 0 {
		return nil, errors.Errorf("refund provider requires a negative total, got %s", o.Total)
	}
	return &Outcome{
		Approved: true,
		Provider: "refund",
		Card:     cardNone,
		Record: order.Record{
			"action": "refund",
			"note":   payload["note"],
		},
		Amount: o.Total,
	}, nil
}

// Pretend approves everything without talking to anybody. Sandbox and
// development only; configuration keeps it out of production registries.
type Pretend struct{}

func (Pretend) Name() string   { return "pretend" }
func (Pretend) Deferred() bool { return false }

func (Pretend) Initiate(_ context.Context, _ *order.Order, _ ReturnURLs) (*Initiation, error) {
	return &Initiation{Provider: "pretend"}, nil
}

func (Pretend) Resolve(_ context.Context, o *order.Order, _ Payload) (*Outcome, error) {
	return &Outcome{
		Approved: true,
		Provider: "pretend",
		Card:     "pretend visa",
		Record:   order.Record{"action": "pretend"},
		Amount:   o.Total,
	}, nil
}
