// Package checkout wires a pending order to a selected payment adapter:
// authorization, initiate handoff, resolve completion, cart teardown and
// redirect selection. All money and state rules live in order and payment;
// this layer only routes.
package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/code-and-effect/effective-orders-sub000/internal/cart"
	"github.com/code-and-effect/effective-orders-sub000/internal/order"
	"github.com/code-and-effect/effective-orders-sub000/internal/payment"
)

// ErrUnauthorized is returned when the authorization predicate denies an
// actor. Deny is the only possible outcome: there is no partial access.
var ErrUnauthorized = errors.New("not authorized")

// Actor is who is driving a checkout operation.
type Actor struct {
	UserID int64
	Admin  bool
	// System marks provider-originated calls (webhooks) that act on the
	// order without a signed-in user.
	System bool
}

// Authorizer is the injected (actor, action, resource) predicate consulted
// before every state-changing operation.
type Authorizer func(ctx context.Context, actor Actor, action string, resource *order.Order) bool

// Result is the outcome of completing a checkout leg.
type Result struct {
	Order       *order.Order
	Purchased   bool
	RedirectURL string
	// Message is flash-style user feedback. Raw provider payloads never
	// appear here.
	Message string
}

// EventStore records provider notification ids so replayed webhooks are
// detected before any settlement work happens.
type EventStore interface {
	// MarkProcessed returns false when the event was already recorded.
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// Config holds the orchestrator's redirect defaults.
type Config struct {
	DefaultSuccessURL  string
	DefaultDeclinedURL string
}

// Orchestrator drives the per-request checkout flow.
type Orchestrator struct {
	cfg       Config
	orders    *order.Service
	carts     *cart.Service
	providers *payment.Registry
	authorize Authorizer
	events    EventStore
}

// New creates an Orchestrator.
func New(cfg Config, orders *order.Service, carts *cart.Service, providers *payment.Registry, authorize Authorizer, events EventStore) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		orders:    orders,
		carts:     carts,
		providers: providers,
		authorize: authorize,
		events:    events,
	}
}

// Begin authorizes the actor against the order and produces the provider
// handoff. Deferred methods additionally send the buyer a payment request;
// the order simply stays pending until an admin marks it paid.
func (c *Orchestrator) Begin(ctx context.Context, actor Actor, orderID int64, providerName string, ret payment.ReturnURLs) (*payment.Initiation, error) {
	o, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !c.authorize(ctx, actor, "checkout", o) {
		return nil, ErrUnauthorized
	}
	if o.Purchased() {
		return nil, order.ErrAlreadyPurchased
	}

	p, err := c.providers.Get(providerName)
	if err != nil {
		return nil, err
	}

	init, err := p.Initiate(ctx, o, ret)
	if err != nil {
		// Initiate failures leave the order untouched; the buyer retries.
		return nil, errors.Wrapf(err, "initiate %s checkout", providerName)
	}

	if p.Deferred() {
		c.orders.RequestPayment(ctx, o)
	}
	return init, nil
}

// Complete resolves a provider response and settles the order. Provider
// I/O (verification, re-query) happens here, before any database
// transaction opens; only the final state mutation is transactional.
//
// An amount mismatch is raised, never swallowed into a decline. Any other
// resolve failure declines the order with the raw error captured in the
// payment record.
func (c *Orchestrator) Complete(ctx context.Context, actor Actor, orderID int64, providerName string, payload payment.Payload, ret payment.ReturnURLs) (*Result, error) {
	o, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !c.authorize(ctx, actor, "checkout", o) {
		return nil, ErrUnauthorized
	}

	p, err := c.providers.Get(providerName)
	if err != nil {
		return nil, err
	}

	outcome, err := p.Resolve(ctx, o, payload)
	if err != nil {
		return c.declineOnError(ctx, o, providerName, err, ret)
	}

	if outcome.AuthorizedOnly {
		return c.storeAuthorization(ctx, o, outcome)
	}

	if err := payment.ReconcileAmount(o, outcome); err != nil {
		return nil, err
	}
	return c.settle(ctx, o, outcome, order.PurchaseOptions{}, ret)
}

// HandleNotification processes an asynchronous provider postback. A
// replayed event id is dropped without provider I/O only once the order it
// references has actually settled; a redelivery after a failed attempt runs
// the full path again, and settlement itself is idempotent, so duplicate
// webhooks can neither double-purchase nor strand a pending order.
func (c *Orchestrator) HandleNotification(ctx context.Context, providerName, eventID string, orderID int64, payload payment.Payload) (*Result, error) {
	fresh, err := c.events.MarkProcessed(ctx, providerName, eventID)
	if err != nil {
		return nil, errors.Wrap(err, "record provider event")
	}
	if !fresh {
		o, err := c.orders.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if o.State != order.StatePending {
			zctx.From(ctx).Info("replayed provider notification dropped",
				zap.String("provider", providerName), zap.String("event_id", eventID))
			return &Result{Order: o, Purchased: o.Purchased(), Message: "Already processed."}, nil
		}
		// The event was recorded but the previous delivery failed before
		// the order settled. Run it again.
		zctx.From(ctx).Info("reprocessing provider notification for unsettled order",
			zap.String("provider", providerName), zap.String("event_id", eventID),
			zap.Int64("order_id", orderID))
	}

	return c.Complete(ctx, Actor{System: true}, orderID, providerName, payload, payment.ReturnURLs{})
}

// MarkAsPaid is the administrative settlement of a deferred-method order.
// It routes through the same purchase operation as every electronic
// provider.
func (c *Orchestrator) MarkAsPaid(ctx context.Context, actor Actor, orderID int64, providerName string, payload payment.Payload, opts order.PurchaseOptions) (*Result, error) {
	o, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !c.authorize(ctx, actor, "mark_as_paid", o) {
		return nil, ErrUnauthorized
	}

	p, err := c.providers.Get(providerName)
	if err != nil {
		return nil, err
	}
	if !p.Deferred() {
		return nil, errors.Errorf("%s settles electronically, not by admin action", providerName)
	}

	outcome, err := p.Resolve(ctx, o, payload)
	if err != nil {
		return nil, err
	}
	return c.settle(ctx, o, outcome, opts, payment.ReturnURLs{})
}

// Capture executes a stored delayed-capture authorization.
func (c *Orchestrator) Capture(ctx context.Context, actor Actor, orderID int64, providerName string) (*Result, error) {
	o, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !c.authorize(ctx, actor, "capture", o) {
		return nil, ErrUnauthorized
	}

	p, err := c.providers.Get(providerName)
	if err != nil {
		return nil, err
	}
	capturer, ok := p.(payment.Capturer)
	if !ok {
		return nil, errors.Errorf("%s does not support delayed capture", providerName)
	}

	outcome, err := capturer.Capture(ctx, o)
	if err != nil {
		return c.declineOnError(ctx, o, providerName, err, payment.ReturnURLs{})
	}

	if err := payment.ReconcileAmount(o, outcome); err != nil {
		return nil, err
	}
	return c.settle(ctx, o, outcome, order.PurchaseOptions{}, payment.ReturnURLs{})
}

// settle routes an outcome into purchase or decline, tears down the
// buyer's cart on success, and picks the redirect target.
func (c *Orchestrator) settle(ctx context.Context, o *order.Order, outcome *payment.Outcome, opts order.PurchaseOptions, ret payment.ReturnURLs) (*Result, error) {
	if !outcome.Approved {
		if _, err := c.orders.Decline(ctx, o.ID, outcome.Settlement(), false); err != nil {
			return nil, err
		}
		settled, err := c.orders.Get(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		return &Result{
			Order:       settled,
			RedirectURL: c.declinedURL(ret),
			Message:     "Payment was declined. Please try again.",
		}, nil
	}

	if _, err := c.orders.Purchase(ctx, o.ID, outcome.Settlement(), opts); err != nil {
		return nil, err
	}

	// Cart teardown is the orchestrator's job, never the adapter's. The
	// order remembers the cart it was built from, so session carts of
	// anonymous buyers are destroyed the same as signed-in ones.
	if o.CartID != 0 {
		if err := c.carts.Destroy(ctx, o.CartID); err != nil {
			zctx.From(ctx).Warn("cart teardown failed",
				zap.Int64("order_id", o.ID), zap.Int64("cart_id", o.CartID), zap.Error(err))
		}
	}

	settled, err := c.orders.Get(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	return &Result{
		Order:       settled,
		Purchased:   true,
		RedirectURL: c.successURL(ret),
		Message:     "Payment successful. Thank you!",
	}, nil
}

// storeAuthorization attaches a two-phase authorization to the pending
// order without settling anything.
func (c *Orchestrator) storeAuthorization(ctx context.Context, o *order.Order, outcome *payment.Outcome) (*Result, error) {
	o.Payment = outcome.Record
	o.PaymentProvider = outcome.Provider
	o.PaymentCard = outcome.Card

	if err := c.orders.Update(ctx, o, true); err != nil {
		return nil, err
	}
	return &Result{
		Order:   o,
		Message: "Payment authorized. The charge will be completed shortly.",
	}, nil
}

// declineOnError records a provider failure as a decline with the raw
// error captured in the payment record. Amount and order-reference
// mismatches are re-raised: they indicate tampering, not a failed charge.
func (c *Orchestrator) declineOnError(ctx context.Context, o *order.Order, providerName string, cause error, ret payment.ReturnURLs) (*Result, error) {
	var mismatch *payment.AmountMismatchError
	if errors.As(cause, &mismatch) {
		return nil, cause
	}
	var foreign *payment.OrderMismatchError
	if errors.As(cause, &foreign) {
		return nil, cause
	}

	zctx.From(ctx).Warn("provider resolve failed",
		zap.Int64("order_id", o.ID), zap.String("provider", providerName), zap.Error(cause))

	st := order.Settlement{
		Payment:  order.Record{"error": cause.Error()},
		Provider: providerName,
		Card:     "unknown",
	}
	if _, err := c.orders.Decline(ctx, o.ID, st, false); err != nil {
		return nil, err
	}

	settled, err := c.orders.Get(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	return &Result{
		Order:       settled,
		RedirectURL: c.declinedURL(ret),
		Message:     "Payment was declined. Please try again.",
	}, nil
}

func (c *Orchestrator) successURL(ret payment.ReturnURLs) string {
	if ret.Success != "" {
		return ret.Success
	}
	return c.cfg.DefaultSuccessURL
}

func (c *Orchestrator) declinedURL(ret payment.ReturnURLs) string {
	if ret.Declined != "" {
		return ret.Declined
	}
	return c.cfg.DefaultDeclinedURL
}
