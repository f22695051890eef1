// Package payment defines the provider adapter contract and the concrete
// adapters that turn provider-specific input into a normalized settlement
// outcome.
//
// Adapters never mutate order state. They initiate handoffs, verify inbound
// results against the provider's authoritative API, and reconcile amounts;
// the checkout orchestrator routes the outcome into purchase or decline.
package payment

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-faster/errors"

	"github.com/code-and-effect/effective-orders-sub000/internal/money"
	"github.com/code-and-effect/effective-orders-sub000/internal/order"
)

// ReturnURLs are where a redirect provider sends the buyer back to.
type ReturnURLs struct {
	Success  string
	Declined string
}

// Initiation is whatever the front end needs to hand the buyer to the
// provider: a redirect target, hosted-form fields, a client token, or
// human-readable settlement instructions for deferred methods.
type Initiation struct {
	Provider     string
	RedirectURL  string
	ClientFields map[string]string
	Instructions string
}

// Payload carries the provider's inbound response: postback params, webhook
// fields, or a client-submitted token. Always untrusted until verified.
type Payload map[string]string

// Get returns the named field or an error naming it, for required params.
func (p Payload) Get(key string) (string, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return "", errors.Errorf("missing payload field %q", key)
	}
	return v, nil
}

// Outcome is the normalized result of resolving a provider response.
type Outcome struct {
	Approved bool
	Provider string
	Card     string
	Record   order.Record
	Amount   money.Cents

	// AuthorizedOnly marks a two-phase authorization: the record must be
	// stored on the still-pending order and charged later via Capturer.
	AuthorizedOnly bool
}

// Settlement converts the outcome into the order-side settlement context.
func (o *Outcome) Settlement() order.Settlement {
	return order.Settlement{Payment: o.Record, Provider: o.Provider, Card: o.Card}
}

// Provider is the common adapter contract. Initiate is side-effect-free on
// the order (at most one outbound call for a ticket/token); Resolve turns
// an untrusted inbound payload into an Outcome, verifying before trusting.
type Provider interface {
	Name() string
	// Deferred reports that settlement happens manually later; Initiate
	// leaves the order pending and no electronic capture occurs.
	Deferred() bool
	Initiate(ctx context.Context, o *order.Order, ret ReturnURLs) (*Initiation, error)
	Resolve(ctx context.Context, o *order.Order, payload Payload) (*Outcome, error)
}

// Capturer is implemented by two-phase adapters whose stored authorization
// is charged by a later administrative action.
type Capturer interface {
	Capture(ctx context.Context, o *order.Order) (*Outcome, error)
}

// AmountMismatchError reports a provider-captured amount that differs from
// the order total. This is tampering or a price race, never a soft decline.
type AmountMismatchError struct {
	Provider string
	Got      money.Cents
	Want     money.Cents
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("%s captured %s but order total is %s", e.Provider, e.Got, e.Want)
}

// ReconcileAmount hard-fails an approved outcome whose captured amount does
// not match the order total.
func ReconcileAmount(o *order.Order, out *Outcome) error {
	if !out.Approved {
		return nil
	}
	if out.Amount != o.Total {
		return &AmountMismatchError{Provider: out.Provider, Got: out.Amount, Want: o.Total}
	}
	return nil
}

// OrderMismatchError reports a verified provider transaction that belongs
// to a different order than the one being settled. Equal totals do not make
// it interchangeable; like an amount mismatch this is raised, never turned
// into a soft decline.
type OrderMismatchError struct {
	Provider  string
	Reference string // provider-side transaction id
	Got       string // order reference the provider holds
	Want      int64
}

func (e *OrderMismatchError) Error() string {
	return fmt.Sprintf("%s transaction %s references order %q, want order %d", e.Provider, e.Reference, e.Got, e.Want)
}

// UnknownProviderError reports a checkout against a provider name that is
// not enabled.
type UnknownProviderError struct {
	Name string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("payment provider %q is not enabled", e.Name)
}

// Registry holds the enabled adapters, selected by name at checkout time.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(providers ...Provider) *Registry {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

// Get returns the adapter for name.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, &UnknownProviderError{Name: name}
	}
	return p, nil
}

// Names lists the enabled provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
