package order

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-faster/errors"
)

// Conflict errors: benign idempotent replays and forbidden transitions.
// Callers distinguish these from validation failures, which describe a bad
// order rather than a bad transition.
var (
	ErrAlreadyPurchased = errors.New("order is already purchased")
	ErrNotPending       = errors.New("order has not been saved as pending")
	ErrVoided           = errors.New("order is voided")
	ErrNotVoidable      = errors.New("order cannot be voided from its current state")
	ErrNotVoided        = errors.New("order is not voided")
	ErrNotFound         = errors.New("order not found")
)

// Integrity errors: programming-contract violations that fail loudly.
var (
	ErrTaxRateUnresolved = errors.New("tax rate unresolved: cannot compute tax for an unknown jurisdiction")
	ErrItemsFrozen       = errors.New("order items are frozen after purchase or decline")
	ErrInvalidQuantity   = errors.New("quantity must be at least 1")
	ErrNotCaptureable    = errors.New("order has no stored authorization to capture")
)

// ValidationError carries field-level business rule failures. The order is
// left unmutated when one is returned.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %s", k, e.Fields[k])
	}
	return "order invalid: " + strings.Join(parts, "; ")
}

// IsConflict reports whether err is a state-machine conflict, i.e. an
// operation that is benign to replay or forbidden from the current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyPurchased) ||
		errors.Is(err, ErrNotPending) ||
		errors.Is(err, ErrVoided) ||
		errors.Is(err, ErrNotVoidable) ||
		errors.Is(err, ErrNotVoided)
}
