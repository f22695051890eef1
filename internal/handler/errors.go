package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/code-and-effect/effective-orders-sub000/internal/cart"
	"github.com/code-and-effect/effective-orders-sub000/internal/catalog"
	"github.com/code-and-effect/effective-orders-sub000/internal/checkout"
	"github.com/code-and-effect/effective-orders-sub000/internal/obfuscate"
	"github.com/code-and-effect/effective-orders-sub000/internal/order"
	"github.com/code-and-effect/effective-orders-sub000/internal/payment"
)

func respondJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	e := &jx.Encoder{}
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(code) })
		e.Field("message", func(e *jx.Encoder) { e.Str(message) })
	})
	respondJSON(w, status, e)
}

// respondDomainError maps a domain error to its HTTP shape: validation
// failures are 422 with per-field details, conflicts are 409, authorization
// denials 403, missing resources 404.
func respondDomainError(w http.ResponseWriter, err error) {
	var vErr *order.ValidationError
	if errors.As(err, &vErr) {
		e := &jx.Encoder{}
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Str("validation_failed") })
			e.Field("message", func(e *jx.Encoder) { e.Str(vErr.Error()) })
			e.Field("fields", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					for field, msg := range vErr.Fields {
						e.Field(field, func(e *jx.Encoder) { e.Str(msg) })
					}
				})
			})
		})
		respondJSON(w, http.StatusUnprocessableEntity, e)
		return
	}

	var soldOut *cart.SoldOutError
	if errors.As(err, &soldOut) {
		respondError(w, http.StatusConflict, "sold_out", soldOut.Error())
		return
	}

	var mismatch *payment.AmountMismatchError
	if errors.As(err, &mismatch) {
		// Tampered or stale amount. Nothing was settled.
		respondError(w, http.StatusBadRequest, "amount_mismatch", mismatch.Error())
		return
	}

	var foreign *payment.OrderMismatchError
	if errors.As(err, &foreign) {
		// A real transaction, but for another order. Nothing was settled.
		respondError(w, http.StatusBadRequest, "order_mismatch", foreign.Error())
		return
	}

	var unknown *payment.UnknownProviderError
	if errors.As(err, &unknown) {
		respondError(w, http.StatusNotFound, "unknown_provider", unknown.Error())
		return
	}

	switch {
	case errors.Is(err, checkout.ErrUnauthorized):
		respondError(w, http.StatusForbidden, "forbidden", "not authorized for this order")
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, obfuscate.ErrMalformed):
		respondError(w, http.StatusNotFound, "not_found", "not found")
	case order.IsConflict(err):
		respondError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, order.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.Is(err, order.ErrItemsFrozen):
		respondError(w, http.StatusConflict, "items_frozen", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
