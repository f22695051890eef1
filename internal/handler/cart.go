package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/code-and-effect/effective-orders-sub000/internal/cart"
	"github.com/code-and-effect/effective-orders-sub000/internal/tax"
)

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.List(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}

	e := &jx.Encoder{}
	e.Arr(func(e *jx.Encoder) {
		for _, p := range products {
			encodeProduct(e, p)
		}
	})
	respondJSON(w, http.StatusOK, e)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "product id must be an integer")
		return
	}

	p, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	e := &jx.Encoder{}
	encodeProduct(e, p)
	respondJSON(w, http.StatusOK, e)
}

// jurisdictionFromQuery optionally prices the cart for a billing region,
// e.g. ?country=CA&province=ON. Absent both, tax stays unresolved.
func jurisdictionFromQuery(r *http.Request) tax.Jurisdiction {
	q := r.URL.Query()
	return tax.Jurisdiction{Country: q.Get("country"), Province: q.Get("province")}
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	own, ok := owner(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "no_identity", "X-User-ID or X-Session-Token required")
		return
	}

	c, err := h.carts.Fetch(r.Context(), own)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	totals, err := h.carts.Totals(r.Context(), c, jurisdictionFromQuery(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	e := &jx.Encoder{}
	encodeCart(e, c, totals)
	respondJSON(w, http.StatusOK, e)
}

type addItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	own, ok := owner(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "no_identity", "X-User-ID or X-Session-Token required")
		return
	}

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	p, err := h.catalog.Get(r.Context(), req.ProductID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	c, err := h.carts.Add(r.Context(), own, p, req.Quantity)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	totals, err := h.carts.Totals(r.Context(), c, jurisdictionFromQuery(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	e := &jx.Encoder{}
	encodeCart(e, c, totals)
	respondJSON(w, http.StatusCreated, e)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	own, ok := owner(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "no_identity", "X-User-ID or X-Session-Token required")
		return
	}

	itemID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "item id must be an integer")
		return
	}

	c, err := h.carts.Fetch(r.Context(), own)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if err := h.carts.Remove(r.Context(), c.ID, itemID); err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	own, ok := owner(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "no_identity", "X-User-ID or X-Session-Token required")
		return
	}

	c, err := h.carts.Fetch(r.Context(), own)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if err := h.carts.Destroy(r.Context(), c.ID); err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type claimCartRequest struct {
	SessionToken string `json:"session_token"`
}

// claimCart folds the anonymous session cart into the signed-in user's
// cart. Called once after sign-in.
func (h *Handler) claimCart(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity(r)
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "no_identity", "X-User-ID required")
		return
	}

	var req claimCartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionToken == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "session_token is required")
		return
	}

	if err := h.carts.MergeOnSignIn(r.Context(), req.SessionToken, userID); err != nil {
		respondDomainError(w, err)
		return
	}

	c, err := h.carts.Fetch(r.Context(), cart.Owner{UserID: userID})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	totals, err := h.carts.Totals(r.Context(), c, jurisdictionFromQuery(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	e := &jx.Encoder{}
	encodeCart(e, c, totals)
	respondJSON(w, http.StatusOK, e)
}
