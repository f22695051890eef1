package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/code-and-effect/effective-orders-sub000/internal/order"
	"github.com/code-and-effect/effective-orders-sub000/internal/payment"
)

type addressRequest struct {
	Name     string `json:"name"`
	Line1    string `json:"line1"`
	Line2    string `json:"line2"`
	City     string `json:"city"`
	Province string `json:"province"`
	Country  string `json:"country"`
	Postal   string `json:"postal"`
}

func (a *addressRequest) toAddress() *order.Address {
	if a == nil {
		return nil
	}
	return &order.Address{
		Name:     a.Name,
		Line1:    a.Line1,
		Line2:    a.Line2,
		City:     a.City,
		Province: a.Province,
		Country:  a.Country,
		Postal:   a.Postal,
	}
}

type createOrderRequest struct {
	Email           string          `json:"email"`
	BillingAddress  *addressRequest `json:"billing_address"`
	ShippingAddress *addressRequest `json:"shipping_address"`
	Note            string          `json:"note"`
}

// createOrder snapshots the caller's cart into a pending order. The cart
// itself survives until a purchase settles.
func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	own, ok := owner(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "no_identity", "X-User-ID or X-Session-Token required")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	c, err := h.carts.Fetch(r.Context(), own)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	lines := make([]order.Line, 0, len(c.Items))
	for _, it := range c.Items {
		p, err := h.catalog.Resolve(r.Context(), it.Ref)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		lines = append(lines, order.Line{Purchasable: p, Quantity: it.Quantity})
	}

	buyer := order.Buyer{
		ID:              own.UserID,
		Email:           req.Email,
		BillingAddress:  req.BillingAddress.toAddress(),
		ShippingAddress: req.ShippingAddress.toAddress(),
	}

	o, err := h.orders.Create(r.Context(), buyer, lines, c.ID, false)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if req.Note != "" {
		o.Note = req.Note
		if err := h.orders.Update(r.Context(), o, false); err != nil {
			respondDomainError(w, err)
			return
		}
	}

	e := &jx.Encoder{}
	encodeOrder(e, o, h.coder.Hide(o.ID))
	respondJSON(w, http.StatusCreated, e)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := h.orderID(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	// Orders tied to a user are private to that user. Anonymous orders are
	// reachable by number alone; the number itself is unguessable.
	userID, _ := identity(r)
	if o.BuyerID != 0 && o.BuyerID != userID && !h.isAdmin(r) {
		respondError(w, http.StatusForbidden, "forbidden", "not authorized for this order")
		return
	}

	e := &jx.Encoder{}
	encodeOrder(e, o, chi.URLParam(r, "number"))
	respondJSON(w, http.StatusOK, e)
}

type beginCheckoutRequest struct {
	SuccessURL  string `json:"success_url"`
	DeclinedURL string `json:"declined_url"`
}

func (h *Handler) beginCheckout(w http.ResponseWriter, r *http.Request) {
	id, err := h.orderID(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	var req beginCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	init, err := h.checkout.Begin(r.Context(), h.actor(r), id, chi.URLParam(r, "provider"),
		payment.ReturnURLs{Success: req.SuccessURL, Declined: req.DeclinedURL})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	e := &jx.Encoder{}
	encodeInitiation(e, init)
	respondJSON(w, http.StatusOK, e)
}

type completeCheckoutRequest struct {
	Payload     map[string]string `json:"payload"`
	SuccessURL  string            `json:"success_url"`
	DeclinedURL string            `json:"declined_url"`
}

func (h *Handler) completeCheckout(w http.ResponseWriter, r *http.Request) {
	id, err := h.orderID(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	var req completeCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	res, err := h.checkout.Complete(r.Context(), h.actor(r), id, chi.URLParam(r, "provider"),
		payment.Payload(req.Payload),
		payment.ReturnURLs{Success: req.SuccessURL, Declined: req.DeclinedURL})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	e := &jx.Encoder{}
	encodeResult(e, res, chi.URLParam(r, "number"))
	respondJSON(w, http.StatusOK, e)
}

type webhookRequest struct {
	EventID     string            `json:"event_id"`
	OrderNumber string            `json:"order_number"`
	Payload     map[string]string `json:"payload"`
}

// providerWebhook handles asynchronous provider postbacks. Authenticity
// lives in the adapter: each Resolve verifies its provider's signature or
// re-queries the gateway before trusting the payload.
func (h *Handler) providerWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.EventID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "event_id is required")
		return
	}

	id, err := h.coder.Show(req.OrderNumber)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	res, err := h.checkout.HandleNotification(r.Context(), chi.URLParam(r, "provider"),
		req.EventID, id, payment.Payload(req.Payload))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	e := &jx.Encoder{}
	encodeResult(e, res, req.OrderNumber)
	respondJSON(w, http.StatusOK, e)
}

type markPaidRequest struct {
	Payload        map[string]string `json:"payload"`
	SkipValidation bool              `json:"skip_validation"`
	SkipEmail      bool              `json:"skip_email"`
}

func (h *Handler) markAsPaid(w http.ResponseWriter, r *http.Request) {
	id, err := h.orderID(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	var req markPaidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	res, err := h.checkout.MarkAsPaid(r.Context(), h.actor(r), id, chi.URLParam(r, "provider"),
		payment.Payload(req.Payload), order.PurchaseOptions{
			SkipValidation:      req.SkipValidation,
			SkipBuyerValidation: true,
			SkipEmail:           req.SkipEmail,
		})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	e := &jx.Encoder{}
	encodeResult(e, res, chi.URLParam(r, "number"))
	respondJSON(w, http.StatusOK, e)
}

func (h *Handler) capture(w http.ResponseWriter, r *http.Request) {
	id, err := h.orderID(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	res, err := h.checkout.Capture(r.Context(), h.actor(r), id, chi.URLParam(r, "provider"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	e := &jx.Encoder{}
	encodeResult(e, res, chi.URLParam(r, "number"))
	respondJSON(w, http.StatusOK, e)
}

func (h *Handler) voidOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionOrder(w, r, h.orders.Void)
}

func (h *Handler) unvoidOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionOrder(w, r, h.orders.Unvoid)
}

func (h *Handler) transitionOrder(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id int64) error) {
	id, err := h.orderID(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	if err := op(r.Context(), id); err != nil {
		respondDomainError(w, err)
		return
	}

	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	e := &jx.Encoder{}
	encodeOrder(e, o, chi.URLParam(r, "number"))
	respondJSON(w, http.StatusOK, e)
}
