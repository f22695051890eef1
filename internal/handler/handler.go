// Package handler is the HTTP boundary: routing, identity extraction, JSON
// codec and status mapping. Every business rule lives below it.
package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/code-and-effect/effective-orders-sub000/internal/cart"
	"github.com/code-and-effect/effective-orders-sub000/internal/catalog"
	"github.com/code-and-effect/effective-orders-sub000/internal/checkout"
	"github.com/code-and-effect/effective-orders-sub000/internal/obfuscate"
	"github.com/code-and-effect/effective-orders-sub000/internal/order"
	"github.com/code-and-effect/effective-orders-sub000/internal/purchasable"
)

// Config holds boundary-level settings.
type Config struct {
	// AdminToken authenticates the administrative routes. Empty disables
	// them.
	AdminToken string
}

// Catalog is the product surface the boundary serves; catalog.Repository
// is the production implementation.
type Catalog interface {
	purchasable.Resolver
	List(ctx context.Context) ([]*catalog.Product, error)
	Get(ctx context.Context, id int64) (*catalog.Product, error)
}

// Handler serves the public cart/checkout surface and the admin surface.
type Handler struct {
	cfg      Config
	carts    *cart.Service
	orders   *order.Service
	checkout *checkout.Orchestrator
	catalog  Catalog
	coder    *obfuscate.Coder
}

// NewHandler creates the HTTP handler.
func NewHandler(cfg Config, carts *cart.Service, orders *order.Service, co *checkout.Orchestrator, cat Catalog, coder *obfuscate.Coder) *Handler {
	return &Handler{
		cfg:      cfg,
		carts:    carts,
		orders:   orders,
		checkout: co,
		catalog:  cat,
		coder:    coder,
	}
}

// Routes builds the router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)

	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.getCart)
		r.Post("/items", h.addCartItem)
		r.Delete("/items/{id}", h.removeCartItem)
		r.Delete("/", h.clearCart)
		// Folds the anonymous session cart into the signed-in user's cart.
		r.Post("/claim", h.claimCart)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/{number}", h.getOrder)
		r.Post("/{number}/checkout/{provider}", h.beginCheckout)
		r.Post("/{number}/checkout/{provider}/complete", h.completeCheckout)
	})

	r.Post("/webhooks/{provider}", h.providerWebhook)

	r.Route("/admin/orders/{number}", func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Post("/mark-paid/{provider}", h.markAsPaid)
		r.Post("/capture/{provider}", h.capture)
		r.Post("/void", h.voidOrder)
		r.Post("/unvoid", h.unvoidOrder)
	})

	return r
}

// identity is who the upstream gateway says is calling. The module trusts
// these headers; authentication itself happens before this server.
func identity(r *http.Request) (userID int64, sessionToken string) {
	if v := r.Header.Get("X-User-ID"); v != "" {
		userID, _ = strconv.ParseInt(v, 10, 64)
	}
	return userID, r.Header.Get("X-Session-Token")
}

func (h *Handler) actor(r *http.Request) checkout.Actor {
	userID, _ := identity(r)
	return checkout.Actor{UserID: userID, Admin: h.isAdmin(r)}
}

func owner(r *http.Request) (cart.Owner, bool) {
	userID, token := identity(r)
	if userID == 0 && token == "" {
		return cart.Owner{}, false
	}
	if userID != 0 {
		return cart.Owner{UserID: userID}, true
	}
	return cart.Owner{SessionToken: token}, true
}

func (h *Handler) isAdmin(r *http.Request) bool {
	if h.cfg.AdminToken == "" {
		return false
	}
	tok := r.Header.Get("X-Admin-Token")
	return subtle.ConstantTimeCompare([]byte(tok), []byte(h.cfg.AdminToken)) == 1
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.isAdmin(r) {
			respondError(w, http.StatusForbidden, "forbidden", "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// orderID resolves the public order number in the URL to the internal id.
func (h *Handler) orderID(r *http.Request) (int64, error) {
	return h.coder.Show(chi.URLParam(r, "number"))
}
