package handler

import (
	"time"

	"github.com/go-faster/jx"

	"github.com/code-and-effect/effective-orders-sub000/internal/cart"
	"github.com/code-and-effect/effective-orders-sub000/internal/catalog"
	"github.com/code-and-effect/effective-orders-sub000/internal/checkout"
	"github.com/code-and-effect/effective-orders-sub000/internal/order"
	"github.com/code-and-effect/effective-orders-sub000/internal/payment"
)

func encodeProduct(e *jx.Encoder, p *catalog.Product) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(p.ID) })
		e.Field("title", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("price_cents", func(e *jx.Encoder) { e.Int64(int64(p.PriceCents)) })
		e.Field("price", func(e *jx.Encoder) { e.Str(p.PriceCents.String()) })
		e.Field("tax_exempt", func(e *jx.Encoder) { e.Bool(p.Exempt) })
		if p.Stocked {
			e.Field("quantity_remaining", func(e *jx.Encoder) { e.Int(p.Remaining) })
		}
	})
}

func encodeCart(e *jx.Encoder, c *cart.Cart, t cart.Totals) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(c.ID) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range c.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("id", func(e *jx.Encoder) { e.Int64(it.ID) })
						e.Field("kind", func(e *jx.Encoder) { e.Str(it.Ref.Kind) })
						e.Field("purchasable_id", func(e *jx.Encoder) { e.Int64(it.Ref.ID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
					})
				}
			})
		})
		e.Field("subtotal_cents", func(e *jx.Encoder) { e.Int64(int64(t.Subtotal)) })
		e.Field("tax_cents", func(e *jx.Encoder) { e.Int64(int64(t.Tax)) })
		e.Field("total_cents", func(e *jx.Encoder) { e.Int64(int64(t.Total)) })
		e.Field("tax_resolved", func(e *jx.Encoder) { e.Bool(t.TaxResolved) })
	})
}

func encodeAddress(e *jx.Encoder, a *order.Address) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("name", func(e *jx.Encoder) { e.Str(a.Name) })
		e.Field("line1", func(e *jx.Encoder) { e.Str(a.Line1) })
		if a.Line2 != "" {
			e.Field("line2", func(e *jx.Encoder) { e.Str(a.Line2) })
		}
		e.Field("city", func(e *jx.Encoder) { e.Str(a.City) })
		e.Field("province", func(e *jx.Encoder) { e.Str(a.Province) })
		e.Field("country", func(e *jx.Encoder) { e.Str(a.Country) })
		e.Field("postal", func(e *jx.Encoder) { e.Str(a.Postal) })
	})
}

// encodeOrder renders the buyer-facing order view. Internal ids never leave
// the process; the public number is the obfuscated form. The raw payment
// record is deliberately absent.
func encodeOrder(e *jx.Encoder, o *order.Order, number string) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("number", func(e *jx.Encoder) { e.Str(number) })
		e.Field("state", func(e *jx.Encoder) { e.Str(string(o.State)) })
		e.Field("email", func(e *jx.Encoder) { e.Str(o.Email) })

		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("title", func(e *jx.Encoder) { e.Str(it.Title) })
						e.Field("price_cents", func(e *jx.Encoder) { e.Int64(int64(it.Price)) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("subtotal_cents", func(e *jx.Encoder) { e.Int64(int64(it.Subtotal())) })
					})
				}
			})
		})

		if o.TaxRate != nil {
			e.Field("tax_rate", func(e *jx.Encoder) { e.Str(o.TaxRate.String()) })
		}
		e.Field("subtotal_cents", func(e *jx.Encoder) { e.Int64(int64(o.Subtotal)) })
		e.Field("tax_cents", func(e *jx.Encoder) { e.Int64(int64(o.Tax)) })
		e.Field("total_cents", func(e *jx.Encoder) { e.Int64(int64(o.Total)) })
		e.Field("total", func(e *jx.Encoder) { e.Str(o.Total.String()) })

		if o.BillingAddress != nil {
			e.Field("billing_address", func(e *jx.Encoder) { encodeAddress(e, o.BillingAddress) })
		}
		if o.ShippingAddress != nil {
			e.Field("shipping_address", func(e *jx.Encoder) { encodeAddress(e, o.ShippingAddress) })
		}

		if o.PaymentProvider != "" {
			e.Field("payment_provider", func(e *jx.Encoder) { e.Str(o.PaymentProvider) })
			e.Field("payment_card", func(e *jx.Encoder) { e.Str(o.PaymentCard) })
		}
		if o.PurchasedAt != nil {
			e.Field("purchased_at", func(e *jx.Encoder) { e.Str(o.PurchasedAt.Format(time.RFC3339)) })
		}
		if o.NoteToBuyer != "" {
			e.Field("note_to_buyer", func(e *jx.Encoder) { e.Str(o.NoteToBuyer) })
		}
	})
}

func encodeInitiation(e *jx.Encoder, init *payment.Initiation) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("provider", func(e *jx.Encoder) { e.Str(init.Provider) })
		if init.RedirectURL != "" {
			e.Field("redirect_url", func(e *jx.Encoder) { e.Str(init.RedirectURL) })
		}
		if len(init.ClientFields) > 0 {
			e.Field("client_fields", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					for k, v := range init.ClientFields {
						e.Field(k, func(e *jx.Encoder) { e.Str(v) })
					}
				})
			})
		}
		if init.Instructions != "" {
			e.Field("instructions", func(e *jx.Encoder) { e.Str(init.Instructions) })
		}
	})
}

func encodeResult(e *jx.Encoder, res *checkout.Result, number string) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("purchased", func(e *jx.Encoder) { e.Bool(res.Purchased) })
		e.Field("message", func(e *jx.Encoder) { e.Str(res.Message) })
		if res.RedirectURL != "" {
			e.Field("redirect_url", func(e *jx.Encoder) { e.Str(res.RedirectURL) })
		}
		e.Field("order", func(e *jx.Encoder) { encodeOrder(e, res.Order, number) })
	})
}
