package order

import (
	"github.com/code-and-effect/effective-orders-sub000/internal/money"
)

// Policy holds the installation-wide order rules. It is built once from
// configuration at process start and passed into the Service.
type Policy struct {
	// MinimumCharge is the smallest positive total a provider will accept.
	MinimumCharge money.Cents
	// AllowFree permits zero-total orders.
	AllowFree bool
	// AllowRefunds permits negative-total orders.
	AllowRefunds bool
	// RequireBillingAddress gates buyer-facing address validation.
	RequireBillingAddress bool
}

// Validate checks the aggregate against business rules, recomputing totals
// first for not-yet-purchased orders. skipBuyer relaxes buyer-facing rules
// (addresses, email) for administrative flows; the money rules always hold.
func (o *Order) Validate(p Policy, skipBuyer bool) error {
	if err := o.Recalculate(); err != nil {
		return err
	}

	fields := map[string]string{}

	if len(o.Items) == 0 {
		fields["items"] = "order must contain at least one item"
	}

	if !skipBuyer {
		if o.Email == "" {
			fields["email"] = "buyer email is required"
		}
		if p.RequireBillingAddress && o.BillingAddress == nil {
			fields["billing_address"] = "billing address is required"
		}
	}

	if o.taxable() && o.TaxRate == nil {
		fields["tax_rate"] = "billing jurisdiction is unknown; tax cannot be determined"
	}

	switch {
	case o.Total < 0 && !p.AllowRefunds:
		fields["total"] = "negative totals are not allowed"
	case o.Total == 0 && !p.AllowFree:
		fields["total"] = "free orders are not allowed"
	case o.Total > 0 && o.Total < p.MinimumCharge:
		fields["total"] = "total is below the minimum charge of " + p.MinimumCharge.String()
	}

	// Purchased state and payment fields travel together, both ways.
	if o.Purchased() {
		if o.PurchasedAt == nil || o.Payment == nil || o.PaymentProvider == "" || o.PaymentCard == "" {
			fields["payment"] = "purchased orders require purchased_at, payment, provider and card"
		}
	} else if o.PurchasedAt != nil {
		fields["purchased_at"] = "only purchased orders carry a purchase timestamp"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// taxable reports whether any line needs a tax rate at all. An order of
// exclusively exempt items validates without a resolved jurisdiction.
func (o *Order) taxable() bool {
	for _, it := range o.Items {
		if !it.TaxExempt {
			return true
		}
	}
	return false
}
