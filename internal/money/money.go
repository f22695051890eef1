// Package money provides integer-cents arithmetic for order totals.
//
// All persisted monetary amounts are int64 minor currency units. Floating
// point never touches a stored total; percentage math goes through
// shopspring/decimal and is rounded to whole cents exactly once, at the
// line-item level.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is a monetary amount in minor currency units. Negative amounts
// represent refunds.
type Cents int64

// Tax computes the tax owed on subtotal at the given percentage rate
// (e.g. 13 for 13%), rounded half away from zero to the nearest cent.
// Rounding happens here, per line, and nowhere else.
func Tax(subtotal Cents, rate decimal.Decimal) Cents {
	tax := decimal.NewFromInt(int64(subtotal)).
		Mul(rate).
		Div(decimal.NewFromInt(100)).
		Round(0)
	return Cents(tax.IntPart())
}

// Percentage computes amount scaled by a percentage rate, rounded to the
// nearest cent. Used for payment-method surcharges.
func Percentage(amount Cents, rate decimal.Decimal) Cents {
	return Tax(amount, rate)
}

// String formats the amount as a dollar string, e.g. "$269.98" or "-$5.00".
// Display convenience for logs and receipts only.
func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s$%d.%02d", sign, v/100, v%100)
}
