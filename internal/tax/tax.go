// Package tax resolves sales tax rates from a billing jurisdiction.
//
// A rate of zero and an unknown jurisdiction are different answers: zero
// means "valid, no tax", unknown means "cannot validate the order yet".
// Callers must keep the two apart.
package tax

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// Jurisdiction identifies where an order is billed.
type Jurisdiction struct {
	Country  string // ISO 3166-1 alpha-2, e.g. "CA"
	Province string // subdivision code, e.g. "ON"
}

// Calculator resolves the tax rate percentage for a jurisdiction.
// The second return is false when the jurisdiction is unknown.
type Calculator interface {
	Rate(ctx context.Context, j Jurisdiction) (decimal.Decimal, bool)
}

// Func adapts a plain function to the Calculator interface, so the rate
// policy can be injected from configuration.
type Func func(ctx context.Context, j Jurisdiction) (decimal.Decimal, bool)

func (f Func) Rate(ctx context.Context, j Jurisdiction) (decimal.Decimal, bool) {
	return f(ctx, j)
}

// Fixed returns a Calculator that answers the same rate for every
// jurisdiction. Useful for single-jurisdiction installs and tests.
func Fixed(rate decimal.Decimal) Calculator {
	return Func(func(context.Context, Jurisdiction) (decimal.Decimal, bool) {
		return rate, true
	})
}

// canadianRates holds combined GST/HST/PST percentages by province code.
var canadianRates = map[string]decimal.Decimal{
	"AB": decimal.NewFromInt(5),
	"BC": decimal.NewFromInt(12),
	"MB": decimal.NewFromInt(12),
	"NB": decimal.NewFromInt(15),
	"NL": decimal.NewFromInt(15),
	"NS": decimal.NewFromInt(15),
	"NT": decimal.NewFromInt(5),
	"NU": decimal.NewFromInt(5),
	"ON": decimal.NewFromInt(13),
	"PE": decimal.NewFromInt(15),
	"QC": decimal.RequireFromString("14.975"),
	"SK": decimal.NewFromInt(11),
	"YT": decimal.NewFromInt(5),
}

// Canada is the default Calculator: Canadian provinces by combined rate,
// other countries untaxed (explicit zero), missing or unrecognized
// jurisdictions unknown.
type Canada struct{}

func (Canada) Rate(_ context.Context, j Jurisdiction) (decimal.Decimal, bool) {
	country := strings.ToUpper(strings.TrimSpace(j.Country))
	if country == "" {
		return decimal.Zero, false
	}
	if country != "CA" {
		// Exports are zero-rated, which is a real answer, not an unknown.
		return decimal.Zero, true
	}

	rate, ok := canadianRates[strings.ToUpper(strings.TrimSpace(j.Province))]
	if !ok {
		return decimal.Zero, false
	}
	return rate, true
}
