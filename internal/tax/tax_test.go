package tax

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanadaRate(t *testing.T) {
	ctx := context.Background()
	calc := Canada{}

	tests := []struct {
		name     string
		j        Jurisdiction
		want     string
		resolved bool
	}{
		{"ontario", Jurisdiction{"CA", "ON"}, "13", true},
		{"quebec", Jurisdiction{"CA", "QC"}, "14.975", true},
		{"alberta", Jurisdiction{"CA", "AB"}, "5", true},
		{"lowercase input", Jurisdiction{"ca", "on"}, "13", true},
		{"padded input", Jurisdiction{" CA ", " NS "}, "15", true},
		{"foreign country is zero rated", Jurisdiction{"US", "NY"}, "0", true},
		{"unknown province", Jurisdiction{"CA", "XX"}, "0", false},
		{"missing province", Jurisdiction{"CA", ""}, "0", false},
		{"missing country", Jurisdiction{"", ""}, "0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate, ok := calc.Rate(ctx, tt.j)
			assert.Equal(t, tt.resolved, ok)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(rate),
				"rate = %s", rate)
		})
	}
}

// Zero-rated and unknown must stay distinguishable: both report a zero
// rate, only one reports resolved.
func TestZeroVersusUnknown(t *testing.T) {
	ctx := context.Background()
	calc := Canada{}

	zeroRate, zeroOK := calc.Rate(ctx, Jurisdiction{Country: "US"})
	unknownRate, unknownOK := calc.Rate(ctx, Jurisdiction{Country: "CA", Province: "ZZ"})

	assert.True(t, zeroRate.Equal(unknownRate))
	assert.True(t, zeroOK)
	assert.False(t, unknownOK)
}

func TestFixed(t *testing.T) {
	calc := Fixed(decimal.RequireFromString("7.25"))

	rate, ok := calc.Rate(context.Background(), Jurisdiction{})
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("7.25").Equal(rate))
}
