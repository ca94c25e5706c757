package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marbeck/plansync/internal/domain"
)

func testTable() Table {
	return Table{
		Prices: map[string]domain.PlanTier{
			"price_starter_monthly": domain.PlanStarter,
			"price_pro_monthly":     domain.PlanPro,
			"price_biz_monthly":     domain.PlanBusiness,
		},
		Amounts: map[int64]domain.PlanTier{
			9:  domain.PlanStarter,
			19: domain.PlanPro,
			49: domain.PlanBusiness,
			99: domain.PlanEnterprise,
		},
		Default: domain.PlanStarter,
	}
}

func TestResolve_Order(t *testing.T) {
	r := NewResolver(testTable())

	tests := []struct {
		name    string
		tag     string
		priceID string
		amount  int64
		want    domain.PlanTier
	}{
		{
			name:    "metadata tag wins over price and amount",
			tag:     "enterprise",
			priceID: "price_pro_monthly",
			amount:  19,
			want:    domain.PlanEnterprise,
		},
		{
			name:    "price id wins over amount",
			priceID: "price_biz_monthly",
			amount:  19,
			want:    domain.PlanBusiness,
		},
		{
			name:   "amount match",
			amount: 19,
			want:   domain.PlanPro,
		},
		{
			name: "no rule matches defaults to starter",
			want: domain.PlanStarter,
		},
		{
			name:    "unknown price id falls through to amount",
			priceID: "price_unknown",
			amount:  49,
			want:    domain.PlanBusiness,
		},
		{
			name:   "unknown amount defaults to starter",
			amount: 12345,
			want:   domain.PlanStarter,
		},
		{
			name:    "invalid tag falls through",
			tag:     "platinum",
			priceID: "price_pro_monthly",
			want:    domain.PlanPro,
		},
		{
			name:   "tag of none is rejected",
			tag:    "none",
			amount: 19,
			want:   domain.PlanPro,
		},
		{
			name: "tag is case and whitespace insensitive",
			tag:  "  Pro ",
			want: domain.PlanPro,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(tt.tag, tt.priceID, tt.amount))
		})
	}
}

func TestNewResolver_DropsInvalidEntries(t *testing.T) {
	r := NewResolver(Table{
		Prices:  map[string]domain.PlanTier{"price_bad": "platinum"},
		Amounts: map[int64]domain.PlanTier{19: "gold"},
		Default: "silver",
	})

	// Invalid entries and default fall back to starter.
	assert.Equal(t, domain.PlanStarter, r.Resolve("", "price_bad", 0))
	assert.Equal(t, domain.PlanStarter, r.Resolve("", "", 19))
}

func TestResolve_MinorUnitsConvertedUpstream(t *testing.T) {
	// The normalizer divides by 100 before the resolver sees an amount;
	// a $19.00 checkout arrives here as 19.
	r := NewResolver(testTable())
	assert.Equal(t, domain.PlanPro, r.Resolve("", "", 1900/100))
}
