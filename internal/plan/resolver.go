// Package plan maps provider price identifiers and charge amounts to internal
// plan tiers. The lookup table is injected configuration; call sites never
// branch on price or amount literals.
package plan

import (
	"strings"

	"github.com/marbeck/plansync/internal/domain"
)

// Table is the injected plan lookup configuration.
type Table struct {
	// Prices maps a provider price id (e.g. "price_1N...") to a tier.
	Prices map[string]domain.PlanTier

	// Amounts maps a charge amount in major currency units to a tier.
	Amounts map[int64]domain.PlanTier

	// Default is the tier used when no rule matches. Defaults to starter.
	Default domain.PlanTier
}

// DefaultTable returns the built-in amount mapping used when no plan
// configuration file is provided.
func DefaultTable() Table {
	return Table{
		Amounts: map[int64]domain.PlanTier{
			9:  domain.PlanStarter,
			19: domain.PlanPro,
			49: domain.PlanBusiness,
			99: domain.PlanEnterprise,
		},
		Default: domain.PlanStarter,
	}
}

// Resolver resolves plan tiers deterministically.
//
// Resolution order:
//  1. explicit metadata tag naming the plan, if valid
//  2. exact price-identifier match
//  3. amount match
//  4. the configured default
type Resolver struct {
	prices  map[string]domain.PlanTier
	amounts map[int64]domain.PlanTier
	def     domain.PlanTier
}

// NewResolver creates a Resolver from a Table. Entries mapping to invalid
// tiers are dropped rather than resolved to garbage.
func NewResolver(table Table) *Resolver {
	r := &Resolver{
		prices:  make(map[string]domain.PlanTier, len(table.Prices)),
		amounts: make(map[int64]domain.PlanTier, len(table.Amounts)),
		def:     table.Default,
	}

	for priceID, tier := range table.Prices {
		if tier.Valid() {
			r.prices[priceID] = tier
		}
	}
	for amount, tier := range table.Amounts {
		if tier.Valid() {
			r.amounts[amount] = tier
		}
	}

	if !r.def.Valid() || r.def == domain.PlanNone {
		r.def = domain.PlanStarter
	}

	return r
}

// Resolve maps an event's plan hints to a tier. tag is an explicit plan name
// from event metadata, priceID the provider price identifier, amount the
// charge in major units (0 when absent).
func (r *Resolver) Resolve(tag, priceID string, amount int64) domain.PlanTier {
	if tag != "" {
		tier := domain.PlanTier(strings.ToLower(strings.TrimSpace(tag)))
		if tier.Valid() && tier != domain.PlanNone {
			return tier
		}
	}

	if priceID != "" {
		if tier, ok := r.prices[priceID]; ok {
			return tier
		}
	}

	if amount > 0 {
		if tier, ok := r.amounts[amount]; ok {
			return tier
		}
	}

	return r.def
}
