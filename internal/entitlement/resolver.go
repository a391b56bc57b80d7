package entitlement

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// Resolver maps Stripe price ids onto entitlement tiers. The table is fixed
// at construction; multiple price ids (monthly, yearly) may map to the same
// tier.
type Resolver struct {
	table map[string]Tier
}

// NewResolver builds a resolver from per-tier price id lists. Empty and
// duplicate ids are dropped; on a duplicate the higher tier wins.
func NewResolver(standardPriceIDs, premiumPriceIDs []string) *Resolver {
	table := make(map[string]Tier, len(standardPriceIDs)+len(premiumPriceIDs))
	for _, id := range standardPriceIDs {
		if id = strings.TrimSpace(id); id != "" {
			table[id] = TierStandard
		}
	}
	for _, id := range premiumPriceIDs {
		if id = strings.TrimSpace(id); id != "" {
			table[id] = TierPremium
		}
	}
	return &Resolver{table: table}
}

// Resolve returns the tier for a price id. Ids absent from the table resolve
// to the lowest paid tier rather than failing closed: a paying customer must
// not be locked out because the table lags behind new pricing. The miss is
// logged so it is distinguishable from a mapped price in operation.
func (r *Resolver) Resolve(priceID string) Tier {
	priceID = strings.TrimSpace(priceID)
	if tier, ok := r.table[priceID]; ok {
		return tier
	}
	log.Warn().Str("price_id", priceID).Str("tier", string(LowestPaidTier)).
		Msg("Price id not in tier table, granting lowest paid tier")
	return LowestPaidTier
}

// Known reports whether the price id is present in the table.
func (r *Resolver) Known(priceID string) bool {
	_, ok := r.table[strings.TrimSpace(priceID)]
	return ok
}
