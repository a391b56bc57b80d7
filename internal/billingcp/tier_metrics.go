package billingcp

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vitrinehq/vitrine-billing/internal/billingcp/bpmetrics"
	"github.com/vitrinehq/vitrine-billing/internal/billingcp/entstore"
	"github.com/vitrinehq/vitrine-billing/internal/entitlement"
)

const tierMetricsInterval = 30 * time.Second

func runTierMetrics(ctx context.Context, store *entstore.Store) {
	ticker := time.NewTicker(tierMetricsInterval)
	defer ticker.Stop()

	// Prime once at startup so /metrics isn't empty for this gauge.
	updateTierGauges(store)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateTierGauges(store)
		}
	}
}

func updateTierGauges(store *entstore.Store) {
	counts, err := store.CountByTier()
	if err != nil {
		log.Error().Err(err).Msg("Failed to update entitlement tier metrics")
		return
	}

	// Ensure a stable label set: tiers with no rows still report zero.
	for _, tier := range []entitlement.Tier{
		entitlement.TierFree,
		entitlement.TierStandard,
		entitlement.TierPremium,
	} {
		bpmetrics.EntitlementsByTier.WithLabelValues(string(tier)).Set(float64(counts[tier]))
	}
}
