package entitlement

import "testing"

func newTestResolver() *Resolver {
	return NewResolver(
		[]string{"price_std_monthly", "price_std_yearly"},
		[]string{"price_prem_monthly", "price_prem_yearly"},
	)
}

func TestResolveMappedPrices(t *testing.T) {
	r := newTestResolver()

	for _, id := range []string{"price_std_monthly", "price_std_yearly"} {
		if got := r.Resolve(id); got != TierStandard {
			t.Errorf("Resolve(%q) = %q, want standard", id, got)
		}
	}
	for _, id := range []string{"price_prem_monthly", "price_prem_yearly"} {
		if got := r.Resolve(id); got != TierPremium {
			t.Errorf("Resolve(%q) = %q, want premium", id, got)
		}
	}
}

func TestResolveUnknownPriceFailsOpen(t *testing.T) {
	r := newTestResolver()

	// Unmapped ids grant the lowest paid tier, never free and never an error.
	for _, id := range []string{"price_new_unmapped", ""} {
		if got := r.Resolve(id); got != LowestPaidTier {
			t.Errorf("Resolve(%q) = %q, want %q", id, got, LowestPaidTier)
		}
	}
	if r.Known("price_new_unmapped") {
		t.Error("unmapped price must not be Known")
	}
	if !r.Known("price_std_monthly") {
		t.Error("mapped price must be Known")
	}
}

func TestResolverTrimsAndDeduplicates(t *testing.T) {
	r := NewResolver([]string{" price_a ", ""}, []string{"price_a"})
	// Premium wins on duplicates.
	if got := r.Resolve("price_a"); got != TierPremium {
		t.Errorf("Resolve(price_a) = %q, want premium", got)
	}
}
