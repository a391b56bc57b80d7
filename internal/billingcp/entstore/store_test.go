package entstore

import (
	"errors"
	"testing"
	"time"

	"github.com/vitrinehq/vitrine-billing/internal/entitlement"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testUpdate(tier entitlement.Tier, status entitlement.SubscriptionStatus, eventAt time.Time) BillingUpdate {
	periodEnd := eventAt.Add(30 * 24 * time.Hour)
	return BillingUpdate{
		Tier:          tier,
		TierExpiresAt: &periodEnd,
		Subscription: Subscription{
			StripeCustomerID:     "cus_test123",
			StripeSubscriptionID: "sub_test123",
			StripePriceID:        "price_std_monthly",
			Status:               status,
			CurrentPeriodStart:   eventAt,
			CurrentPeriodEnd:     periodEnd,
		},
		EventAt: eventAt,
	}
}

func TestApplyBillingUpdateCreatesRecord(t *testing.T) {
	s := newTestStore(t)
	eventAt := time.Now().UTC().Truncate(time.Second)

	if err := s.ApplyBillingUpdate("st_acme", testUpdate(entitlement.TierStandard, entitlement.StatusActive, eventAt)); err != nil {
		t.Fatalf("ApplyBillingUpdate: %v", err)
	}

	rec, err := s.Get("st_acme")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Tier != entitlement.TierStandard {
		t.Errorf("tier = %q, want standard", rec.Tier)
	}
	if rec.Subscription == nil {
		t.Fatal("subscription sub-record missing")
	}
	if rec.Subscription.Status != entitlement.StatusActive {
		t.Errorf("status = %q, want active", rec.Subscription.Status)
	}
	if rec.Subscription.TrialEnd != nil {
		t.Error("trial end should be absent when not supplied")
	}
	if !rec.LastEventAt.Equal(eventAt) {
		t.Errorf("last event at = %v, want %v", rec.LastEventAt, eventAt)
	}
}

func TestApplyBillingUpdateIdempotent(t *testing.T) {
	s := newTestStore(t)
	eventAt := time.Now().UTC().Truncate(time.Second)
	upd := testUpdate(entitlement.TierPremium, entitlement.StatusActive, eventAt)

	if err := s.ApplyBillingUpdate("st_acme", upd); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	first, err := s.Get("st_acme")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	// Same event payload re-applied (at-least-once redelivery) must produce
	// an identical record, not an error.
	if err := s.ApplyBillingUpdate("st_acme", upd); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	second, err := s.Get("st_acme")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if first.Tier != second.Tier || !first.LastEventAt.Equal(second.LastEventAt) {
		t.Errorf("records differ after redelivery: %+v vs %+v", first, second)
	}
	if *first.Subscription != *second.Subscription {
		t.Errorf("sub-records differ after redelivery: %+v vs %+v", first.Subscription, second.Subscription)
	}
	if !first.CreatedAt.Equal(second.CreatedAt) {
		t.Error("created at must not change on update")
	}
}

func TestApplyBillingUpdateRejectsStaleEvent(t *testing.T) {
	s := newTestStore(t)
	newer := time.Now().UTC().Truncate(time.Second)
	older := newer.Add(-5 * time.Minute)

	if err := s.ApplyBillingUpdate("st_acme", testUpdate(entitlement.TierFree, entitlement.StatusPastDue, newer)); err != nil {
		t.Fatalf("apply newer: %v", err)
	}

	err := s.ApplyBillingUpdate("st_acme", testUpdate(entitlement.TierStandard, entitlement.StatusActive, older))
	if !errors.Is(err, ErrStaleEvent) {
		t.Fatalf("apply older: err = %v, want ErrStaleEvent", err)
	}

	rec, err := s.Get("st_acme")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Tier != entitlement.TierFree {
		t.Errorf("stale event overwrote newer state: tier = %q", rec.Tier)
	}
	if rec.Subscription.Status != entitlement.StatusPastDue {
		t.Errorf("stale event overwrote newer status: %q", rec.Subscription.Status)
	}
}

func TestApplyDowngradeKeepsOtherFields(t *testing.T) {
	s := newTestStore(t)
	eventAt := time.Now().UTC().Truncate(time.Second)

	if err := s.ApplyBillingUpdate("st_acme", testUpdate(entitlement.TierPremium, entitlement.StatusActive, eventAt)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := s.ApplyDowngrade("st_acme", Downgrade{
		Status:  entitlement.StatusPastDue,
		EventAt: eventAt.Add(time.Minute),
	}); err != nil {
		t.Fatalf("ApplyDowngrade: %v", err)
	}

	rec, err := s.Get("st_acme")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Tier != entitlement.TierFree {
		t.Errorf("tier = %q, want free", rec.Tier)
	}
	if rec.Subscription.Status != entitlement.StatusPastDue {
		t.Errorf("status = %q, want past_due", rec.Subscription.Status)
	}
	if rec.Subscription.StripeCustomerID != "cus_test123" {
		t.Error("downgrade must not clear customer id")
	}
	if rec.Subscription.StripePriceID != "price_std_monthly" {
		t.Error("downgrade must not clear price id")
	}
	if rec.Subscription.CancelAtPeriodEnd {
		t.Error("downgrade without cancel flag must leave it untouched")
	}
}

func TestApplyDowngradeSetsCancelFlag(t *testing.T) {
	s := newTestStore(t)
	eventAt := time.Now().UTC().Truncate(time.Second)

	if err := s.ApplyBillingUpdate("st_acme", testUpdate(entitlement.TierStandard, entitlement.StatusActive, eventAt)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	cancel := true
	if err := s.ApplyDowngrade("st_acme", Downgrade{
		Status:            entitlement.StatusCanceled,
		CancelAtPeriodEnd: &cancel,
		EventAt:           eventAt.Add(time.Minute),
	}); err != nil {
		t.Fatalf("ApplyDowngrade: %v", err)
	}

	rec, err := s.Get("st_acme")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Subscription.Status != entitlement.StatusCanceled || !rec.Subscription.CancelAtPeriodEnd {
		t.Errorf("record = %+v, want canceled with cancel_at_period_end", rec.Subscription)
	}
}

func TestApplyDowngradeCreatesMissingRecord(t *testing.T) {
	s := newTestStore(t)

	if err := s.ApplyDowngrade("st_new", Downgrade{
		Status:  entitlement.StatusCanceled,
		EventAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("ApplyDowngrade: %v", err)
	}

	rec, err := s.Get("st_new")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Tier != entitlement.TierFree {
		t.Errorf("tier = %q, want free", rec.Tier)
	}
}

func TestGetByStripeCustomerID(t *testing.T) {
	s := newTestStore(t)
	eventAt := time.Now().UTC()

	if err := s.ApplyBillingUpdate("st_acme", testUpdate(entitlement.TierStandard, entitlement.StatusActive, eventAt)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec, err := s.GetByStripeCustomerID("cus_test123")
	if err != nil {
		t.Fatalf("GetByStripeCustomerID: %v", err)
	}
	if rec.StoreID != "st_acme" {
		t.Errorf("store id = %q, want st_acme", rec.StoreID)
	}

	if _, err := s.GetByStripeCustomerID("cus_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing customer: err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetByStripeCustomerID(""); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty customer: err = %v, want ErrNotFound", err)
	}
}

func TestListAndCountByTier(t *testing.T) {
	s := newTestStore(t)
	eventAt := time.Now().UTC()

	seedTiers := map[string]entitlement.Tier{
		"st_a": entitlement.TierStandard,
		"st_b": entitlement.TierPremium,
		"st_c": entitlement.TierPremium,
	}
	for id, tier := range seedTiers {
		upd := testUpdate(tier, entitlement.StatusActive, eventAt)
		upd.Subscription.StripeCustomerID = "cus_" + id
		if err := s.ApplyBillingUpdate(id, upd); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	all, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("List returned %d records, want 3", len(all))
	}

	premium, err := s.List(entitlement.TierPremium)
	if err != nil {
		t.Fatalf("List(premium): %v", err)
	}
	if len(premium) != 2 {
		t.Errorf("List(premium) returned %d records, want 2", len(premium))
	}

	counts, err := s.CountByTier()
	if err != nil {
		t.Fatalf("CountByTier: %v", err)
	}
	if counts[entitlement.TierStandard] != 1 || counts[entitlement.TierPremium] != 2 {
		t.Errorf("counts = %v", counts)
	}
}
