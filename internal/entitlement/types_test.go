package entitlement

import "testing"

func TestParseSubscriptionStatus(t *testing.T) {
	cases := map[string]SubscriptionStatus{
		"active":             StatusActive,
		"trialing":           StatusTrialing,
		"past_due":           StatusPastDue,
		"canceled":           StatusCanceled,
		"unpaid":             StatusUnpaid,
		"incomplete":         StatusIncomplete,
		"incomplete_expired": StatusIncompleteExpired,
		"  Active  ":         StatusActive,
		"TRIALING":           StatusTrialing,
		"paused":             StatusUnpaid,
		"":                   StatusUnpaid,
		"garbage":            StatusUnpaid,
	}
	for in, want := range cases {
		if got := ParseSubscriptionStatus(in); got != want {
			t.Errorf("ParseSubscriptionStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsEntitled(t *testing.T) {
	entitled := map[SubscriptionStatus]bool{
		StatusActive:            true,
		StatusTrialing:          true,
		StatusPastDue:           false,
		StatusCanceled:          false,
		StatusUnpaid:            false,
		StatusIncomplete:        false,
		StatusIncompleteExpired: false,
	}
	for status, want := range entitled {
		if got := status.IsEntitled(); got != want {
			t.Errorf("%s.IsEntitled() = %v, want %v", status, got, want)
		}
	}
}

func TestTierIsPaid(t *testing.T) {
	if TierFree.IsPaid() {
		t.Error("free tier must not be paid")
	}
	if !TierStandard.IsPaid() || !TierPremium.IsPaid() {
		t.Error("standard and premium tiers must be paid")
	}
}
