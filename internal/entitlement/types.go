// Package entitlement defines the tiers and subscription states that gate
// paid features across Vitrine, and the mapping from Stripe's reported
// subscription lifecycle onto them.
package entitlement

import "strings"

// Tier is the feature-gating value read by every other Vitrine subsystem.
type Tier string

const (
	TierFree     Tier = "free"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

// LowestPaidTier is the tier granted when a price id cannot be mapped.
const LowestPaidTier = TierStandard

// Tiers lists all tiers in ascending order.
func Tiers() []Tier {
	return []Tier{TierFree, TierStandard, TierPremium}
}

// IsPaid reports whether the tier grants paid capabilities.
func (t Tier) IsPaid() bool {
	return t == TierStandard || t == TierPremium
}

// SubscriptionStatus mirrors Stripe's subscription status values.
type SubscriptionStatus string

const (
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusActive            SubscriptionStatus = "active"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusUnpaid            SubscriptionStatus = "unpaid"
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
)

// ParseSubscriptionStatus normalizes a provider-reported status string.
// Unknown statuses fail closed (unpaid) so they never grant paid access.
func ParseSubscriptionStatus(status string) SubscriptionStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "trialing":
		return StatusTrialing
	case "active":
		return StatusActive
	case "past_due":
		return StatusPastDue
	case "canceled":
		return StatusCanceled
	case "unpaid":
		return StatusUnpaid
	case "incomplete":
		return StatusIncomplete
	case "incomplete_expired":
		return StatusIncompleteExpired
	default:
		return StatusUnpaid
	}
}

// IsEntitled reports whether the status warrants a paid tier. Status drives
// gating; period-end dates are informational only.
func (s SubscriptionStatus) IsEntitled() bool {
	return s == StatusActive || s == StatusTrialing
}
