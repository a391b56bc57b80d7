package entstore

import (
	"time"

	"github.com/vitrinehq/vitrine-billing/internal/entitlement"
)

// Record is the per-store entitlement record. One row per store, created
// implicitly by the first subscription event and never deleted, only reset
// toward free.
type Record struct {
	StoreID       string           `json:"store_id"`
	Tier          entitlement.Tier `json:"tier"`
	TierExpiresAt *time.Time       `json:"tier_expires_at,omitempty"`
	Subscription  *Subscription    `json:"subscription,omitempty"`
	LastEventAt   time.Time        `json:"last_event_at"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Subscription is the provider-reported sub-record kept alongside the tier.
type Subscription struct {
	StripeCustomerID     string                         `json:"stripe_customer_id"`
	StripeSubscriptionID string                         `json:"stripe_subscription_id"`
	StripePriceID        string                         `json:"stripe_price_id"`
	Status               entitlement.SubscriptionStatus `json:"status"`
	CurrentPeriodStart   time.Time                      `json:"current_period_start"`
	CurrentPeriodEnd     time.Time                      `json:"current_period_end"`
	CancelAtPeriodEnd    bool                           `json:"cancel_at_period_end"`
	TrialEnd             *time.Time                     `json:"trial_end,omitempty"`
}

// BillingUpdate is a reconciler write: the full projection of one
// subscription event. Applying the same update twice yields the same record.
type BillingUpdate struct {
	Tier          entitlement.Tier
	TierExpiresAt *time.Time
	Subscription  Subscription
	// EventAt is the source event's own timestamp, used for the recency
	// guard: writes older than the recorded one are skipped.
	EventAt time.Time
}

// Downgrade is a forced partial write: tier drops to free and the status is
// overwritten, everything else in the sub-record stays untouched.
type Downgrade struct {
	Status entitlement.SubscriptionStatus
	// CancelAtPeriodEnd overwrites the stored flag when non-nil.
	CancelAtPeriodEnd *bool
	EventAt           time.Time
}
