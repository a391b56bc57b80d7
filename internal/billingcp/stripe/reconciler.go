// Package stripe consumes Stripe webhook events and reconciles them into the
// per-store entitlement records that gate paid features.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vitrinehq/vitrine-billing/internal/billingcp/bpmetrics"
	"github.com/vitrinehq/vitrine-billing/internal/billingcp/entstore"
	"github.com/vitrinehq/vitrine-billing/internal/entitlement"
)

// storeIDMetadataKey is the subscription metadata key carrying the Vitrine
// store id. It is set by the checkout flow when the subscription is created.
const storeIDMetadataKey = "store_id"

// Reconciler projects provider-reported subscription state into entitlement
// records. Dependencies are injected once at construction and reused across
// webhook invocations; the Reconciler itself holds no per-event state.
type Reconciler struct {
	store    *entstore.Store
	resolver *entitlement.Resolver
	fetcher  SubscriptionFetcher
}

// NewReconciler creates a Reconciler. fetcher may be nil, in which case
// invoice.paid events reconcile against the event payload alone.
func NewReconciler(store *entstore.Store, resolver *entitlement.Resolver, fetcher SubscriptionFetcher) *Reconciler {
	return &Reconciler{
		store:    store,
		resolver: resolver,
		fetcher:  fetcher,
	}
}

// HandleSubscriptionChange applies a subscription created/updated payload.
// The resulting record is a pure function of the payload: tier is paid iff
// the status is active or trialing, and re-applying the same event produces
// the same record.
func (r *Reconciler) HandleSubscriptionChange(ctx context.Context, sub Subscription, eventAt time.Time) error {
	storeID := strings.TrimSpace(sub.Metadata[storeIDMetadataKey])
	if storeID == "" {
		// A misconfigured checkout flow produces no user-visible symptom
		// beyond this line; keep it greppable.
		log.Warn().
			Str("subscription_id", sub.ID).
			Str("customer_id", sub.Customer).
			Msg("Subscription event missing store_id metadata, skipping write")
		return nil
	}

	status := entitlement.ParseSubscriptionStatus(sub.Status)
	tier := entitlement.TierFree
	priceID := sub.FirstPriceID()
	if status.IsEntitled() {
		if !r.resolver.Known(priceID) {
			bpmetrics.UnmappedPricesTotal.Inc()
		}
		tier = r.resolver.Resolve(priceID)
	}

	upd := entstore.BillingUpdate{
		Tier:          tier,
		TierExpiresAt: unixToTimePtr(sub.PeriodEnd()),
		Subscription: entstore.Subscription{
			StripeCustomerID:     strings.TrimSpace(sub.Customer),
			StripeSubscriptionID: strings.TrimSpace(sub.ID),
			StripePriceID:        priceID,
			Status:               status,
			CurrentPeriodStart:   time.Unix(sub.PeriodStart(), 0).UTC(),
			CurrentPeriodEnd:     time.Unix(sub.PeriodEnd(), 0).UTC(),
			CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
			TrialEnd:             unixToTimePtr(sub.TrialEnd),
		},
		EventAt: eventAt,
	}

	if err := r.store.ApplyBillingUpdate(storeID, upd); err != nil {
		if errors.Is(err, entstore.ErrStaleEvent) {
			bpmetrics.StaleEventsTotal.Inc()
			log.Info().
				Str("store_id", storeID).
				Str("subscription_id", sub.ID).
				Time("event_at", eventAt).
				Msg("Skipped stale subscription event")
			return nil
		}
		return fmt.Errorf("apply billing update for %s: %w", storeID, err)
	}

	log.Info().
		Str("store_id", storeID).
		Str("customer_id", sub.Customer).
		Str("status", string(status)).
		Str("tier", string(tier)).
		Msg("Subscription reconciled")
	return nil
}

// HandleSubscriptionDeleted forces the canceled outcome regardless of prior
// state: tier free, status canceled, cancel_at_period_end set.
func (r *Reconciler) HandleSubscriptionDeleted(ctx context.Context, sub Subscription, eventAt time.Time) error {
	storeID := strings.TrimSpace(sub.Metadata[storeIDMetadataKey])
	if storeID == "" {
		// Deletion payloads sometimes arrive with stripped metadata; the
		// customer link is still authoritative.
		rec, err := r.store.GetByStripeCustomerID(sub.Customer)
		if err != nil {
			if errors.Is(err, entstore.ErrNotFound) {
				log.Warn().
					Str("subscription_id", sub.ID).
					Str("customer_id", sub.Customer).
					Msg("Subscription deleted for unknown store, skipping write")
				return nil
			}
			return fmt.Errorf("lookup store by customer: %w", err)
		}
		storeID = rec.StoreID
	}

	cancel := true
	err := r.store.ApplyDowngrade(storeID, entstore.Downgrade{
		Status:            entitlement.StatusCanceled,
		CancelAtPeriodEnd: &cancel,
		EventAt:           eventAt,
	})
	if err != nil {
		if errors.Is(err, entstore.ErrStaleEvent) {
			bpmetrics.StaleEventsTotal.Inc()
			log.Info().Str("store_id", storeID).Msg("Skipped stale subscription deletion")
			return nil
		}
		return fmt.Errorf("cancel entitlement for %s: %w", storeID, err)
	}

	log.Info().
		Str("store_id", storeID).
		Str("customer_id", sub.Customer).
		Msg("Subscription deleted, entitlement reset to free")
	return nil
}

// HandleInvoicePaymentFailed immediately downgrades the store linked to the
// invoice's customer. It is deliberately unconditioned by whatever the
// reconciler last wrote: paid access on an unpaid account is the worse
// failure mode, and a spurious downgrade self-heals on the next successful
// renewal event.
func (r *Reconciler) HandleInvoicePaymentFailed(ctx context.Context, inv Invoice, eventAt time.Time) error {
	customerID := strings.TrimSpace(inv.Customer)
	if customerID == "" {
		log.Warn().Str("invoice_id", inv.ID).Msg("Payment-failed invoice missing customer, skipping write")
		return nil
	}

	rec, err := r.store.GetByStripeCustomerID(customerID)
	if err != nil {
		if errors.Is(err, entstore.ErrNotFound) {
			// Retrying will not change the lookup outcome; acknowledge.
			log.Warn().
				Str("invoice_id", inv.ID).
				Str("customer_id", customerID).
				Msg("Payment failed for unknown customer, skipping write")
			return nil
		}
		return fmt.Errorf("lookup store by customer: %w", err)
	}

	err = r.store.ApplyDowngrade(rec.StoreID, entstore.Downgrade{
		Status:  entitlement.StatusPastDue,
		EventAt: eventAt,
	})
	if err != nil {
		if errors.Is(err, entstore.ErrStaleEvent) {
			bpmetrics.StaleEventsTotal.Inc()
			log.Info().Str("store_id", rec.StoreID).Msg("Skipped stale payment failure")
			return nil
		}
		return fmt.Errorf("downgrade entitlement for %s: %w", rec.StoreID, err)
	}

	log.Warn().
		Str("store_id", rec.StoreID).
		Str("customer_id", customerID).
		Str("invoice_id", inv.ID).
		Msg("Renewal charge failed, entitlement downgraded to free")
	return nil
}

// HandleInvoicePaid reconciles a successful renewal. The subscription is
// re-fetched from Stripe first so reconciliation runs against fresh state
// rather than the (possibly stale) invoice payload; a single synchronous
// round trip, retries belong to the provider's redelivery mechanism.
func (r *Reconciler) HandleInvoicePaid(ctx context.Context, inv Invoice, eventAt time.Time) error {
	subID := inv.SubscriptionID()
	if subID == "" {
		log.Info().Str("invoice_id", inv.ID).Msg("Paid invoice without subscription, ignoring")
		return nil
	}
	if r.fetcher == nil {
		log.Warn().Str("invoice_id", inv.ID).Msg("No subscription fetcher configured, skipping renewal reconcile")
		return nil
	}

	sub, err := r.fetcher.FetchSubscription(ctx, subID)
	if err != nil {
		return fmt.Errorf("fetch subscription %s: %w", subID, err)
	}
	return r.HandleSubscriptionChange(ctx, *sub, eventAt)
}

// HandleCheckoutCompleted logs the completed checkout. Entitlement state
// changes ride on the subscription events Stripe emits alongside it.
func (r *Reconciler) HandleCheckoutCompleted(ctx context.Context, session CheckoutSession) error {
	log.Info().
		Str("session_id", session.ID).
		Str("customer_id", session.Customer).
		Str("subscription_id", session.Subscription).
		Str("store_id", session.Metadata[storeIDMetadataKey]).
		Msg("Checkout completed")
	return nil
}

func unixToTimePtr(v int64) *time.Time {
	if v == 0 {
		return nil
	}
	t := time.Unix(v, 0).UTC()
	return &t
}
