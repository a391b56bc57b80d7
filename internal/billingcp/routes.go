package billingcp

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitrinehq/vitrine-billing/internal/billingcp/admin"
	"github.com/vitrinehq/vitrine-billing/internal/billingcp/entstore"
	bpstripe "github.com/vitrinehq/vitrine-billing/internal/billingcp/stripe"
	"github.com/vitrinehq/vitrine-billing/internal/entitlement"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config     *Config
	Store      *entstore.Store
	Resolver   *entitlement.Resolver
	Fetcher    bpstripe.SubscriptionFetcher
	Reconciler *bpstripe.Reconciler
	Version    string
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	adminAuth := func(next http.Handler) http.Handler {
		return admin.AdminKeyMiddleware(deps.Config.AdminKey, next)
	}

	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("/healthz", admin.HandleHealthz)
	mux.HandleFunc("/readyz", admin.HandleReadyz(deps.Store))

	// Status and metrics are private by default.
	statusHandler := http.HandlerFunc(admin.HandleStatus(deps.Store, deps.Version))
	if deps.Config.PublicStatus {
		mux.Handle("/status", statusHandler)
	} else {
		mux.Handle("/status", adminAuth(statusHandler))
	}

	metricsHandler := promhttp.Handler()
	if deps.Config.PublicMetrics {
		mux.Handle("/metrics", metricsHandler)
	} else {
		mux.Handle("/metrics", adminAuth(metricsHandler))
	}

	// Stripe webhook (signature-authenticated)
	reconciler := deps.Reconciler
	if reconciler == nil {
		reconciler = bpstripe.NewReconciler(deps.Store, deps.Resolver, deps.Fetcher)
	}
	webhookHandler := bpstripe.NewWebhookHandler(deps.Config.StripeWebhookSecret, deps.Store, reconciler)
	webhookLimiter := NewRateLimiter(deps.Config.WebhookRateLimit, time.Minute)
	mux.Handle("/api/stripe/webhook", webhookLimiter.Middleware(webhookHandler))

	// Admin API (key-authenticated)
	mux.Handle("/admin/entitlements", adminAuth(admin.HandleListEntitlements(deps.Store)))
	mux.Handle("/admin/entitlements/{store_id}", adminAuth(admin.HandleGetEntitlement(deps.Store)))
}
