package admin

import (
	"encoding/json"
	"net/http"

	"github.com/vitrinehq/vitrine-billing/internal/billingcp/bpmetrics"
	"github.com/vitrinehq/vitrine-billing/internal/billingcp/entstore"
	"github.com/vitrinehq/vitrine-billing/internal/entitlement"
)

type statusResponse struct {
	Version     string                   `json:"version"`
	TotalStores int                      `json:"total_stores"`
	Entitled    int                      `json:"entitled"`
	ByTier      map[entitlement.Tier]int `json:"by_tier"`
}

// HandleHealthz returns 200 "ok" unconditionally (liveness probe).
func HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz returns a handler that checks database connectivity (readiness probe).
func HandleReadyz(store *entstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(); err != nil {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

// HandleStatus returns a handler that reports aggregate entitlement status.
func HandleStatus(store *entstore.Store, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := store.CountByTier()
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		// Opportunistically sync gauges on status calls (in addition to the background updater).
		total := 0
		entitled := 0
		for tier, c := range counts {
			bpmetrics.EntitlementsByTier.WithLabelValues(string(tier)).Set(float64(c))
			total += c
			if tier.IsPaid() {
				entitled += c
			}
		}

		resp := statusResponse{
			Version:     version,
			TotalStores: total,
			Entitled:    entitled,
			ByTier:      counts,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
