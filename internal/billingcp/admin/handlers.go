package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/vitrinehq/vitrine-billing/internal/billingcp/entstore"
	"github.com/vitrinehq/vitrine-billing/internal/entitlement"
)

// HandleListEntitlements returns an authenticated handler that lists
// entitlement records, optionally filtered by tier.
func HandleListEntitlements(store *entstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		// Optional tier filter
		var tier entitlement.Tier
		if v := strings.TrimSpace(r.URL.Query().Get("tier")); v != "" {
			tier = entitlement.Tier(v)
			if tier != entitlement.TierFree && !tier.IsPaid() {
				http.Error(w, "unknown tier", http.StatusBadRequest)
				return
			}
		}

		records, err := store.List(tier)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []*entstore.Record{}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"entitlements": records,
			"count":        len(records),
		})
	}
}

// HandleGetEntitlement returns an authenticated handler for a single store's
// entitlement record.
func HandleGetEntitlement(store *entstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		storeID := strings.TrimSpace(r.PathValue("store_id"))
		if storeID == "" {
			http.Error(w, "missing store id", http.StatusBadRequest)
			return
		}

		record, err := store.Get(storeID)
		if errors.Is(err, entstore.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(record)
	}
}

// AdminKeyMiddleware returns middleware that requires a valid admin API key.
func AdminKeyMiddleware(adminKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("X-Admin-Key"))
		if key == "" {
			// Also check Authorization: Bearer <key>
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			}
		}

		if key == "" || key != adminKey {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error": "unauthorized",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
