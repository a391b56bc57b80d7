package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/vitrinehq/vitrine-billing/internal/billingcp/bpmetrics"
	"github.com/vitrinehq/vitrine-billing/internal/billingcp/entstore"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// WebhookHandler handles incoming Stripe webhook events.
//
// SECURITY: signature verification over the untouched raw body is the
// authentication mechanism for this endpoint.
type WebhookHandler struct {
	secret     string
	store      *entstore.Store
	reconciler *Reconciler
}

type webhookErrorResponse struct {
	Error string `json:"error"`
}

type webhookReceivedResponse struct {
	Received bool   `json:"received"`
	Status   string `json:"status,omitempty"`
}

// NewWebhookHandler creates a Stripe webhook HTTP handler.
func NewWebhookHandler(secret string, store *entstore.Store, reconciler *Reconciler) *WebhookHandler {
	return &WebhookHandler{
		secret:     secret,
		store:      store,
		reconciler: reconciler,
	}
}

// ServeHTTP verifies the Stripe signature, deduplicates by event id, and
// dispatches the event to its handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		bpmetrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		bpmetrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, webhookErrorResponse{Error: "method not allowed"})
		return
	}
	if strings.TrimSpace(h.secret) == "" {
		status = http.StatusServiceUnavailable
		writeJSON(w, status, webhookErrorResponse{Error: "webhook secret not configured"})
		return
	}

	// The raw bytes must reach signature verification unmodified; a body
	// re-serialized after JSON parsing would not match the signature.
	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "failed to read request body"})
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "invalid Stripe signature"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "invalid Stripe signature"})
		return
	}
	eventType = string(event.Type)

	kind := ParseEventKind(eventType)
	if kind == EventUnknown {
		log.Info().
			Str("type", eventType).
			Str("event_id", event.ID).
			Msg("Stripe webhook ignored (unhandled type)")
		writeJSON(w, http.StatusOK, webhookReceivedResponse{Received: true})
		return
	}

	claim, err := h.store.ClaimEvent(event.ID)
	if err != nil {
		log.Error().Err(err).Str("event_id", event.ID).Msg("Stripe webhook dedupe claim failed")
		status = http.StatusInternalServerError
		writeJSON(w, status, webhookErrorResponse{Error: "processing failed"})
		return
	}
	switch claim {
	case entstore.ClaimDuplicate:
		bpmetrics.DuplicateEventsTotal.Inc()
		writeJSON(w, http.StatusOK, webhookReceivedResponse{Received: true, Status: "duplicate"})
		return
	case entstore.ClaimInFlight:
		// Another delivery of this event is mid-processing; a non-2xx keeps
		// Stripe retrying in case that attempt fails.
		log.Warn().
			Str("event_id", event.ID).
			Str("type", eventType).
			Msg("Stripe webhook event already in flight")
		status = http.StatusConflict
		writeJSON(w, status, webhookErrorResponse{Error: "event is being processed; retry later"})
		return
	}

	if err := h.handleEvent(r.Context(), kind, &event); err != nil {
		if releaseErr := h.store.ReleaseEvent(event.ID); releaseErr != nil {
			log.Error().Err(releaseErr).Str("event_id", event.ID).Msg("Failed to release webhook event claim")
		}
		log.Error().Err(err).
			Str("event_id", event.ID).
			Str("type", eventType).
			Msg("Stripe webhook processing failed")
		status = http.StatusInternalServerError
		writeJSON(w, status, webhookErrorResponse{Error: "processing failed"})
		return
	}

	if err := h.store.FinishEvent(event.ID); err != nil {
		// Reconciliation is an idempotent projection; a reprocessed event is
		// safe, so a ledger write failure is not worth a retry storm.
		log.Warn().Err(err).Str("event_id", event.ID).Msg("Failed to mark webhook event done")
	}

	writeJSON(w, http.StatusOK, webhookReceivedResponse{Received: true, Status: "processed"})
}

func (h *WebhookHandler) handleEvent(ctx context.Context, kind EventKind, event *stripelib.Event) error {
	eventAt := time.Unix(event.Created, 0).UTC()

	switch kind {
	case EventCheckoutCompleted:
		var session CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("decode checkout.session: %w", err)
		}
		return h.reconciler.HandleCheckoutCompleted(ctx, session)

	case EventSubscriptionCreated, EventSubscriptionUpdated:
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return h.reconciler.HandleSubscriptionChange(ctx, sub, eventAt)

	case EventSubscriptionDeleted:
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return h.reconciler.HandleSubscriptionDeleted(ctx, sub, eventAt)

	case EventInvoicePaid:
		var inv Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		return h.reconciler.HandleInvoicePaid(ctx, inv, eventAt)

	case EventInvoicePaymentFailed:
		var inv Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		return h.reconciler.HandleInvoicePaymentFailed(ctx, inv, eventAt)

	default:
		// Unreachable: EventUnknown is acknowledged before dispatch.
		return nil
	}
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("billingcp.stripe: encode webhook response")
	}
}
