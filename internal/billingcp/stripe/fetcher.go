package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const fetchBodyLimit = 1024 * 1024 // 1 MiB

// SubscriptionFetcher retrieves the current subscription snapshot from the
// billing provider. Injected so tests and dev setups can stub the provider.
type SubscriptionFetcher interface {
	FetchSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
}

// APIFetcher fetches subscriptions from the Stripe REST API. It is created
// once at startup and reused across webhook invocations.
type APIFetcher struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewAPIFetcher creates an APIFetcher authenticated with the given secret key.
func NewAPIFetcher(apiKey string) *APIFetcher {
	return &APIFetcher{
		apiKey:  apiKey,
		baseURL: "https://api.stripe.com",
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// FetchSubscription retrieves a subscription by id. The response is decoded
// into the same minimal payload shape used for webhook events.
func (f *APIFetcher) FetchSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	if !isSafeStripeID(subscriptionID) {
		return nil, fmt.Errorf("invalid subscription id")
	}

	url := f.baseURL + "/v1/subscriptions/" + subscriptionID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build subscription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.apiKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch subscription: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("read subscription response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch subscription: stripe returned %d", resp.StatusCode)
	}

	var sub Subscription
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	return &sub, nil
}
