package billingcp

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BILLING_ADMIN_KEY", "test-admin-key")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("STRIPE_API_KEY", "sk_test_abc")
	t.Setenv("BILLING_STANDARD_PRICE_IDS", "price_std_monthly, price_std_yearly")
	t.Setenv("BILLING_PREMIUM_PRICE_IDS", "price_prem_monthly")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != 8443 {
		t.Errorf("Port = %d, want 8443", cfg.Port)
	}
	if cfg.BindAddress != "0.0.0.0" {
		t.Errorf("BindAddress = %q, want 0.0.0.0", cfg.BindAddress)
	}
	if cfg.WebhookRateLimit != 120 {
		t.Errorf("WebhookRateLimit = %d, want 120", cfg.WebhookRateLimit)
	}
	if cfg.EventRetention != 72*time.Hour {
		t.Errorf("EventRetention = %s, want 72h", cfg.EventRetention)
	}
	want := []string{"price_std_monthly", "price_std_yearly"}
	if len(cfg.StandardPriceIDs) != len(want) {
		t.Fatalf("StandardPriceIDs = %v, want %v", cfg.StandardPriceIDs, want)
	}
	for i, id := range want {
		if cfg.StandardPriceIDs[i] != id {
			t.Errorf("StandardPriceIDs[%d] = %q, want %q", i, cfg.StandardPriceIDs[i], id)
		}
	}
}

func TestLoadConfigMissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected error for missing STRIPE_WEBHOOK_SECRET")
	}
	if !strings.Contains(err.Error(), "STRIPE_WEBHOOK_SECRET") {
		t.Errorf("error %q does not name the missing variable", err)
	}
}

func TestLoadConfigRejectsInvalidPort(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BILLING_PORT", "70000")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestLoadConfigRejectsMalformedRetention(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BILLING_EVENT_RETENTION", "three days")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for malformed duration")
	}
}

func TestLoadConfigRequiresPriceMapping(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BILLING_STANDARD_PRICE_IDS", "")
	t.Setenv("BILLING_PREMIUM_PRICE_IDS", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when no price ids are configured")
	}
}

func TestEnvListTrimsAndDropsEmpties(t *testing.T) {
	t.Setenv("BILLING_TEST_LIST", " a , ,b,, c ")
	got := envList("BILLING_TEST_LIST")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("envList = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("envList[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
