package config

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "hc-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Pricing.Currency != "USD" {
		t.Errorf("expected default currency USD, got %s", cfg.Pricing.Currency)
	}
	if cfg.Pricing.TaxRateBp != defaultTaxRateBp {
		t.Errorf("unexpected default tax rate: %d", cfg.Pricing.TaxRateBp)
	}
	if cfg.PendingPayments.TTL != defaultPendingPaymentTTL {
		t.Errorf("unexpected default pending payment ttl: %s", cfg.PendingPayments.TTL)
	}
	if cfg.PendingPayments.SweepBatchSize != defaultSweepBatchSize {
		t.Errorf("unexpected default sweep batch size: %d", cfg.PendingPayments.SweepBatchSize)
	}
	if cfg.Notifications.ProjectID != "hc-dev" {
		t.Errorf("expected notifications project to default to firestore project, got %s", cfg.Notifications.ProjectID)
	}
	if cfg.Notifications.Topic != "order-events" {
		t.Errorf("unexpected default topic: %s", cfg.Notifications.Topic)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                    "9090",
		"API_SERVER_READ_TIMEOUT":            "20s",
		"API_FIRESTORE_PROJECT_ID":           "hc-fire",
		"API_PSP_STRIPE_API_KEY":             "secret://stripe/api",
		"API_PSP_STRIPE_WEBHOOK_SECRET":      "secret://stripe/webhook",
		"API_PRICING_CURRENCY":               "eur",
		"API_PRICING_TAX_RATE_BP":            "2000",
		"API_PRICING_SHIPPING_PRICE":         "500",
		"API_PENDING_PAYMENT_TTL":            "30m",
		"API_PENDING_PAYMENT_SWEEP_INTERVAL": "5m",
		"API_PENDING_PAYMENT_SWEEP_BATCH":    "50",
		"API_NOTIFICATIONS_TOPIC":            "orders-prod",
		"API_SECURITY_ENVIRONMENT":           "prod",
	}

	secrets := map[string]string{
		"secret://stripe/api":     "stripe-key",
		"secret://stripe/webhook": "stripe-webhook",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("unexpected port: %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.PSP.StripeAPIKey != "stripe-key" {
		t.Errorf("stripe api key not resolved, got %q", cfg.PSP.StripeAPIKey)
	}
	if cfg.PSP.StripeWebhookSecret != "stripe-webhook" {
		t.Errorf("stripe webhook secret not resolved, got %q", cfg.PSP.StripeWebhookSecret)
	}
	if cfg.Pricing.Currency != "EUR" {
		t.Errorf("expected currency upper-cased, got %s", cfg.Pricing.Currency)
	}
	if cfg.Pricing.TaxRateBp != 2000 {
		t.Errorf("unexpected tax rate: %d", cfg.Pricing.TaxRateBp)
	}
	if cfg.Pricing.ShippingPrice != 500 {
		t.Errorf("unexpected shipping price: %d", cfg.Pricing.ShippingPrice)
	}
	if cfg.PendingPayments.TTL != 30*time.Minute {
		t.Errorf("unexpected pending payment ttl: %s", cfg.PendingPayments.TTL)
	}
	if cfg.PendingPayments.SweepBatchSize != 50 {
		t.Errorf("unexpected sweep batch size: %d", cfg.PendingPayments.SweepBatchSize)
	}
	if cfg.Notifications.Topic != "orders-prod" {
		t.Errorf("unexpected topic: %s", cfg.Notifications.Topic)
	}
	if cfg.Security.Environment != "prod" {
		t.Errorf("unexpected environment: %s", cfg.Security.Environment)
	}
}

func TestLoadMissingFirestoreProject(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	found := false
	for _, field := range validation.Fields() {
		if field == "Firestore.ProjectID" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected Firestore.ProjectID in %v", validation.Fields())
	}
}

func TestLoadSecretResolutionFailure(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "hc-dev",
		"API_PSP_STRIPE_API_KEY":   "sm://stripe/api",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		return "", errors.New("boom")
	})

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if secretErr.Ref != "secret://stripe/api" {
		t.Errorf("expected normalized sm:// ref, got %s", secretErr.Ref)
	}
}

func TestLoadRequiredSecretsMissing(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "hc-dev",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""),
		WithRequiredSecrets("PSP.StripeAPIKey"))
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	if len(missing.Names()) != 1 || missing.Names()[0] != "PSP.StripeAPIKey" {
		t.Errorf("unexpected missing secrets: %v", missing.Names())
	}
}
