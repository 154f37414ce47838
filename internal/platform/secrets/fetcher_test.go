package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type stubSecretClient struct {
	values map[string]string
	err    error
	calls  int
}

func (s *stubSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	value, ok := s.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "secret not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (s *stubSecretClient) Close() error { return nil }

func TestResolveRemoteAndCache(t *testing.T) {
	client := &stubSecretClient{values: map[string]string{
		"projects/hc-prod/secrets/stripe-api/versions/latest": "sk_test_123",
	}}

	fetcher, err := NewFetcher(context.Background(),
		WithSecretManagerClient(client),
		WithDefaultProject("hc-prod"),
		WithFallbackFile(""),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	value, err := fetcher.Resolve(context.Background(), "secret://stripe-api")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if value != "sk_test_123" {
		t.Errorf("unexpected value %q", value)
	}

	if _, err := fetcher.Resolve(context.Background(), "secret://stripe-api"); err != nil {
		t.Fatalf("second Resolve returned error: %v", err)
	}
	if client.calls != 1 {
		t.Errorf("expected a single remote call, got %d", client.calls)
	}
}

func TestResolveVersionAndProjectOverride(t *testing.T) {
	client := &stubSecretClient{values: map[string]string{
		"projects/hc-eu/secrets/webhook/versions/3": "whsec_eu",
	}}

	fetcher, err := NewFetcher(context.Background(),
		WithSecretManagerClient(client),
		WithDefaultProject("hc-prod"),
		WithFallbackFile(""),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	value, err := fetcher.Resolve(context.Background(), "secret://webhook?project=hc-eu&version=3")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if value != "whsec_eu" {
		t.Errorf("unexpected value %q", value)
	}
}

func TestResolveFallbackFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	content := "# local secrets\nsecret://stripe-api=sk_local\nsm://webhook=whsec_local\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fallback file: %v", err)
	}

	client := &stubSecretClient{err: status.Error(codes.PermissionDenied, "denied")}

	fetcher, err := NewFetcher(context.Background(),
		WithSecretManagerClient(client),
		WithDefaultProject("hc-prod"),
		WithFallbackFile(path),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	value, err := fetcher.Resolve(context.Background(), "secret://stripe-api")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if value != "sk_local" {
		t.Errorf("unexpected fallback value %q", value)
	}

	value, err = fetcher.Resolve(context.Background(), "secret://webhook")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if value != "whsec_local" {
		t.Errorf("expected sm:// keys normalized, got %q", value)
	}
}

func TestResolveHardFailureDoesNotFallBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	if err := os.WriteFile(path, []byte("secret://stripe-api=sk_local\n"), 0o600); err != nil {
		t.Fatalf("write fallback file: %v", err)
	}

	client := &stubSecretClient{err: status.Error(codes.Internal, "backend exploded")}

	fetcher, err := NewFetcher(context.Background(),
		WithSecretManagerClient(client),
		WithDefaultProject("hc-prod"),
		WithFallbackFile(path),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	if _, err := fetcher.Resolve(context.Background(), "secret://stripe-api"); err == nil {
		t.Fatal("expected error for internal failure")
	}
}

func TestParseReference(t *testing.T) {
	if _, err := parseReference(""); err == nil {
		t.Error("expected error for empty reference")
	}
	if _, err := parseReference("vault://thing"); err == nil {
		t.Error("expected error for unsupported scheme")
	}

	parsed, err := parseReference("secret://payments/stripe?version=2&project=hc-eu")
	if err != nil {
		t.Fatalf("parseReference returned error: %v", err)
	}
	if parsed.Secret != "payments/stripe" {
		t.Errorf("unexpected secret name %q", parsed.Secret)
	}
	if parsed.Version != "2" {
		t.Errorf("unexpected version %q", parsed.Version)
	}
	if parsed.ProjectOverride != "hc-eu" {
		t.Errorf("unexpected project override %q", parsed.ProjectOverride)
	}
	if parsed.Canonical != "secret://payments/stripe" {
		t.Errorf("unexpected canonical form %q", parsed.Canonical)
	}
}
