package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/fabrica-ops/api/internal/platform/auth"
)

type fakeSigner struct {
	email    string
	payloads [][]byte
	err      error
}

func (f *fakeSigner) Email() string {
	return f.email
}

func (f *fakeSigner) SignBytes(_ context.Context, payload []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	return []byte("signed"), nil
}

func TestSignedDownloadURLSuccess(t *testing.T) {
	signer := &fakeSigner{email: "test@example.iam.gserviceaccount.com"}
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	client, err := NewClient(signer, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}

	opts := DownloadOptions{
		Identity: &auth.Identity{UID: "admin-1", Role: auth.RoleAdmin},
		OwnerID:  "consultant-9",
	}

	res, err := client.SignedDownloadURL(context.Background(), "invoices", "ord_123/proof.png", opts)
	if err != nil {
		t.Fatalf("SignedDownloadURL returned error: %v", err)
	}

	if res.Method != httpMethodGet {
		t.Fatalf("expected method GET, got %s", res.Method)
	}
	// Default expiry keeps proof links valid for one minute only.
	if !res.ExpiresAt.Equal(now.Add(60 * time.Second)) {
		t.Fatalf("unexpected expiry: %v", res.ExpiresAt)
	}

	parsed, err := url.Parse(res.URL)
	if err != nil {
		t.Fatalf("failed to parse signed URL: %v", err)
	}
	if !strings.Contains(parsed.RawQuery, "X-Goog-Signature=") {
		t.Fatalf("expected signature in query: %s", parsed.RawQuery)
	}
	if len(signer.payloads) == 0 {
		t.Fatalf("expected signer to be invoked")
	}
}

func TestSignedDownloadURLPermissionDenied(t *testing.T) {
	signer := &fakeSigner{email: "test@example.iam.gserviceaccount.com"}
	client, err := NewClient(signer)
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}

	opts := DownloadOptions{
		OwnerID:  "consultant-1",
		Identity: &auth.Identity{UID: "consultant-2", Role: auth.RoleConsultant},
	}

	_, err = client.SignedDownloadURL(context.Background(), "invoices", "ord_1/proof.png", opts)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestSignedDownloadURLAllowsOwningConsultant(t *testing.T) {
	signer := &fakeSigner{email: "test@example.iam.gserviceaccount.com"}
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	client, err := NewClient(signer, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}

	opts := DownloadOptions{
		OwnerID:   "consultant-1",
		Identity:  &auth.Identity{UID: "consultant-1", Role: auth.RoleConsultant},
		ExpiresIn: 5 * time.Minute,
	}

	res, err := client.SignedDownloadURL(context.Background(), "invoices", "ord_1/proof.png", opts)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Method != httpMethodGet {
		t.Fatalf("expected GET method, got %s", res.Method)
	}
	if !res.ExpiresAt.Equal(now.Add(5 * time.Minute)) {
		t.Fatalf("unexpected expiry: %v", res.ExpiresAt)
	}
}

func TestSignedDownloadURLExpiryTooLong(t *testing.T) {
	signer := &fakeSigner{email: "test@example.iam.gserviceaccount.com"}
	client, err := NewClient(signer)
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}

	opts := DownloadOptions{
		Identity:  &auth.Identity{UID: "admin-1", Role: auth.RoleAdmin},
		ExpiresIn: 30 * time.Minute,
	}

	_, err = client.SignedDownloadURL(context.Background(), "invoices", "ord_1/proof.png", opts)
	if !errors.Is(err, errExpiryTooLong) {
		t.Fatalf("expected errExpiryTooLong, got %v", err)
	}
}

func TestSignedDownloadURLRejectsMutatingMethods(t *testing.T) {
	signer := &fakeSigner{email: "test@example.iam.gserviceaccount.com"}
	client, err := NewClient(signer)
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}

	opts := DownloadOptions{
		Identity: &auth.Identity{UID: "admin-1", Role: auth.RoleAdmin},
		Method:   "PUT",
	}

	_, err = client.SignedDownloadURL(context.Background(), "invoices", "ord_1/proof.png", opts)
	if !errors.Is(err, errMethodNotAllowed) {
		t.Fatalf("expected errMethodNotAllowed, got %v", err)
	}
}

func TestPublicURLEscapesSegments(t *testing.T) {
	got := PublicURL("orders", "ord_1/final photo.png")
	want := "https://storage.googleapis.com/orders/ord_1/final%20photo.png"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
