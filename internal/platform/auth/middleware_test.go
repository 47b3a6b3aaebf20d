package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

type stubRoleResolver struct {
	role    string
	err     error
	calls   int
	lastUID string
}

func (s *stubRoleResolver) resolve(_ context.Context, uid string) (string, error) {
	s.calls++
	s.lastUID = uid
	return s.role, s.err
}

func TestRequireFirebaseAuth_AllowsValidToken(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{
			UID: "uid-123",
			Claims: map[string]interface{}{
				"email": "maria@example.com",
			},
		},
	}
	resolver := &stubRoleResolver{role: RoleConsultant}

	authn := NewAuthenticator(verifier, resolver.resolve)

	handlerCalled := false
	handler := authn.RequireFirebaseAuth(StaffRoles...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true

		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UID != "uid-123" {
			t.Fatalf("unexpected uid: %s", identity.UID)
		}
		if !identity.HasRole(RoleConsultant) {
			t.Fatalf("expected consultant role, got %v", identity.Role)
		}
		if identity.Email != "maria@example.com" {
			t.Fatalf("expected email maria@example.com, got %s", identity.Email)
		}

		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token-value")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if !handlerCalled {
		t.Fatalf("expected handler to be called")
	}
	if verifier.received != "token-value" {
		t.Fatalf("expected verifier to receive token-value, got %s", verifier.received)
	}
	if resolver.calls != 1 {
		t.Fatalf("expected single role lookup, got %d", resolver.calls)
	}
	if resolver.lastUID != "uid-123" {
		t.Fatalf("expected role resolver to receive uid-123, got %s", resolver.lastUID)
	}
}

func TestRequireFirebaseAuth_RoleResolvedPerRequest(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-123", Claims: map[string]interface{}{}}}
	resolver := &stubRoleResolver{role: RoleAssembler}

	authn := NewAuthenticator(verifier, resolver.resolve)
	handler := authn.RequireFirebaseAuth(StaffRoles...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer token-value")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rr.Code)
		}
	}

	if resolver.calls != 3 {
		t.Fatalf("expected role resolved on every request, got %d lookups", resolver.calls)
	}
}

func TestRequireFirebaseAuth_ExpiredToken(t *testing.T) {
	verifier := &stubTokenVerifier{err: ErrTokenExpired}
	resolver := &stubRoleResolver{role: RoleAdmin}
	authn := NewAuthenticator(verifier, resolver.resolve)

	handler := authn.RequireFirebaseAuth(StaffRoles...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute on expired token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer expired-token")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "token_expired" {
		t.Fatalf("expected token_expired error, got %v", body["error"])
	}
	if resolver.calls != 0 {
		t.Fatalf("expected no role lookup on failed verification, got %d", resolver.calls)
	}
}

func TestRequireFirebaseAuth_RoleOutsideAllowedSet(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-789", Claims: map[string]interface{}{}}}
	resolver := &stubRoleResolver{role: RoleConsultant}

	authn := NewAuthenticator(verifier, resolver.resolve)
	handler := authn.RequireFirebaseAuth(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute for disallowed role")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token-value")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "insufficient_role" {
		t.Fatalf("expected insufficient_role error, got %v", body["error"])
	}
}

func TestRequireFirebaseAuth_UnregisteredProfile(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-000", Claims: map[string]interface{}{}}}
	resolver := &stubRoleResolver{err: ErrRoleNotFound}

	authn := NewAuthenticator(verifier, resolver.resolve)
	handler := authn.RequireFirebaseAuth(StaffRoles...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute without a profile")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token-value")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestRequireFirebaseAuth_InactiveProfile(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-001", Claims: map[string]interface{}{}}}
	resolver := &stubRoleResolver{err: ErrUserInactive}

	authn := NewAuthenticator(verifier, resolver.resolve)
	handler := authn.RequireFirebaseAuth(StaffRoles...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute for a deactivated profile")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token-value")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "user_inactive" {
		t.Fatalf("expected user_inactive error, got %v", body["error"])
	}
}
