package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/fabrica-ops/api/internal/domain"
	"github.com/fabrica-ops/api/internal/platform/auth"
	"github.com/fabrica-ops/api/internal/services"
)

type stubUserService struct {
	registerFn    func(ctx context.Context, cmd services.RegisterUserCommand) (services.UserProfile, error)
	getFn         func(ctx context.Context, userID string) (services.UserProfile, error)
	updateFn      func(ctx context.Context, cmd services.UpdateUserProfileCommand) (services.UserProfile, error)
	setRoleFn     func(ctx context.Context, cmd services.SetUserRoleCommand) (services.UserProfile, error)
	setActiveFn   func(ctx context.Context, cmd services.SetUserActiveCommand) (services.UserProfile, error)
	recordLoginFn func(ctx context.Context, userID string, at time.Time) error
	listFn        func(ctx context.Context, query services.UserListQuery) (domain.CursorPage[services.UserProfile], error)
	resolveRoleFn func(ctx context.Context, userID string) (string, error)
}

func (s *stubUserService) RegisterUser(ctx context.Context, cmd services.RegisterUserCommand) (services.UserProfile, error) {
	return s.registerFn(ctx, cmd)
}

func (s *stubUserService) GetProfile(ctx context.Context, userID string) (services.UserProfile, error) {
	return s.getFn(ctx, userID)
}

func (s *stubUserService) UpdateProfile(ctx context.Context, cmd services.UpdateUserProfileCommand) (services.UserProfile, error) {
	return s.updateFn(ctx, cmd)
}

func (s *stubUserService) SetUserRole(ctx context.Context, cmd services.SetUserRoleCommand) (services.UserProfile, error) {
	return s.setRoleFn(ctx, cmd)
}

func (s *stubUserService) SetUserActive(ctx context.Context, cmd services.SetUserActiveCommand) (services.UserProfile, error) {
	return s.setActiveFn(ctx, cmd)
}

func (s *stubUserService) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	if s.recordLoginFn == nil {
		return nil
	}
	return s.recordLoginFn(ctx, userID, at)
}

func (s *stubUserService) ListUsers(ctx context.Context, query services.UserListQuery) (domain.CursorPage[services.UserProfile], error) {
	return s.listFn(ctx, query)
}

func (s *stubUserService) ResolveRole(ctx context.Context, userID string) (string, error) {
	if s.resolveRoleFn == nil {
		return "", nil
	}
	return s.resolveRoleFn(ctx, userID)
}

var _ services.UserService = (*stubUserService)(nil)

func newUserTestRouter(svc services.UserService) chi.Router {
	handlers := NewUserHandlers(nil, svc)
	r := chi.NewRouter()
	r.Route("/users", handlers.Routes)
	return r
}

func sampleProfile(uid string, role domain.Role) services.UserProfile {
	created := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	return services.UserProfile{
		ID:        uid,
		FullName:  "João Pereira",
		Email:     "joao@example.com",
		Role:      role,
		Active:    true,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestListUsersHandlerRequiresAdmin(t *testing.T) {
	router := newUserTestRouter(&stubUserService{})

	req := identityRequest(http.MethodGet, "/users", nil, "uid-consultant", auth.RoleConsultant)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestListUsersHandlerParsesRoleFilter(t *testing.T) {
	var captured services.UserListQuery
	svc := &stubUserService{
		listFn: func(_ context.Context, query services.UserListQuery) (domain.CursorPage[services.UserProfile], error) {
			captured = query
			return domain.CursorPage[services.UserProfile]{
				Items: []services.UserProfile{sampleProfile("uid-1", domain.RoleAssembler)},
			}, nil
		},
	}
	router := newUserTestRouter(svc)

	req := identityRequest(http.MethodGet, "/users?role=assembler&active_only=true", nil, "uid-admin", auth.RoleAdmin)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Role == nil || *captured.Role != domain.RoleAssembler {
		t.Fatalf("unexpected role filter: %v", captured.Role)
	}
	if !captured.ActiveOnly {
		t.Fatalf("expected active_only filter set")
	}
}

func TestRegisterUserHandlerPassesCommand(t *testing.T) {
	var captured services.RegisterUserCommand
	svc := &stubUserService{
		registerFn: func(_ context.Context, cmd services.RegisterUserCommand) (services.UserProfile, error) {
			captured = cmd
			return sampleProfile(cmd.UID, domain.RoleConsultant), nil
		},
	}
	router := newUserTestRouter(svc)

	payload := `{"uid": "uid-new", "full_name": "João Pereira", "email": "Joao@Example.com"}`
	req := identityRequest(http.MethodPost, "/users", strings.NewReader(payload), "uid-admin", auth.RoleAdmin)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UID != "uid-new" || captured.ActorID != "uid-admin" {
		t.Fatalf("unexpected command: %+v", captured)
	}
	if captured.Role != "" {
		t.Fatalf("expected empty role so the service applies its default, got %q", captured.Role)
	}
}

func TestGetUserHandlerAllowsSelf(t *testing.T) {
	svc := &stubUserService{
		getFn: func(_ context.Context, userID string) (services.UserProfile, error) {
			return sampleProfile(userID, domain.RoleConsultant), nil
		},
	}
	router := newUserTestRouter(svc)

	req := identityRequest(http.MethodGet, "/users/uid-self", nil, "uid-self", auth.RoleConsultant)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestGetUserHandlerForbidsOtherProfiles(t *testing.T) {
	router := newUserTestRouter(&stubUserService{})

	req := identityRequest(http.MethodGet, "/users/uid-other", nil, "uid-self", auth.RoleConsultant)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestUpdateUserHandlerClearsPhone(t *testing.T) {
	var captured services.UpdateUserProfileCommand
	svc := &stubUserService{
		updateFn: func(_ context.Context, cmd services.UpdateUserProfileCommand) (services.UserProfile, error) {
			captured = cmd
			return sampleProfile(cmd.UserID, domain.RoleConsultant), nil
		},
	}
	router := newUserTestRouter(svc)

	payload := `{"phone": null, "full_name": "João P. Silva"}`
	req := identityRequest(http.MethodPatch, "/users/uid-self", strings.NewReader(payload), "uid-self", auth.RoleConsultant)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Phone == nil || *captured.Phone != nil {
		t.Fatalf("expected phone cleared to null, got %v", captured.Phone)
	}
	if captured.FullName == nil || *captured.FullName != "João P. Silva" {
		t.Fatalf("unexpected full name: %v", captured.FullName)
	}
}

func TestSetUserRoleHandlerRejectsUnknownRole(t *testing.T) {
	router := newUserTestRouter(&stubUserService{})

	req := identityRequest(http.MethodPut, "/users/uid-1/role", strings.NewReader(`{"role": "manager"}`), "uid-admin", auth.RoleAdmin)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestSetUserActiveHandlerPassesCommand(t *testing.T) {
	var captured services.SetUserActiveCommand
	svc := &stubUserService{
		setActiveFn: func(_ context.Context, cmd services.SetUserActiveCommand) (services.UserProfile, error) {
			captured = cmd
			profile := sampleProfile(cmd.UserID, domain.RoleConsultant)
			profile.Active = cmd.Active
			return profile, nil
		},
	}
	router := newUserTestRouter(svc)

	req := identityRequest(http.MethodPut, "/users/uid-1/active", strings.NewReader(`{"active": false}`), "uid-admin", auth.RoleAdmin)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "uid-1" || captured.Active {
		t.Fatalf("unexpected command: %+v", captured)
	}

	var body userResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.User.Active {
		t.Fatalf("expected inactive user in response")
	}
}
