package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/fabrica-ops/api/internal/domain"
	"github.com/fabrica-ops/api/internal/platform/auth"
	"github.com/fabrica-ops/api/internal/repositories"
)

type stubUserRepo struct {
	insertFn      func(context.Context, domain.UserProfile) error
	findFn        func(context.Context, string) (domain.UserProfile, error)
	updateFn      func(context.Context, domain.UserProfile) (domain.UserProfile, error)
	setRoleFn     func(context.Context, string, domain.Role, time.Time) error
	setActiveFn   func(context.Context, string, bool, time.Time) error
	recordLoginFn func(context.Context, string, time.Time) error
	listFn        func(context.Context, repositories.UserListFilter) (domain.CursorPage[domain.UserProfile], error)
}

func (s *stubUserRepo) Insert(ctx context.Context, profile domain.UserProfile) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, profile)
	}
	return nil
}

func (s *stubUserRepo) FindByID(ctx context.Context, userID string) (domain.UserProfile, error) {
	if s.findFn != nil {
		return s.findFn(ctx, userID)
	}
	return domain.UserProfile{}, errors.New("not implemented")
}

func (s *stubUserRepo) UpdateProfile(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, profile)
	}
	return profile, nil
}

func (s *stubUserRepo) SetRole(ctx context.Context, userID string, role domain.Role, updatedAt time.Time) error {
	if s.setRoleFn != nil {
		return s.setRoleFn(ctx, userID, role, updatedAt)
	}
	return nil
}

func (s *stubUserRepo) SetActive(ctx context.Context, userID string, active bool, updatedAt time.Time) error {
	if s.setActiveFn != nil {
		return s.setActiveFn(ctx, userID, active, updatedAt)
	}
	return nil
}

func (s *stubUserRepo) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	if s.recordLoginFn != nil {
		return s.recordLoginFn(ctx, userID, at)
	}
	return nil
}

func (s *stubUserRepo) List(ctx context.Context, filter repositories.UserListFilter) (domain.CursorPage[domain.UserProfile], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.UserProfile]{}, nil
}

type stubClaimSetter struct {
	calls []string
	err   error
}

func (s *stubClaimSetter) SetRoleClaim(_ context.Context, uid string, role string) error {
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, uid+":"+role)
	return nil
}

func newTestUserService(t *testing.T, deps UserServiceDeps) UserService {
	t.Helper()
	if deps.Users == nil {
		deps.Users = &stubUserRepo{}
	}
	if deps.Clock == nil {
		deps.Clock = testClock
	}
	svc, err := NewUserService(deps)
	if err != nil {
		t.Fatalf("NewUserService: %v", err)
	}
	return svc
}

func TestRegisterUserDefaultsAndMirrorsClaim(t *testing.T) {
	var inserted domain.UserProfile
	claims := &stubClaimSetter{}

	svc := newTestUserService(t, UserServiceDeps{
		Users: &stubUserRepo{
			insertFn: func(_ context.Context, profile domain.UserProfile) error {
				inserted = profile
				return nil
			},
		},
		Claims: claims,
	})

	profile, err := svc.RegisterUser(context.Background(), RegisterUserCommand{
		UID:      "uid-1",
		FullName: "  João Pereira ",
		Email:    "Joao@Example.COM",
	})
	if err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}

	if profile.Role != domain.RoleConsultant {
		t.Fatalf("expected default consultant role, got %q", profile.Role)
	}
	if !profile.Active {
		t.Fatal("expected new profiles to start active")
	}
	if inserted.Email != "joao@example.com" {
		t.Fatalf("expected lowercased email, got %q", inserted.Email)
	}
	if inserted.FullName != "João Pereira" {
		t.Fatalf("expected trimmed name, got %q", inserted.FullName)
	}
	if len(claims.calls) != 1 || claims.calls[0] != "uid-1:consultant" {
		t.Fatalf("expected mirrored claim, got %v", claims.calls)
	}
}

func TestRegisterUserValidation(t *testing.T) {
	tests := []struct {
		name string
		cmd  RegisterUserCommand
	}{
		{name: "missing uid", cmd: RegisterUserCommand{FullName: "João", Email: "j@example.com"}},
		{name: "missing name", cmd: RegisterUserCommand{UID: "u1", Email: "j@example.com"}},
		{name: "bad email", cmd: RegisterUserCommand{UID: "u1", FullName: "João", Email: "not-an-email"}},
		{name: "unknown role", cmd: RegisterUserCommand{UID: "u1", FullName: "João", Email: "j@example.com", Role: domain.Role("boss")}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestUserService(t, UserServiceDeps{})
			if _, err := svc.RegisterUser(context.Background(), tc.cmd); !errors.Is(err, ErrUserInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestSetUserRoleSurvivesClaimFailure(t *testing.T) {
	var logged string

	svc := newTestUserService(t, UserServiceDeps{
		Users: &stubUserRepo{
			findFn: func(context.Context, string) (domain.UserProfile, error) {
				return domain.UserProfile{ID: "uid-1", Role: domain.RoleAssembler, Active: true}, nil
			},
		},
		Claims: &stubClaimSetter{err: errors.New("firebase unavailable")},
		Logger: func(_ context.Context, event string, _ map[string]any) {
			logged = event
		},
	})

	profile, err := svc.SetUserRole(context.Background(), SetUserRoleCommand{
		UserID:  "uid-1",
		Role:    domain.RoleAssembler,
		ActorID: "adm",
	})
	if err != nil {
		t.Fatalf("SetUserRole: %v", err)
	}
	if profile.Role != domain.RoleAssembler {
		t.Fatalf("expected assembler role, got %q", profile.Role)
	}
	if logged != "user.role_claim.sync.failed" {
		t.Fatalf("expected claim failure to be logged, got %q", logged)
	}
}

func TestSetUserActiveRejectsSelfDeactivation(t *testing.T) {
	svc := newTestUserService(t, UserServiceDeps{})

	_, err := svc.SetUserActive(context.Background(), SetUserActiveCommand{
		UserID:  "adm",
		Active:  false,
		ActorID: "adm",
	})
	if !errors.Is(err, ErrUserInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestUpdateProfileClearsPhone(t *testing.T) {
	var saved domain.UserProfile

	svc := newTestUserService(t, UserServiceDeps{
		Users: &stubUserRepo{
			findFn: func(context.Context, string) (domain.UserProfile, error) {
				phone := "11 98888-0000"
				return domain.UserProfile{ID: "uid-1", FullName: "João", Phone: &phone, Active: true}, nil
			},
			updateFn: func(_ context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
				saved = profile
				return profile, nil
			},
		},
	})

	empty := ""
	emptyPtr := &empty
	if _, err := svc.UpdateProfile(context.Background(), UpdateUserProfileCommand{
		UserID: "uid-1",
		Phone:  &emptyPtr,
	}); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}

	if saved.Phone != nil {
		t.Fatalf("expected phone cleared, got %v", *saved.Phone)
	}
	if saved.FullName != "João" {
		t.Fatalf("expected untouched name, got %q", saved.FullName)
	}
}

func TestResolveRole(t *testing.T) {
	tests := []struct {
		name     string
		profile  domain.UserProfile
		findErr  error
		wantRole string
		wantErr  error
	}{
		{
			name:     "active profile",
			profile:  domain.UserProfile{ID: "uid-1", Role: domain.RoleAdmin, Active: true},
			wantRole: "admin",
		},
		{
			name:    "inactive profile",
			profile: domain.UserProfile{ID: "uid-1", Role: domain.RoleAdmin, Active: false},
			wantErr: auth.ErrUserInactive,
		},
		{
			name:    "unregistered uid",
			findErr: &repoError{msg: "missing", notFound: true},
			wantErr: auth.ErrRoleNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestUserService(t, UserServiceDeps{
				Users: &stubUserRepo{
					findFn: func(context.Context, string) (domain.UserProfile, error) {
						if tc.findErr != nil {
							return domain.UserProfile{}, tc.findErr
						}
						return tc.profile, nil
					},
				},
			})

			role, err := svc.ResolveRole(context.Background(), "uid-1")
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveRole: %v", err)
			}
			if role != tc.wantRole {
				t.Fatalf("expected role %q, got %q", tc.wantRole, role)
			}
		})
	}
}

func TestRecordLoginUsesClockWhenZero(t *testing.T) {
	var recorded time.Time

	svc := newTestUserService(t, UserServiceDeps{
		Users: &stubUserRepo{
			recordLoginFn: func(_ context.Context, _ string, at time.Time) error {
				recorded = at
				return nil
			},
		},
	})

	if err := svc.RecordLogin(context.Background(), "uid-1", time.Time{}); err != nil {
		t.Fatalf("RecordLogin: %v", err)
	}
	if !recorded.Equal(testClock()) {
		t.Fatalf("expected clock time %v, got %v", testClock(), recorded)
	}
}
