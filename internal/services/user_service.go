package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	domain "github.com/fabrica-ops/api/internal/domain"
	"github.com/fabrica-ops/api/internal/platform/auth"
	"github.com/fabrica-ops/api/internal/repositories"
)

var (
	// ErrUserInvalidInput signals the caller supplied invalid profile data.
	ErrUserInvalidInput = errors.New("user: invalid input")
	// ErrUserNotFound indicates no profile exists for the UID.
	ErrUserNotFound = errors.New("user: not found")
	// ErrUserConflict indicates a profile already exists or was modified concurrently.
	ErrUserConflict = errors.New("user: conflict")
)

// RoleClaimSetter mirrors a profile's role into Firebase custom claims so
// clients can read it from the ID token without an extra request.
type RoleClaimSetter interface {
	SetRoleClaim(ctx context.Context, uid string, role string) error
}

// UserServiceDeps bundles constructor inputs for the user service.
type UserServiceDeps struct {
	Users  repositories.UserRepository
	Claims RoleClaimSetter
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type userService struct {
	users  repositories.UserRepository
	claims RoleClaimSetter
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewUserService wires dependencies into a concrete UserService implementation.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &userService{
		users:  deps.Users,
		claims: deps.Claims,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *userService) RegisterUser(ctx context.Context, cmd RegisterUserCommand) (UserProfile, error) {
	uid := strings.TrimSpace(cmd.UID)
	if uid == "" {
		return UserProfile{}, fmt.Errorf("%w: uid is required", ErrUserInvalidInput)
	}
	fullName := sanitizeText(cmd.FullName)
	if fullName == "" {
		return UserProfile{}, fmt.Errorf("%w: full name is required", ErrUserInvalidInput)
	}
	email := strings.TrimSpace(strings.ToLower(cmd.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return UserProfile{}, fmt.Errorf("%w: invalid email %q", ErrUserInvalidInput, cmd.Email)
	}

	role := cmd.Role
	if role == "" {
		role = domain.RoleConsultant
	}
	if !role.Valid() {
		return UserProfile{}, fmt.Errorf("%w: unknown role %q", ErrUserInvalidInput, cmd.Role)
	}

	now := s.clock()
	profile := UserProfile{
		ID:        uid,
		FullName:  fullName,
		Email:     email,
		Phone:     sanitizeOptional(cmd.Phone),
		Role:      role,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.users.Insert(ctx, profile); err != nil {
		return UserProfile{}, s.mapRepositoryError(err)
	}

	s.mirrorRoleClaim(ctx, uid, role)
	return profile, nil
}

func (s *userService) GetProfile(ctx context.Context, userID string) (UserProfile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserProfile{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	profile, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return UserProfile{}, s.mapRepositoryError(err)
	}
	return profile, nil
}

func (s *userService) UpdateProfile(ctx context.Context, cmd UpdateUserProfileCommand) (UserProfile, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return UserProfile{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}

	profile, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return UserProfile{}, s.mapRepositoryError(err)
	}

	if cmd.FullName != nil {
		fullName := sanitizeText(*cmd.FullName)
		if fullName == "" {
			return UserProfile{}, fmt.Errorf("%w: full name must not be empty", ErrUserInvalidInput)
		}
		profile.FullName = fullName
	}
	if cmd.Phone != nil {
		profile.Phone = sanitizeOptional(*cmd.Phone)
	}
	if cmd.AvatarURL != nil {
		profile.AvatarURL = sanitizeOptional(*cmd.AvatarURL)
	}
	profile.UpdatedAt = s.clock()

	saved, err := s.users.UpdateProfile(ctx, profile)
	if err != nil {
		return UserProfile{}, s.mapRepositoryError(err)
	}
	return saved, nil
}

func (s *userService) SetUserRole(ctx context.Context, cmd SetUserRoleCommand) (UserProfile, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return UserProfile{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	if !cmd.Role.Valid() {
		return UserProfile{}, fmt.Errorf("%w: unknown role %q", ErrUserInvalidInput, cmd.Role)
	}

	now := s.clock()
	if err := s.users.SetRole(ctx, userID, cmd.Role, now); err != nil {
		return UserProfile{}, s.mapRepositoryError(err)
	}

	s.mirrorRoleClaim(ctx, userID, cmd.Role)

	profile, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return UserProfile{}, s.mapRepositoryError(err)
	}
	return profile, nil
}

func (s *userService) SetUserActive(ctx context.Context, cmd SetUserActiveCommand) (UserProfile, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return UserProfile{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	if userID == strings.TrimSpace(cmd.ActorID) && !cmd.Active {
		return UserProfile{}, fmt.Errorf("%w: cannot deactivate own account", ErrUserInvalidInput)
	}

	if err := s.users.SetActive(ctx, userID, cmd.Active, s.clock()); err != nil {
		return UserProfile{}, s.mapRepositoryError(err)
	}

	profile, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return UserProfile{}, s.mapRepositoryError(err)
	}
	return profile, nil
}

func (s *userService) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	if at.IsZero() {
		at = s.clock()
	}
	if err := s.users.RecordLogin(ctx, userID, at.UTC()); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *userService) ListUsers(ctx context.Context, query UserListQuery) (domain.CursorPage[UserProfile], error) {
	if query.Role != nil && !query.Role.Valid() {
		return domain.CursorPage[UserProfile]{}, fmt.Errorf("%w: unknown role %q", ErrUserInvalidInput, *query.Role)
	}

	filter := repositories.UserListFilter{
		Role:       query.Role,
		ActiveOnly: query.ActiveOnly,
		Pagination: domain.Pagination{
			PageSize:  query.Pagination.PageSize,
			PageToken: strings.TrimSpace(query.Pagination.PageToken),
		},
	}

	page, err := s.users.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[UserProfile]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// ResolveRole satisfies the auth middleware's RoleResolver contract. It reads
// the profile store on every call, so role changes and deactivations take
// effect on the next request without token refresh.
func (s *userService) ResolveRole(ctx context.Context, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", auth.ErrRoleNotFound
	}

	profile, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return "", auth.ErrRoleNotFound
		}
		return "", fmt.Errorf("user: resolve role: %w", err)
	}
	if !profile.Active {
		return "", auth.ErrUserInactive
	}
	return string(profile.Role), nil
}

// mirrorRoleClaim pushes the role into Firebase custom claims. Failures are
// logged and swallowed: authorization always reads the profile store, so a
// stale claim never grants access.
func (s *userService) mirrorRoleClaim(ctx context.Context, uid string, role domain.Role) {
	if s.claims == nil {
		return
	}
	if err := s.claims.SetRoleClaim(ctx, uid, string(role)); err != nil {
		s.logger(ctx, "user.role_claim.sync.failed", map[string]any{
			"uid":   uid,
			"role":  string(role),
			"error": err.Error(),
		})
	}
}

func (s *userService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrUserNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrUserConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("user: repository unavailable: %w", err)
		}
	}

	return err
}
