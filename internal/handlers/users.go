package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/fabrica-ops/api/internal/domain"
	"github.com/fabrica-ops/api/internal/platform/auth"
	"github.com/fabrica-ops/api/internal/platform/httpx"
	"github.com/fabrica-ops/api/internal/platform/pagination"
	"github.com/fabrica-ops/api/internal/services"
)

const (
	defaultUserPageSize = 50
	maxUserPageSize     = 200
	maxUserBodySize     = 16 * 1024
)

// UserHandlers exposes user administration endpoints. Listing, registration,
// role changes, and activation toggles are admin-only; profile reads and
// updates are allowed for the profile owner as well.
type UserHandlers struct {
	authn *auth.Authenticator
	users services.UserService
}

// NewUserHandlers constructs a new UserHandlers instance.
func NewUserHandlers(authn *auth.Authenticator, users services.UserService) *UserHandlers {
	return &UserHandlers{
		authn: authn,
		users: users,
	}
}

// Routes registers the /users endpoints.
func (h *UserHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.StaffRoles...))
	}
	r.Get("/", h.listUsers)
	r.Post("/", h.registerUser)
	r.Get("/{userID}", h.getUser)
	r.Patch("/{userID}", h.updateUser)
	r.Put("/{userID}/role", h.setUserRole)
	r.Put("/{userID}/active", h.setUserActive)
}

func (h *UserHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if !actor.IsAdmin() {
		httpx.WriteError(ctx, w, httpx.NewError("user_forbidden", "admin role required", http.StatusForbidden))
		return
	}

	query := r.URL.Query()

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultUserPageSize,
		MaxPageSize:     maxUserPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	listQuery := services.UserListQuery{
		ActiveOnly: strings.EqualFold(strings.TrimSpace(query.Get("active_only")), "true"),
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	}
	if raw := strings.ToLower(strings.TrimSpace(query.Get("role"))); raw != "" {
		role := domain.Role(raw)
		if !role.Valid() {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("role %q is not a valid role", raw), http.StatusBadRequest))
			return
		}
		listQuery.Role = &role
	}

	page, err := h.users.ListUsers(ctx, listQuery)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	items := make([]userPayload, 0, len(page.Items))
	for _, profile := range page.Items {
		items = append(items, buildUserPayload(profile))
	}

	writeJSONResponse(w, http.StatusOK, userListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

type registerUserRequest struct {
	UID      string  `json:"uid"`
	FullName string  `json:"full_name"`
	Email    string  `json:"email"`
	Phone    *string `json:"phone"`
	Role     string  `json:"role"`
}

func (h *UserHandlers) registerUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if !actor.IsAdmin() {
		httpx.WriteError(ctx, w, httpx.NewError("user_forbidden", "admin role required", http.StatusForbidden))
		return
	}

	var req registerUserRequest
	if err := decodeJSONBody(r, maxUserBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	role := domain.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	if req.Role != "" && !role.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("role %q is not a valid role", req.Role), http.StatusBadRequest))
		return
	}

	profile, err := h.users.RegisterUser(ctx, services.RegisterUserCommand{
		UID:      req.UID,
		FullName: req.FullName,
		Email:    req.Email,
		Phone:    req.Phone,
		Role:     role,
		ActorID:  actor.UID,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, userResponse{User: buildUserPayload(profile)})
}

func (h *UserHandlers) getUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "user id is required", http.StatusBadRequest))
		return
	}
	if !actor.IsAdmin() && actor.UID != userID {
		httpx.WriteError(ctx, w, httpx.NewError("user_forbidden", "not allowed to view this profile", http.StatusForbidden))
		return
	}

	profile, err := h.users.GetProfile(ctx, userID)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, userResponse{User: buildUserPayload(profile)})
}

func (h *UserHandlers) updateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "user id is required", http.StatusBadRequest))
		return
	}
	if !actor.IsAdmin() && actor.UID != userID {
		httpx.WriteError(ctx, w, httpx.NewError("user_forbidden", "not allowed to modify this profile", http.StatusForbidden))
		return
	}

	body, err := readLimitedBody(r, maxUserBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd, err := buildProfileUpdateCommand(userID, actor.UID, fields)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	profile, err := h.users.UpdateProfile(ctx, cmd)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, userResponse{User: buildUserPayload(profile)})
}

// buildProfileUpdateCommand maps raw JSON fields onto a partial profile
// update. Absent keys leave fields untouched; explicit nulls clear the
// optional phone and avatar fields.
func buildProfileUpdateCommand(userID, actorID string, fields map[string]json.RawMessage) (services.UpdateUserProfileCommand, error) {
	cmd := services.UpdateUserProfileCommand{UserID: userID, ActorID: actorID}
	for key, raw := range fields {
		switch key {
		case "full_name":
			value, err := decodeStringField(key, raw)
			if err != nil {
				return cmd, err
			}
			if value == nil {
				return cmd, errors.New("full_name cannot be null")
			}
			cmd.FullName = value
		case "phone":
			value, err := decodeStringField(key, raw)
			if err != nil {
				return cmd, err
			}
			cmd.Phone = &value
		case "avatar_url":
			value, err := decodeStringField(key, raw)
			if err != nil {
				return cmd, err
			}
			cmd.AvatarURL = &value
		}
	}
	return cmd, nil
}

type setUserRoleRequest struct {
	Role string `json:"role"`
}

func (h *UserHandlers) setUserRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if !actor.IsAdmin() {
		httpx.WriteError(ctx, w, httpx.NewError("user_forbidden", "admin role required", http.StatusForbidden))
		return
	}

	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "user id is required", http.StatusBadRequest))
		return
	}

	var req setUserRoleRequest
	if err := decodeJSONBody(r, maxUserBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	role := domain.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	if !role.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "role must be one of admin, consultant, assembler", http.StatusBadRequest))
		return
	}

	profile, err := h.users.SetUserRole(ctx, services.SetUserRoleCommand{
		UserID:  userID,
		Role:    role,
		ActorID: actor.UID,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, userResponse{User: buildUserPayload(profile)})
}

type setUserActiveRequest struct {
	Active bool `json:"active"`
}

func (h *UserHandlers) setUserActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if !actor.IsAdmin() {
		httpx.WriteError(ctx, w, httpx.NewError("user_forbidden", "admin role required", http.StatusForbidden))
		return
	}

	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "user id is required", http.StatusBadRequest))
		return
	}

	var req setUserActiveRequest
	if err := decodeJSONBody(r, maxUserBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	profile, err := h.users.SetUserActive(ctx, services.SetUserActiveCommand{
		UserID:  userID,
		Active:  req.Active,
		ActorID: actor.UID,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, userResponse{User: buildUserPayload(profile)})
}

type userListResponse struct {
	Items         []userPayload `json:"items"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

type userResponse struct {
	User userPayload `json:"user"`
}

type userPayload struct {
	ID          string  `json:"id"`
	FullName    string  `json:"full_name"`
	Email       string  `json:"email"`
	Phone       *string `json:"phone,omitempty"`
	Role        string  `json:"role"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	Active      bool    `json:"active"`
	LastLoginAt string  `json:"last_login_at,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at,omitempty"`
}

func buildUserPayload(profile services.UserProfile) userPayload {
	return userPayload{
		ID:          strings.TrimSpace(profile.ID),
		FullName:    profile.FullName,
		Email:       profile.Email,
		Phone:       profile.Phone,
		Role:        string(profile.Role),
		AvatarURL:   profile.AvatarURL,
		Active:      profile.Active,
		LastLoginAt: formatTimePointer(profile.LastLoginAt),
		CreatedAt:   formatTime(profile.CreatedAt),
		UpdatedAt:   formatTime(profile.UpdatedAt),
	}
}

func writeUserError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrUserInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("user_not_found", "user not found", http.StatusNotFound))
	case errors.Is(err, services.ErrUserConflict):
		httpx.WriteError(ctx, w, httpx.NewError("user_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("user_error", "failed to process user request", http.StatusInternalServerError))
	}
}
