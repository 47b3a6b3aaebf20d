package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fabrica-ops/api/internal/platform/auth"
	"github.com/fabrica-ops/api/internal/platform/httpx"
	"github.com/fabrica-ops/api/internal/services"
)

// MeHandlers exposes the authenticated caller's own profile.
type MeHandlers struct {
	authn *auth.Authenticator
	users services.UserService
	clock func() time.Time
}

// NewMeHandlers constructs handlers enforcing Firebase authentication before
// invoking the user service.
func NewMeHandlers(authn *auth.Authenticator, users services.UserService) *MeHandlers {
	return &MeHandlers{
		authn: authn,
		users: users,
		clock: time.Now,
	}
}

// Routes wires the /me endpoints onto the provided router.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.StaffRoles...))
	}
	r.Get("/", h.getProfile)
	r.Patch("/", h.updateProfile)
}

// getProfile returns the caller's profile and stamps the login time. The
// stamp is best effort; a failed write never blocks the profile read.
func (h *MeHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	profile, err := h.users.GetProfile(ctx, actor.UID)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	_ = h.users.RecordLogin(ctx, actor.UID, h.clock())

	writeJSONResponse(w, http.StatusOK, userResponse{User: buildUserPayload(profile)})
}

// updateProfile lets the caller change their own editable fields. It shares
// the field semantics of PATCH /users/{userID}: absent keys are left alone,
// explicit nulls clear optional fields.
func (h *MeHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
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

	cmd, err := buildProfileUpdateCommand(actor.UID, actor.UID, fields)
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
