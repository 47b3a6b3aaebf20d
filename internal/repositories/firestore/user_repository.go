package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/fabrica-ops/api/internal/domain"
	pfirestore "github.com/fabrica-ops/api/internal/platform/firestore"
	"github.com/fabrica-ops/api/internal/repositories"
)

const usersCollection = "users"

// UserRepository persists user profiles keyed by Firebase UID.
type UserRepository struct {
	base *pfirestore.BaseRepository[userDocument]
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[userDocument](provider, usersCollection, nil, nil)
	return &UserRepository{base: base}, nil
}

// Insert stores a new profile. The UID must not already exist.
func (r *UserRepository) Insert(ctx context.Context, profile domain.UserProfile) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	userID := strings.TrimSpace(profile.ID)
	if userID == "" {
		return errors.New("user repository: user id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeUserDocument(profile)); err != nil {
		return pfirestore.WrapError("users.insert", err)
	}
	return nil
}

// FindByID loads the profile by UID.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.UserProfile, error) {
	if r == nil || r.base == nil {
		return domain.UserProfile{}, errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.UserProfile{}, errors.New("user repository: user id is required")
	}
	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.UserProfile{}, err
	}
	return decodeUserDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// UpdateProfile replaces the persisted profile with the provided snapshot and
// returns the saved state.
func (r *UserRepository) UpdateProfile(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	if r == nil || r.base == nil {
		return domain.UserProfile{}, errors.New("user repository not initialised")
	}
	userID := strings.TrimSpace(profile.ID)
	if userID == "" {
		return domain.UserProfile{}, errors.New("user repository: user id is required")
	}
	doc := encodeUserDocument(profile)
	if _, err := r.base.Set(ctx, userID, doc); err != nil {
		return domain.UserProfile{}, err
	}
	saved := decodeUserDocument(userID, doc, profile.CreatedAt, profile.UpdatedAt)
	return saved, nil
}

// SetRole updates only the role field.
func (r *UserRepository) SetRole(ctx context.Context, userID string, role domain.Role, updatedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user repository: user id is required")
	}
	if !role.Valid() {
		return fmt.Errorf("user repository: invalid role %q", role)
	}
	updates := []firestore.Update{
		{Path: "role", Value: string(role)},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	}
	if _, err := r.base.Update(ctx, userID, updates); err != nil {
		return err
	}
	return nil
}

// SetActive toggles the active flag.
func (r *UserRepository) SetActive(ctx context.Context, userID string, active bool, updatedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user repository: user id is required")
	}
	updates := []firestore.Update{
		{Path: "active", Value: active},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	}
	if _, err := r.base.Update(ctx, userID, updates); err != nil {
		return err
	}
	return nil
}

// RecordLogin stamps the last login time without touching updatedAt, so
// profile edits remain distinguishable from sign-ins.
func (r *UserRepository) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user repository: user id is required")
	}
	updates := []firestore.Update{
		{Path: "lastLoginAt", Value: at.UTC()},
	}
	if _, err := r.base.Update(ctx, userID, updates); err != nil {
		return err
	}
	return nil
}

// List returns profiles matching the filter ordered by most recent creation.
func (r *UserRepository) List(ctx context.Context, filter repositories.UserListFilter) (domain.CursorPage[domain.UserProfile], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.UserProfile]{}, errors.New("user repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.UserProfile]{}, fmt.Errorf("user repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.Role != nil {
			q = q.Where("role", "==", string(*filter.Role))
		}
		if filter.ActiveOnly {
			q = q.Where("active", "==", true)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.UserProfile]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.UserProfile, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeUserDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.UserProfile]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type userDocument struct {
	FullName    string     `firestore:"fullName"`
	Email       string     `firestore:"email"`
	Phone       *string    `firestore:"phone"`
	Role        string     `firestore:"role"`
	AvatarURL   *string    `firestore:"avatarUrl"`
	Active      bool       `firestore:"active"`
	LastLoginAt *time.Time `firestore:"lastLoginAt"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	UpdatedAt   time.Time  `firestore:"updatedAt"`
}

func encodeUserDocument(profile domain.UserProfile) userDocument {
	return userDocument{
		FullName:    strings.TrimSpace(profile.FullName),
		Email:       strings.ToLower(strings.TrimSpace(profile.Email)),
		Phone:       trimPointer(profile.Phone),
		Role:        string(profile.Role),
		AvatarURL:   trimPointer(profile.AvatarURL),
		Active:      profile.Active,
		LastLoginAt: normalizeTimePointer(profile.LastLoginAt),
		CreatedAt:   profile.CreatedAt.UTC(),
		UpdatedAt:   profile.UpdatedAt.UTC(),
	}
}

func decodeUserDocument(id string, doc userDocument, createdAt, updatedAt time.Time) domain.UserProfile {
	return domain.UserProfile{
		ID:          strings.TrimSpace(id),
		FullName:    strings.TrimSpace(doc.FullName),
		Email:       strings.TrimSpace(doc.Email),
		Phone:       trimPointer(doc.Phone),
		Role:        domain.Role(strings.TrimSpace(doc.Role)),
		AvatarURL:   trimPointer(doc.AvatarURL),
		Active:      doc.Active,
		LastLoginAt: normalizeTimePointer(doc.LastLoginAt),
		CreatedAt:   chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:   chooseTime(doc.UpdatedAt, updatedAt),
	}
}
