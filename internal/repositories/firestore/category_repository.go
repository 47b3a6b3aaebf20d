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
)

const categoriesCollection = "categories"

// CategoryRepository persists catalog categories.
type CategoryRepository struct {
	base *pfirestore.BaseRepository[categoryDocument]
}

// NewCategoryRepository constructs a Firestore-backed category repository.
func NewCategoryRepository(provider *pfirestore.Provider) (*CategoryRepository, error) {
	if provider == nil {
		return nil, errors.New("category repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[categoryDocument](provider, categoriesCollection, nil, nil)
	return &CategoryRepository{base: base}, nil
}

// Insert stores a new category. The ID must be unique.
func (r *CategoryRepository) Insert(ctx context.Context, category domain.Category) error {
	if r == nil || r.base == nil {
		return errors.New("category repository not initialised")
	}
	categoryID := strings.TrimSpace(category.ID)
	if categoryID == "" {
		return errors.New("category repository: category id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, categoryID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeCategoryDocument(category)); err != nil {
		return pfirestore.WrapError("categories.insert", err)
	}
	return nil
}

// Update replaces the persisted category with the provided snapshot.
func (r *CategoryRepository) Update(ctx context.Context, category domain.Category) error {
	if r == nil || r.base == nil {
		return errors.New("category repository not initialised")
	}
	categoryID := strings.TrimSpace(category.ID)
	if categoryID == "" {
		return errors.New("category repository: category id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, categoryID)
	if err != nil {
		return err
	}
	if _, err := docRef.Set(ctx, encodeCategoryDocument(category)); err != nil {
		return pfirestore.WrapError("categories.update", err)
	}
	return nil
}

// Delete removes the category document.
func (r *CategoryRepository) Delete(ctx context.Context, categoryID string) error {
	if r == nil || r.base == nil {
		return errors.New("category repository not initialised")
	}
	categoryID = strings.TrimSpace(categoryID)
	if categoryID == "" {
		return errors.New("category repository: category id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, categoryID)
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx); err != nil {
		return pfirestore.WrapError("categories.delete", err)
	}
	return nil
}

// FindByID fetches a single category.
func (r *CategoryRepository) FindByID(ctx context.Context, categoryID string) (domain.Category, error) {
	if r == nil || r.base == nil {
		return domain.Category{}, errors.New("category repository not initialised")
	}
	categoryID = strings.TrimSpace(categoryID)
	if categoryID == "" {
		return domain.Category{}, errors.New("category repository: category id is required")
	}
	doc, err := r.base.Get(ctx, categoryID)
	if err != nil {
		return domain.Category{}, err
	}
	return decodeCategoryDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// List returns categories ordered by most recent creation.
func (r *CategoryRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Category], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Category]{}, errors.New("category repository not initialised")
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Category]{}, fmt.Errorf("category repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
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
		return domain.CursorPage[domain.Category]{}, err
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

	items := make([]domain.Category, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeCategoryDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Category]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type categoryDocument struct {
	Name      string    `firestore:"name"`
	Active    bool      `firestore:"active"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func encodeCategoryDocument(category domain.Category) categoryDocument {
	return categoryDocument{
		Name:      strings.TrimSpace(category.Name),
		Active:    category.Active,
		CreatedAt: category.CreatedAt.UTC(),
		UpdatedAt: category.UpdatedAt.UTC(),
	}
}

func decodeCategoryDocument(id string, doc categoryDocument, createdAt, updatedAt time.Time) domain.Category {
	return domain.Category{
		ID:        strings.TrimSpace(id),
		Name:      strings.TrimSpace(doc.Name),
		Active:    doc.Active,
		CreatedAt: chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt: chooseTime(doc.UpdatedAt, updatedAt),
	}
}
