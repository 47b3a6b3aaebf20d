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

const productsCollection = "products"

// ProductRepository persists catalog products.
type ProductRepository struct {
	base *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &ProductRepository{base: base}, nil
}

// Insert stores a new product. The ID must be unique.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	productID := strings.TrimSpace(product.ID)
	if productID == "" {
		return errors.New("product repository: product id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, productID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeProductDocument(product)); err != nil {
		return pfirestore.WrapError("products.insert", err)
	}
	return nil
}

// Update replaces the persisted product with the provided snapshot.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	productID := strings.TrimSpace(product.ID)
	if productID == "" {
		return errors.New("product repository: product id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, productID)
	if err != nil {
		return err
	}
	if _, err := docRef.Set(ctx, encodeProductDocument(product)); err != nil {
		return pfirestore.WrapError("products.update", err)
	}
	return nil
}

// Delete removes the product document.
func (r *ProductRepository) Delete(ctx context.Context, productID string) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return errors.New("product repository: product id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, productID)
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx); err != nil {
		return pfirestore.WrapError("products.delete", err)
	}
	return nil
}

// FindByID fetches a single product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return decodeProductDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// List returns products matching the filter ordered by most recent creation.
// Keyword lookups match against the folded search keyword array.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
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
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("product repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	statusFilters := make([]string, 0, len(filter.Status))
	for _, status := range filter.Status {
		trimmed := strings.TrimSpace(string(status))
		if trimmed != "" {
			statusFilters = append(statusFilters, trimmed)
		}
	}

	keyword := strings.TrimSpace(filter.Keyword)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.CategoryID != nil {
			if trimmed := strings.TrimSpace(*filter.CategoryID); trimmed != "" {
				q = q.Where("categoryId", "==", trimmed)
			}
		}
		if len(statusFilters) == 1 {
			q = q.Where("status", "==", statusFilters[0])
		} else if len(statusFilters) > 1 {
			if len(statusFilters) > 10 {
				statusFilters = statusFilters[:10]
			}
			q = q.Where("status", "in", statusFilters)
		}
		if keyword != "" {
			q = q.Where("searchKeywords", "array-contains", keyword)
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
		return domain.CursorPage[domain.Product]{}, err
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

	items := make([]domain.Product, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeProductDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Product]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// ExistsByCategory reports whether any product references the category.
func (r *ProductRepository) ExistsByCategory(ctx context.Context, categoryID string) (bool, error) {
	if r == nil || r.base == nil {
		return false, errors.New("product repository not initialised")
	}
	categoryID = strings.TrimSpace(categoryID)
	if categoryID == "" {
		return false, errors.New("product repository: category id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("categoryId", "==", categoryID).Limit(1).Select()
	})
	if err != nil {
		return false, err
	}
	return len(docs) > 0, nil
}

// CountLowStock counts active products whose stock has fallen to or below
// their minimum level. Firestore cannot compare two fields in a query, so the
// comparison happens over a stock-only projection.
func (r *ProductRepository) CountLowStock(ctx context.Context) (int, error) {
	if r == nil || r.base == nil {
		return 0, errors.New("product repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("status", "==", string(domain.ProductStatusActive)).
			Select("stockQuantity", "minStockLevel")
	})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, doc := range docs {
		if doc.Data.MinStockLevel > 0 && doc.Data.StockQuantity <= doc.Data.MinStockLevel {
			count++
		}
	}
	return count, nil
}

type productDocument struct {
	Name           string    `firestore:"name"`
	Description    string    `firestore:"description"`
	SKU            string    `firestore:"sku"`
	Price          int64     `firestore:"price"`
	CategoryID     *string   `firestore:"categoryId"`
	ImageURL       *string   `firestore:"imageUrl"`
	Status         string    `firestore:"status"`
	StockQuantity  int       `firestore:"stockQuantity"`
	MinStockLevel  int       `firestore:"minStockLevel"`
	WeightGrams    *int      `firestore:"weightGrams"`
	Dimensions     *string   `firestore:"dimensions"`
	SearchKeywords []string  `firestore:"searchKeywords"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func encodeProductDocument(product domain.Product) productDocument {
	return productDocument{
		Name:           strings.TrimSpace(product.Name),
		Description:    strings.TrimSpace(product.Description),
		SKU:            strings.TrimSpace(product.SKU),
		Price:          int64(product.Price),
		CategoryID:     trimPointer(product.CategoryID),
		ImageURL:       trimPointer(product.ImageURL),
		Status:         string(product.Status),
		StockQuantity:  product.StockQuantity,
		MinStockLevel:  product.MinStockLevel,
		WeightGrams:    product.WeightGrams,
		Dimensions:     trimPointer(product.Dimensions),
		SearchKeywords: cloneStrings(product.SearchKeywords),
		CreatedAt:      product.CreatedAt.UTC(),
		UpdatedAt:      product.UpdatedAt.UTC(),
	}
}

func decodeProductDocument(id string, doc productDocument, createdAt, updatedAt time.Time) domain.Product {
	return domain.Product{
		ID:             strings.TrimSpace(id),
		Name:           strings.TrimSpace(doc.Name),
		Description:    strings.TrimSpace(doc.Description),
		SKU:            strings.TrimSpace(doc.SKU),
		Price:          domain.Money(doc.Price),
		CategoryID:     trimPointer(doc.CategoryID),
		ImageURL:       trimPointer(doc.ImageURL),
		Status:         domain.ProductStatus(strings.TrimSpace(doc.Status)),
		StockQuantity:  doc.StockQuantity,
		MinStockLevel:  doc.MinStockLevel,
		WeightGrams:    doc.WeightGrams,
		Dimensions:     trimPointer(doc.Dimensions),
		SearchKeywords: cloneStrings(doc.SearchKeywords),
		CreatedAt:      chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:      chooseTime(doc.UpdatedAt, updatedAt),
	}
}
