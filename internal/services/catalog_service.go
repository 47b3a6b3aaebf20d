package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	domain "github.com/fabrica-ops/api/internal/domain"
	"github.com/fabrica-ops/api/internal/repositories"
)

const (
	productIDPrefix  = "prd_"
	categoryIDPrefix = "cat_"
)

var (
	// ErrCatalogInvalidInput signals the caller supplied invalid product or category data.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogNotFound indicates the product or category could not be located.
	ErrCatalogNotFound = errors.New("catalog: not found")
	// ErrCatalogConflict indicates duplicate identifiers or concurrent modification.
	ErrCatalogConflict = errors.New("catalog: conflict")
	// ErrCatalogInUse indicates the entry cannot be deleted because orders or
	// products still reference it.
	ErrCatalogInUse = errors.New("catalog: in use")
)

// keywordFolder lowercases and strips diacritics so "Armário" and "armario"
// index to the same keyword.
var keywordFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products    repositories.ProductRepository
	Categories  repositories.CategoryRepository
	Items       repositories.OrderItemRepository
	Images      ProductImageStore
	Clock       func() time.Time
	IDGenerator func() string
}

type catalogService struct {
	products   repositories.ProductRepository
	categories repositories.CategoryRepository
	items      repositories.OrderItemRepository
	images     ProductImageStore
	clock      func() time.Time
	newID      func() string
}

// NewCatalogService wires dependencies into a concrete CatalogService implementation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	if deps.Categories == nil {
		return nil, errors.New("catalog service: category repository is required")
	}
	if deps.Items == nil {
		return nil, errors.New("catalog service: order item repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	return &catalogService{
		products:   deps.Products,
		categories: deps.Categories,
		items:      deps.Items,
		images:     deps.Images,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: idGen,
	}, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	product, err := s.buildProduct(cmd)
	if err != nil {
		return Product{}, err
	}

	now := s.clock()
	product.ID = productIDPrefix + strings.ToLower(s.newID())
	product.CreatedAt = now
	product.UpdatedAt = now

	if err := s.checkCategoryExists(ctx, product.CategoryID); err != nil {
		return Product{}, err
	}
	if err := s.products.Insert(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	existing, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}

	product, err := s.buildProduct(cmd)
	if err != nil {
		return Product{}, err
	}
	product.ID = existing.ID
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = s.clock()

	if err := s.checkCategoryExists(ctx, product.CategoryID); err != nil {
		return Product{}, err
	}
	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) DeleteProduct(ctx context.Context, productID string) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	if _, err := s.products.FindByID(ctx, productID); err != nil {
		return s.mapRepositoryError(err)
	}

	referenced, err := s.items.ExistsByProduct(ctx, productID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if referenced {
		return fmt.Errorf("%w: product %s is referenced by order items", ErrCatalogInUse, productID)
	}

	if err := s.products.Delete(ctx, productID); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) UploadProductImage(ctx context.Context, productID string, upload AttachmentUpload) (Product, error) {
	if s.images == nil {
		return Product{}, errors.New("catalog service: image store is not configured")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if len(upload.Data) == 0 {
		return Product{}, fmt.Errorf("%w: image payload is empty", ErrCatalogInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}

	url, err := s.images.StoreProductImage(ctx, productID, upload)
	if err != nil {
		return Product{}, fmt.Errorf("catalog: store product image: %w", err)
	}

	product.ImageURL = &url
	product.UpdatedAt = s.clock()
	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) ListProducts(ctx context.Context, query ProductListQuery) (domain.CursorPage[Product], error) {
	for _, status := range query.Status {
		if !status.Valid() {
			return domain.CursorPage[Product]{}, fmt.Errorf("%w: unknown product status %q", ErrCatalogInvalidInput, status)
		}
	}

	filter := repositories.ProductListFilter{
		Status:     query.Status,
		CategoryID: trimCategoryFilter(query.CategoryID),
		Keyword:    foldKeyword(query.Keyword),
		Pagination: domain.Pagination{
			PageSize:  query.Pagination.PageSize,
			PageToken: strings.TrimSpace(query.Pagination.PageToken),
		},
	}

	page, err := s.products.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Product]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *catalogService) CreateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error) {
	name := sanitizeText(cmd.Name)
	if name == "" {
		return Category{}, fmt.Errorf("%w: category name is required", ErrCatalogInvalidInput)
	}

	now := s.clock()
	category := Category{
		ID:        categoryIDPrefix + strings.ToLower(s.newID()),
		Name:      name,
		Active:    cmd.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.categories.Insert(ctx, category); err != nil {
		return Category{}, s.mapRepositoryError(err)
	}
	return category, nil
}

func (s *catalogService) UpdateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error) {
	categoryID := strings.TrimSpace(cmd.CategoryID)
	if categoryID == "" {
		return Category{}, fmt.Errorf("%w: category id is required", ErrCatalogInvalidInput)
	}
	name := sanitizeText(cmd.Name)
	if name == "" {
		return Category{}, fmt.Errorf("%w: category name is required", ErrCatalogInvalidInput)
	}

	existing, err := s.categories.FindByID(ctx, categoryID)
	if err != nil {
		return Category{}, s.mapRepositoryError(err)
	}

	existing.Name = name
	existing.Active = cmd.Active
	existing.UpdatedAt = s.clock()

	if err := s.categories.Update(ctx, existing); err != nil {
		return Category{}, s.mapRepositoryError(err)
	}
	return existing, nil
}

func (s *catalogService) DeleteCategory(ctx context.Context, categoryID string) error {
	categoryID = strings.TrimSpace(categoryID)
	if categoryID == "" {
		return fmt.Errorf("%w: category id is required", ErrCatalogInvalidInput)
	}

	if _, err := s.categories.FindByID(ctx, categoryID); err != nil {
		return s.mapRepositoryError(err)
	}

	referenced, err := s.products.ExistsByCategory(ctx, categoryID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if referenced {
		return fmt.Errorf("%w: category %s is referenced by products", ErrCatalogInUse, categoryID)
	}

	if err := s.categories.Delete(ctx, categoryID); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *catalogService) ListCategories(ctx context.Context, pager Pagination) (domain.CursorPage[Category], error) {
	page, err := s.categories.List(ctx, domain.Pagination{
		PageSize:  pager.PageSize,
		PageToken: strings.TrimSpace(pager.PageToken),
	})
	if err != nil {
		return domain.CursorPage[Category]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// buildProduct validates and normalises the shared fields of create/update
// commands. Identity and timestamps are filled in by the caller.
func (s *catalogService) buildProduct(cmd UpsertProductCommand) (Product, error) {
	name := sanitizeText(cmd.Name)
	if name == "" {
		return Product{}, fmt.Errorf("%w: product name is required", ErrCatalogInvalidInput)
	}
	if cmd.Price < 0 {
		return Product{}, fmt.Errorf("%w: price must not be negative", ErrCatalogInvalidInput)
	}
	if cmd.StockQuantity < 0 || cmd.MinStockLevel < 0 {
		return Product{}, fmt.Errorf("%w: stock values must not be negative", ErrCatalogInvalidInput)
	}
	if cmd.WeightGrams != nil && *cmd.WeightGrams < 0 {
		return Product{}, fmt.Errorf("%w: weight must not be negative", ErrCatalogInvalidInput)
	}

	status := cmd.Status
	if status == "" {
		status = domain.ProductStatusActive
	}
	if !status.Valid() {
		return Product{}, fmt.Errorf("%w: unknown product status %q", ErrCatalogInvalidInput, status)
	}

	product := Product{
		Name:          name,
		Description:   sanitizeText(cmd.Description),
		SKU:           strings.TrimSpace(cmd.SKU),
		Price:         cmd.Price,
		CategoryID:    sanitizeOptional(cmd.CategoryID),
		ImageURL:      sanitizeOptional(cmd.ImageURL),
		Status:        status,
		StockQuantity: cmd.StockQuantity,
		MinStockLevel: cmd.MinStockLevel,
		WeightGrams:   cmd.WeightGrams,
		Dimensions:    sanitizeOptional(cmd.Dimensions),
	}
	product.SearchKeywords = buildSearchKeywords(product.Name, product.Description, product.SKU)
	return product, nil
}

func (s *catalogService) checkCategoryExists(ctx context.Context, categoryID *string) error {
	if categoryID == nil {
		return nil
	}
	if _, err := s.categories.FindByID(ctx, *categoryID); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: category %s does not exist", ErrCatalogInvalidInput, *categoryID)
		}
		return s.mapRepositoryError(err)
	}
	return nil
}

// buildSearchKeywords folds the given fields into a deduplicated keyword list
// so Firestore array-contains queries can match accent-insensitively.
func buildSearchKeywords(fields ...string) []string {
	seen := make(map[string]struct{})
	var keywords []string
	for _, field := range fields {
		for _, token := range strings.Fields(field) {
			folded := foldKeyword(token)
			if folded == "" {
				continue
			}
			if _, ok := seen[folded]; ok {
				continue
			}
			seen[folded] = struct{}{}
			keywords = append(keywords, folded)
		}
	}
	return keywords
}

func foldKeyword(value string) string {
	folded, _, err := transform.String(keywordFolder, strings.ToLower(strings.TrimSpace(value)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(value))
	}
	return folded
}

func trimCategoryFilter(categoryID *string) *string {
	if categoryID == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*categoryID)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func (s *catalogService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCatalogConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("catalog: repository unavailable: %w", err)
		}
	}

	return err
}
