package services

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	domain "github.com/fabrica-ops/api/internal/domain"
	"github.com/fabrica-ops/api/internal/repositories"
)

type stubCategoryRepo struct {
	insertFn func(context.Context, domain.Category) error
	updateFn func(context.Context, domain.Category) error
	deleteFn func(context.Context, string) error
	findFn   func(context.Context, string) (domain.Category, error)
	listFn   func(context.Context, domain.Pagination) (domain.CursorPage[domain.Category], error)
}

func (s *stubCategoryRepo) Insert(ctx context.Context, category domain.Category) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, category)
	}
	return nil
}

func (s *stubCategoryRepo) Update(ctx context.Context, category domain.Category) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, category)
	}
	return nil
}

func (s *stubCategoryRepo) Delete(ctx context.Context, categoryID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, categoryID)
	}
	return nil
}

func (s *stubCategoryRepo) FindByID(ctx context.Context, categoryID string) (domain.Category, error) {
	if s.findFn != nil {
		return s.findFn(ctx, categoryID)
	}
	return domain.Category{}, errors.New("not implemented")
}

func (s *stubCategoryRepo) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Category], error) {
	if s.listFn != nil {
		return s.listFn(ctx, pager)
	}
	return domain.CursorPage[domain.Category]{}, nil
}

type stubImageStore struct {
	storeFn func(context.Context, string, AttachmentUpload) (string, error)
}

func (s *stubImageStore) StoreProductImage(ctx context.Context, productID string, upload AttachmentUpload) (string, error) {
	if s.storeFn != nil {
		return s.storeFn(ctx, productID, upload)
	}
	return "https://cdn.example.com/products/" + productID, nil
}

func newTestCatalogService(t *testing.T, deps CatalogServiceDeps) CatalogService {
	t.Helper()
	if deps.Products == nil {
		deps.Products = &stubProductRepo{}
	}
	if deps.Categories == nil {
		deps.Categories = &stubCategoryRepo{}
	}
	if deps.Items == nil {
		deps.Items = &stubItemRepo{}
	}
	if deps.Clock == nil {
		deps.Clock = testClock
	}
	svc, err := NewCatalogService(deps)
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	return svc
}

func TestCreateProductBuildsFoldedKeywords(t *testing.T) {
	var inserted domain.Product

	svc := newTestCatalogService(t, CatalogServiceDeps{
		Products: &stubProductRepo{
			insertFn: func(_ context.Context, product domain.Product) error {
				inserted = product
				return nil
			},
		},
	})

	product, err := svc.CreateProduct(context.Background(), UpsertProductCommand{
		Name:        "Armário de Cozinha",
		Description: "Armário planejado",
		SKU:         "ARM-01",
		Price:       250000,
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	if !strings.HasPrefix(product.ID, "prd_") {
		t.Fatalf("expected prd_ prefix, got %q", product.ID)
	}
	if product.Status != domain.ProductStatusActive {
		t.Fatalf("expected default active status, got %q", product.Status)
	}

	want := []string{"armario", "de", "cozinha", "planejado", "arm-01"}
	if !reflect.DeepEqual(inserted.SearchKeywords, want) {
		t.Fatalf("expected folded keywords %v, got %v", want, inserted.SearchKeywords)
	}
}

func TestCreateProductValidation(t *testing.T) {
	weight := -10

	tests := []struct {
		name string
		cmd  UpsertProductCommand
	}{
		{name: "empty name", cmd: UpsertProductCommand{Price: 100}},
		{name: "negative price", cmd: UpsertProductCommand{Name: "Mesa", Price: -1}},
		{name: "negative stock", cmd: UpsertProductCommand{Name: "Mesa", StockQuantity: -2}},
		{name: "negative weight", cmd: UpsertProductCommand{Name: "Mesa", WeightGrams: &weight}},
		{name: "unknown status", cmd: UpsertProductCommand{Name: "Mesa", Status: domain.ProductStatus("limbo")}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestCatalogService(t, CatalogServiceDeps{})
			if _, err := svc.CreateProduct(context.Background(), tc.cmd); !errors.Is(err, ErrCatalogInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestCreateProductRejectsUnknownCategory(t *testing.T) {
	svc := newTestCatalogService(t, CatalogServiceDeps{
		Categories: &stubCategoryRepo{
			findFn: func(context.Context, string) (domain.Category, error) {
				return domain.Category{}, &repoError{msg: "missing", notFound: true}
			},
		},
	})

	_, err := svc.CreateProduct(context.Background(), UpsertProductCommand{
		Name:       "Mesa",
		Price:      100,
		CategoryID: strPtr("cat_missing"),
	})
	if !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestDeleteProductBlockedWhenReferenced(t *testing.T) {
	deleteCalled := false

	svc := newTestCatalogService(t, CatalogServiceDeps{
		Products: &stubProductRepo{
			findFn: func(context.Context, string) (domain.Product, error) {
				return domain.Product{ID: "prd_1"}, nil
			},
			deleteFn: func(context.Context, string) error {
				deleteCalled = true
				return nil
			},
		},
		Items: &stubItemRepo{
			existsFn: func(context.Context, string) (bool, error) {
				return true, nil
			},
		},
	})

	err := svc.DeleteProduct(context.Background(), "prd_1")
	if !errors.Is(err, ErrCatalogInUse) {
		t.Fatalf("expected in-use error, got %v", err)
	}
	if deleteCalled {
		t.Fatal("expected delete to be skipped")
	}
}

func TestDeleteCategoryBlockedWhenReferenced(t *testing.T) {
	svc := newTestCatalogService(t, CatalogServiceDeps{
		Categories: &stubCategoryRepo{
			findFn: func(context.Context, string) (domain.Category, error) {
				return domain.Category{ID: "cat_1"}, nil
			},
		},
		Products: &stubProductRepo{
			existsByCatFn: func(context.Context, string) (bool, error) {
				return true, nil
			},
		},
	})

	if err := svc.DeleteCategory(context.Background(), "cat_1"); !errors.Is(err, ErrCatalogInUse) {
		t.Fatalf("expected in-use error, got %v", err)
	}
}

func TestListProductsFoldsKeywordFilter(t *testing.T) {
	var gotFilter repositories.ProductListFilter

	svc := newTestCatalogService(t, CatalogServiceDeps{
		Products: &stubProductRepo{
			listFn: func(_ context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
				gotFilter = filter
				return domain.CursorPage[domain.Product]{}, nil
			},
		},
	})

	if _, err := svc.ListProducts(context.Background(), ProductListQuery{Keyword: "  Armário "}); err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if gotFilter.Keyword != "armario" {
		t.Fatalf("expected folded keyword, got %q", gotFilter.Keyword)
	}
}

func TestUploadProductImageUpdatesURL(t *testing.T) {
	var updated domain.Product

	svc := newTestCatalogService(t, CatalogServiceDeps{
		Products: &stubProductRepo{
			findFn: func(context.Context, string) (domain.Product, error) {
				return domain.Product{ID: "prd_1", Name: "Mesa"}, nil
			},
			updateFn: func(_ context.Context, product domain.Product) error {
				updated = product
				return nil
			},
		},
		Images: &stubImageStore{
			storeFn: func(_ context.Context, productID string, _ AttachmentUpload) (string, error) {
				return "https://cdn.example.com/products/" + productID + "/image.jpg", nil
			},
		},
	})

	product, err := svc.UploadProductImage(context.Background(), "prd_1", AttachmentUpload{
		FileName:    "image.jpg",
		ContentType: "image/jpeg",
		Data:        []byte("jpg"),
	})
	if err != nil {
		t.Fatalf("UploadProductImage: %v", err)
	}

	if product.ImageURL == nil || !strings.HasSuffix(*product.ImageURL, "image.jpg") {
		t.Fatalf("expected image url on result, got %v", product.ImageURL)
	}
	if updated.ImageURL == nil || *updated.ImageURL != *product.ImageURL {
		t.Fatalf("expected persisted image url, got %v", updated.ImageURL)
	}
}

func TestUpdateCategoryKeepsCreatedAt(t *testing.T) {
	created := testClock().Add(-48 * time.Hour)
	var saved domain.Category

	svc := newTestCatalogService(t, CatalogServiceDeps{
		Categories: &stubCategoryRepo{
			findFn: func(context.Context, string) (domain.Category, error) {
				return domain.Category{ID: "cat_1", Name: "Cozinha", Active: true, CreatedAt: created}, nil
			},
			updateFn: func(_ context.Context, category domain.Category) error {
				saved = category
				return nil
			},
		},
	})

	category, err := svc.UpdateCategory(context.Background(), UpsertCategoryCommand{
		CategoryID: "cat_1",
		Name:       "Cozinha Planejada",
		Active:     false,
	})
	if err != nil {
		t.Fatalf("UpdateCategory: %v", err)
	}

	if category.Name != "Cozinha Planejada" || category.Active {
		t.Fatalf("unexpected category %+v", category)
	}
	if !saved.CreatedAt.Equal(created) {
		t.Fatalf("expected creation time to be preserved, got %v", saved.CreatedAt)
	}
	if !saved.UpdatedAt.Equal(testClock()) {
		t.Fatalf("expected update time %v, got %v", testClock(), saved.UpdatedAt)
	}
}
