package handlers

import (
	"context"
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
	defaultCatalogPageSize = 50
	maxCatalogPageSize     = 200
	maxCatalogBodySize     = 32 * 1024
	productImageField      = "image"
)

var validProductStatuses = map[domain.ProductStatus]struct{}{
	domain.ProductStatusActive:       {},
	domain.ProductStatusInactive:     {},
	domain.ProductStatusDiscontinued: {},
}

// CatalogHandlers exposes product and category management endpoints. Reads
// are open to all staff roles; mutations require the admin role.
type CatalogHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

// NewCatalogHandlers constructs a new CatalogHandlers instance.
func NewCatalogHandlers(authn *auth.Authenticator, catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{
		authn:   authn,
		catalog: catalog,
	}
}

// Routes registers the /catalog endpoints.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.StaffRoles...))
	}
	r.Get("/products", h.listProducts)
	r.Post("/products", h.createProduct)
	r.Get("/products/{productID}", h.getProduct)
	r.Patch("/products/{productID}", h.updateProduct)
	r.Delete("/products/{productID}", h.deleteProduct)
	r.Post("/products/{productID}/image", h.uploadProductImage)
	r.Get("/categories", h.listCategories)
	r.Post("/categories", h.createCategory)
	r.Patch("/categories/{categoryID}", h.updateCategory)
	r.Delete("/categories/{categoryID}", h.deleteCategory)
}

func requireAdmin(w http.ResponseWriter, r *http.Request) (services.Actor, bool) {
	actor, ok := requireActor(w, r)
	if !ok {
		return services.Actor{}, false
	}
	if !actor.IsAdmin() {
		httpx.WriteError(r.Context(), w, httpx.NewError("catalog_forbidden", "admin role required", http.StatusForbidden))
		return services.Actor{}, false
	}
	return actor, true
}

type productRequest struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	SKU           string  `json:"sku"`
	Price         int64   `json:"price"`
	CategoryID    *string `json:"category_id"`
	ImageURL      *string `json:"image_url"`
	Status        string  `json:"status"`
	StockQuantity int     `json:"stock_quantity"`
	MinStockLevel int     `json:"min_stock_level"`
	WeightGrams   *int    `json:"weight_grams"`
	Dimensions    *string `json:"dimensions"`
}

func (req productRequest) toCommand(productID, actorID string) (services.UpsertProductCommand, error) {
	status := domain.ProductStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if req.Status != "" {
		if _, ok := validProductStatuses[status]; !ok {
			return services.UpsertProductCommand{}, fmt.Errorf("status %q is not a valid product status", req.Status)
		}
	}
	return services.UpsertProductCommand{
		ProductID:     productID,
		ActorID:       actorID,
		Name:          req.Name,
		Description:   req.Description,
		SKU:           req.SKU,
		Price:         services.Money(req.Price),
		CategoryID:    req.CategoryID,
		ImageURL:      req.ImageURL,
		Status:        status,
		StockQuantity: req.StockQuantity,
		MinStockLevel: req.MinStockLevel,
		WeightGrams:   req.WeightGrams,
		Dimensions:    req.Dimensions,
	}, nil
}

func (h *CatalogHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}

	var req productRequest
	if err := decodeJSONBody(r, maxCatalogBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd, err := req.toCommand("", actor.UID)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	product, err := h.catalog.CreateProduct(ctx, cmd)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, productResponse{Product: buildProductPayload(product)})
}

func (h *CatalogHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	var req productRequest
	if err := decodeJSONBody(r, maxCatalogBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd, err := req.toCommand(productID, actor.UID)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	product, err := h.catalog.UpdateProduct(ctx, cmd)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireActor(w, r); !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *CatalogHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	if err := h.catalog.DeleteProduct(ctx, productID); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireActor(w, r); !ok {
		return
	}

	query := r.URL.Query()

	var statuses []domain.ProductStatus
	for _, value := range parseFilterValues(query["status"]) {
		status := domain.ProductStatus(value)
		if _, ok := validProductStatuses[status]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("status %q is not a valid product status", value), http.StatusBadRequest))
			return
		}
		statuses = append(statuses, status)
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultCatalogPageSize,
		MaxPageSize:     maxCatalogPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	listQuery := services.ProductListQuery{
		Status:  statuses,
		Keyword: query.Get("q"),
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	}
	if raw := strings.TrimSpace(query.Get("category_id")); raw != "" {
		listQuery.CategoryID = &raw
	}

	page, err := h.catalog.ListProducts(ctx, listQuery)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		items = append(items, buildProductPayload(product))
	}

	writeJSONResponse(w, http.StatusOK, productListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *CatalogHandlers) uploadProductImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	if err := r.ParseMultipartForm(maxAttachmentMemory); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request must be multipart/form-data", http.StatusBadRequest))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	uploads, err := collectUploads(r.MultipartForm, productImageField)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	if len(uploads) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "an image file is required", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.UploadProductImage(ctx, productID, uploads[0])
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

type categoryRequest struct {
	Name   string `json:"name"`
	Active *bool  `json:"active"`
}

func (h *CatalogHandlers) createCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}

	var req categoryRequest
	if err := decodeJSONBody(r, maxCatalogBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	category, err := h.catalog.CreateCategory(ctx, services.UpsertCategoryCommand{
		ActorID: actor.UID,
		Name:    req.Name,
		Active:  active,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, categoryResponse{Category: buildCategoryPayload(category)})
}

func (h *CatalogHandlers) updateCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}

	categoryID := strings.TrimSpace(chi.URLParam(r, "categoryID"))
	if categoryID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "category id is required", http.StatusBadRequest))
		return
	}

	var req categoryRequest
	if err := decodeJSONBody(r, maxCatalogBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	category, err := h.catalog.UpdateCategory(ctx, services.UpsertCategoryCommand{
		CategoryID: categoryID,
		ActorID:    actor.UID,
		Name:       req.Name,
		Active:     active,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, categoryResponse{Category: buildCategoryPayload(category)})
}

func (h *CatalogHandlers) deleteCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	categoryID := strings.TrimSpace(chi.URLParam(r, "categoryID"))
	if categoryID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "category id is required", http.StatusBadRequest))
		return
	}

	if err := h.catalog.DeleteCategory(ctx, categoryID); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CatalogHandlers) listCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireActor(w, r); !ok {
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultCatalogPageSize,
		MaxPageSize:     maxCatalogPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.catalog.ListCategories(ctx, services.Pagination{
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]categoryPayload, 0, len(page.Items))
	for _, category := range page.Items {
		items = append(items, buildCategoryPayload(category))
	}

	writeJSONResponse(w, http.StatusOK, categoryListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

type productListResponse struct {
	Items         []productPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productPayload struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	SKU           string  `json:"sku,omitempty"`
	Price         int64   `json:"price"`
	CategoryID    *string `json:"category_id,omitempty"`
	ImageURL      *string `json:"image_url,omitempty"`
	Status        string  `json:"status"`
	StockQuantity int     `json:"stock_quantity"`
	MinStockLevel int     `json:"min_stock_level"`
	LowStock      bool    `json:"low_stock"`
	WeightGrams   *int    `json:"weight_grams,omitempty"`
	Dimensions    *string `json:"dimensions,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at,omitempty"`
}

type categoryListResponse struct {
	Items         []categoryPayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type categoryResponse struct {
	Category categoryPayload `json:"category"`
}

type categoryPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func buildProductPayload(product services.Product) productPayload {
	return productPayload{
		ID:            strings.TrimSpace(product.ID),
		Name:          product.Name,
		Description:   product.Description,
		SKU:           product.SKU,
		Price:         int64(product.Price),
		CategoryID:    product.CategoryID,
		ImageURL:      product.ImageURL,
		Status:        string(product.Status),
		StockQuantity: product.StockQuantity,
		MinStockLevel: product.MinStockLevel,
		LowStock:      product.LowStock(),
		WeightGrams:   product.WeightGrams,
		Dimensions:    product.Dimensions,
		CreatedAt:     formatTime(product.CreatedAt),
		UpdatedAt:     formatTime(product.UpdatedAt),
	}
}

func buildCategoryPayload(category services.Category) categoryPayload {
	return categoryPayload{
		ID:        strings.TrimSpace(category.ID),
		Name:      category.Name,
		Active:    category.Active,
		CreatedAt: formatTime(category.CreatedAt),
		UpdatedAt: formatTime(category.UpdatedAt),
	}
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_not_found", "catalog entry not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogInUse):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_in_use", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCatalogConflict):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to process catalog request", http.StatusInternalServerError))
	}
}
