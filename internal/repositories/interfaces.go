package repositories

import (
	"context"
	"time"

	domain "github.com/fabrica-ops/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	OrderItems() OrderItemRepository
	Products() ProductRepository
	Categories() CategoryRepository
	Users() UserRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order headers and provides query helpers for staff roles.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	// UpdateFields applies a partial update. Fields mapped to a nil pointer
	// are cleared to null rather than left untouched.
	UpdateFields(ctx context.Context, orderID string, update OrderFieldUpdate) error
	// AppendAttachmentURLs atomically appends URLs to one of the order's
	// attachment lists without a read-modify-write cycle.
	AppendAttachmentURLs(ctx context.Context, orderID string, field AttachmentField, urls []string) error
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// ListByStatusSince streams order headers with the given status created at
	// or after the cutoff, ordered by creation time ascending. Items are
	// loaded for each order so revenue can be derived when the header total
	// is absent.
	ListByStatusSince(ctx context.Context, status domain.OrderStatus, since time.Time) ([]domain.Order, error)
	CountByStatus(ctx context.Context) (map[domain.OrderStatus]int, error)
}

// OrderItemRepository stores line items owned by an order document.
type OrderItemRepository interface {
	InsertAll(ctx context.Context, orderID string, items []domain.OrderItem) error
	List(ctx context.Context, orderID string) ([]domain.OrderItem, error)
	DeleteAll(ctx context.Context, orderID string) error
	// ExistsByProduct reports whether any order item, across all orders,
	// references the product.
	ExistsByProduct(ctx context.Context, productID string) (bool, error)
}

// AttachmentField names one of the order's attachment URL lists.
type AttachmentField string

const (
	// AttachmentFieldPaymentProofs targets the payment proof URL list.
	AttachmentFieldPaymentProofs AttachmentField = "paymentProofUrls"
	// AttachmentFieldFinalProductImages targets the finished product photo URL list.
	AttachmentFieldFinalProductImages AttachmentField = "finalProductImageUrls"
)

// OrderFieldUpdate carries the mutable customer metadata for partial order
// updates. A nil top-level pointer leaves the field untouched; for optional
// fields, a pointer to nil clears the stored value.
type OrderFieldUpdate struct {
	CustomerName          *string
	CustomerCPF           **string
	CustomerPhone         **string
	CustomerEmail         **string
	CustomerAddress       **string
	CustomerZip           **string
	CustomerCity          **string
	CustomerState         **string
	Priority              *int
	AssemblerID           **string
	Notes                 *string
	InternalNotes         *string
	EstimatedDeliveryDate **time.Time
	ActualDeliveryDate    **time.Time
	ShippingTrackingCode  **string
	Status                *domain.OrderStatus
	UpdatedAt             time.Time
}

// ProductRepository stores catalog products.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	Delete(ctx context.Context, productID string) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
	// ExistsByCategory reports whether any product references the category.
	ExistsByCategory(ctx context.Context, categoryID string) (bool, error)
	CountLowStock(ctx context.Context) (int, error)
}

// CategoryRepository stores catalog categories.
type CategoryRepository interface {
	Insert(ctx context.Context, category domain.Category) error
	Update(ctx context.Context, category domain.Category) error
	Delete(ctx context.Context, categoryID string) error
	FindByID(ctx context.Context, categoryID string) (domain.Category, error)
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Category], error)
}

// UserRepository stores user profiles keyed by Firebase UID.
type UserRepository interface {
	Insert(ctx context.Context, profile domain.UserProfile) error
	FindByID(ctx context.Context, userID string) (domain.UserProfile, error)
	UpdateProfile(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error)
	SetRole(ctx context.Context, userID string, role domain.Role, updatedAt time.Time) error
	SetActive(ctx context.Context, userID string, active bool, updatedAt time.Time) error
	RecordLogin(ctx context.Context, userID string, at time.Time) error
	List(ctx context.Context, filter UserListFilter) (domain.CursorPage[domain.UserProfile], error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	ConsultantID string
	AssemblerID  string
	Status       []domain.OrderStatus
	DateRange    domain.RangeQuery[time.Time]
	Pagination   domain.Pagination
}

type ProductListFilter struct {
	Status     []domain.ProductStatus
	CategoryID *string
	// Keyword matches against the product's folded search keywords.
	Keyword    string
	Pagination domain.Pagination
}

type UserListFilter struct {
	Role       *domain.Role
	ActiveOnly bool
	Pagination domain.Pagination
}
