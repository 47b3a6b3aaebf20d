package services

import (
	"context"
	"time"

	domain "github.com/fabrica-ops/api/internal/domain"
	"github.com/fabrica-ops/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination     = domain.Pagination
	Money          = domain.Money
	Role           = domain.Role
	Order          = domain.Order
	OrderItem      = domain.OrderItem
	OrderStatus    = domain.OrderStatus
	Product        = domain.Product
	ProductStatus  = domain.ProductStatus
	Category       = domain.Category
	UserProfile    = domain.UserProfile
	PeriodBucket   = domain.PeriodBucket
	DashboardStats = domain.DashboardStats

	SystemHealthReport = domain.SystemHealthReport
)

// Actor identifies the authenticated caller for authorization decisions.
type Actor struct {
	UID  string
	Role Role
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool { return a.Role == domain.RoleAdmin }

// OrderService encapsulates the order lifecycle: creation with line items,
// detail updates, status transitions, attachment linking, and deletion.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	ListOrders(ctx context.Context, query OrderListQuery) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error)
	UpdateOrderDetails(ctx context.Context, cmd UpdateOrderCommand) (Order, error)
	UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	AttachImages(ctx context.Context, cmd AttachImagesCommand) (AttachImagesResult, error)
	DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) error
}

// CatalogService manages products and categories for admin-facing operations.
type CatalogService interface {
	CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	DeleteProduct(ctx context.Context, productID string) error
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListProducts(ctx context.Context, query ProductListQuery) (domain.CursorPage[Product], error)
	// UploadProductImage stores the image in the product media bucket and
	// updates the product's image URL.
	UploadProductImage(ctx context.Context, productID string, upload AttachmentUpload) (Product, error)

	CreateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error)
	UpdateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error)
	DeleteCategory(ctx context.Context, categoryID string) error
	ListCategories(ctx context.Context, pager Pagination) (domain.CursorPage[Category], error)
}

// UserService manages user profiles and their authorization roles.
type UserService interface {
	RegisterUser(ctx context.Context, cmd RegisterUserCommand) (UserProfile, error)
	GetProfile(ctx context.Context, userID string) (UserProfile, error)
	UpdateProfile(ctx context.Context, cmd UpdateUserProfileCommand) (UserProfile, error)
	SetUserRole(ctx context.Context, cmd SetUserRoleCommand) (UserProfile, error)
	SetUserActive(ctx context.Context, cmd SetUserActiveCommand) (UserProfile, error)
	RecordLogin(ctx context.Context, userID string, at time.Time) error
	ListUsers(ctx context.Context, query UserListQuery) (domain.CursorPage[UserProfile], error)
	// ResolveRole returns the stored role for the UID. It reads the profile
	// store on every call so role changes take effect on the next request.
	ResolveRole(ctx context.Context, userID string) (string, error)
}

// ReportService aggregates orders for the dashboard and period reports.
type ReportService interface {
	PeriodBuckets(ctx context.Context, query PeriodReportQuery) ([]PeriodBucket, error)
	Dashboard(ctx context.Context) (DashboardStats, error)
}

// SystemService aggregates utility endpoints such as health checks.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, message OrderEventMessage) (string, error)
}

// OrderEventMessage captures metadata for emitted order domain events.
type OrderEventMessage struct {
	EventType      string    `json:"eventType"`
	OrderID        string    `json:"orderId"`
	Status         string    `json:"status,omitempty"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	ActorID        string    `json:"actorId,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// Command and DTO definitions ------------------------------------------------

// CreateOrderItemInput describes one requested line item. When ProductID is
// set the product's name and price are snapshotted at creation time; explicit
// values override the snapshot.
type CreateOrderItemInput struct {
	ProductID   *string
	ProductName string
	Quantity    int
	UnitPrice   *Money
	TotalPrice  *Money
	Notes       string
}

type CreateOrderCommand struct {
	Actor                 Actor
	CustomerName          string
	CustomerCPF           *string
	CustomerPhone         *string
	CustomerEmail         *string
	CustomerAddress       *string
	CustomerZip           *string
	CustomerCity          *string
	CustomerState         *string
	Priority              int
	AssemblerID           *string
	Notes                 string
	InternalNotes         string
	TotalAmount           *Money
	EstimatedDeliveryDate *time.Time
	Items                 []CreateOrderItemInput
}

// UpdateOrderCommand carries a partial update. A nil outer pointer leaves the
// field untouched; for optional fields an outer pointer to nil clears the
// stored value.
type UpdateOrderCommand struct {
	OrderID               string
	Actor                 Actor
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
	ShippingTrackingCode  **string
}

type UpdateOrderStatusCommand struct {
	OrderID string
	Actor   Actor
	Target  OrderStatus
}

type DeleteOrderCommand struct {
	OrderID string
	Actor   Actor
}

type OrderListQuery struct {
	Actor      Actor
	Status     []OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}

// AttachmentDestination selects which of the order's attachment lists an
// upload lands in.
type AttachmentDestination string

const (
	// DestinationPaymentProof stores uploads with payment proof documents.
	DestinationPaymentProof AttachmentDestination = "payment-proof"
	// DestinationFinalProduct stores uploads with finished product photos.
	DestinationFinalProduct AttachmentDestination = "final-product"
)

// AttachmentUpload is one file received from a multipart request. The handler
// buffers the body so the service can reject empty files before any storage
// write happens.
type AttachmentUpload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// AttachImagesCommand carries both attachment batches for one order. Either
// batch may be empty; the command is invalid only when both are empty after
// zero-byte filtering.
type AttachImagesCommand struct {
	OrderID            string
	Actor              Actor
	PaymentProofs      []AttachmentUpload
	FinalProductPhotos []AttachmentUpload
}

// AttachImagesResult reports the stored object URLs per destination in
// upload order.
type AttachImagesResult struct {
	PaymentProofURLs      []string
	FinalProductImageURLs []string
}

type UpsertProductCommand struct {
	ProductID     string
	ActorID       string
	Name          string
	Description   string
	SKU           string
	Price         Money
	CategoryID    *string
	ImageURL      *string
	Status        ProductStatus
	StockQuantity int
	MinStockLevel int
	WeightGrams   *int
	Dimensions    *string
}

type ProductListQuery struct {
	Status     []ProductStatus
	CategoryID *string
	Keyword    string
	Pagination Pagination
}

type UpsertCategoryCommand struct {
	CategoryID string
	ActorID    string
	Name       string
	Active     bool
}

type RegisterUserCommand struct {
	UID      string
	FullName string
	Email    string
	Phone    *string
	Role     Role
	ActorID  string
}

type UpdateUserProfileCommand struct {
	UserID    string
	ActorID   string
	FullName  *string
	Phone     **string
	AvatarURL **string
}

type SetUserRoleCommand struct {
	UserID  string
	Role    Role
	ActorID string
}

type SetUserActiveCommand struct {
	UserID  string
	Active  bool
	ActorID string
}

type UserListQuery struct {
	Role       *Role
	ActiveOnly bool
	Pagination Pagination
}

type PeriodReportQuery struct {
	Granularity domain.PeriodGranularity
	From        time.Time
	To          time.Time
}

// Repository filter aliases shared with handlers.
type OrderListFilter = repositories.OrderListFilter
