package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// Money is a monetary amount in centavos (BRL smallest unit).
type Money int64

// Role enumerates the authorization roles assignable to a user profile.
// A user holds exactly one role; there is no hierarchy between them.
type Role string

const (
	// RoleAdmin grants full access including catalog and user administration.
	RoleAdmin Role = "admin"
	// RoleConsultant covers sales staff creating and managing their own orders.
	RoleConsultant Role = "consultant"
	// RoleAssembler covers production staff working on approved orders.
	RoleAssembler Role = "assembler"
)

// Valid reports whether the role is one of the defined enumeration values.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleConsultant, RoleAssembler:
		return true
	}
	return false
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits review.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusApproved indicates the order has been approved and assembly can begin.
	OrderStatusApproved OrderStatus = "approved"
	// OrderStatusSent indicates the order has been shipped to the customer.
	OrderStatusSent OrderStatus = "sent"
	// OrderStatusCanceled indicates the order has been canceled.
	OrderStatusCanceled OrderStatus = "canceled"
)

// Valid reports whether the status is one of the defined enumeration values.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusApproved, OrderStatusSent, OrderStatusCanceled:
		return true
	}
	return false
}

// Order captures an order header returned to handlers/services. Customer
// fields other than the name are optional and stored as nil when absent.
type Order struct {
	ID                    string
	CustomerName          string
	CustomerCPF           *string
	CustomerPhone         *string
	CustomerEmail         *string
	CustomerAddress       *string
	CustomerZip           *string
	CustomerCity          *string
	CustomerState         *string
	Status                OrderStatus
	TotalAmount           *Money
	Priority              int
	ConsultantID          string
	AssemblerID           *string
	Notes                 string
	InternalNotes         string
	PaymentProofURLs      []string
	FinalProductImageURLs []string
	EstimatedDeliveryDate *time.Time
	ActualDeliveryDate    *time.Time
	ShippingTrackingCode  *string
	Items                 []OrderItem
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// EffectiveTotal returns the explicit total when set, otherwise the sum of
// the line totals.
func (o Order) EffectiveTotal() Money {
	if o.TotalAmount != nil {
		return *o.TotalAmount
	}
	var total Money
	for _, item := range o.Items {
		total += item.LineTotal()
	}
	return total
}

// OrderItem is one product line within an order. ProductID is nil when the
// referenced product has since been deleted; ProductName keeps the snapshot
// taken at order time.
type OrderItem struct {
	ID          string
	ProductID   *string
	ProductName string
	Quantity    int
	UnitPrice   Money
	TotalPrice  *Money
	Notes       string
	CreatedAt   time.Time
}

// LineTotal returns the explicit override when present, otherwise
// unit price times quantity.
func (i OrderItem) LineTotal() Money {
	if i.TotalPrice != nil {
		return *i.TotalPrice
	}
	return i.UnitPrice * Money(i.Quantity)
}

// ProductStatus enumerates catalog availability states for products.
type ProductStatus string

const (
	// ProductStatusActive indicates the product is available for new orders.
	ProductStatusActive ProductStatus = "active"
	// ProductStatusInactive indicates the product is temporarily unavailable.
	ProductStatusInactive ProductStatus = "inactive"
	// ProductStatusDiscontinued indicates the product will not be restocked.
	ProductStatusDiscontinued ProductStatus = "discontinued"
)

// Valid reports whether the status is one of the defined enumeration values.
func (s ProductStatus) Valid() bool {
	switch s {
	case ProductStatusActive, ProductStatusInactive, ProductStatusDiscontinued:
		return true
	}
	return false
}

// Product is a catalog entry referenced by order items.
type Product struct {
	ID             string
	Name           string
	Description    string
	SKU            string
	Price          Money
	CategoryID     *string
	ImageURL       *string
	Status         ProductStatus
	StockQuantity  int
	MinStockLevel  int
	WeightGrams    *int
	Dimensions     *string
	SearchKeywords []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LowStock reports whether the stock level has fallen to or below the
// configured minimum.
func (p Product) LowStock() bool {
	return p.MinStockLevel > 0 && p.StockQuantity <= p.MinStockLevel
}

// Category groups catalog products.
type Category struct {
	ID        string
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserProfile captures the canonical projection of a Firebase Auth user.
// The profile ID equals the Firebase UID.
type UserProfile struct {
	ID          string
	FullName    string
	Email       string
	Phone       *string
	Role        Role
	AvatarURL   *string
	Active      bool
	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PeriodGranularity selects the bucket width for period reports.
type PeriodGranularity string

const (
	// GranularityDay buckets orders by calendar day.
	GranularityDay PeriodGranularity = "day"
	// GranularityMonth buckets orders by calendar month.
	GranularityMonth PeriodGranularity = "month"
)

// Valid reports whether the granularity is one of the defined values.
func (g PeriodGranularity) Valid() bool {
	return g == GranularityDay || g == GranularityMonth
}

// PeriodBucket is one row of the period report: orders counted and revenue
// summed over a single day or month.
type PeriodBucket struct {
	Period  time.Time
	Count   int
	Revenue Money
}

// DashboardStats aggregates headline numbers for the dashboard page.
type DashboardStats struct {
	TotalOrders    int
	OrdersByStatus map[OrderStatus]int
	Revenue        Money
	LowStockCount  int
	GeneratedAt    time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
