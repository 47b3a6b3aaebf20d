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

const ordersCollection = "orders"

// OrderRepository persists order headers. Line items live in a subcollection
// managed by OrderItemRepository; read paths that need them delegate there.
type OrderRepository struct {
	base  *pfirestore.BaseRepository[orderDocument]
	items *OrderItemRepository
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider, items *OrderItemRepository) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	if items == nil {
		return nil, errors.New("order repository: item repository is required")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{base: base, items: items}, nil
}

// Insert stores a new order header. The ID must be unique.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the persisted order header with the provided snapshot.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := docRef.Set(ctx, encodeOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// UpdateFields applies a partial update. Optional fields carry two levels of
// pointers: a nil outer pointer leaves the stored value untouched, an outer
// pointer to nil writes an explicit null.
func (r *OrderRepository) UpdateFields(ctx context.Context, orderID string, update repositories.OrderFieldUpdate) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	updates := buildOrderUpdates(update)
	if len(updates) == 0 {
		return nil
	}
	if _, err := r.base.Update(ctx, orderID, updates); err != nil {
		return err
	}
	return nil
}

// AppendAttachmentURLs appends URLs to one of the order's attachment lists
// using an array union so concurrent uploads never drop each other's entries.
func (r *OrderRepository) AppendAttachmentURLs(ctx context.Context, orderID string, field repositories.AttachmentField, urls []string) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	switch field {
	case repositories.AttachmentFieldPaymentProofs, repositories.AttachmentFieldFinalProductImages:
	default:
		return fmt.Errorf("order repository: unknown attachment field %q", field)
	}
	if len(urls) == 0 {
		return nil
	}

	values := make([]any, 0, len(urls))
	for _, url := range urls {
		trimmed := strings.TrimSpace(url)
		if trimmed == "" {
			continue
		}
		values = append(values, trimmed)
	}
	if len(values) == 0 {
		return nil
	}

	updates := []firestore.Update{
		{Path: string(field), Value: firestore.ArrayUnion(values...)},
		{Path: "updatedAt", Value: time.Now().UTC()},
	}
	if _, err := r.base.Update(ctx, orderID, updates); err != nil {
		return err
	}
	return nil
}

// Delete removes the order header document. Line items must be deleted first
// so no orphaned subcollection documents remain.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx); err != nil {
		return pfirestore.WrapError("orders.delete", err)
	}
	return nil
}

// FindByID fetches a single order including its line items.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	order := decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime)
	items, err := r.items.List(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

// List returns order headers matching the filter ordered by most recent
// creation. Line items are not loaded on the list path.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
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
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
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

	consultantID := strings.TrimSpace(filter.ConsultantID)
	assemblerID := strings.TrimSpace(filter.AssemblerID)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if consultantID != "" {
			q = q.Where("consultantId", "==", consultantID)
		}
		if assemblerID != "" {
			q = q.Where("assemblerId", "==", assemblerID)
		}
		if len(statusFilters) == 1 {
			q = q.Where("status", "==", statusFilters[0])
		} else if len(statusFilters) > 1 {
			// Firestore in clause supports up to 10 values.
			if len(statusFilters) > 10 {
				statusFilters = statusFilters[:10]
			}
			q = q.Where("status", "in", statusFilters)
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
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
		return domain.CursorPage[domain.Order]{}, err
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

	items := make([]domain.Order, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// ListByStatusSince streams orders with the given status created at or after
// the cutoff, oldest first. Line items are loaded so revenue can be derived
// when the header total is absent.
func (r *OrderRepository) ListByStatusSince(ctx context.Context, status domain.OrderStatus, since time.Time) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("status", "==", string(status))
		if !since.IsZero() {
			q = q.Where("createdAt", ">=", since.UTC())
		}
		return q.OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order := decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime)
		if order.TotalAmount == nil {
			items, err := r.items.List(ctx, doc.ID)
			if err != nil {
				return nil, err
			}
			order.Items = items
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// CountByStatus tallies order headers per lifecycle status using a status-only
// projection so no document payloads are transferred.
func (r *OrderRepository) CountByStatus(ctx context.Context) (map[domain.OrderStatus]int, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Select("status")
	})
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.OrderStatus]int)
	for _, doc := range docs {
		status := domain.OrderStatus(strings.TrimSpace(doc.Data.Status))
		if !status.Valid() {
			continue
		}
		counts[status]++
	}
	return counts, nil
}

// Optional customer fields deliberately omit omitempty so absent values are
// stored as explicit nulls.
type orderDocument struct {
	CustomerName          string     `firestore:"customerName"`
	CustomerCPF           *string    `firestore:"customerCpf"`
	CustomerPhone         *string    `firestore:"customerPhone"`
	CustomerEmail         *string    `firestore:"customerEmail"`
	CustomerAddress       *string    `firestore:"customerAddress"`
	CustomerZip           *string    `firestore:"customerZip"`
	CustomerCity          *string    `firestore:"customerCity"`
	CustomerState         *string    `firestore:"customerState"`
	Status                string     `firestore:"status"`
	TotalAmount           *int64     `firestore:"totalAmount"`
	Priority              int        `firestore:"priority"`
	ConsultantID          string     `firestore:"consultantId"`
	AssemblerID           *string    `firestore:"assemblerId"`
	Notes                 string     `firestore:"notes"`
	InternalNotes         string     `firestore:"internalNotes"`
	PaymentProofURLs      []string   `firestore:"paymentProofUrls"`
	FinalProductImageURLs []string   `firestore:"finalProductImageUrls"`
	EstimatedDeliveryDate *time.Time `firestore:"estimatedDeliveryDate"`
	ActualDeliveryDate    *time.Time `firestore:"actualDeliveryDate"`
	ShippingTrackingCode  *string    `firestore:"shippingTrackingCode"`
	CreatedAt             time.Time  `firestore:"createdAt"`
	UpdatedAt             time.Time  `firestore:"updatedAt"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		CustomerName:          strings.TrimSpace(order.CustomerName),
		CustomerCPF:           trimPointer(order.CustomerCPF),
		CustomerPhone:         trimPointer(order.CustomerPhone),
		CustomerEmail:         trimPointer(order.CustomerEmail),
		CustomerAddress:       trimPointer(order.CustomerAddress),
		CustomerZip:           trimPointer(order.CustomerZip),
		CustomerCity:          trimPointer(order.CustomerCity),
		CustomerState:         trimPointer(order.CustomerState),
		Status:                string(order.Status),
		Priority:              order.Priority,
		ConsultantID:          strings.TrimSpace(order.ConsultantID),
		AssemblerID:           trimPointer(order.AssemblerID),
		Notes:                 strings.TrimSpace(order.Notes),
		InternalNotes:         strings.TrimSpace(order.InternalNotes),
		PaymentProofURLs:      cloneStrings(order.PaymentProofURLs),
		FinalProductImageURLs: cloneStrings(order.FinalProductImageURLs),
		EstimatedDeliveryDate: normalizeTimePointer(order.EstimatedDeliveryDate),
		ActualDeliveryDate:    normalizeTimePointer(order.ActualDeliveryDate),
		ShippingTrackingCode:  trimPointer(order.ShippingTrackingCode),
		CreatedAt:             order.CreatedAt.UTC(),
		UpdatedAt:             order.UpdatedAt.UTC(),
	}
	if order.TotalAmount != nil {
		total := int64(*order.TotalAmount)
		doc.TotalAmount = &total
	}
	return doc
}

func decodeOrderDocument(id string, doc orderDocument, createdAt, updatedAt time.Time) domain.Order {
	order := domain.Order{
		ID:                    strings.TrimSpace(id),
		CustomerName:          strings.TrimSpace(doc.CustomerName),
		CustomerCPF:           trimPointer(doc.CustomerCPF),
		CustomerPhone:         trimPointer(doc.CustomerPhone),
		CustomerEmail:         trimPointer(doc.CustomerEmail),
		CustomerAddress:       trimPointer(doc.CustomerAddress),
		CustomerZip:           trimPointer(doc.CustomerZip),
		CustomerCity:          trimPointer(doc.CustomerCity),
		CustomerState:         trimPointer(doc.CustomerState),
		Status:                domain.OrderStatus(strings.TrimSpace(doc.Status)),
		Priority:              doc.Priority,
		ConsultantID:          strings.TrimSpace(doc.ConsultantID),
		AssemblerID:           trimPointer(doc.AssemblerID),
		Notes:                 strings.TrimSpace(doc.Notes),
		InternalNotes:         strings.TrimSpace(doc.InternalNotes),
		PaymentProofURLs:      cloneStrings(doc.PaymentProofURLs),
		FinalProductImageURLs: cloneStrings(doc.FinalProductImageURLs),
		EstimatedDeliveryDate: normalizeTimePointer(doc.EstimatedDeliveryDate),
		ActualDeliveryDate:    normalizeTimePointer(doc.ActualDeliveryDate),
		ShippingTrackingCode:  trimPointer(doc.ShippingTrackingCode),
		CreatedAt:             chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:             chooseTime(doc.UpdatedAt, updatedAt),
	}
	if doc.TotalAmount != nil {
		total := domain.Money(*doc.TotalAmount)
		order.TotalAmount = &total
	}
	return order
}

func buildOrderUpdates(update repositories.OrderFieldUpdate) []firestore.Update {
	var updates []firestore.Update

	if update.CustomerName != nil {
		updates = append(updates, firestore.Update{Path: "customerName", Value: strings.TrimSpace(*update.CustomerName)})
	}
	appendOptionalString := func(path string, value **string) {
		if value == nil {
			return
		}
		updates = append(updates, firestore.Update{Path: path, Value: optionalStringValue(*value)})
	}
	appendOptionalString("customerCpf", update.CustomerCPF)
	appendOptionalString("customerPhone", update.CustomerPhone)
	appendOptionalString("customerEmail", update.CustomerEmail)
	appendOptionalString("customerAddress", update.CustomerAddress)
	appendOptionalString("customerZip", update.CustomerZip)
	appendOptionalString("customerCity", update.CustomerCity)
	appendOptionalString("customerState", update.CustomerState)
	appendOptionalString("shippingTrackingCode", update.ShippingTrackingCode)
	appendOptionalString("assemblerId", update.AssemblerID)

	if update.Priority != nil {
		updates = append(updates, firestore.Update{Path: "priority", Value: *update.Priority})
	}
	if update.Notes != nil {
		updates = append(updates, firestore.Update{Path: "notes", Value: strings.TrimSpace(*update.Notes)})
	}
	if update.InternalNotes != nil {
		updates = append(updates, firestore.Update{Path: "internalNotes", Value: strings.TrimSpace(*update.InternalNotes)})
	}
	if update.EstimatedDeliveryDate != nil {
		updates = append(updates, firestore.Update{Path: "estimatedDeliveryDate", Value: optionalTimeValue(*update.EstimatedDeliveryDate)})
	}
	if update.ActualDeliveryDate != nil {
		updates = append(updates, firestore.Update{Path: "actualDeliveryDate", Value: optionalTimeValue(*update.ActualDeliveryDate)})
	}
	if update.Status != nil {
		updates = append(updates, firestore.Update{Path: "status", Value: string(*update.Status)})
	}

	if len(updates) == 0 {
		return nil
	}
	updatedAt := update.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	updates = append(updates, firestore.Update{Path: "updatedAt", Value: updatedAt.UTC()})
	return updates
}

func optionalStringValue(value *string) any {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return trimmed
}

func optionalTimeValue(value *time.Time) any {
	if value == nil || value.IsZero() {
		return nil
	}
	return value.UTC()
}
