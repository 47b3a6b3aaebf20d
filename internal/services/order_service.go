package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	domain "github.com/fabrica-ops/api/internal/domain"
	"github.com/fabrica-ops/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status_changed"
	orderEventDeleted       = "order.deleted"

	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "itm_"

	// Shown in place of the product name when the referenced catalog entry
	// no longer exists at order time.
	missingProductName = "Produto não encontrado"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the actor may not see or mutate the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderConflict indicates duplicate IDs or concurrent modification.
	ErrOrderConflict = errors.New("order: conflict")
)

// canTransition reports whether an order may move between the two statuses.
// Every transition between valid statuses is currently allowed, including
// cancellation from any state; future restrictions only need to change this
// function.
func canTransition(from, to domain.OrderStatus) bool {
	return from.Valid() && to.Valid()
}

// textPolicy strips all markup from free-text inputs before persistence.
var textPolicy = bluemonday.StrictPolicy()

// AttachmentStore persists a single uploaded file and returns its public URL.
type AttachmentStore interface {
	Store(ctx context.Context, dest AttachmentDestination, orderID string, upload AttachmentUpload) (string, error)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Items       repositories.OrderItemRepository
	Products    repositories.ProductRepository
	Attachments AttachmentStore
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders      repositories.OrderRepository
	items       repositories.OrderItemRepository
	products    repositories.ProductRepository
	attachments AttachmentStore
	unitOfWork  repositories.UnitOfWork
	clock       func() time.Time
	newID       func() string
	events      OrderEventPublisher
	logger      func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Items == nil {
		return nil, errors.New("order service: order item repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
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

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:      deps.Orders,
		items:       deps.Items,
		products:    deps.Products,
		attachments: deps.Attachments,
		unitOfWork:  unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if err := authorizeStaff(cmd.Actor); err != nil {
		return Order{}, err
	}
	customerName := sanitizeText(cmd.CustomerName)
	if customerName == "" {
		return Order{}, fmt.Errorf("%w: customer name is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	if cmd.Priority < 0 {
		return Order{}, fmt.Errorf("%w: priority must not be negative", ErrOrderInvalidInput)
	}

	now := s.now()

	order := Order{
		ID:                    orderIDPrefix + s.newID(),
		CustomerName:          customerName,
		CustomerCPF:           sanitizeOptional(cmd.CustomerCPF),
		CustomerPhone:         sanitizeOptional(cmd.CustomerPhone),
		CustomerEmail:         sanitizeOptional(cmd.CustomerEmail),
		CustomerAddress:       sanitizeOptional(cmd.CustomerAddress),
		CustomerZip:           sanitizeOptional(cmd.CustomerZip),
		CustomerCity:          sanitizeOptional(cmd.CustomerCity),
		CustomerState:         sanitizeOptional(cmd.CustomerState),
		Status:                domain.OrderStatusPending,
		TotalAmount:           cmd.TotalAmount,
		Priority:              cmd.Priority,
		ConsultantID:          strings.TrimSpace(cmd.Actor.UID),
		AssemblerID:           sanitizeOptional(cmd.AssemblerID),
		Notes:                 sanitizeText(cmd.Notes),
		InternalNotes:         sanitizeText(cmd.InternalNotes),
		EstimatedDeliveryDate: cmd.EstimatedDeliveryDate,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	items, err := s.buildOrderItems(ctx, cmd.Items, now)
	if err != nil {
		return Order{}, err
	}
	order.Items = items

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	// Items are written after the header. When that fails the header is
	// removed again so no empty order remains visible; a failed removal is
	// logged and left for reconciliation.
	if err := s.items.InsertAll(ctx, order.ID, items); err != nil {
		if delErr := s.orders.Delete(ctx, order.ID); delErr != nil {
			s.logger(ctx, "order.create.compensation.failed", map[string]any{
				"order": order.ID,
				"error": delErr.Error(),
			})
		}
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEventMessage{
		EventType:  orderEventCreated,
		OrderID:    order.ID,
		Status:     string(order.Status),
		ActorID:    cmd.Actor.UID,
		OccurredAt: now,
	})

	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, query OrderListQuery) (domain.CursorPage[Order], error) {
	if err := authorizeStaff(query.Actor); err != nil {
		return domain.CursorPage[Order]{}, err
	}

	filter := repositories.OrderListFilter{
		Status:     query.Status,
		DateRange:  query.DateRange,
		Pagination: query.Pagination,
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error) {
	if err := authorizeStaff(actor); err != nil {
		return Order{}, err
	}

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) UpdateOrderDetails(ctx context.Context, cmd UpdateOrderCommand) (Order, error) {
	if err := authorizeStaff(cmd.Actor); err != nil {
		return Order{}, err
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	if _, err := s.orders.FindByID(ctx, orderID); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if cmd.CustomerName != nil && sanitizeText(*cmd.CustomerName) == "" {
		return Order{}, fmt.Errorf("%w: customer name must not be empty", ErrOrderInvalidInput)
	}
	if cmd.Priority != nil && *cmd.Priority < 0 {
		return Order{}, fmt.Errorf("%w: priority must not be negative", ErrOrderInvalidInput)
	}

	now := s.now()
	update := repositories.OrderFieldUpdate{
		CustomerName:          sanitizedPtr(cmd.CustomerName),
		CustomerCPF:           sanitizeDoublePtr(cmd.CustomerCPF),
		CustomerPhone:         sanitizeDoublePtr(cmd.CustomerPhone),
		CustomerEmail:         sanitizeDoublePtr(cmd.CustomerEmail),
		CustomerAddress:       sanitizeDoublePtr(cmd.CustomerAddress),
		CustomerZip:           sanitizeDoublePtr(cmd.CustomerZip),
		CustomerCity:          sanitizeDoublePtr(cmd.CustomerCity),
		CustomerState:         sanitizeDoublePtr(cmd.CustomerState),
		Priority:              cmd.Priority,
		AssemblerID:           sanitizeDoublePtr(cmd.AssemblerID),
		Notes:                 sanitizedPtr(cmd.Notes),
		InternalNotes:         sanitizedPtr(cmd.InternalNotes),
		EstimatedDeliveryDate: cmd.EstimatedDeliveryDate,
		ShippingTrackingCode:  sanitizeDoublePtr(cmd.ShippingTrackingCode),
		UpdatedAt:             now,
	}

	if err := s.orders.UpdateFields(ctx, orderID, update); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	saved, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return saved, nil
}

func (s *orderService) UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	if err := authorizeStaff(cmd.Actor); err != nil {
		return Order{}, err
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !cmd.Target.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Target)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if order.Status == cmd.Target {
		return order, nil
	}
	if !canTransition(order.Status, cmd.Target) {
		return Order{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidInput, order.Status, cmd.Target)
	}

	now := s.now()
	prev := order.Status
	update := repositories.OrderFieldUpdate{
		Status:    &cmd.Target,
		UpdatedAt: now,
	}
	if cmd.Target == domain.OrderStatusSent && order.ActualDeliveryDate == nil {
		delivered := &now
		update.ActualDeliveryDate = &delivered
	}

	if err := s.orders.UpdateFields(ctx, orderID, update); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	order.Status = cmd.Target
	order.UpdatedAt = now
	if update.ActualDeliveryDate != nil {
		order.ActualDeliveryDate = *update.ActualDeliveryDate
	}

	s.publishEvent(ctx, OrderEventMessage{
		EventType:      orderEventStatusChanged,
		OrderID:        order.ID,
		Status:         string(cmd.Target),
		PreviousStatus: string(prev),
		ActorID:        cmd.Actor.UID,
		OccurredAt:     now,
	})

	return order, nil
}

func (s *orderService) AttachImages(ctx context.Context, cmd AttachImagesCommand) (AttachImagesResult, error) {
	if err := authorizeStaff(cmd.Actor); err != nil {
		return AttachImagesResult{}, err
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return AttachImagesResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if s.attachments == nil {
		return AttachImagesResult{}, errors.New("order service: attachment store not configured")
	}

	proofs := filterEmptyUploads(cmd.PaymentProofs)
	photos := filterEmptyUploads(cmd.FinalProductPhotos)
	if len(proofs) == 0 && len(photos) == 0 {
		return AttachImagesResult{}, fmt.Errorf("%w: no non-empty files provided", ErrOrderInvalidInput)
	}

	if _, err := s.orders.FindByID(ctx, orderID); err != nil {
		return AttachImagesResult{}, s.mapRepositoryError(err)
	}

	// Each destination runs on the parent context so a failure in one batch
	// never cancels the other's in-flight uploads.
	var result AttachImagesResult
	var group errgroup.Group
	if len(proofs) > 0 {
		group.Go(func() error {
			urls, err := s.storeBatch(ctx, DestinationPaymentProof, orderID, proofs, repositories.AttachmentFieldPaymentProofs)
			if err != nil {
				return err
			}
			result.PaymentProofURLs = urls
			return nil
		})
	}
	if len(photos) > 0 {
		group.Go(func() error {
			urls, err := s.storeBatch(ctx, DestinationFinalProduct, orderID, photos, repositories.AttachmentFieldFinalProductImages)
			if err != nil {
				return err
			}
			result.FinalProductImageURLs = urls
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return AttachImagesResult{}, err
	}
	return result, nil
}

// storeBatch uploads one destination's files and appends their URLs to the
// order in a single atomic union.
func (s *orderService) storeBatch(ctx context.Context, dest AttachmentDestination, orderID string, uploads []AttachmentUpload, field repositories.AttachmentField) ([]string, error) {
	urls := make([]string, 0, len(uploads))
	for _, upload := range uploads {
		url, err := s.attachments.Store(ctx, dest, orderID, upload)
		if err != nil {
			return nil, fmt.Errorf("order: store %s attachment %q: %w", dest, upload.FileName, err)
		}
		urls = append(urls, url)
	}
	if err := s.orders.AppendAttachmentURLs(ctx, orderID, field, urls); err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return urls, nil
}

func (s *orderService) DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) error {
	if err := authorizeStaff(cmd.Actor); err != nil {
		return err
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	if _, err := s.orders.FindByID(ctx, orderID); err != nil {
		return s.mapRepositoryError(err)
	}

	// Items first so a partial failure never leaves an order header without
	// its lines.
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.items.DeleteAll(txCtx, orderID); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.orders.Delete(txCtx, orderID); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publishEvent(ctx, OrderEventMessage{
		EventType:  orderEventDeleted,
		OrderID:    orderID,
		ActorID:    cmd.Actor.UID,
		OccurredAt: s.now(),
	})
	return nil
}

func (s *orderService) buildOrderItems(ctx context.Context, inputs []CreateOrderItemInput, now time.Time) ([]OrderItem, error) {
	items := make([]OrderItem, 0, len(inputs))
	for i, input := range inputs {
		if input.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %d quantity must be positive", ErrOrderInvalidInput, i)
		}

		item := OrderItem{
			ID:         orderItemIDPrefix + s.newID(),
			ProductID:  input.ProductID,
			Quantity:   input.Quantity,
			TotalPrice: input.TotalPrice,
			Notes:      sanitizeText(input.Notes),
			CreatedAt:  now,
		}

		name := sanitizeText(input.ProductName)
		var unitPrice *Money
		if input.UnitPrice != nil {
			price := *input.UnitPrice
			unitPrice = &price
		}

		if input.ProductID != nil && strings.TrimSpace(*input.ProductID) != "" {
			product, err := s.products.FindByID(ctx, *input.ProductID)
			switch {
			case err == nil:
				if name == "" {
					name = product.Name
				}
				if unitPrice == nil {
					price := product.Price
					unitPrice = &price
				}
			case isNotFound(err):
				// Keep the reference; the snapshot carries a placeholder.
				if name == "" {
					name = missingProductName
				}
			default:
				return nil, s.mapRepositoryError(err)
			}
		}

		if name == "" {
			return nil, fmt.Errorf("%w: item %d product name is required", ErrOrderInvalidInput, i)
		}
		if unitPrice == nil {
			return nil, fmt.Errorf("%w: item %d unit price is required", ErrOrderInvalidInput, i)
		}
		if *unitPrice < 0 {
			return nil, fmt.Errorf("%w: item %d unit price must not be negative", ErrOrderInvalidInput, i)
		}

		item.ProductName = name
		item.UnitPrice = *unitPrice
		items = append(items, item)
	}
	return items, nil
}

// authorizeStaff is the single authorization gate for order operations. Role
// membership is the only axis; there are no per-order ownership checks.
func authorizeStaff(actor Actor) error {
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleConsultant, domain.RoleAssembler:
		return nil
	}
	return fmt.Errorf("%w: role %q may not manage orders", ErrOrderForbidden, actor.Role)
}

func filterEmptyUploads(uploads []AttachmentUpload) []AttachmentUpload {
	filtered := make([]AttachmentUpload, 0, len(uploads))
	for _, upload := range uploads {
		if len(upload.Data) == 0 {
			continue
		}
		filtered = append(filtered, upload)
	}
	return filtered
}

func sanitizeText(value string) string {
	return strings.TrimSpace(textPolicy.Sanitize(value))
}

func sanitizedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	sanitized := sanitizeText(*value)
	return &sanitized
}

// sanitizeOptional collapses empty strings to nil so they are stored as null.
func sanitizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	sanitized := sanitizeText(*value)
	if sanitized == "" {
		return nil
	}
	return &sanitized
}

// sanitizeDoublePtr keeps the clear-to-null shape: an outer pointer to an
// empty string becomes an explicit null.
func sanitizeDoublePtr(value **string) **string {
	if value == nil {
		return nil
	}
	inner := sanitizeOptional(*value)
	return &inner
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, message OrderEventMessage) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, message); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  message.EventType,
			"order": message.OrderID,
			"error": err.Error(),
		})
	}
}
