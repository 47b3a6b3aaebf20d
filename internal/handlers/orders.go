package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/fabrica-ops/api/internal/domain"
	"github.com/fabrica-ops/api/internal/platform/auth"
	"github.com/fabrica-ops/api/internal/platform/httpx"
	"github.com/fabrica-ops/api/internal/platform/pagination"
	"github.com/fabrica-ops/api/internal/platform/storage"
	"github.com/fabrica-ops/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 64 * 1024
	maxAttachmentMemory  = 32 << 20
	maxAttachmentSize    = 10 << 20
	signedURLTTL         = 60 * time.Second

	uploadRateLimit  = 30
	uploadRateWindow = time.Minute
)

const (
	attachmentFieldPaymentProofs = "payment_proofs"
	attachmentFieldFinalPhotos   = "final_product_photos"
)

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPending:  {},
	domain.OrderStatusApproved: {},
	domain.OrderStatusSent:     {},
	domain.OrderStatusCanceled: {},
}

// OrderHandlers exposes the order lifecycle endpoints for staff users.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	signing  *storage.Client
	buckets  services.AttachmentBuckets
	createMW func(http.Handler) http.Handler
	uploads  rateLimiter
}

// OrderHandlersDeps bundles the collaborators for the order endpoints.
// CreateMiddleware, when set, wraps the create endpoint only; the caller uses
// it to enforce idempotency keys on order creation.
type OrderHandlersDeps struct {
	Authenticator    *auth.Authenticator
	Orders           services.OrderService
	Signing          *storage.Client
	Buckets          services.AttachmentBuckets
	CreateMiddleware func(http.Handler) http.Handler
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(deps OrderHandlersDeps) *OrderHandlers {
	return &OrderHandlers{
		authn:    deps.Authenticator,
		orders:   deps.Orders,
		signing:  deps.Signing,
		buckets:  deps.Buckets,
		createMW: deps.CreateMiddleware,
		uploads:  newSimpleRateLimiter(uploadRateLimit, uploadRateWindow, nil),
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.StaffRoles...))
	}
	if h.createMW != nil {
		r.With(h.createMW).Post("/", h.createOrder)
	} else {
		r.Post("/", h.createOrder)
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Patch("/{orderID}", h.updateOrder)
	r.Delete("/{orderID}", h.deleteOrder)
	r.Patch("/{orderID}/status", h.updateOrderStatus)
	r.Post("/{orderID}/attachments", h.uploadAttachments)
	r.Get("/{orderID}/attachments/{kind}/{fileName}/signed-url", h.signedAttachmentURL)
}

type createOrderItemRequest struct {
	ProductID   *string `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   *int64  `json:"unit_price"`
	TotalPrice  *int64  `json:"total_price"`
	Notes       string  `json:"notes"`
}

type createOrderRequest struct {
	CustomerName          string                   `json:"customer_name"`
	CustomerCPF           *string                  `json:"customer_cpf"`
	CustomerPhone         *string                  `json:"customer_phone"`
	CustomerEmail         *string                  `json:"customer_email"`
	CustomerAddress       *string                  `json:"customer_address"`
	CustomerZip           *string                  `json:"customer_zip"`
	CustomerCity          *string                  `json:"customer_city"`
	CustomerState         *string                  `json:"customer_state"`
	Priority              int                      `json:"priority"`
	AssemblerID           *string                  `json:"assembler_id"`
	Notes                 string                   `json:"notes"`
	InternalNotes         string                   `json:"internal_notes"`
	TotalAmount           *int64                   `json:"total_amount"`
	EstimatedDeliveryDate *string                  `json:"estimated_delivery_date"`
	Items                 []createOrderItemRequest `json:"items"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.CreateOrderCommand{
		Actor:           actor,
		CustomerName:    req.CustomerName,
		CustomerCPF:     req.CustomerCPF,
		CustomerPhone:   req.CustomerPhone,
		CustomerEmail:   req.CustomerEmail,
		CustomerAddress: req.CustomerAddress,
		CustomerZip:     req.CustomerZip,
		CustomerCity:    req.CustomerCity,
		CustomerState:   req.CustomerState,
		Priority:        req.Priority,
		AssemblerID:     req.AssemblerID,
		Notes:           req.Notes,
		InternalNotes:   req.InternalNotes,
	}
	if req.TotalAmount != nil {
		total := services.Money(*req.TotalAmount)
		cmd.TotalAmount = &total
	}
	if req.EstimatedDeliveryDate != nil && strings.TrimSpace(*req.EstimatedDeliveryDate) != "" {
		ts, err := parseTimeParam(*req.EstimatedDeliveryDate)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "estimated_delivery_date must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.EstimatedDeliveryDate = &ts
	}

	cmd.Items = make([]services.CreateOrderItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		input := services.CreateOrderItemInput{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Notes:       item.Notes,
		}
		if item.UnitPrice != nil {
			price := services.Money(*item.UnitPrice)
			input.UnitPrice = &price
		}
		if item.TotalPrice != nil {
			total := services.Money(*item.TotalPrice)
			input.TotalPrice = &total
		}
		cmd.Items = append(cmd.Items, input)
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()

	statuses, err := parseOrderStatusFilters(query["status"])
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultOrderPageSize,
		MaxPageSize:     maxOrderPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListQuery{
		Actor:     actor,
		Status:    statuses,
		DateRange: dateRange,
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, actor)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd, err := buildUpdateOrderCommand(orderID, actor, fields)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateOrderDetails(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

// buildUpdateOrderCommand maps raw JSON fields onto the partial update
// command. A key that is absent leaves the field untouched; an explicit null
// clears optional fields.
func buildUpdateOrderCommand(orderID string, actor services.Actor, fields map[string]json.RawMessage) (services.UpdateOrderCommand, error) {
	cmd := services.UpdateOrderCommand{OrderID: orderID, Actor: actor}

	for key, raw := range fields {
		switch key {
		case "customer_name":
			value, err := decodeStringField(key, raw)
			if err != nil {
				return cmd, err
			}
			if value == nil {
				return cmd, errors.New("customer_name cannot be null")
			}
			cmd.CustomerName = value
		case "customer_cpf":
			value, err := decodeStringField(key, raw)
			if err != nil {
				return cmd, err
			}
			cmd.CustomerCPF = &value
		case "customer_phone":
			value, err := decodeStringField(key, raw)
			if err != nil {
				return cmd, err
			}
			cmd.CustomerPhone = &value
		case "customer_email":
			value, err := decodeStringField(key, raw)
			if err != nil {
				return cmd, err
			}
			cmd.CustomerEmail = &value
		case "customer_address":
			value, err := decodeStringField(key, raw)
			if err != nil {
				return cmd, err
			}
			cmd.CustomerAddress = &value
		case "customer_zip":
			value, err := decodeStringField(key, raw)
			if err != nil {
				return cmd, err
			}
			cmd.CustomerZip = &value
		case "customer_city":
			value, err := decodeStringField(key, raw)
			if err != nil {
				return cmd, err
			}
			cmd.CustomerCity = &value
		case "customer_state":
			value, err := decodeStringField(key, raw)
			if err != nil {
				return cmd, err
			}
			cmd.CustomerState = &value
		case "priority":
			var value int
			if err := json.Unmarshal(raw, &value); err != nil {
				return cmd, errors.New("priority must be an integer")
			}
			cmd.Priority = &value
		case "assembler_id":
			value, err := decodeStringField(key, raw)
			if err != nil {
				return cmd, err
			}
			cmd.AssemblerID = &value
		case "notes":
			value, err := decodeStringField(key, raw)
			if err != nil {
				return cmd, err
			}
			if value == nil {
				empty := ""
				value = &empty
			}
			cmd.Notes = value
		case "internal_notes":
			value, err := decodeStringField(key, raw)
			if err != nil {
				return cmd, err
			}
			if value == nil {
				empty := ""
				value = &empty
			}
			cmd.InternalNotes = value
		case "shipping_tracking_code":
			value, err := decodeStringField(key, raw)
			if err != nil {
				return cmd, err
			}
			cmd.ShippingTrackingCode = &value
		case "estimated_delivery_date":
			value, err := decodeStringField(key, raw)
			if err != nil {
				return cmd, err
			}
			if value == nil {
				var cleared *time.Time
				cmd.EstimatedDeliveryDate = &cleared
				continue
			}
			ts, err := parseTimeParam(*value)
			if err != nil {
				return cmd, errors.New("estimated_delivery_date must be a valid RFC3339 timestamp")
			}
			pointer := &ts
			cmd.EstimatedDeliveryDate = &pointer
		}
	}

	return cmd, nil
}

func decodeStringField(key string, raw json.RawMessage) (*string, error) {
	if string(raw) == "null" {
		return nil, nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("%s must be a string or null", key)
	}
	return &value, nil
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
}

func (h *OrderHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updateOrderStatusRequest
	if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	target, ok := parseOrderStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be one of pending, approved, sent, canceled", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateOrderStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID: orderID,
		Actor:   actor,
		Target:  target,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	if err := h.orders.DeleteOrder(ctx, services.DeleteOrderCommand{OrderID: orderID, Actor: actor}); err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type attachmentUploadResponse struct {
	PaymentProofURLs      []string `json:"payment_proof_urls"`
	FinalProductImageURLs []string `json:"final_product_image_urls"`
}

func (h *OrderHandlers) uploadAttachments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	if h.uploads != nil && !h.uploads.Allow(actor.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many uploads, retry later", http.StatusTooManyRequests))
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

	proofs, err := collectUploads(r.MultipartForm, attachmentFieldPaymentProofs)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	photos, err := collectUploads(r.MultipartForm, attachmentFieldFinalPhotos)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.orders.AttachImages(ctx, services.AttachImagesCommand{
		OrderID:            orderID,
		Actor:              actor,
		PaymentProofs:      proofs,
		FinalProductPhotos: photos,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, attachmentUploadResponse{
		PaymentProofURLs:      result.PaymentProofURLs,
		FinalProductImageURLs: result.FinalProductImageURLs,
	})
}

func collectUploads(form *multipart.Form, field string) ([]services.AttachmentUpload, error) {
	if form == nil {
		return nil, nil
	}
	headers := form.File[field]
	if len(headers) == 0 {
		return nil, nil
	}

	uploads := make([]services.AttachmentUpload, 0, len(headers))
	for _, header := range headers {
		if header.Size > maxAttachmentSize {
			return nil, fmt.Errorf("file %q exceeds the %d byte limit", header.Filename, maxAttachmentSize)
		}
		file, err := header.Open()
		if err != nil {
			return nil, fmt.Errorf("file %q could not be read", header.Filename)
		}
		data, err := io.ReadAll(io.LimitReader(file, maxAttachmentSize+1))
		_ = file.Close()
		if err != nil {
			return nil, fmt.Errorf("file %q could not be read", header.Filename)
		}
		if len(data) > maxAttachmentSize {
			return nil, fmt.Errorf("file %q exceeds the %d byte limit", header.Filename, maxAttachmentSize)
		}
		uploads = append(uploads, services.AttachmentUpload{
			FileName:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return uploads, nil
}

type signedURLResponse struct {
	URL       string `json:"url"`
	Method    string `json:"method"`
	ExpiresAt string `json:"expires_at"`
}

// signedAttachmentURL issues a short-lived signed download link for a stored
// attachment. The order is loaded first so role-based visibility applies
// before any URL is minted.
func (h *OrderHandlers) signedAttachmentURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	fileName := strings.TrimSpace(chi.URLParam(r, "fileName"))
	kind := strings.TrimSpace(chi.URLParam(r, "kind"))
	if orderID == "" || fileName == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id and file name are required", http.StatusBadRequest))
		return
	}

	var bucket string
	switch services.AttachmentDestination(kind) {
	case services.DestinationPaymentProof:
		bucket = h.buckets.Invoices
	case services.DestinationFinalProduct:
		bucket = h.buckets.Orders
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "kind must be payment-proof or final-product", http.StatusBadRequest))
		return
	}

	if h.signing == nil {
		httpx.WriteError(ctx, w, httpx.NewError("signing_unavailable", "download signing is not configured", http.StatusServiceUnavailable))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, actor)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	identity, _ := auth.IdentityFromContext(ctx)
	result, err := h.signing.SignedDownloadURL(ctx, bucket, order.ID+"/"+fileName, storage.DownloadOptions{
		Method:    http.MethodGet,
		ExpiresIn: signedURLTTL,
		Identity:  identity,
	})
	if err != nil {
		if errors.Is(err, storage.ErrPermissionDenied) {
			httpx.WriteError(ctx, w, httpx.NewError("order_forbidden", "not allowed to download this attachment", http.StatusForbidden))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("signing_failed", "failed to sign download url", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, signedURLResponse{
		URL:       result.URL,
		Method:    result.Method,
		ExpiresAt: formatTime(result.ExpiresAt),
	})
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                    string             `json:"id"`
	CustomerName          string             `json:"customer_name"`
	CustomerCPF           *string            `json:"customer_cpf,omitempty"`
	CustomerPhone         *string            `json:"customer_phone,omitempty"`
	CustomerEmail         *string            `json:"customer_email,omitempty"`
	CustomerAddress       *string            `json:"customer_address,omitempty"`
	CustomerZip           *string            `json:"customer_zip,omitempty"`
	CustomerCity          *string            `json:"customer_city,omitempty"`
	CustomerState         *string            `json:"customer_state,omitempty"`
	Status                string             `json:"status"`
	TotalAmount           *int64             `json:"total_amount,omitempty"`
	EffectiveTotal        int64              `json:"effective_total"`
	Priority              int                `json:"priority"`
	ConsultantID          string             `json:"consultant_id"`
	AssemblerID           *string            `json:"assembler_id,omitempty"`
	Notes                 string             `json:"notes,omitempty"`
	InternalNotes         string             `json:"internal_notes,omitempty"`
	PaymentProofURLs      []string           `json:"payment_proof_urls,omitempty"`
	FinalProductImageURLs []string           `json:"final_product_image_urls,omitempty"`
	EstimatedDeliveryDate string             `json:"estimated_delivery_date,omitempty"`
	ActualDeliveryDate    string             `json:"actual_delivery_date,omitempty"`
	ShippingTrackingCode  *string            `json:"shipping_tracking_code,omitempty"`
	Items                 []orderItemPayload `json:"items"`
	CreatedAt             string             `json:"created_at"`
	UpdatedAt             string             `json:"updated_at,omitempty"`
}

type orderItemPayload struct {
	ID          string  `json:"id"`
	ProductID   *string `json:"product_id,omitempty"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   int64   `json:"unit_price"`
	TotalPrice  *int64  `json:"total_price,omitempty"`
	LineTotal   int64   `json:"line_total"`
	Notes       string  `json:"notes,omitempty"`
	CreatedAt   string  `json:"created_at,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                    strings.TrimSpace(order.ID),
		CustomerName:          strings.TrimSpace(order.CustomerName),
		CustomerCPF:           order.CustomerCPF,
		CustomerPhone:         order.CustomerPhone,
		CustomerEmail:         order.CustomerEmail,
		CustomerAddress:       order.CustomerAddress,
		CustomerZip:           order.CustomerZip,
		CustomerCity:          order.CustomerCity,
		CustomerState:         order.CustomerState,
		Status:                string(order.Status),
		EffectiveTotal:        int64(order.EffectiveTotal()),
		Priority:              order.Priority,
		ConsultantID:          strings.TrimSpace(order.ConsultantID),
		AssemblerID:           order.AssemblerID,
		Notes:                 order.Notes,
		InternalNotes:         order.InternalNotes,
		PaymentProofURLs:      order.PaymentProofURLs,
		FinalProductImageURLs: order.FinalProductImageURLs,
		EstimatedDeliveryDate: formatTimePointer(order.EstimatedDeliveryDate),
		ActualDeliveryDate:    formatTimePointer(order.ActualDeliveryDate),
		ShippingTrackingCode:  order.ShippingTrackingCode,
		Items:                 make([]orderItemPayload, 0, len(order.Items)),
		CreatedAt:             formatTime(order.CreatedAt),
		UpdatedAt:             formatTime(order.UpdatedAt),
	}
	if order.TotalAmount != nil {
		total := int64(*order.TotalAmount)
		payload.TotalAmount = &total
	}
	for _, item := range order.Items {
		entry := orderItemPayload{
			ID:          strings.TrimSpace(item.ID),
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   int64(item.UnitPrice),
			LineTotal:   int64(item.LineTotal()),
			Notes:       item.Notes,
			CreatedAt:   formatTime(item.CreatedAt),
		}
		if item.TotalPrice != nil {
			total := int64(*item.TotalPrice)
			entry.TotalPrice = &total
		}
		payload.Items = append(payload.Items, entry)
	}
	return payload
}

func parseOrderStatus(raw string) (domain.OrderStatus, bool) {
	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := validOrderStatuses[status]; !ok {
		return "", false
	}
	return status, true
}

func parseOrderStatusFilters(values []string) ([]domain.OrderStatus, error) {
	raw := parseFilterValues(values)
	if len(raw) == 0 {
		return nil, nil
	}
	statuses := make([]domain.OrderStatus, 0, len(raw))
	for _, value := range raw {
		status, ok := parseOrderStatus(value)
		if !ok {
			return nil, fmt.Errorf("status %q is not a valid order status", value)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("order_forbidden", "not allowed to access this order", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
