package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/fabrica-ops/api/internal/domain"
	"github.com/fabrica-ops/api/internal/platform/auth"
	"github.com/fabrica-ops/api/internal/services"
)

type stubOrderService struct {
	createFn func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error)
	listFn   func(ctx context.Context, query services.OrderListQuery) (domain.CursorPage[services.Order], error)
	getFn    func(ctx context.Context, orderID string, actor services.Actor) (services.Order, error)
	updateFn func(ctx context.Context, cmd services.UpdateOrderCommand) (services.Order, error)
	statusFn func(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error)
	attachFn func(ctx context.Context, cmd services.AttachImagesCommand) (services.AttachImagesResult, error)
	deleteFn func(ctx context.Context, cmd services.DeleteOrderCommand) error
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	return s.createFn(ctx, cmd)
}

func (s *stubOrderService) ListOrders(ctx context.Context, query services.OrderListQuery) (domain.CursorPage[services.Order], error) {
	return s.listFn(ctx, query)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, actor services.Actor) (services.Order, error) {
	return s.getFn(ctx, orderID, actor)
}

func (s *stubOrderService) UpdateOrderDetails(ctx context.Context, cmd services.UpdateOrderCommand) (services.Order, error) {
	return s.updateFn(ctx, cmd)
}

func (s *stubOrderService) UpdateOrderStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	return s.statusFn(ctx, cmd)
}

func (s *stubOrderService) AttachImages(ctx context.Context, cmd services.AttachImagesCommand) (services.AttachImagesResult, error) {
	return s.attachFn(ctx, cmd)
}

func (s *stubOrderService) DeleteOrder(ctx context.Context, cmd services.DeleteOrderCommand) error {
	return s.deleteFn(ctx, cmd)
}

var _ services.OrderService = (*stubOrderService)(nil)

func identityRequest(method, target string, body io.Reader, uid, role string) *http.Request {
	req := httptest.NewRequest(method, target, body)
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Role: role}))
	}
	return req
}

func newOrderTestRouter(svc services.OrderService) chi.Router {
	handlers := NewOrderHandlers(OrderHandlersDeps{Orders: svc})
	r := chi.NewRouter()
	r.Route("/orders", handlers.Routes)
	return r
}

func sampleOrder() services.Order {
	created := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	return services.Order{
		ID:           "ord_01TEST",
		CustomerName: "Maria Souza",
		Status:       domain.OrderStatusPending,
		Priority:     1,
		ConsultantID: "uid-consultant",
		Items: []services.OrderItem{
			{ID: "itm_01TEST", ProductName: "Armário", Quantity: 2, UnitPrice: 2500, CreatedAt: created},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestCreateOrderHandlerReturnsCreated(t *testing.T) {
	var captured services.CreateOrderCommand
	svc := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}
	router := newOrderTestRouter(svc)

	payload := `{
		"customer_name": "Maria Souza",
		"priority": 1,
		"total_amount": 5000,
		"items": [{"product_name": "Armário", "quantity": 2, "unit_price": 2500}]
	}`
	req := identityRequest(http.MethodPost, "/orders", strings.NewReader(payload), "uid-consultant", auth.RoleConsultant)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Actor.UID != "uid-consultant" {
		t.Fatalf("expected actor uid-consultant, got %q", captured.Actor.UID)
	}
	if captured.TotalAmount == nil || *captured.TotalAmount != 5000 {
		t.Fatalf("expected total amount 5000, got %v", captured.TotalAmount)
	}
	if len(captured.Items) != 1 || captured.Items[0].Quantity != 2 {
		t.Fatalf("unexpected items: %+v", captured.Items)
	}

	var body struct {
		Order struct {
			ID             string `json:"id"`
			EffectiveTotal int64  `json:"effective_total"`
		} `json:"order"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Order.ID != "ord_01TEST" {
		t.Fatalf("expected order id ord_01TEST, got %s", body.Order.ID)
	}
	if body.Order.EffectiveTotal != 5000 {
		t.Fatalf("expected effective total 5000, got %d", body.Order.EffectiveTotal)
	}
}

func TestCreateOrderHandlerMapsValidationError(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInvalidInput
		},
	}
	router := newOrderTestRouter(svc)

	req := identityRequest(http.MethodPost, "/orders", strings.NewReader(`{"customer_name": ""}`), "uid-consultant", auth.RoleConsultant)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCreateOrderHandlerRequiresIdentity(t *testing.T) {
	router := newOrderTestRouter(&stubOrderService{})

	req := identityRequest(http.MethodPost, "/orders", strings.NewReader(`{}`), "", "")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestListOrdersHandlerParsesFilters(t *testing.T) {
	var captured services.OrderListQuery
	svc := &stubOrderService{
		listFn: func(_ context.Context, query services.OrderListQuery) (domain.CursorPage[services.Order], error) {
			captured = query
			return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder()}, NextPageToken: "next"}, nil
		},
	}
	router := newOrderTestRouter(svc)

	req := identityRequest(http.MethodGet, "/orders?status=pending,approved&created_after=2025-03-01T00:00:00Z&pageSize=10", nil, "uid-admin", auth.RoleAdmin)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(captured.Status) != 2 {
		t.Fatalf("expected 2 status filters, got %v", captured.Status)
	}
	if captured.DateRange.From == nil || !captured.DateRange.From.Equal(time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date range: %+v", captured.DateRange)
	}
	if captured.Pagination.PageSize != 10 {
		t.Fatalf("expected page size 10, got %d", captured.Pagination.PageSize)
	}

	var body struct {
		Items         []json.RawMessage `json:"items"`
		NextPageToken string            `json:"next_page_token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(body.Items) != 1 || body.NextPageToken != "next" {
		t.Fatalf("unexpected list response: %s", rr.Body.String())
	}
}

func TestListOrdersHandlerRejectsUnknownStatus(t *testing.T) {
	router := newOrderTestRouter(&stubOrderService{})

	req := identityRequest(http.MethodGet, "/orders?status=shipped", nil, "uid-admin", auth.RoleAdmin)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestGetOrderHandlerMapsForbidden(t *testing.T) {
	svc := &stubOrderService{
		getFn: func(context.Context, string, services.Actor) (services.Order, error) {
			return services.Order{}, services.ErrOrderForbidden
		},
	}
	router := newOrderTestRouter(svc)

	req := identityRequest(http.MethodGet, "/orders/ord_01TEST", nil, "uid-other", auth.RoleConsultant)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestUpdateOrderHandlerClearsNullableField(t *testing.T) {
	var captured services.UpdateOrderCommand
	svc := &stubOrderService{
		updateFn: func(_ context.Context, cmd services.UpdateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}
	router := newOrderTestRouter(svc)

	payload := `{"customer_cpf": null, "customer_phone": "11 99999-0000", "priority": 3}`
	req := identityRequest(http.MethodPatch, "/orders/ord_01TEST", strings.NewReader(payload), "uid-admin", auth.RoleAdmin)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.CustomerCPF == nil || *captured.CustomerCPF != nil {
		t.Fatalf("expected cpf cleared to null, got %v", captured.CustomerCPF)
	}
	if captured.CustomerPhone == nil || *captured.CustomerPhone == nil || **captured.CustomerPhone != "11 99999-0000" {
		t.Fatalf("unexpected phone update: %v", captured.CustomerPhone)
	}
	if captured.Priority == nil || *captured.Priority != 3 {
		t.Fatalf("expected priority 3, got %v", captured.Priority)
	}
	if captured.CustomerName != nil {
		t.Fatalf("expected untouched customer name, got %v", captured.CustomerName)
	}
}

func TestUpdateOrderStatusHandlerRejectsUnknownStatus(t *testing.T) {
	router := newOrderTestRouter(&stubOrderService{})

	req := identityRequest(http.MethodPatch, "/orders/ord_01TEST/status", strings.NewReader(`{"status": "shipped"}`), "uid-admin", auth.RoleAdmin)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestUpdateOrderStatusHandlerPassesTarget(t *testing.T) {
	var captured services.UpdateOrderStatusCommand
	svc := &stubOrderService{
		statusFn: func(_ context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = cmd.Target
			return order, nil
		},
	}
	router := newOrderTestRouter(svc)

	req := identityRequest(http.MethodPatch, "/orders/ord_01TEST/status", strings.NewReader(`{"status": "APPROVED"}`), "uid-admin", auth.RoleAdmin)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Target != domain.OrderStatusApproved {
		t.Fatalf("expected approved target, got %s", captured.Target)
	}
}

func TestDeleteOrderHandlerReturnsNoContent(t *testing.T) {
	svc := &stubOrderService{
		deleteFn: func(context.Context, services.DeleteOrderCommand) error { return nil },
	}
	router := newOrderTestRouter(svc)

	req := identityRequest(http.MethodDelete, "/orders/ord_01TEST", nil, "uid-admin", auth.RoleAdmin)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
}

func TestUploadAttachmentsHandlerCollectsBothFields(t *testing.T) {
	var captured services.AttachImagesCommand
	svc := &stubOrderService{
		attachFn: func(_ context.Context, cmd services.AttachImagesCommand) (services.AttachImagesResult, error) {
			captured = cmd
			return services.AttachImagesResult{
				PaymentProofURLs:      []string{"https://storage.googleapis.com/invoices/ord_01TEST/a.pdf"},
				FinalProductImageURLs: []string{"https://storage.googleapis.com/orders/ord_01TEST/b.jpg"},
			}, nil
		},
	}
	router := newOrderTestRouter(svc)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	proof, err := writer.CreateFormFile(attachmentFieldPaymentProofs, "comprovante.pdf")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := proof.Write([]byte("%PDF-1.4")); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	photo, err := writer.CreateFormFile(attachmentFieldFinalPhotos, "montagem.jpg")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := photo.Write([]byte{0xFF, 0xD8, 0xFF}); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := identityRequest(http.MethodPost, "/orders/ord_01TEST/attachments", &buf, "uid-consultant", auth.RoleConsultant)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(captured.PaymentProofs) != 1 || captured.PaymentProofs[0].FileName != "comprovante.pdf" {
		t.Fatalf("unexpected payment proofs: %+v", captured.PaymentProofs)
	}
	if len(captured.FinalProductPhotos) != 1 || captured.FinalProductPhotos[0].FileName != "montagem.jpg" {
		t.Fatalf("unexpected final photos: %+v", captured.FinalProductPhotos)
	}

	var body attachmentUploadResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(body.PaymentProofURLs) != 1 || len(body.FinalProductImageURLs) != 1 {
		t.Fatalf("unexpected response: %s", rr.Body.String())
	}
}

func TestUploadAttachmentsHandlerRejectsNonMultipart(t *testing.T) {
	router := newOrderTestRouter(&stubOrderService{})

	req := identityRequest(http.MethodPost, "/orders/ord_01TEST/attachments", strings.NewReader("{}"), "uid-consultant", auth.RoleConsultant)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestSignedAttachmentURLHandlerRejectsUnknownKind(t *testing.T) {
	router := newOrderTestRouter(&stubOrderService{
		getFn: func(context.Context, string, services.Actor) (services.Order, error) {
			return sampleOrder(), nil
		},
	})

	req := identityRequest(http.MethodGet, "/orders/ord_01TEST/attachments/warranty/file.pdf/signed-url", nil, "uid-admin", auth.RoleAdmin)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
