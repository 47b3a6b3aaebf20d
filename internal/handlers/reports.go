package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/fabrica-ops/api/internal/domain"
	"github.com/fabrica-ops/api/internal/platform/auth"
	"github.com/fabrica-ops/api/internal/platform/httpx"
	"github.com/fabrica-ops/api/internal/services"
)

// ReportHandlers exposes the dashboard aggregation endpoints.
type ReportHandlers struct {
	authn   *auth.Authenticator
	reports services.ReportService
}

// NewReportHandlers constructs a new ReportHandlers instance.
func NewReportHandlers(authn *auth.Authenticator, reports services.ReportService) *ReportHandlers {
	return &ReportHandlers{
		authn:   authn,
		reports: reports,
	}
}

// Routes registers the /reports endpoints.
func (h *ReportHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.StaffRoles...))
	}
	r.Get("/period-buckets", h.periodBuckets)
	r.Get("/stats", h.stats)
}

func (h *ReportHandlers) periodBuckets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireActor(w, r); !ok {
		return
	}

	query := r.URL.Query()

	reportQuery := services.PeriodReportQuery{
		Granularity: domain.PeriodGranularity(strings.ToLower(strings.TrimSpace(query.Get("granularity")))),
	}
	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "from must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		reportQuery.From = ts
	}
	if raw := strings.TrimSpace(query.Get("to")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "to must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		reportQuery.To = ts
	}

	buckets, err := h.reports.PeriodBuckets(ctx, reportQuery)
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}

	items := make([]periodBucketPayload, 0, len(buckets))
	for _, bucket := range buckets {
		items = append(items, periodBucketPayload{
			Period:  formatTime(bucket.Period),
			Count:   bucket.Count,
			Revenue: int64(bucket.Revenue),
		})
	}

	writeJSONResponse(w, http.StatusOK, periodBucketsResponse{Buckets: items})
}

func (h *ReportHandlers) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireActor(w, r); !ok {
		return
	}

	stats, err := h.reports.Dashboard(ctx)
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}

	byStatus := make(map[string]int, len(stats.OrdersByStatus))
	for status, count := range stats.OrdersByStatus {
		byStatus[string(status)] = count
	}

	writeJSONResponse(w, http.StatusOK, dashboardStatsPayload{
		TotalOrders:    stats.TotalOrders,
		OrdersByStatus: byStatus,
		Revenue:        int64(stats.Revenue),
		LowStockCount:  stats.LowStockCount,
		GeneratedAt:    formatTime(stats.GeneratedAt),
	})
}

type periodBucketsResponse struct {
	Buckets []periodBucketPayload `json:"buckets"`
}

type periodBucketPayload struct {
	Period  string `json:"period"`
	Count   int    `json:"count"`
	Revenue int64  `json:"revenue"`
}

type dashboardStatsPayload struct {
	TotalOrders    int            `json:"total_orders"`
	OrdersByStatus map[string]int `json:"orders_by_status"`
	Revenue        int64          `json:"revenue"`
	LowStockCount  int            `json:"low_stock_count"`
	GeneratedAt    string         `json:"generated_at"`
}

func writeReportError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrReportInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("report_error", "failed to build report", http.StatusInternalServerError))
	}
}
