package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/fabrica-ops/api/internal/domain"
	"github.com/fabrica-ops/api/internal/repositories"
)

const defaultReportWindow = 30 * 24 * time.Hour

// ErrReportInvalidInput signals an invalid report query.
var ErrReportInvalidInput = errors.New("report: invalid input")

// ReportServiceDeps bundles constructor inputs for the report service.
type ReportServiceDeps struct {
	Orders   repositories.OrderRepository
	Products repositories.ProductRepository
	Clock    func() time.Time
}

type reportService struct {
	orders   repositories.OrderRepository
	products repositories.ProductRepository
	clock    func() time.Time
}

// NewReportService wires dependencies into a concrete ReportService implementation.
func NewReportService(deps ReportServiceDeps) (ReportService, error) {
	if deps.Orders == nil {
		return nil, errors.New("report service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("report service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &reportService{
		orders:   deps.Orders,
		products: deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// PeriodBuckets groups shipped orders by day or month over the query window
// and sums their revenue. Buckets with no orders are omitted; results are
// ordered by period ascending.
func (s *reportService) PeriodBuckets(ctx context.Context, query PeriodReportQuery) ([]PeriodBucket, error) {
	granularity := query.Granularity
	if granularity == "" {
		granularity = domain.GranularityDay
	}
	if !granularity.Valid() {
		return nil, fmt.Errorf("%w: unknown granularity %q", ErrReportInvalidInput, query.Granularity)
	}

	now := s.clock()
	to := query.To
	if to.IsZero() {
		to = now
	}
	from := query.From
	if from.IsZero() {
		from = to.Add(-defaultReportWindow)
	}
	if from.After(to) {
		return nil, fmt.Errorf("%w: from must not be after to", ErrReportInvalidInput)
	}

	orders, err := s.orders.ListByStatusSince(ctx, domain.OrderStatusSent, from)
	if err != nil {
		return nil, fmt.Errorf("report: list shipped orders: %w", err)
	}

	buckets := make(map[time.Time]*PeriodBucket)
	for _, order := range orders {
		if order.CreatedAt.After(to) {
			continue
		}
		period := truncatePeriod(order.CreatedAt.UTC(), granularity)
		bucket, ok := buckets[period]
		if !ok {
			bucket = &PeriodBucket{Period: period}
			buckets[period] = bucket
		}
		bucket.Count++
		bucket.Revenue += order.EffectiveTotal()
	}

	result := make([]PeriodBucket, 0, len(buckets))
	for _, bucket := range buckets {
		result = append(result, *bucket)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Period.Before(result[j].Period)
	})
	return result, nil
}

// Dashboard gathers the headline numbers concurrently: order counts by
// status, revenue over shipped orders, and the low stock count.
func (s *reportService) Dashboard(ctx context.Context) (DashboardStats, error) {
	stats := DashboardStats{GeneratedAt: s.clock()}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		counts, err := s.orders.CountByStatus(ctx)
		if err != nil {
			return fmt.Errorf("report: count orders by status: %w", err)
		}
		stats.OrdersByStatus = counts
		for _, count := range counts {
			stats.TotalOrders += count
		}
		return nil
	})

	group.Go(func() error {
		shipped, err := s.orders.ListByStatusSince(ctx, domain.OrderStatusSent, time.Time{})
		if err != nil {
			return fmt.Errorf("report: list shipped orders: %w", err)
		}
		for _, order := range shipped {
			stats.Revenue += order.EffectiveTotal()
		}
		return nil
	})

	group.Go(func() error {
		lowStock, err := s.products.CountLowStock(ctx)
		if err != nil {
			return fmt.Errorf("report: count low stock products: %w", err)
		}
		stats.LowStockCount = lowStock
		return nil
	})

	if err := group.Wait(); err != nil {
		return DashboardStats{}, err
	}
	return stats, nil
}

func truncatePeriod(at time.Time, granularity domain.PeriodGranularity) time.Time {
	if granularity == domain.GranularityMonth {
		return time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
}
