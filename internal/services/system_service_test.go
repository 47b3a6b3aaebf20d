package services

import (
	"context"
	"testing"
	"time"

	domain "github.com/fabrica-ops/api/internal/domain"
)

type stubHealthRepo struct {
	collectFn func(context.Context) (domain.SystemHealthReport, error)
}

func (s *stubHealthRepo) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if s.collectFn != nil {
		return s.collectFn(ctx)
	}
	return domain.SystemHealthReport{}, nil
}

func TestHealthReportFillsBuildMetadata(t *testing.T) {
	started := testClock().Add(-90 * time.Minute)

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepo{
			collectFn: func(context.Context) (domain.SystemHealthReport, error) {
				return domain.SystemHealthReport{
					Checks: map[string]domain.SystemHealthCheck{
						"firestore": {Status: domain.HealthStatusOK},
					},
				}, nil
			},
		},
		Clock: testClock,
		Build: BuildInfo{
			Version:     "1.4.0",
			CommitSHA:   "abc123",
			Environment: "staging",
			StartedAt:   started,
		},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}

	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok status, got %q", report.Status)
	}
	if report.Version != "1.4.0" || report.CommitSHA != "abc123" || report.Environment != "staging" {
		t.Fatalf("unexpected build metadata %+v", report)
	}
	if report.Uptime != 90*time.Minute {
		t.Fatalf("expected 90m uptime, got %v", report.Uptime)
	}
}

func TestHealthReportDerivesDegradedStatus(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepo{
			collectFn: func(context.Context) (domain.SystemHealthReport, error) {
				return domain.SystemHealthReport{
					Checks: map[string]domain.SystemHealthCheck{
						"firestore": {Status: domain.HealthStatusOK},
						"pubsub":    {Status: domain.HealthStatusDegraded},
					},
				}, nil
			},
		},
		Clock: testClock,
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %q", report.Status)
	}
}
