package repository

import (
	"context"
	"time"

	"github.com/feedbeacon/feedbeacon/internal/domain"
)

// ApplicationRepository resolves and manages registered applications.
type ApplicationRepository interface {
	CreateApplication(ctx context.Context, app *domain.Application) error
	GetApplicationByBundleID(ctx context.Context, bundleID string) (*domain.Application, error)
	// GetApplicationByName matches the display name or the short name,
	// case-sensitively. More than one match yields ErrAmbiguous.
	GetApplicationByName(ctx context.Context, name string) (*domain.Application, error)
	ListApplications(ctx context.Context, limit, offset int) ([]domain.Application, int, error)
}

// ReportRepository persists and reads usage reports. Reports are append-only:
// the pipeline never updates or deletes them.
type ReportRepository interface {
	InsertReport(ctx context.Context, report *domain.UsageReport) error
	ListReportsByApp(ctx context.Context, appID string, limit, offset int) ([]domain.UsageReport, error)
}

// StatsRepository serves the dashboard aggregation queries.
type StatsRepository interface {
	DailyUsage(ctx context.Context, appID string, since time.Time) ([]domain.DailyUsage, error)
	Breakdown(ctx context.Context, appID string, field domain.BreakdownField, since time.Time, limit int) ([]domain.BreakdownRow, error)
}
