package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/feedbeacon/feedbeacon/internal/domain"
	"github.com/feedbeacon/feedbeacon/internal/repository"
)

const (
	defaultWindowDays = 30
	maxWindowDays     = 365
	breakdownLimit    = 50
)

// ErrUnknownApplication means the requested bundle identifier is not registered.
var ErrUnknownApplication = errors.New("unknown application")

// ErrUnknownField means the breakdown field is not aggregatable.
var ErrUnknownField = errors.New("unknown breakdown field")

var breakdownFields = map[domain.BreakdownField]struct{}{
	domain.BreakdownAppVersion: {},
	domain.BreakdownOSVersion:  {},
	domain.BreakdownCPUArch:    {},
	domain.BreakdownLanguage:   {},
	domain.BreakdownModel:      {},
}

// Service serves the dashboard aggregation queries.
type Service struct {
	apps    repository.ApplicationRepository
	reports repository.ReportRepository
	stats   repository.StatsRepository
	logger  *slog.Logger
	now     func() time.Time
}

// New constructs a stats service.
func New(apps repository.ApplicationRepository, reports repository.ReportRepository, statsRepo repository.StatsRepository, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{
		apps:    apps,
		reports: reports,
		stats:   statsRepo,
		logger:  logger.With("component", "stats"),
		now:     time.Now,
	}
}

func (s Service) resolveApp(ctx context.Context, bundleID string) (*domain.Application, error) {
	app, err := s.apps.GetApplicationByBundleID(ctx, bundleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnknownApplication
		}
		return nil, fmt.Errorf("look up application: %w", err)
	}
	return app, nil
}

func (s Service) windowStart(days int) time.Time {
	if days <= 0 {
		days = defaultWindowDays
	}
	if days > maxWindowDays {
		days = maxWindowDays
	}
	return s.now().UTC().AddDate(0, 0, -days)
}

// Daily returns distinct-client and report counts per UTC day.
func (s Service) Daily(ctx context.Context, bundleID string, days int) ([]domain.DailyUsage, error) {
	app, err := s.resolveApp(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	return s.stats.DailyUsage(ctx, app.ID, s.windowStart(days))
}

// Breakdown returns report counts grouped by the selected attribute.
func (s Service) Breakdown(ctx context.Context, bundleID string, field domain.BreakdownField, days int) ([]domain.BreakdownRow, error) {
	if _, ok := breakdownFields[field]; !ok {
		return nil, ErrUnknownField
	}
	app, err := s.resolveApp(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	return s.stats.Breakdown(ctx, app.ID, field, s.windowStart(days), breakdownLimit)
}

// RecentReports pages through an application's latest usage reports.
func (s Service) RecentReports(ctx context.Context, bundleID string, limit, offset int) ([]domain.UsageReport, error) {
	app, err := s.resolveApp(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	return s.reports.ListReportsByApp(ctx, app.ID, limit, offset)
}
