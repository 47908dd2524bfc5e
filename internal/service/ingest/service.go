package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/feedbeacon/feedbeacon/internal/domain"
	"github.com/feedbeacon/feedbeacon/internal/repository"
	"github.com/feedbeacon/feedbeacon/internal/sparkle"
)

// Payload is the structured check-in body sent by clients. Numeric fields
// arrive as reported strings and are parsed defensively during
// normalization.
type Payload struct {
	BundleIdentifier string `json:"bundleIdentifier"`
	IP               string `json:"ip"`
	AppVersion       string `json:"appVersion"`
	OSVersion        string `json:"osVersion"`
	CPUType          string `json:"cputype"`
	NumCPU           string `json:"ncpu"`
	Language         string `json:"lang"`
	Model            string `json:"model"`
	RAMMB            string `json:"ramMB"`
}

var (
	// ErrMissingIdentifier means the payload carried no bundle identifier.
	ErrMissingIdentifier = errors.New("bundleIdentifier is required")
	// ErrUnknownApplication means no registered application matches.
	ErrUnknownApplication = errors.New("unknown application")
)

// Service validates check-ins and persists usage reports.
type Service struct {
	apps    repository.ApplicationRepository
	reports repository.ReportRepository
	logger  *slog.Logger
	now     func() time.Time
}

// New constructs an ingestion service.
func New(apps repository.ApplicationRepository, reports repository.ReportRepository, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{
		apps:    apps,
		reports: reports,
		logger:  logger.With("component", "ingest"),
		now:     time.Now,
	}
}

// Ingest records one check-in. headerIP is the client address derived from
// forwarding headers; the payload's own ip field takes precedence when set.
// The report is persisted before Ingest returns; a persistence fault fails
// the check-in.
func (s Service) Ingest(ctx context.Context, p Payload, headerIP string) (*domain.UsageReport, error) {
	bundleID := strings.TrimSpace(p.BundleIdentifier)
	if bundleID == "" {
		return nil, ErrMissingIdentifier
	}

	app, err := s.apps.GetApplicationByBundleID(ctx, bundleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnknownApplication
		}
		return nil, fmt.Errorf("look up application: %w", err)
	}

	rawIP := strings.TrimSpace(p.IP)
	if rawIP == "" {
		rawIP = headerIP
	}
	clientHash := sparkle.AnonymizeClient(rawIP, s.now())

	report := sparkle.NormalizeReport(app.ID, clientHash, sparkle.ReportFields{
		AppVersion: p.AppVersion,
		OSVersion:  p.OSVersion,
		CPUType:    p.CPUType,
		NumCPU:     p.NumCPU,
		RAMMB:      p.RAMMB,
		Language:   p.Language,
		Model:      p.Model,
	}, "")
	report.ReceivedAt = s.now().UTC()

	if err := s.reports.InsertReport(ctx, &report); err != nil {
		return nil, fmt.Errorf("store usage report: %w", err)
	}

	s.logger.Debug("check-in recorded", "bundle_id", bundleID, "app_id", app.ID)
	return &report, nil
}
