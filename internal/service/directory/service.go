package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/feedbeacon/feedbeacon/internal/domain"
	"github.com/feedbeacon/feedbeacon/internal/repository"
)

var (
	// ErrMissingBundleID rejects a registration without a bundle identifier.
	ErrMissingBundleID = errors.New("bundle identifier is required")
	// ErrMissingName rejects a registration without a display name.
	ErrMissingName = errors.New("application name is required")
	// ErrDuplicateBundleID means the bundle identifier is already registered.
	ErrDuplicateBundleID = errors.New("bundle identifier already registered")
)

// Service manages the application directory. Registration is the one
// administrative write; the request pipeline only ever reads.
type Service struct {
	apps   repository.ApplicationRepository
	logger *slog.Logger
}

// New constructs a directory service.
func New(apps repository.ApplicationRepository, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{apps: apps, logger: logger.With("component", "directory")}
}

// Register creates an application record.
func (s Service) Register(ctx context.Context, bundleID, name, shortName, feedBaseURL string) (*domain.Application, error) {
	bundleID = strings.TrimSpace(bundleID)
	if bundleID == "" {
		return nil, ErrMissingBundleID
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrMissingName
	}

	app := &domain.Application{
		ID:          uuid.NewString(),
		BundleID:    bundleID,
		Name:        name,
		ShortName:   strings.TrimSpace(shortName),
		FeedBaseURL: strings.TrimSpace(feedBaseURL),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.apps.CreateApplication(ctx, app); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrDuplicateBundleID
		}
		return nil, fmt.Errorf("create application: %w", err)
	}

	s.logger.Info("application registered", "bundle_id", bundleID, "app_id", app.ID)
	return app, nil
}

// List pages through the registered applications.
func (s Service) List(ctx context.Context, limit, offset int) ([]domain.Application, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.apps.ListApplications(ctx, limit, offset)
}
