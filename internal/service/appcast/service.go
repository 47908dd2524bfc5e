package appcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/sethvargo/go-retry"

	"github.com/feedbeacon/feedbeacon/internal/domain"
	"github.com/feedbeacon/feedbeacon/internal/repository"
	"github.com/feedbeacon/feedbeacon/internal/sparkle"
)

var (
	// ErrMissingIdentifier means no mechanism identified the calling app.
	ErrMissingIdentifier = errors.New("no application identifier supplied")
	// ErrApplicationNotFound means every lookup strategy missed.
	ErrApplicationNotFound = errors.New("application not found")
	// ErrFeedNotConfigured means the application has no feed base URL.
	ErrFeedNotConfigured = errors.New("no appcast feed configured")
)

// UpstreamError reports a failed upstream feed fetch. Status is zero for
// transport failures.
type UpstreamError struct {
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream feed returned status %d", e.Status)
	}
	return fmt.Sprintf("upstream feed fetch failed: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Request carries everything the proxy needs from the inbound HTTP request.
type Request struct {
	Filename  string
	Query     url.Values
	UserAgent string
	ClientIP  string
}

// Feed is a fetched upstream manifest with the headers worth passing through.
type Feed struct {
	Body         []byte
	ContentType  string
	LastModified string
	ETag         string
}

const (
	checkInTimeout   = 10 * time.Second
	retryBackoffBase = 250 * time.Millisecond
	maxFeedBytes     = 10 << 20
)

// Service resolves update-check requests to upstream feeds and records a
// usage report for each one without blocking the response.
type Service struct {
	apps      repository.ApplicationRepository
	reports   repository.ReportRepository
	client    *http.Client
	logger    *slog.Logger
	userAgent string
	retries   int
	now       func() time.Time

	wg sync.WaitGroup
}

// New constructs an appcast proxy service. retries bounds re-attempts of the
// upstream fetch on transient failures.
func New(apps repository.ApplicationRepository, reports repository.ReportRepository, logger *slog.Logger, timeout time.Duration, retries int, userAgent string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	if userAgent == "" {
		userAgent = "feedbeacon-appcast-proxy/1.0"
	}
	return &Service{
		apps:      apps,
		reports:   reports,
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With("component", "appcast"),
		userAgent: userAgent,
		retries:   retries,
		now:       time.Now,
	}
}

// Proxy handles one update-check: it identifies the calling application,
// fires the telemetry write, and fetches the upstream feed. The telemetry
// write is never awaited and never fails the request.
func (s *Service) Proxy(ctx context.Context, req Request) (*Feed, error) {
	ident := sparkle.Resolve(sparkle.QueryLookup(req.Query), req.UserAgent)
	if ident.Identifier == "" {
		return nil, ErrMissingIdentifier
	}

	app, err := s.lookupApplication(ctx, req)
	if err != nil {
		return nil, err
	}
	if app.FeedBaseURL == "" {
		return nil, ErrFeedNotConfigured
	}

	s.recordCheckIn(app, ident, req)

	feedURL := ResolveFeedURL(app.FeedBaseURL, req.Filename)
	return s.fetchFeed(ctx, feedURL)
}

// lookupApplication tries the directory strategies in priority order: exact
// bundle identifier, then name-or-shortname on the query appName, then the
// same on the User-Agent-derived name when it differs. An ambiguous name
// match counts as a miss for that strategy.
func (s *Service) lookupApplication(ctx context.Context, req Request) (*domain.Application, error) {
	if bundleID := strings.TrimSpace(req.Query.Get(sparkle.FieldBundleIdentifier)); bundleID != "" {
		app, err := s.apps.GetApplicationByBundleID(ctx, bundleID)
		if err == nil {
			return app, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("look up application by bundle id: %w", err)
		}
	}

	queryName := strings.TrimSpace(req.Query.Get(sparkle.FieldAppName))
	if queryName != "" {
		app, err := s.lookupByName(ctx, queryName)
		if err == nil {
			return app, nil
		}
		if !isMiss(err) {
			return nil, err
		}
	}

	if ua, ok := sparkle.ParseUserAgent(req.UserAgent); ok && ua.AppName != "" && ua.AppName != queryName {
		app, err := s.lookupByName(ctx, ua.AppName)
		if err == nil {
			return app, nil
		}
		if !isMiss(err) {
			return nil, err
		}
	}

	return nil, ErrApplicationNotFound
}

func (s *Service) lookupByName(ctx context.Context, name string) (*domain.Application, error) {
	app, err := s.apps.GetApplicationByName(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrAmbiguous) {
			s.logger.Warn("ambiguous application name, treating as miss", "name", name)
			return nil, repository.ErrNotFound
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("look up application by name: %w", err)
	}
	return app, nil
}

func isMiss(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}

// recordCheckIn persists the usage report in a detached goroutine. The
// response path does not wait for it; failures are logged and swallowed.
func (s *Service) recordCheckIn(app *domain.Application, ident sparkle.Identity, req Request) {
	clientHash := sparkle.AnonymizeClient(req.ClientIP, s.now())
	q := req.Query

	report := sparkle.NormalizeReport(app.ID, clientHash, sparkle.ReportFields{
		AppVersion: ident.Version,
		OSVersion:  q.Get("osVersion"),
		CPUType:    q.Get("cputype"),
		CPUSubtype: q.Get("cpusubtype"),
		CPU64Bit:   q.Get("cpu64bit"),
		CPUFreqMHz: q.Get("cpuFreqMHz"),
		NumCPU:     q.Get("ncpu"),
		RAMMB:      q.Get("ramMB"),
		Language:   q.Get("lang"),
		Model:      q.Get("model"),
	}, ident.Source)
	report.ReceivedAt = s.now().UTC()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), checkInTimeout)
		defer cancel()
		if err := s.reports.InsertReport(ctx, &report); err != nil {
			s.logger.Error("failed to record check-in", "app_id", app.ID, "error", err)
		}
	}()
}

// fetchFeed retrieves the upstream manifest, retrying transport errors and
// server-side statuses with exponential backoff.
func (s *Service) fetchFeed(ctx context.Context, feedURL string) (*Feed, error) {
	var feed *Feed
	backoff := retry.WithMaxRetries(uint64(s.retries), retry.NewExponential(retryBackoffBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", s.userAgent)

		resp, err := s.client.Do(req)
		if err != nil {
			return retry.RetryableError(&UpstreamError{Err: err})
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			upstreamErr := &UpstreamError{Status: resp.StatusCode}
			if resp.StatusCode >= 500 {
				return retry.RetryableError(upstreamErr)
			}
			return upstreamErr
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
		if err != nil {
			return retry.RetryableError(&UpstreamError{Err: err})
		}

		feed = &Feed{
			Body:         body,
			ContentType:  resp.Header.Get("Content-Type"),
			LastModified: resp.Header.Get("Last-Modified"),
			ETag:         resp.Header.Get("ETag"),
		}
		return nil
	})
	if err != nil {
		var upstreamErr *UpstreamError
		if errors.As(err, &upstreamErr) {
			return nil, upstreamErr
		}
		return nil, &UpstreamError{Err: err}
	}
	return feed, nil
}

// Close waits for any in-flight check-in writes to finish.
func (s *Service) Close() {
	s.wg.Wait()
}
