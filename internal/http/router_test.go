package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/feedbeacon/feedbeacon/internal/domain"
	"github.com/feedbeacon/feedbeacon/internal/repository"
	"github.com/feedbeacon/feedbeacon/internal/service/appcast"
	"github.com/feedbeacon/feedbeacon/internal/service/directory"
	"github.com/feedbeacon/feedbeacon/internal/service/ingest"
	"github.com/feedbeacon/feedbeacon/internal/service/stats"
	"github.com/feedbeacon/feedbeacon/pkg/config"
)

const testAdminToken = "secret-token"

// stubStore backs every repository interface for router tests.
type stubStore struct {
	mu       sync.Mutex
	apps     map[string]*domain.Application
	inserted []domain.UsageReport
}

func newStubStore() *stubStore {
	return &stubStore{apps: make(map[string]*domain.Application)}
}

func (s *stubStore) CreateApplication(_ context.Context, app *domain.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[app.BundleID]; ok {
		return repository.ErrConflict
	}
	s.apps[app.BundleID] = app
	return nil
}

func (s *stubStore) GetApplicationByBundleID(_ context.Context, bundleID string) (*domain.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if app, ok := s.apps[bundleID]; ok {
		return app, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubStore) GetApplicationByName(_ context.Context, name string) (*domain.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *domain.Application
	for _, app := range s.apps {
		if app.Name == name || app.ShortName == name {
			if found != nil {
				return nil, repository.ErrAmbiguous
			}
			found = app
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

func (s *stubStore) ListApplications(context.Context, int, int) ([]domain.Application, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	apps := make([]domain.Application, 0, len(s.apps))
	for _, app := range s.apps {
		apps = append(apps, *app)
	}
	return apps, len(apps), nil
}

func (s *stubStore) InsertReport(_ context.Context, report *domain.UsageReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	report.ID = int64(len(s.inserted) + 1)
	if report.ReceivedAt.IsZero() {
		report.ReceivedAt = time.Now().UTC()
	}
	s.inserted = append(s.inserted, *report)
	return nil
}

func (s *stubStore) ListReportsByApp(_ context.Context, appID string, _, _ int) ([]domain.UsageReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reports := make([]domain.UsageReport, 0)
	for _, r := range s.inserted {
		if r.AppID == appID {
			reports = append(reports, r)
		}
	}
	return reports, nil
}

func (s *stubStore) DailyUsage(context.Context, string, time.Time) ([]domain.DailyUsage, error) {
	return []domain.DailyUsage{{Day: time.Date(2026, time.March, 14, 0, 0, 0, 0, time.UTC), UniqueClients: 3, Reports: 7}}, nil
}

func (s *stubStore) Breakdown(context.Context, string, domain.BreakdownField, time.Time, int) ([]domain.BreakdownRow, error) {
	return []domain.BreakdownRow{{Value: "2.1.3", Count: 5}}, nil
}

func (s *stubStore) insertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserted)
}

type routerFixture struct {
	router  *Router
	store   *stubStore
	appcast *appcast.Service
}

func newRouterFixture(t *testing.T, cfg config.ServerConfig) *routerFixture {
	t.Helper()
	store := newStubStore()

	ingestSvc := ingest.New(store, store, nil)
	appcastSvc := appcast.New(store, store, nil, 5*time.Second, 0, "test-agent/1.0")
	t.Cleanup(appcastSvc.Close)
	statsSvc := stats.New(store, store, store, nil)
	directorySvc := directory.New(store, nil)

	if cfg.AdminToken == "" {
		cfg.AdminToken = testAdminToken
	}
	if cfg.RateLimitWindow == 0 {
		cfg.RateLimitWindow = time.Minute
	}

	router := NewRouter(nil, ingestSvc, appcastSvc, statsSvc, directorySvc, NewMemoryRateLimiter(), cfg, nil)
	return &routerFixture{router: router, store: store, appcast: appcastSvc}
}

func (f *routerFixture) registerApp(t *testing.T, feedURL string) *domain.Application {
	t.Helper()
	app := &domain.Application{
		ID:          "app-1",
		BundleID:    "com.acme.widget",
		Name:        "Widget Studio",
		ShortName:   "Widget",
		FeedBaseURL: feedURL,
		CreatedAt:   time.Now().UTC(),
	}
	if err := f.store.CreateApplication(context.Background(), app); err != nil {
		t.Fatalf("seed application: %v", err)
	}
	return app
}

func doJSON(t *testing.T, router *Router, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestIngestEndpoint(t *testing.T) {
	f := newRouterFixture(t, config.ServerConfig{})
	f.registerApp(t, "https://example.com/updates")

	rec := doJSON(t, f.router, http.MethodPost, "/v1/report", map[string]string{
		"bundleIdentifier": "com.acme.widget",
		"appVersion":       "2.1.3",
		"ncpu":             "8",
	}, map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := f.store.insertCount(); got != 1 {
		t.Fatalf("expected one stored report, got %d", got)
	}

	rec = doJSON(t, f.router, http.MethodPost, "/v1/report", map[string]string{"appVersion": "2.1.3"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing identifier should be 400, got %d", rec.Code)
	}

	rec = doJSON(t, f.router, http.MethodPost, "/v1/report", map[string]string{"bundleIdentifier": "com.acme.missing"}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown application should be 404, got %d", rec.Code)
	}

	rec = doJSON(t, f.router, http.MethodGet, "/v1/report", nil, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET should be 405, got %d", rec.Code)
	}
}

func TestAppcastEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Header().Set("ETag", `"v42"`)
		_, _ = w.Write([]byte("<rss>feed</rss>"))
	}))
	defer upstream.Close()

	f := newRouterFixture(t, config.ServerConfig{})
	f.registerApp(t, upstream.URL)

	rec := doJSON(t, f.router, http.MethodGet, "/appcast/appcast.xml?bundleIdentifier=com.acme.widget", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "<rss>feed</rss>" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache, no-store, must-revalidate" {
		t.Fatalf("unexpected Cache-Control %q", cc)
	}
	if rec.Header().Get("X-Feedbeacon-Proxy") != "1" {
		t.Fatal("proxy marker header missing")
	}
	if rec.Header().Get("ETag") != `"v42"` {
		t.Fatal("upstream ETag should pass through")
	}

	f.appcast.Close()
	if got := f.store.insertCount(); got != 1 {
		t.Fatalf("expected one recorded check-in, got %d", got)
	}

	rec = doJSON(t, f.router, http.MethodGet, "/appcast/appcast.xml", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing identifier should be 400, got %d", rec.Code)
	}

	rec = doJSON(t, f.router, http.MethodGet, "/appcast/appcast.xml?bundleIdentifier=com.acme.missing", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown application should be 404, got %d", rec.Code)
	}
}

func TestAppcastUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	f := newRouterFixture(t, config.ServerConfig{})
	f.registerApp(t, upstream.URL)

	rec := doJSON(t, f.router, http.MethodGet, "/appcast/appcast.xml?bundleIdentifier=com.acme.widget", nil, nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("upstream failure should be 502, got %d", rec.Code)
	}

	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload["error"] == "" {
		t.Fatal("expected an error message")
	}
}

func TestAdminRegistry(t *testing.T) {
	f := newRouterFixture(t, config.ServerConfig{})
	adminHeader := map[string]string{"X-Admin-Token": testAdminToken}
	body := map[string]string{
		"bundleIdentifier": "com.acme.widget",
		"name":             "Widget Studio",
		"shortName":        "Widget",
		"feedURL":          "https://example.com/updates",
	}

	rec := doJSON(t, f.router, http.MethodPost, "/v1/apps", body, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token should be 401, got %d", rec.Code)
	}

	rec = doJSON(t, f.router, http.MethodPost, "/v1/apps", body, adminHeader)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, f.router, http.MethodPost, "/v1/apps", body, adminHeader)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate bundle id should be 409, got %d", rec.Code)
	}

	rec = doJSON(t, f.router, http.MethodPost, "/v1/apps", map[string]string{"name": "No Bundle"}, adminHeader)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing bundle id should be 400, got %d", rec.Code)
	}

	rec = doJSON(t, f.router, http.MethodGet, "/v1/apps", nil, adminHeader)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var listed struct {
		Applications []map[string]any `json:"applications"`
		Total        int              `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list body: %v", err)
	}
	if listed.Total != 1 || len(listed.Applications) != 1 {
		t.Fatalf("expected one listed application, got %+v", listed)
	}
}

func TestStatsEndpoints(t *testing.T) {
	f := newRouterFixture(t, config.ServerConfig{})
	f.registerApp(t, "")
	adminHeader := map[string]string{"X-Admin-Token": testAdminToken}

	rec := doJSON(t, f.router, http.MethodGet, "/v1/apps/com.acme.widget/stats/daily?days=7", nil, adminHeader)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var daily struct {
		Daily []map[string]any `json:"daily"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &daily); err != nil {
		t.Fatalf("decode daily body: %v", err)
	}
	if len(daily.Daily) != 1 {
		t.Fatalf("expected one daily row, got %d", len(daily.Daily))
	}

	rec = doJSON(t, f.router, http.MethodGet, "/v1/apps/com.acme.missing/stats/daily", nil, adminHeader)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown application should be 404, got %d", rec.Code)
	}

	rec = doJSON(t, f.router, http.MethodGet, "/v1/apps/com.acme.widget/stats/breakdown?field=favoriteColor", nil, adminHeader)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field should be 400, got %d", rec.Code)
	}

	rec = doJSON(t, f.router, http.MethodGet, "/v1/apps/com.acme.widget/stats/breakdown?field=appVersion", nil, adminHeader)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, f.router, http.MethodGet, "/v1/apps/com.acme.widget/reports", nil, adminHeader)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestIngestRateLimit(t *testing.T) {
	f := newRouterFixture(t, config.ServerConfig{IngestRateLimit: 1})
	f.registerApp(t, "")
	body := map[string]string{"bundleIdentifier": "com.acme.widget"}

	rec := doJSON(t, f.router, http.MethodPost, "/v1/report", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first request should pass, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "1" {
		t.Fatalf("unexpected limit header %q", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec = doJSON(t, f.router, http.MethodPost, "/v1/report", body, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be throttled, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("unexpected remaining header %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestHealthz(t *testing.T) {
	f := newRouterFixture(t, config.ServerConfig{})
	rec := doJSON(t, f.router, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	failing := newRouterFixture(t, config.ServerConfig{})
	failing.router.dbHealth = func(context.Context) error { return errors.New("connection refused") }
	rec = doJSON(t, failing.router, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
