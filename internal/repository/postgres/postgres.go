package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/feedbeacon/feedbeacon/internal/domain"
	"github.com/feedbeacon/feedbeacon/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ApplicationRepository = (*Repository)(nil)
	_ repository.ReportRepository      = (*Repository)(nil)
	_ repository.StatsRepository       = (*Repository)(nil)
)

const uniqueViolation = "23505"

// CreateApplication inserts an application record.
func (r *Repository) CreateApplication(ctx context.Context, app *domain.Application) error {
	const query = `INSERT INTO applications (id, bundle_id, name, short_name, feed_base_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query,
		app.ID,
		app.BundleID,
		app.Name,
		nilIfEmpty(app.ShortName),
		nilIfEmpty(app.FeedBaseURL),
		app.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return repository.ErrConflict
		}
		return err
	}
	return nil
}

const applicationColumns = `id, bundle_id, name, COALESCE(short_name, ''), COALESCE(feed_base_url, ''), created_at`

// GetApplicationByBundleID fetches an application by its bundle identifier.
func (r *Repository) GetApplicationByBundleID(ctx context.Context, bundleID string) (*domain.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE bundle_id = $1`
	row := r.pool.QueryRow(ctx, query, bundleID)
	var app domain.Application
	if err := row.Scan(&app.ID, &app.BundleID, &app.Name, &app.ShortName, &app.FeedBaseURL, &app.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &app, nil
}

// GetApplicationByName matches the display name or the short name. The match
// is case-sensitive; two different applications matching on different fields
// is an ambiguous lookup.
func (r *Repository) GetApplicationByName(ctx context.Context, name string) (*domain.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications
		WHERE name = $1 OR short_name = $1
		LIMIT 2`
	rows, err := r.pool.Query(ctx, query, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	apps := make([]domain.Application, 0, 2)
	for rows.Next() {
		var app domain.Application
		if err := rows.Scan(&app.ID, &app.BundleID, &app.Name, &app.ShortName, &app.FeedBaseURL, &app.CreatedAt); err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(apps) {
	case 0:
		return nil, repository.ErrNotFound
	case 1:
		return &apps[0], nil
	default:
		return nil, repository.ErrAmbiguous
	}
}

// ListApplications pages through registered applications.
func (r *Repository) ListApplications(ctx context.Context, limit, offset int) ([]domain.Application, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM applications`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count applications: %w", err)
	}

	query := `SELECT ` + applicationColumns + ` FROM applications
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	apps := make([]domain.Application, 0)
	for rows.Next() {
		var app domain.Application
		if err := rows.Scan(&app.ID, &app.BundleID, &app.Name, &app.ShortName, &app.FeedBaseURL, &app.CreatedAt); err != nil {
			return nil, 0, err
		}
		apps = append(apps, app)
	}
	return apps, total, rows.Err()
}

// InsertReport persists one usage report.
func (r *Repository) InsertReport(ctx context.Context, report *domain.UsageReport) error {
	if report == nil {
		return fmt.Errorf("usage report required")
	}
	const query = `INSERT INTO usage_reports (
		app_id,
		client_hash,
		app_version,
		os_version,
		cpu_arch,
		cpu_type,
		cpu_subtype,
		cpu64,
		cpu_freq_mhz,
		ncpu,
		ram_mb,
		language,
		model,
		identified_by,
		received_at
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,COALESCE($15, NOW())
	) RETURNING id, received_at`
	err := r.pool.QueryRow(ctx, query,
		report.AppID,
		report.ClientHash,
		nilIfEmpty(report.AppVersion),
		nilIfEmpty(report.OSVersion),
		nilIfEmpty(report.CPUArch),
		nilIfEmpty(report.CPUType),
		nilIfEmpty(report.CPUSubtype),
		boolPtrToNil(report.CPU64Bit),
		intPtrToNil(report.CPUFreqMHz),
		intPtrToNil(report.NumCPU),
		intPtrToNil(report.RAMMB),
		nilIfEmpty(report.Language),
		nilIfEmpty(report.Model),
		nilIfEmpty(report.IdentifiedBy),
		nilTime(report.ReceivedAt),
	).Scan(&report.ID, &report.ReceivedAt)
	if err != nil {
		return fmt.Errorf("insert usage report: %w", err)
	}
	return nil
}

const reportColumns = `id, app_id, client_hash,
	COALESCE(app_version, ''), COALESCE(os_version, ''), COALESCE(cpu_arch, ''),
	COALESCE(cpu_type, ''), COALESCE(cpu_subtype, ''),
	cpu64, cpu_freq_mhz, ncpu, ram_mb,
	COALESCE(language, ''), COALESCE(model, ''), COALESCE(identified_by, ''),
	received_at`

// ListReportsByApp returns the most recent usage reports for an application.
func (r *Repository) ListReportsByApp(ctx context.Context, appID string, limit, offset int) ([]domain.UsageReport, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + reportColumns + ` FROM usage_reports
		WHERE app_id = $1
		ORDER BY received_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, appID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := make([]domain.UsageReport, 0)
	for rows.Next() {
		var report domain.UsageReport
		if err := rows.Scan(
			&report.ID,
			&report.AppID,
			&report.ClientHash,
			&report.AppVersion,
			&report.OSVersion,
			&report.CPUArch,
			&report.CPUType,
			&report.CPUSubtype,
			&report.CPU64Bit,
			&report.CPUFreqMHz,
			&report.NumCPU,
			&report.RAMMB,
			&report.Language,
			&report.Model,
			&report.IdentifiedBy,
			&report.ReceivedAt,
		); err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

// DailyUsage aggregates distinct clients and report counts per UTC day.
func (r *Repository) DailyUsage(ctx context.Context, appID string, since time.Time) ([]domain.DailyUsage, error) {
	const query = `SELECT
		date_trunc('day', received_at AT TIME ZONE 'UTC') AS day,
		COUNT(DISTINCT client_hash) AS unique_clients,
		COUNT(*) AS reports
	FROM usage_reports
	WHERE app_id = $1 AND received_at >= $2
	GROUP BY day
	ORDER BY day`
	rows, err := r.pool.Query(ctx, query, appID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usage := make([]domain.DailyUsage, 0)
	for rows.Next() {
		var d domain.DailyUsage
		if err := rows.Scan(&d.Day, &d.UniqueClients, &d.Reports); err != nil {
			return nil, err
		}
		usage = append(usage, d)
	}
	return usage, rows.Err()
}

// breakdownColumns whitelists the report attributes a breakdown may group by.
var breakdownColumns = map[domain.BreakdownField]string{
	domain.BreakdownAppVersion: "app_version",
	domain.BreakdownOSVersion:  "os_version",
	domain.BreakdownCPUArch:    "cpu_arch",
	domain.BreakdownLanguage:   "language",
	domain.BreakdownModel:      "model",
}

// Breakdown counts reports per value of the selected attribute.
func (r *Repository) Breakdown(ctx context.Context, appID string, field domain.BreakdownField, since time.Time, limit int) ([]domain.BreakdownRow, error) {
	column, ok := breakdownColumns[field]
	if !ok {
		return nil, fmt.Errorf("unsupported breakdown field %q", field)
	}
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT COALESCE(%s, '') AS value, COUNT(*) AS reports
		FROM usage_reports
		WHERE app_id = $1 AND received_at >= $2
		GROUP BY value
		ORDER BY reports DESC, value
		LIMIT $3`, column)
	rows, err := r.pool.Query(ctx, query, appID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	breakdown := make([]domain.BreakdownRow, 0)
	for rows.Next() {
		var row domain.BreakdownRow
		if err := rows.Scan(&row.Value, &row.Count); err != nil {
			return nil, err
		}
		breakdown = append(breakdown, row)
	}
	return breakdown, rows.Err()
}

func nilIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func intPtrToNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolPtrToNil(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}

func nilTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
