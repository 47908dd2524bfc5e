package config

import "time"

// ServerConfig holds runtime configuration for the telemetry service.
type ServerConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	AdminToken         string
	UpstreamTimeout    time.Duration
	UpstreamRetries    int
	UpstreamUserAgent  string
	IngestRateLimit    int
	AppcastRateLimit   int
	RateLimitWindow    time.Duration
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadServerConfig constructs a ServerConfig from environment variables.
func LoadServerConfig() ServerConfig {
	return ServerConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("HTTP_ADDR", ":8080"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://feedbeacon:feedbeacon@db:5432/feedbeacon?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		AdminToken:         GetString("ADMIN_TOKEN", ""),
		UpstreamTimeout:    time.Duration(GetInt("UPSTREAM_TIMEOUT_SECONDS", 15)) * time.Second,
		UpstreamRetries:    GetInt("UPSTREAM_RETRIES", 2),
		UpstreamUserAgent:  GetString("UPSTREAM_USER_AGENT", "feedbeacon-appcast-proxy/1.0"),
		IngestRateLimit:    GetInt("INGEST_RATE_LIMIT", 120),
		AppcastRateLimit:   GetInt("APPCAST_RATE_LIMIT", 120),
		RateLimitWindow:    time.Duration(GetInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
