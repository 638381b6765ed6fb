package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Database
	DatabaseURL    string
	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	DBSSLMode      string
	DBMaxOpenConns int
	DBMaxIdleConns int
	DBAutoMigrate  bool

	// Identity provider (token issuer)
	AuthBaseURL            string
	JWKSURL                string
	JWKSCacheTTL           time.Duration
	JWKSStaleGrace         time.Duration
	JWKSFetchTimeout       time.Duration
	JWKSMinRefreshInterval time.Duration

	// Token verification
	JWTSharedSecret string
	JWTIssuer       string
	JWTAudience     string
	JWTLeeway       time.Duration
	JWTVerifyIAT    bool
	JWTAlgorithms   []string

	// Server
	Port               string
	AppEnv             string
	CORSOrigins        string
	RequestTimeout     time.Duration
	RateLimitPerMinute int

	// Observability
	SentryDSN        string
	LogRetentionDays int
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real env vars take precedence.
func Load() *Config {
	_ = godotenv.Load()

	authBaseURL := strings.TrimRight(getEnv("AUTH_BASE_URL", "http://localhost:3000"), "/")

	return &Config{
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "todo_db"),
		DBSSLMode:      getEnv("DB_SSLMODE", "disable"),
		DBMaxOpenConns: parseInt(getEnv("DB_MAX_OPEN_CONNS", "50"), 50),
		DBMaxIdleConns: parseInt(getEnv("DB_MAX_IDLE_CONNS", "25"), 25),
		DBAutoMigrate:  parseBool(getEnv("DB_AUTO_MIGRATE", "true"), true),

		AuthBaseURL:            authBaseURL,
		JWKSURL:                getEnv("JWKS_URL", authBaseURL+"/api/auth/jwks"),
		JWKSCacheTTL:           parseDuration(getEnv("JWKS_CACHE_TTL", "10m"), 10*time.Minute),
		JWKSStaleGrace:         parseDuration(getEnv("JWKS_STALE_GRACE", "1h"), time.Hour),
		JWKSFetchTimeout:       parseDuration(getEnv("JWKS_FETCH_TIMEOUT", "5s"), 5*time.Second),
		JWKSMinRefreshInterval: parseDuration(getEnv("JWKS_MIN_REFRESH_INTERVAL", "30s"), 30*time.Second),

		JWTSharedSecret: getEnv("JWT_SHARED_SECRET", ""),
		JWTIssuer:       getEnv("JWT_ISSUER", ""),
		JWTAudience:     getEnv("JWT_AUDIENCE", ""),
		JWTLeeway:       parseDuration(getEnv("JWT_LEEWAY", "0s"), 0),
		JWTVerifyIAT:    parseBool(getEnv("JWT_VERIFY_IAT", "true"), true),
		JWTAlgorithms:   parseCSV(getEnv("JWT_ALGORITHMS", "EdDSA,RS256,RS384,RS512,PS256,PS384,PS512,ES256,ES384,ES512")),

		Port:               getEnv("PORT", "8000"),
		AppEnv:             getEnv("APP_ENV", "development"),
		CORSOrigins:        getEnv("CORS_ORIGINS", "http://localhost:3000"),
		RequestTimeout:     parseDuration(getEnv("REQUEST_TIMEOUT", "10s"), 10*time.Second),
		RateLimitPerMinute: parseInt(getEnv("RATE_LIMIT_PER_MINUTE", "120"), 120),

		SentryDSN:        getEnv("SENTRY_DSN", ""),
		LogRetentionDays: parseInt(getEnv("LOG_RETENTION_DAYS", "30"), 30),
	}
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	if c.JWKSURL == "" && c.JWTSharedSecret == "" {
		return errors.New("either JWKS_URL (or AUTH_BASE_URL) or JWT_SHARED_SECRET must be set")
	}
	if c.DatabaseURL == "" && c.DBPassword == "" {
		return errors.New("DATABASE_URL or DB_PASSWORD must be set")
	}
	if len(c.JWTAlgorithms) == 0 && c.JWTSharedSecret == "" {
		return errors.New("JWT_ALGORITHMS must list at least one algorithm")
	}
	return nil
}

func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func parseBool(s string, fallback bool) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return fallback
	}
	return b
}

func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
