package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends selectable through STORE_BACKEND.
const (
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
	BackendMemory    = "memory"
)

// Config holds everything cmd/server needs to wire the pipeline.
type Config struct {
	Port     string
	LogLevel string

	StoreBackend string
	DatabaseURL  string

	FirebaseProjectID         string
	FirebaseStorageBucket     string
	FirebaseCredentialsBase64 string
	FirebaseCredentialsFile   string

	GeminiAPIKey     string
	GeminiModel      string
	OracleTimeout    time.Duration
	OracleMaxRetries int

	RedisAddr string
	RedisPass string
	RedisDB   int
	DedupTTL  time.Duration

	JWTSecret        string
	GoogleMapsAPIKey string

	// PushAudience is the OIDC audience storage event deliveries are minted
	// for; PushServiceAccount pins the delivering identity when set.
	PushAudience       string
	PushServiceAccount string
	// PushAuthDisabled leaves /events/storage open. Only for deployments
	// where the endpoint is reachable from the event source alone.
	PushAuthDisabled bool

	RescanInterval    time.Duration
	RescanStuckAfter  time.Duration
	RescanMaxAttempts int

	// LegacyCorrelation enables the heuristic match for uploads that carry
	// neither a reportId nor a URL stored on a report.
	LegacyCorrelation bool

	NotificationsEnabled bool
	AllowedOrigins       []string
}

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: could not load .env: %w", err)
	}

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", BackendFirestore)),
		DatabaseURL:  os.Getenv("DATABASE_URL"),

		FirebaseProjectID:         os.Getenv("FIREBASE_PROJECT_ID"),
		FirebaseStorageBucket:     os.Getenv("FIREBASE_STORAGE_BUCKET"),
		FirebaseCredentialsBase64: os.Getenv("FIREBASE_CREDENTIALS_BASE64"),
		FirebaseCredentialsFile:   getEnv("FIREBASE_CREDENTIALS_FILE", "firebase-service-account.json"),

		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		OracleTimeout:    getEnvAsDuration("ORACLE_TIMEOUT", 30*time.Second),
		OracleMaxRetries: getEnvAsInt("ORACLE_MAX_RETRIES", 2),

		RedisAddr: os.Getenv("REDIS_ADDR"),
		RedisPass: os.Getenv("REDIS_PASSWORD"),
		RedisDB:   getEnvAsInt("REDIS_DB", 0),
		DedupTTL:  getEnvAsDuration("DEDUP_TTL", 10*time.Minute),

		JWTSecret:        os.Getenv("APP_JWT_SECRET"),
		GoogleMapsAPIKey: os.Getenv("GOOGLE_MAPS_API_KEY"),

		PushAudience:       os.Getenv("PUSH_AUDIENCE"),
		PushServiceAccount: os.Getenv("PUSH_SERVICE_ACCOUNT"),
		PushAuthDisabled:   getEnvAsBool("PUSH_AUTH_DISABLED", false),

		RescanInterval:    getEnvAsDuration("RESCAN_INTERVAL", 5*time.Minute),
		RescanStuckAfter:  getEnvAsDuration("RESCAN_STUCK_AFTER", 30*time.Minute),
		RescanMaxAttempts: getEnvAsInt("RESCAN_MAX_ATTEMPTS", 3),

		LegacyCorrelation: getEnvAsBool("LEGACY_CORRELATION", true),

		NotificationsEnabled: getEnvAsBool("NOTIFICATIONS_ENABLED", true),
		AllowedOrigins:       getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendFirestore:
		if c.FirebaseProjectID == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID is required for the firestore backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("APP_JWT_SECRET environment variable is required")
	}
	if c.PushAudience == "" && !c.PushAuthDisabled {
		return fmt.Errorf("PUSH_AUDIENCE is required unless PUSH_AUTH_DISABLED=true")
	}
	if c.RescanMaxAttempts < 1 {
		return fmt.Errorf("RESCAN_MAX_ATTEMPTS must be at least 1, got %d", c.RescanMaxAttempts)
	}
	return nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
