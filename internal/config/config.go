package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Application settings
	AppEnv        string
	AppPort       int
	FrontendURL   string
	RunMigrations bool

	// Database settings
	DatabaseURL                string
	DatabaseMaxConnections     int
	DatabaseMaxIdleConnections int
	DatabaseConnectionLifetime time.Duration

	// Infor ERP (IDO gateway) settings
	InforAPIBaseURL    string
	InforConfigName    string
	InforClientID      string
	InforClientSecret  string
	InforTokenEndpoint string
	InforScopes        string

	// Work-center code mapping: Infor code -> Gestima work_center_number, JSON object.
	InforWCMapping string

	// Sync scheduler settings
	SyncTickInterval        time.Duration
	SyncInitialLookbackDays int

	// File store settings
	FileStoreRoot  string
	TempExpiryHour int

	// OAuth / session settings. User login reuses the Infor OAuth client
	// registration (InforClientID/Secret) under the authorization_code
	// grant; OAuthAuthEndpoint is that registration's browser-facing
	// authorize URL and InforTokenEndpoint its token URL. erpclient uses
	// neither: it fetches its token from the IDO gateway with
	// UserId/Password headers.
	OAuthAuthEndpoint  string
	OAuthRedirectURI   string
	SessionSecret      string
	SessionDuration    time.Duration
	TokenRefreshBuffer time.Duration

	// CORS settings
	CORSAllowedOrigins   string
	CORSAllowCredentials bool

	// Logging
	LogLevel  string
	LogFormat string

	// NATS settings (sync/import progress events)
	NATSURL string

	// Rate limiting defaults (per ERP environment, overridable from settings table)
	ERPThrottleRequestsPerSecond float64
	ERPThrottleBurstSize         int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		AppPort:       getEnvAsInt("APP_PORT", 8080),
		FrontendURL:   getEnv("FRONTEND_URL", "http://localhost:3000"),
		RunMigrations: getEnvAsBool("RUN_MIGRATIONS", false),

		DatabaseURL:                getEnv("DATABASE_URL", ""),
		DatabaseMaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 25),
		DatabaseMaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
		DatabaseConnectionLifetime: getEnvAsDuration("DATABASE_CONNECTION_LIFETIME", 5*time.Minute),

		InforAPIBaseURL:    getEnv("INFOR_API_BASE_URL", ""),
		InforConfigName:    getEnv("INFOR_CONFIG_NAME", "TRN"),
		InforClientID:      getEnv("INFOR_CLIENT_ID", ""),
		InforClientSecret:  getEnv("INFOR_CLIENT_SECRET", ""),
		InforTokenEndpoint: getEnv("INFOR_TOKEN_ENDPOINT", ""),
		InforScopes:        getEnv("INFOR_SCOPES", "ido"),

		InforWCMapping: getEnv("INFOR_WC_MAPPING", "{}"),

		SyncTickInterval:        getEnvAsDuration("SYNC_TICK_INTERVAL", 5*time.Second),
		SyncInitialLookbackDays: getEnvAsInt("SYNC_INITIAL_LOOKBACK_DAYS", 30),

		FileStoreRoot:  getEnv("FILE_STORE_ROOT", "uploads"),
		TempExpiryHour: getEnvAsInt("FILE_TEMP_EXPIRY_HOURS", 24),

		OAuthAuthEndpoint:  getEnv("OAUTH_AUTH_ENDPOINT", ""),
		OAuthRedirectURI:   getEnv("OAUTH_REDIRECT_URI", "http://localhost:8080/api/auth/callback"),
		SessionSecret:      getEnv("SESSION_SECRET", ""),
		SessionDuration:    getEnvAsDuration("SESSION_DURATION", 24*time.Hour),
		TokenRefreshBuffer: getEnvAsDuration("TOKEN_REFRESH_BUFFER", 5*time.Minute),

		CORSAllowedOrigins:   getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		CORSAllowCredentials: getEnvAsBool("CORS_ALLOW_CREDENTIALS", true),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		NATSURL: getEnv("NATS_URL", "nats://localhost:4222"),

		ERPThrottleRequestsPerSecond: getEnvAsFloat("ERP_THROTTLE_REQUESTS_PER_SECOND", 10),
		ERPThrottleBurstSize:         getEnvAsInt("ERP_THROTTLE_BURST_SIZE", 5),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}
	name := c.InforConfigName
	for _, forbidden := range []string{"LIVE", "PROD", "PRODUCTION", "SL"} {
		if equalFold(name, forbidden) {
			return fmt.Errorf("INFOR_CONFIG_NAME %q refers to a production configuration, refusing to start", name)
		}
	}
	return nil
}

// WorkCenterMapping parses InforWCMapping into a Go map.
func (c *Config) WorkCenterMapping() (map[string]string, error) {
	mapping := map[string]string{}
	if c.InforWCMapping == "" {
		return mapping, nil
	}
	if err := json.Unmarshal([]byte(c.InforWCMapping), &mapping); err != nil {
		return nil, fmt.Errorf("invalid INFOR_WC_MAPPING JSON: %w", err)
	}
	return mapping, nil
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'a' <= ca && ca <= 'z' {
			ca -= 'a' - 'A'
		}
		if 'a' <= cb && cb <= 'z' {
			cb -= 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Helper functions for reading environment variables, in the project's
// established style.

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
