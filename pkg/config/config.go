package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Calls    CallsConfig
	WebRTC   WebRTCConfig
	WhatsApp WhatsAppConfig
	OTEL     OTELConfig
	Log      LogConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// CallsConfig holds call scheduling and session store configuration
type CallsConfig struct {
	// PublicOrigin is the origin embedded in deep links, e.g. https://care.example.com
	PublicOrigin string
	// ReminderLead is how long before a scheduled call the reminder fires
	ReminderLead time.Duration
	// SessionTTL bounds how long an abandoned session record survives in the store
	SessionTTL time.Duration
	// StoreBackend selects the session store: "redis" or "memory"
	StoreBackend string
	// ScheduledCallCacheTTL is the read-through cache TTL for scheduled call lookups
	ScheduledCallCacheTTL time.Duration
	// CacheWarmHorizon is how far ahead pending calls are preloaded into the cache
	CacheWarmHorizon time.Duration
	// MaxActive is how long a call may stay active before the sweeper completes it
	MaxActive     time.Duration
	SweepInterval time.Duration
}

// WebRTCConfig holds peer connection configuration
type WebRTCConfig struct {
	ICEServers []string
	UDPPortMin int
	UDPPortMax int
	// DisconnectedTimeout is how long ICE may stay disconnected before it reports failed
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
}

// WhatsAppConfig holds WhatsApp Cloud API configuration for reminders
type WhatsAppConfig struct {
	AccessToken      string
	PhoneNumberID    string
	BaseURL          string
	ReminderTemplate string
	TemplateLanguage string
}

// Enabled reports whether WhatsApp credentials are configured
func (c *WhatsAppConfig) Enabled() bool {
	return c.AccessToken != "" && c.PhoneNumberID != ""
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// LogConfig holds logger configuration
type LogConfig struct {
	Env   string
	Level string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "telecare"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Calls: CallsConfig{
			PublicOrigin:          strings.TrimRight(getEnv("CALL_PUBLIC_ORIGIN", "http://localhost:5173"), "/"),
			ReminderLead:          getEnvAsDuration("CALL_REMINDER_LEAD", 5*time.Minute),
			SessionTTL:            getEnvAsDuration("CALL_SESSION_TTL", 6*time.Hour),
			StoreBackend:          getEnv("CALL_STORE_BACKEND", "redis"),
			ScheduledCallCacheTTL: getEnvAsDuration("CALL_CACHE_TTL", time.Minute),
			CacheWarmHorizon:      getEnvAsDuration("CALL_CACHE_WARM_HORIZON", time.Hour),
			MaxActive:             getEnvAsDuration("CALL_MAX_ACTIVE", 4*time.Hour),
			SweepInterval:         getEnvAsDuration("CALL_SWEEP_INTERVAL", 5*time.Minute),
		},
		WebRTC: WebRTCConfig{
			ICEServers:          getEnvAsList("WEBRTC_ICE_SERVERS", []string{"stun:stun.l.google.com:19302"}),
			UDPPortMin:          getEnvAsInt("WEBRTC_UDP_PORT_MIN", 0),
			UDPPortMax:          getEnvAsInt("WEBRTC_UDP_PORT_MAX", 0),
			DisconnectedTimeout: getEnvAsDuration("WEBRTC_DISCONNECTED_TIMEOUT", 30*time.Second),
			FailedTimeout:       getEnvAsDuration("WEBRTC_FAILED_TIMEOUT", 60*time.Second),
			KeepAliveInterval:   getEnvAsDuration("WEBRTC_KEEPALIVE_INTERVAL", 2*time.Second),
		},
		WhatsApp: WhatsAppConfig{
			AccessToken:      getEnv("WHATSAPP_ACCESS_TOKEN", ""),
			PhoneNumberID:    getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
			BaseURL:          getEnv("WHATSAPP_BASE_URL", "https://graph.facebook.com/v18.0"),
			ReminderTemplate: getEnv("WHATSAPP_REMINDER_TEMPLATE", ""),
			TemplateLanguage: getEnv("WHATSAPP_TEMPLATE_LANG", "en_US"),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "telecare-calls"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
		Log: LogConfig{
			Env:   getEnv("APP_ENV", "development"),
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Calls.StoreBackend {
	case "redis", "memory":
	default:
		return fmt.Errorf("invalid CALL_STORE_BACKEND %q (want redis or memory)", c.Calls.StoreBackend)
	}
	if c.Calls.ReminderLead <= 0 {
		return fmt.Errorf("CALL_REMINDER_LEAD must be positive")
	}
	if c.WebRTC.UDPPortMin > c.WebRTC.UDPPortMax {
		return fmt.Errorf("WEBRTC_UDP_PORT_MIN must not exceed WEBRTC_UDP_PORT_MAX")
	}
	return nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
