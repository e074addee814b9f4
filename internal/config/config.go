// Package config provides configuration for the session daemon and the relay.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the session daemon configuration.
type Config struct {
	// Local UI API
	HTTPPort int

	// Backend endpoints
	BackendURL  string
	RealtimeURL string
	AuthToken   string
	// AuthSecret verifies AuthToken's HMAC signature when set
	AuthSecret string

	// Session store
	StoreDriver string // memory, sqlite or redis
	StoreDSN    string
	RedisAddr   string
	RedisDB     int

	// Notifications
	NotifyCapacity       int
	VisibilityPolicyFile string

	// Presence
	TypingTimeout time.Duration

	// WebSocket settings
	DialTimeout    time.Duration
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// REST settings
	RequestTimeout time.Duration

	// Logging
	LogLevel    string
	Environment string
}

// RelayConfig holds the development relay configuration.
type RelayConfig struct {
	WSPort   int
	HTTPPort int

	// Token, when set, must be presented as a bearer token on /ws.
	Token string

	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	LogLevel    string
	Environment string
}

// Load loads the daemon configuration from the environment, reading .env first if present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPPort:             getEnvInt("HTTP_PORT", 8095),
		BackendURL:           getEnv("BACKEND_URL", "http://localhost:5000"),
		RealtimeURL:          getEnv("REALTIME_URL", "ws://localhost:8090/ws"),
		AuthToken:            getEnv("AUTH_TOKEN", ""),
		AuthSecret:           getEnv("AUTH_JWT_SECRET", ""),
		StoreDriver:          getEnv("STORE_DRIVER", "sqlite"),
		StoreDSN:             getEnv("STORE_DSN", "file:storepulse.db?cache=shared&mode=rwc"),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		NotifyCapacity:       getEnvInt("NOTIFY_CAPACITY", 50),
		VisibilityPolicyFile: getEnv("VISIBILITY_POLICY_FILE", ""),
		TypingTimeout:        time.Duration(getEnvInt("TYPING_TIMEOUT_MS", 3000)) * time.Millisecond,
		DialTimeout:          time.Duration(getEnvInt("WS_DIAL_TIMEOUT_MS", 10000)) * time.Millisecond,
		PingInterval:         time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:         time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:          time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:       int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		RequestTimeout:       time.Duration(getEnvInt("REQUEST_TIMEOUT_MS", 15000)) * time.Millisecond,
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		Environment:          getEnv("ENVIRONMENT", "development"),
	}
}

// LoadRelay loads the relay configuration from the environment.
func LoadRelay() *RelayConfig {
	_ = godotenv.Load()

	return &RelayConfig{
		WSPort:         getEnvInt("RELAY_WS_PORT", 8090),
		HTTPPort:       getEnvInt("RELAY_HTTP_PORT", 8091),
		Token:          getEnv("RELAY_TOKEN", ""),
		PingInterval:   time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:   time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:    time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize: int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Environment:    getEnv("ENVIRONMENT", "development"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
