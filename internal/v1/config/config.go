package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Relay bounds. Overridable through the environment, the defaults are the
// contract the clients are built against.
const (
	DefaultMaxPlayersPerRoom   = 240
	DefaultRoomMaxAge          = 2 * time.Hour
	DefaultHostDisconnectGrace = 5 * time.Minute
)

// Config holds validated environment configuration
type Config struct {
	Port string

	GoEnv           string
	LogLevel        string
	DevelopmentMode bool
	AllowedOrigins  string

	// Relay bounds
	MaxPlayersPerRoom   int
	RoomMaxAge          time.Duration
	HostDisconnectGrace time.Duration

	// Rate limit for WebSocket upgrade attempts, ulule/limiter format
	RateLimitWsIP string
}

// ValidateEnv validates all environment variables and returns a Config object.
// Returns an error if any variable is present but invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// PORT (defaults to 8080)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "8080"
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Relay bounds
	var err error
	cfg.MaxPlayersPerRoom, err = intEnvOrDefault("MAX_PLAYERS_PER_ROOM", DefaultMaxPlayersPerRoom)
	if err != nil {
		errors = append(errors, err.Error())
	}
	cfg.RoomMaxAge, err = durationEnvOrDefault("ROOM_MAX_AGE", DefaultRoomMaxAge)
	if err != nil {
		errors = append(errors, err.Error())
	}
	cfg.HostDisconnectGrace, err = durationEnvOrDefault("HOST_DISCONNECT_GRACE", DefaultHostDisconnectGrace)
	if err != nil {
		errors = append(errors, err.Error())
	}

	// Upgrade attempts per IP (Defaults: M = Minute)
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "60-M")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

func intEnvOrDefault(key string, defaultValue int) (int, error) {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be a positive integer (got '%s')", key, raw)
	}
	return v, nil
}

func durationEnvOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration like '2h' or '5m' (got '%s')", key, raw)
	}
	return d, nil
}

func logValidatedConfig(cfg *Config) {
	slog.Info("Environment configuration validated")
	slog.Info("Configuration",
		"port", cfg.Port,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"max_players_per_room", cfg.MaxPlayersPerRoom,
		"room_max_age", cfg.RoomMaxAge,
		"host_disconnect_grace", cfg.HostDisconnectGrace,
		"rate_limit_ws_ip", cfg.RateLimitWsIP,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
