package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DisplayConfig is one configured display: the id used on the wire and a label for UIs
type DisplayConfig struct {
	ID   string
	Name string
}

type Config struct {
	// Environment
	GoEnv string `env:"GO_ENV" default:"development"`

	// HTTP / WebSocket listener
	HTTPHost string `env:"HTTP_HOST" default:"0.0.0.0"`
	HTTPPort int    `env:"HTTP_PORT" default:"5620"`
	WSPath   string `env:"WS_PATH" default:"/app"`

	// Raw TCP control port, 0 disables it
	TCPPort int `env:"TCP_PORT" default:"0"`

	// Shared state defaults
	SystemName          string          `env:"SYSTEM_NAME" default:"Panel Bridge Example"`
	Displays            []DisplayConfig `env:"DISPLAYS" default:"display_1:Left Display,display_2:Right Display"`
	DisplayDefaultPower bool            `env:"DISPLAY_DEFAULT_POWER" default:"true"`
	CounterDefault      int64           `env:"COUNTER_DEFAULT" default:"42"`

	// Relay behaviour
	EchoMode          string  `env:"ECHO_MODE" default:"origin"`
	UnknownPolicy     string  `env:"UNKNOWN_POLICY" default:"drop"`
	DefaultCodec      string  `env:"DEFAULT_CODEC" default:"pipe"`
	SessionRateLimit  float64 `env:"SESSION_RATE_LIMIT" default:"10"`
	SessionRateBurst  int     `env:"SESSION_RATE_BURST" default:"20"`
	SessionSendBuffer int     `env:"SESSION_SEND_BUFFER" default:"64"`

	// Authentication
	PanelJWTSecret    string        `env:"PANEL_JWT_SECRET"`
	PanelTokenTTL     time.Duration `env:"PANEL_TOKEN_TTL" default:"720h"`
	AdminUser         string        `env:"ADMIN_USER"`
	AdminPasswordHash string        `env:"ADMIN_PASSWORD_HASH"`

	// State persistence
	StateStore    string `env:"STATE_STORE" default:"memory"`
	RedisURL      string `env:"REDIS_URL" default:"redis://localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	// Command audit log (Postgres)
	DatabaseURL string `env:"DATABASE_URL"`

	// MQTT bridge
	MQTTBroker    string `env:"MQTT_BROKER"`
	MQTTClientID  string `env:"MQTT_CLIENT_ID" default:"panelbridge"`
	MQTTTopicRoot string `env:"MQTT_TOPIC_ROOT" default:"panelbridge"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"json"`

	// TLS
	TLSEnabled  bool   `env:"TLS_ENABLED" default:"false"`
	TLSCertPath string `env:"TLS_CERT_PATH" default:"./cert/server.pem"`
	TLSKeyPath  string `env:"TLS_KEY_PATH" default:"./cert/server-key.pem"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// .env is optional, system env vars still apply
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		slog.Warn("dotenv_load_failed", "error", err)
	}

	config := &Config{}

	if err := loadEnvString(&config.GoEnv, "GO_ENV", "development"); err != nil {
		return nil, err
	}

	// Listener
	if err := loadEnvString(&config.HTTPHost, "HTTP_HOST", "0.0.0.0"); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.HTTPPort, "HTTP_PORT", 5620); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.WSPath, "WS_PATH", "/app"); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(config.WSPath, "/") {
		config.WSPath = "/" + config.WSPath
	}
	if err := loadEnvInt(&config.TCPPort, "TCP_PORT", 0); err != nil {
		return nil, err
	}

	// Shared state defaults
	if err := loadEnvString(&config.SystemName, "SYSTEM_NAME", "Panel Bridge Example"); err != nil {
		return nil, err
	}
	if err := loadEnvDisplays(&config.Displays, "DISPLAYS", "display_1:Left Display,display_2:Right Display"); err != nil {
		return nil, err
	}
	if err := loadEnvBool(&config.DisplayDefaultPower, "DISPLAY_DEFAULT_POWER", true); err != nil {
		return nil, err
	}
	if err := loadEnvInt64(&config.CounterDefault, "COUNTER_DEFAULT", 42); err != nil {
		return nil, err
	}

	// Relay behaviour
	if err := loadEnvString(&config.EchoMode, "ECHO_MODE", "origin"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.UnknownPolicy, "UNKNOWN_POLICY", "drop"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.DefaultCodec, "DEFAULT_CODEC", "pipe"); err != nil {
		return nil, err
	}
	if err := loadEnvFloat(&config.SessionRateLimit, "SESSION_RATE_LIMIT", 10); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.SessionRateBurst, "SESSION_RATE_BURST", 20); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.SessionSendBuffer, "SESSION_SEND_BUFFER", 64); err != nil {
		return nil, err
	}

	// Authentication
	if err := loadEnvString(&config.PanelJWTSecret, "PANEL_JWT_SECRET", ""); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.PanelTokenTTL, "PANEL_TOKEN_TTL", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.AdminUser, "ADMIN_USER", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.AdminPasswordHash, "ADMIN_PASSWORD_HASH", ""); err != nil {
		return nil, err
	}

	// State persistence
	if err := loadEnvString(&config.StateStore, "STATE_STORE", "memory"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.RedisURL, "REDIS_URL", "redis://localhost:6379"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.RedisPassword, "REDIS_PASSWORD", ""); err != nil {
		return nil, err
	}

	// Audit log
	if err := loadEnvString(&config.DatabaseURL, "DATABASE_URL", ""); err != nil {
		return nil, err
	}

	// MQTT
	if err := loadEnvString(&config.MQTTBroker, "MQTT_BROKER", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.MQTTClientID, "MQTT_CLIENT_ID", "panelbridge"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.MQTTTopicRoot, "MQTT_TOPIC_ROOT", "panelbridge"); err != nil {
		return nil, err
	}

	// Logging
	if err := loadEnvString(&config.LogLevel, "LOG_LEVEL", "info"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFormat, "LOG_FORMAT", "json"); err != nil {
		return nil, err
	}

	// TLS
	if err := loadEnvBool(&config.TLSEnabled, "TLS_ENABLED", false); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.TLSCertPath, "TLS_CERT_PATH", "./cert/server.pem"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.TLSKeyPath, "TLS_KEY_PATH", "./cert/server-key.pem"); err != nil {
		return nil, err
	}
	return config, nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt64(target *int64, key string, defaultValue int64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvBool(target *bool, key string, defaultValue bool) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

// loadEnvDisplays parses "id:Label,id:Label"; a missing label falls back to the id
func loadEnvDisplays(target *[]DisplayConfig, key, defaultValue string) error {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	displays, err := ParseDisplays(value)
	if err != nil {
		return fmt.Errorf("invalid display list for %s: %v", key, err)
	}
	*target = displays
	return nil
}

// ParseDisplays parses a comma separated display list in configured order
func ParseDisplays(value string) ([]DisplayConfig, error) {
	var displays []DisplayConfig
	seen := make(map[string]bool)
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, name, _ := strings.Cut(item, ":")
		id = strings.TrimSpace(id)
		name = strings.TrimSpace(name)
		if id == "" {
			return nil, fmt.Errorf("empty display id in %q", item)
		}
		if strings.ContainsAny(id, "|.") {
			return nil, fmt.Errorf("display id %q must not contain '|' or '.'", id)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate display id %q", id)
		}
		seen[id] = true
		if name == "" {
			name = id
		}
		displays = append(displays, DisplayConfig{ID: id, Name: name})
	}
	return displays, nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errors = append(errors, "HTTP_PORT must be between 1 and 65535")
	}

	if c.TCPPort < 0 || c.TCPPort > 65535 {
		errors = append(errors, "TCP_PORT must be between 0 and 65535")
	}
	if c.TCPPort != 0 && c.TCPPort == c.HTTPPort {
		errors = append(errors, "TCP_PORT must differ from HTTP_PORT")
	}

	if len(c.Displays) == 0 {
		errors = append(errors, "DISPLAYS must name at least one display")
	}
	if strings.Contains(c.SystemName, "|") {
		errors = append(errors, "SYSTEM_NAME must not contain '|'")
	}

	validEchoModes := []string{"all", "origin"}
	if !contains(validEchoModes, c.EchoMode) {
		errors = append(errors, fmt.Sprintf("ECHO_MODE must be one of: %s", strings.Join(validEchoModes, ", ")))
	}
	validPolicies := []string{"drop", "reject"}
	if !contains(validPolicies, c.UnknownPolicy) {
		errors = append(errors, fmt.Sprintf("UNKNOWN_POLICY must be one of: %s", strings.Join(validPolicies, ", ")))
	}
	validCodecs := []string{"pipe", "json"}
	if !contains(validCodecs, c.DefaultCodec) {
		errors = append(errors, fmt.Sprintf("DEFAULT_CODEC must be one of: %s", strings.Join(validCodecs, ", ")))
	}

	if c.SessionRateLimit <= 0 {
		errors = append(errors, "SESSION_RATE_LIMIT must be positive")
	}
	if c.SessionRateBurst < 1 {
		errors = append(errors, "SESSION_RATE_BURST must be at least 1")
	}
	if c.SessionSendBuffer < 1 {
		errors = append(errors, "SESSION_SEND_BUFFER must be at least 1")
	}

	if c.PanelJWTSecret != "" && len(c.PanelJWTSecret) < 32 {
		errors = append(errors, "PANEL_JWT_SECRET should be at least 32 characters long")
	}
	if (c.AdminUser == "") != (c.AdminPasswordHash == "") {
		errors = append(errors, "ADMIN_USER and ADMIN_PASSWORD_HASH must be set together")
	}

	validStores := []string{"memory", "redis"}
	if !contains(validStores, c.StateStore) {
		errors = append(errors, fmt.Sprintf("STATE_STORE must be one of: %s", strings.Join(validStores, ", ")))
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if c.TLSEnabled && (c.TLSCertPath == "" || c.TLSKeyPath == "") {
		errors = append(errors, "TLS_CERT_PATH and TLS_KEY_PATH are required when TLS_ENABLED is true")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// AdminEnabled reports whether the admin REST routes should be registered
func (c *Config) AdminEnabled() bool {
	return c.AdminUser != "" && c.AdminPasswordHash != ""
}

// ListenAddr returns host:port for the HTTP server
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPHost, c.HTTPPort)
}

// TCPListenAddr returns host:port for the control port, empty when disabled
func (c *Config) TCPListenAddr() string {
	if c.TCPPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.HTTPHost, c.TCPPort)
}

// RedisAddr strips the redis:// scheme the same way the servers always have
func (c *Config) RedisAddr() string {
	addr := strings.TrimPrefix(c.RedisURL, "redis://")
	return strings.TrimPrefix(addr, "rediss://")
}

// SlogLevel maps LOG_LEVEL to a slog.Level
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
