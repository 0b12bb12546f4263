package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BotModePolling = "polling"
	BotModeWebhook = "webhook"
	BotModeOff     = "off"
)

// NumberPlaceholder must appear in API_URL.
const NumberPlaceholder = "{num}"

type Config struct {
	APIURL                        string `mapstructure:"API_URL"`
	MongoURI                      string `mapstructure:"MONGO_URI"`
	DBName                        string `mapstructure:"DB_NAME"`
	KeysCollection                string `mapstructure:"KEYS_COLLECTION"`
	DatabasePath                  string `mapstructure:"DATABASE_PATH"`
	TelegramToken                 string `mapstructure:"TELEGRAM_TOKEN"`
	AdminID                       int64  `mapstructure:"ADMIN_ID"`
	Host                          string `mapstructure:"APP_HOST"`
	Port                          int    `mapstructure:"APP_PORT"`
	PublicURL                     string `mapstructure:"PUBLIC_URL"`
	BotMode                       string `mapstructure:"BOT_MODE"`
	RedisURL                      string `mapstructure:"REDIS_URL"`
	DiscordBotToken               string `mapstructure:"DISCORD_BOT_TOKEN"`
	DiscordNotificationsChannelID string `mapstructure:"DISCORD_NOTIFICATIONS_CHANNEL_ID"`
	AdminJWTSecret                string `mapstructure:"ADMIN_JWT_SECRET"`
	LogLevel                      string `mapstructure:"LOG_LEVEL"`
	LogFormat                     string `mapstructure:"LOG_FORMAT"`
	EnableCORS                    bool   `mapstructure:"ENABLE_CORS"`
	RateLimitPerMinute            int    `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	LookupTimeoutSeconds          int    `mapstructure:"LOOKUP_TIMEOUT_SECONDS"`
	LookupRetries                 int    `mapstructure:"LOOKUP_RETRIES"`
	Attribution                   string `mapstructure:"ATTRIBUTION"`
	OwnerTag                      string `mapstructure:"OWNER_TAG"`
	StaticDir                     string `mapstructure:"STATIC_DIR"`
}

var keys = []string{
	"API_URL",
	"MONGO_URI",
	"DB_NAME",
	"KEYS_COLLECTION",
	"DATABASE_PATH",
	"TELEGRAM_TOKEN",
	"ADMIN_ID",
	"APP_HOST",
	"APP_PORT",
	"PUBLIC_URL",
	"BOT_MODE",
	"REDIS_URL",
	"DISCORD_BOT_TOKEN",
	"DISCORD_NOTIFICATIONS_CHANNEL_ID",
	"ADMIN_JWT_SECRET",
	"LOG_LEVEL",
	"LOG_FORMAT",
	"ENABLE_CORS",
	"RATE_LIMIT_PER_MINUTE",
	"LOOKUP_TIMEOUT_SECONDS",
	"LOOKUP_RETRIES",
	"ATTRIBUTION",
	"OWNER_TAG",
	"STATIC_DIR",
}

// LoadConfig reads a .env file if present, then the environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()
	return Load(viper.New())
}

// Load reads configuration from v, which is expected to be bound to the
// environment or populated by the caller.
func Load(v *viper.Viper) (*Config, error) {
	v.SetDefault("DB_NAME", "neonosint")
	v.SetDefault("KEYS_COLLECTION", "api_keys")
	v.SetDefault("DATABASE_PATH", "neonosint.db")
	v.SetDefault("ADMIN_ID", 0)
	v.SetDefault("APP_HOST", "0.0.0.0")
	v.SetDefault("APP_PORT", 5000)
	v.SetDefault("BOT_MODE", BotModePolling)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("ENABLE_CORS", false)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 60)
	v.SetDefault("LOOKUP_TIMEOUT_SECONDS", 20)
	v.SetDefault("LOOKUP_RETRIES", 2)
	v.SetDefault("ATTRIBUTION", "Neon OSINT")
	v.SetDefault("OWNER_TAG", "@UseSir")
	v.SetDefault("STATIC_DIR", "static")

	for _, k := range keys {
		v.BindEnv(k)
	}
	v.AutomaticEnv()

	// ADMIN_ID is parsed by hand so a typo is reported instead of silently
	// becoming 0.
	if raw := strings.TrimSpace(v.GetString("ADMIN_ID")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ADMIN_ID must be numeric: %w", err)
		}
		v.Set("ADMIN_ID", id)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	if c.APIURL != "" && !strings.Contains(c.APIURL, NumberPlaceholder) {
		return fmt.Errorf("API_URL must contain the %s placeholder", NumberPlaceholder)
	}
	switch c.BotMode {
	case BotModePolling, BotModeWebhook, BotModeOff:
	default:
		return fmt.Errorf("BOT_MODE must be one of %s, %s, %s; got %q", BotModePolling, BotModeWebhook, BotModeOff, c.BotMode)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("APP_PORT out of range: %d", c.Port)
	}
	if c.BotMode == BotModeWebhook && c.TelegramToken != "" && c.PublicURL == "" {
		return fmt.Errorf("PUBLIC_URL is required when BOT_MODE=%s", BotModeWebhook)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// PublicBaseURL is the externally reachable base URL without a trailing slash.
func (c *Config) PublicBaseURL() string {
	if c.PublicURL != "" {
		return strings.TrimRight(c.PublicURL, "/")
	}
	if c.Host == "0.0.0.0" || c.Host == "127.0.0.1" || c.Host == "" {
		return fmt.Sprintf("http://localhost:%d", c.Port)
	}
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

func (c *Config) LookupTimeout() time.Duration {
	return time.Duration(c.LookupTimeoutSeconds) * time.Second
}

// UseMongo reports whether keys live in MongoDB rather than SQLite.
func (c *Config) UseMongo() bool {
	return c.MongoURI != ""
}

func (c *Config) BotEnabled() bool {
	return c.TelegramToken != "" && c.BotMode != BotModeOff
}
