package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	Env      string `toml:"env"`
	HTTPAddr string `toml:"http_addr"`

	DBDriver string `toml:"db_driver"`
	DBDSN    string `toml:"db_dsn"`

	JWTSecret   string `toml:"jwt_secret"`
	JWTTTLHours int    `toml:"jwt_ttl_hours"`

	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`

	// rate limiting: "db" or "redis"
	RateLimitBackend      string `toml:"rate_limit_backend"`
	AnonymousRequestLimit int    `toml:"anonymous_request_limit"`
	RateLimitWindowHours  int    `toml:"rate_limit_window_hours"`

	ChatContextWindowSize    int `toml:"chat_context_window_size"`
	MaxMessageLength         int `toml:"max_message_length"`
	GenerationTimeoutSeconds int `toml:"generation_timeout_seconds"`

	// AI provider
	AIProvider        string `toml:"ai_provider"`
	GeminiAPIKey      string `toml:"gemini_api_key"`
	GeminiModel       string `toml:"gemini_model"`
	OpenRouterBaseURL string `toml:"openrouter_base_url"`
	OpenRouterAPIKey  string `toml:"openrouter_api_key"`
	OpenRouterModel   string `toml:"openrouter_model"`
	OpenRouterSiteURL string `toml:"openrouter_site_url"`
	OpenRouterAppName string `toml:"openrouter_app_name"`

	// rabbitMQ, empty URL disables turn events
	RabbitURL         string `toml:"rabbit_url"`
	RabbitQueue       string `toml:"rabbit_queue"`
	WorkerConcurrency int    `toml:"worker_concurrency"`

	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
	TrustedProxies     []string `toml:"trusted_proxies"`
}

func defaultConfig() Config {
	return Config{
		Env:      "development",
		HTTPAddr: ":8080",

		DBDriver: "mysql",
		// app:apppass@tcp(127.0.0.1:3306)/career_counselor?charset=utf8mb4&parseTime=true&loc=Local
		DBDSN: fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=Local",
			"app", "apppass", "127.0.0.1", "3306", "career_counselor",
		),

		JWTSecret:   "dev-secret-change-me",
		JWTTTLHours: 24,

		RedisAddr: "127.0.0.1:6379",

		RateLimitBackend:      "db",
		AnonymousRequestLimit: 3,
		RateLimitWindowHours:  24,

		ChatContextWindowSize:    10,
		MaxMessageLength:         4000,
		GenerationTimeoutSeconds: 30,

		AIProvider:        "gemini",
		GeminiModel:       "gemini-1.5-flash",
		OpenRouterBaseURL: "https://openrouter.ai/api/v1",
		OpenRouterModel:   "openrouter/auto",

		RabbitQueue:       "chat_turn_events",
		WorkerConcurrency: 2,

		CORSAllowedOrigins: []string{"http://localhost:3000"},
	}
}

// Load builds the config from defaults, an optional TOML file (CONFIG_FILE)
// and the environment, in that order. A .env file is loaded first if present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("decode config file failed: %w", err)
			}
		}
	}

	overrideByEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overrideByEnv(cfg *Config) {
	cfg.Env = getEnv("APP_ENV", cfg.Env)
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)

	cfg.DBDriver = strings.ToLower(getEnv("DB_DRIVER", cfg.DBDriver))
	cfg.DBDSN = getEnv("DB_DSN", cfg.DBDSN)

	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTTTLHours = getEnvAsInt("JWT_TTL_HOURS", cfg.JWTTTLHours)

	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvAsInt("REDIS_DB", cfg.RedisDB)

	cfg.RateLimitBackend = strings.ToLower(getEnv("RATE_LIMIT_BACKEND", cfg.RateLimitBackend))
	cfg.AnonymousRequestLimit = getEnvAsInt("ANONYMOUS_REQUEST_LIMIT", cfg.AnonymousRequestLimit)
	cfg.RateLimitWindowHours = getEnvAsInt("RATE_LIMIT_WINDOW_HOURS", cfg.RateLimitWindowHours)

	cfg.ChatContextWindowSize = getEnvAsInt("CHAT_CONTEXT_WINDOW_SIZE", cfg.ChatContextWindowSize)
	cfg.MaxMessageLength = getEnvAsInt("MAX_MESSAGE_LENGTH", cfg.MaxMessageLength)
	cfg.GenerationTimeoutSeconds = getEnvAsInt("GENERATION_TIMEOUT_SECONDS", cfg.GenerationTimeoutSeconds)

	cfg.AIProvider = strings.ToLower(getEnv("AI_PROVIDER", cfg.AIProvider))
	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.GeminiModel = getEnv("GEMINI_MODEL", cfg.GeminiModel)
	cfg.OpenRouterBaseURL = getEnv("OPENROUTER_BASE_URL", cfg.OpenRouterBaseURL)
	cfg.OpenRouterAPIKey = getEnv("OPENROUTER_API_KEY", cfg.OpenRouterAPIKey)
	cfg.OpenRouterModel = getEnv("OPENROUTER_MODEL", cfg.OpenRouterModel)
	cfg.OpenRouterSiteURL = getEnv("OPENROUTER_SITE_URL", cfg.OpenRouterSiteURL)
	cfg.OpenRouterAppName = getEnv("OPENROUTER_APP_NAME", cfg.OpenRouterAppName)

	cfg.RabbitURL = getEnv("RABBIT_URL", cfg.RabbitURL)
	cfg.RabbitQueue = getEnv("RABBIT_QUEUE", cfg.RabbitQueue)
	cfg.WorkerConcurrency = getEnvAsInt("WORKER_CONCURRENCY", cfg.WorkerConcurrency)

	cfg.CORSAllowedOrigins = getEnvAsList("CORS_ALLOWED_ORIGINS", cfg.CORSAllowedOrigins)
	cfg.TrustedProxies = getEnvAsList("TRUSTED_PROXIES", cfg.TrustedProxies)
}

func (c Config) validate() error {
	switch c.DBDriver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER=%q", c.DBDriver)
	}
	switch c.RateLimitBackend {
	case "db", "redis":
	default:
		return fmt.Errorf("unsupported RATE_LIMIT_BACKEND=%q", c.RateLimitBackend)
	}
	if c.AnonymousRequestLimit <= 0 {
		return fmt.Errorf("ANONYMOUS_REQUEST_LIMIT must be positive, got %d", c.AnonymousRequestLimit)
	}
	if c.RateLimitWindowHours <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW_HOURS must be positive, got %d", c.RateLimitWindowHours)
	}
	return nil
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowHours) * time.Hour
}

func (c Config) GenerationTimeout() time.Duration {
	if c.GenerationTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.GenerationTimeoutSeconds) * time.Second
}

func (c Config) JWTTTL() time.Duration {
	if c.JWTTTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.JWTTTLHours) * time.Hour
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvAsList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
