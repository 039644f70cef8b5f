package services

import (
	"log/slog"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Environment string
	Log         LogConfig
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	AI          AIConfig
	JWT         JWTConfig
	Session     SessionConfig
	Stripe      StripeConfig
	WebSocket   WebSocketConfig
	Access      AccessConfig
}

type LogConfig struct {
	Level string
}

type ServerConfig struct {
	Port    string
	BaseURL string
}

type DatabaseConfig struct {
	Driver       string // postgres or sqlite
	URL          string
	Seed         bool
	LogLevel     string
	MaxIdleConns int
	MaxOpenConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	RunTTL   time.Duration
}

type AIConfig struct {
	Provider      string // openai or gemini
	TTSProvider   string // openai or elevenlabs
	OpenAIKey     string
	OpenAIBaseURL string
	ChatModel     string
	VoiceModel    string
	ScoringModel  string
	TTSModel      string
	RealtimeModel string
	GeminiAPIKey  string
	GeminiModel   string
	ElevenLabsKey string
	AudioCacheDir string
}

type JWTConfig struct {
	Secret string
}

type SessionConfig struct {
	CookieName string
	TTL        time.Duration
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Prices        map[string]string // plan id -> price id
}

type WebSocketConfig struct {
	AllowedOrigins string
}

type AccessConfig struct {
	Enforce bool
}

// IsProduction reports whether cookies should be marked Secure.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

var priceEnv = map[string]string{
	"test_3m": "STRIPE_PRICE_TEST_3M",
	"test_6m": "STRIPE_PRICE_TEST_6M",
	"live_1m": "STRIPE_PRICE_LIVE_1M",
	"live_3m": "STRIPE_PRICE_LIVE_3M",
	"live_6m": "STRIPE_PRICE_LIVE_6M",
}

// LoadConfig loads configuration from environment variables and config files
func LoadConfig() *Config {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("environment", "development")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.base_url", "http://localhost:3000")
	viper.SetDefault("websocket.allowed_origins", "")
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.url", "")
	viper.SetDefault("database.seed", "false")
	viper.SetDefault("database.log_level", "silent")
	viper.SetDefault("database.max_idle_conns", "10")
	viper.SetDefault("database.max_open_conns", "100")
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.db", "0")
	viper.SetDefault("redis.run_ttl", "4h")
	viper.SetDefault("ai.provider", "openai")
	viper.SetDefault("ai.tts_provider", "openai")
	viper.SetDefault("openai.base_url", "https://api.openai.com")
	viper.SetDefault("openai.chat_model", "gpt-4o-mini")
	viper.SetDefault("openai.voice_model", "gpt-4o")
	viper.SetDefault("openai.scoring_model", "gpt-4o")
	viper.SetDefault("openai.tts_model", "tts-1")
	viper.SetDefault("openai.realtime_model", "gpt-4o-realtime-preview")
	viper.SetDefault("gemini.model", "gemini-2.5-flash")
	viper.SetDefault("audio_cache.dir", "cache/audio")
	viper.SetDefault("jwt.secret", "")
	viper.SetDefault("session.cookie_name", "session")
	viper.SetDefault("session.ttl", "336h")
	viper.SetDefault("access.enforce", "true")

	// Map environment variables to config keys
	viper.BindEnv("environment", "ENVIRONMENT")
	viper.BindEnv("log.level", "LOG_LEVEL")
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.base_url", "BASE_URL")
	viper.BindEnv("websocket.allowed_origins", "WEBSOCKET_ALLOWED_ORIGINS")
	viper.BindEnv("database.driver", "DATABASE_DRIVER")
	viper.BindEnv("database.url", "DATABASE_URL")
	viper.BindEnv("database.seed", "DATABASE_SEED")
	viper.BindEnv("database.log_level", "DATABASE_LOG_LEVEL")
	viper.BindEnv("database.max_idle_conns", "DATABASE_MAX_IDLE_CONNS")
	viper.BindEnv("database.max_open_conns", "DATABASE_MAX_OPEN_CONNS")
	viper.BindEnv("redis.addr", "REDIS_ADDR")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("redis.run_ttl", "REDIS_RUN_TTL")
	viper.BindEnv("ai.provider", "AI_PROVIDER")
	viper.BindEnv("ai.tts_provider", "TTS_PROVIDER")
	viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	viper.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	viper.BindEnv("openai.chat_model", "OPENAI_CHAT_MODEL")
	viper.BindEnv("openai.voice_model", "OPENAI_VOICE_MODEL")
	viper.BindEnv("openai.scoring_model", "OPENAI_SCORING_MODEL")
	viper.BindEnv("openai.tts_model", "OPENAI_TTS_MODEL")
	viper.BindEnv("openai.realtime_model", "OPENAI_REALTIME_MODEL")
	viper.BindEnv("gemini.api_key", "GEMINI_API_KEY")
	viper.BindEnv("gemini.model", "GEMINI_MODEL")
	viper.BindEnv("elevenlabs.api_key", "ELEVENLABS_API_KEY")
	viper.BindEnv("audio_cache.dir", "AUDIO_CACHE_DIR")
	viper.BindEnv("jwt.secret", "JWT_SECRET")
	viper.BindEnv("session.cookie_name", "SESSION_COOKIE_NAME")
	viper.BindEnv("session.ttl", "SESSION_TTL")
	viper.BindEnv("stripe.secret_key", "STRIPE_SECRET_KEY")
	viper.BindEnv("stripe.webhook_secret", "STRIPE_WEBHOOK_SECRET")
	viper.BindEnv("access.enforce", "ACCESS_ENFORCE")
	for plan, env := range priceEnv {
		viper.BindEnv("stripe.prices."+plan, env)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Warn("Config file not found, using defaults and environment variables")
		} else {
			slog.Error("Error reading config file", "error", err)
		}
	}

	prices := make(map[string]string, len(priceEnv))
	for plan := range priceEnv {
		if id := viper.GetString("stripe.prices." + plan); id != "" {
			prices[plan] = id
		}
	}

	return &Config{
		Environment: viper.GetString("environment"),
		Log: LogConfig{
			Level: viper.GetString("log.level"),
		},
		Server: ServerConfig{
			Port:    viper.GetString("server.port"),
			BaseURL: viper.GetString("server.base_url"),
		},
		Database: DatabaseConfig{
			Driver:       viper.GetString("database.driver"),
			URL:          viper.GetString("database.url"),
			Seed:         viper.GetBool("database.seed"),
			LogLevel:     viper.GetString("database.log_level"),
			MaxIdleConns: viper.GetInt("database.max_idle_conns"),
			MaxOpenConns: viper.GetInt("database.max_open_conns"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
			RunTTL:   viper.GetDuration("redis.run_ttl"),
		},
		AI: AIConfig{
			Provider:      viper.GetString("ai.provider"),
			TTSProvider:   viper.GetString("ai.tts_provider"),
			OpenAIKey:     viper.GetString("openai.api_key"),
			OpenAIBaseURL: viper.GetString("openai.base_url"),
			ChatModel:     viper.GetString("openai.chat_model"),
			VoiceModel:    viper.GetString("openai.voice_model"),
			ScoringModel:  viper.GetString("openai.scoring_model"),
			TTSModel:      viper.GetString("openai.tts_model"),
			RealtimeModel: viper.GetString("openai.realtime_model"),
			GeminiAPIKey:  viper.GetString("gemini.api_key"),
			GeminiModel:   viper.GetString("gemini.model"),
			ElevenLabsKey: viper.GetString("elevenlabs.api_key"),
			AudioCacheDir: viper.GetString("audio_cache.dir"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		Session: SessionConfig{
			CookieName: viper.GetString("session.cookie_name"),
			TTL:        viper.GetDuration("session.ttl"),
		},
		Stripe: StripeConfig{
			SecretKey:     viper.GetString("stripe.secret_key"),
			WebhookSecret: viper.GetString("stripe.webhook_secret"),
			Prices:        prices,
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins: viper.GetString("websocket.allowed_origins"),
		},
		Access: AccessConfig{
			Enforce: viper.GetBool("access.enforce"),
		},
	}
}

// ParseLogLevel maps a config string onto a slog level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
