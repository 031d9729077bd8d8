package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port  string `mapstructure:"PORT" validate:"required,numeric"`
	Debug bool   `mapstructure:"DEBUG"`

	GeminiAPIKey string `mapstructure:"GEMINI_API_KEY" validate:"required"`
	GeminiModel  string `mapstructure:"GEMINI_MODEL" validate:"required"`

	RequestTimeout     time.Duration `mapstructure:"REQUEST_TIMEOUT" validate:"gte=0"`
	ShutdownTimeout    time.Duration `mapstructure:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
	MaxBodyBytes       int64         `mapstructure:"MAX_BODY_BYTES" validate:"gt=0"`
	CORSAllowedOrigins []string      `mapstructure:"CORS_ALLOWED_ORIGINS"`

	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	AnalysisCacheTTL  time.Duration `mapstructure:"ANALYSIS_CACHE_TTL" validate:"gte=0"`
	AnalysisRetention time.Duration `mapstructure:"ANALYSIS_RETENTION" validate:"gte=0"`

	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	WebhookURL       string `mapstructure:"WEBHOOK_URL" validate:"omitempty,url"`
}

var defaults = map[string]any{
	"PORT":                 "5000",
	"DEBUG":                false,
	"GEMINI_API_KEY":       "",
	"GEMINI_MODEL":         "gemini-1.5-flash-latest",
	"REQUEST_TIMEOUT":      "0s",
	"SHUTDOWN_TIMEOUT":     "10s",
	"MAX_BODY_BYTES":       20 << 20,
	"CORS_ALLOWED_ORIGINS": "*",
	"DATABASE_URL":         "",
	"ANALYSIS_CACHE_TTL":   "0s",
	"ANALYSIS_RETENTION":   "720h",
	"TELEGRAM_BOT_TOKEN":   "",
	"WEBHOOK_URL":          "",
}

// Load reads the process environment, optionally seeded from .env files.
// Variables already set in the environment win over the files.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load env file: %w", err)
	}

	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()
	// FLASK_DEBUG is the older name of the debug switch.
	if err := v.BindEnv("DEBUG", "DEBUG", "FLASK_DEBUG"); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string { return "0.0.0.0:" + c.Port }
