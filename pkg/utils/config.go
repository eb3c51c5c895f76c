package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Stripe     StripeConfig
	Settlement SettlementConfig
	Meeting    MeetingConfig
}

type AppConfig struct {
	Name            string
	Port            string
	Debug           bool
	LogPath         string
	PublicBaseURL   string
	RateLimitPerMin int
}

type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	CacheDB  int
	QueueDB  int
}

type StripeConfig struct {
	SecretKey string
	Currency  string
	Timeout   time.Duration
}

// SettlementConfig controls the saga timing knobs.
type SettlementConfig struct {
	AbandonmentWindow time.Duration
	SweepInterval     time.Duration
	SweepBatchSize    int
	ProvisionTimeout  time.Duration
	LessonDuration    time.Duration
}

type MeetingConfig struct {
	BaseURL string
	Token   string
}

func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")

	// Set defaults
	viper.SetDefault("APP_NAME", "tutoring-booking")
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("DEBUG", false)
	viper.SetDefault("LOG_PATH", "logs/")
	viper.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	viper.SetDefault("RATE_LIMIT_PER_MIN", 60)
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_MAX_CONNS", 10)
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_CACHE_DB", 0)
	viper.SetDefault("REDIS_QUEUE_DB", 1)
	viper.SetDefault("STRIPE_CURRENCY", "usd")
	viper.SetDefault("GATEWAY_TIMEOUT_SECONDS", 10)
	viper.SetDefault("ABANDONMENT_WINDOW_MINUTES", 45)
	viper.SetDefault("SWEEP_INTERVAL_SECONDS", 60)
	viper.SetDefault("SWEEP_BATCH_SIZE", 100)
	viper.SetDefault("PROVISION_TIMEOUT_SECONDS", 10)
	viper.SetDefault("LESSON_DURATION_MINUTES", 60)
	viper.SetDefault("MEETING_API_URL", "")
	viper.SetDefault("MEETING_API_TOKEN", "")

	// .env is optional, the environment always wins
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	viper.AutomaticEnv()

	config := &Config{
		App: AppConfig{
			Name:            viper.GetString("APP_NAME"),
			Port:            viper.GetString("PORT"),
			Debug:           viper.GetBool("DEBUG"),
			LogPath:         viper.GetString("LOG_PATH"),
			PublicBaseURL:   viper.GetString("PUBLIC_BASE_URL"),
			RateLimitPerMin: viper.GetInt("RATE_LIMIT_PER_MIN"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			Name:     viper.GetString("DB_NAME"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASS"),
			MaxConns: viper.GetInt32("DB_MAX_CONNS"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("REDIS_ADDR"),
			Password: viper.GetString("REDIS_PASSWORD"),
			CacheDB:  viper.GetInt("REDIS_CACHE_DB"),
			QueueDB:  viper.GetInt("REDIS_QUEUE_DB"),
		},
		Stripe: StripeConfig{
			SecretKey: viper.GetString("STRIPE_SECRET_KEY"),
			Currency:  viper.GetString("STRIPE_CURRENCY"),
			Timeout:   time.Duration(viper.GetInt("GATEWAY_TIMEOUT_SECONDS")) * time.Second,
		},
		Settlement: SettlementConfig{
			AbandonmentWindow: time.Duration(viper.GetInt("ABANDONMENT_WINDOW_MINUTES")) * time.Minute,
			SweepInterval:     time.Duration(viper.GetInt("SWEEP_INTERVAL_SECONDS")) * time.Second,
			SweepBatchSize:    viper.GetInt("SWEEP_BATCH_SIZE"),
			ProvisionTimeout:  time.Duration(viper.GetInt("PROVISION_TIMEOUT_SECONDS")) * time.Second,
			LessonDuration:    time.Duration(viper.GetInt("LESSON_DURATION_MINUTES")) * time.Minute,
		},
		Meeting: MeetingConfig{
			BaseURL: viper.GetString("MEETING_API_URL"),
			Token:   viper.GetString("MEETING_API_TOKEN"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects settings the saga cannot run with.
func (c *Config) Validate() error {
	if c.Settlement.AbandonmentWindow <= 0 {
		return fmt.Errorf("ABANDONMENT_WINDOW_MINUTES must be positive")
	}
	if c.Settlement.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_SECONDS must be positive")
	}
	if c.Settlement.SweepBatchSize <= 0 {
		return fmt.Errorf("SWEEP_BATCH_SIZE must be positive")
	}
	if c.Stripe.Timeout <= 0 || c.Settlement.ProvisionTimeout <= 0 {
		return fmt.Errorf("gateway and provisioning timeouts must be positive")
	}
	if c.Settlement.LessonDuration <= 0 {
		return fmt.Errorf("LESSON_DURATION_MINUTES must be positive")
	}
	if c.App.PublicBaseURL == "" {
		return fmt.Errorf("PUBLIC_BASE_URL is required")
	}
	return nil
}
