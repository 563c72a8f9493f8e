package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Auth        AuthConfig
	Log         LogConfig
	HTTP        HTTPConfig
	Storage     StorageConfig
	Stripe      StripeConfig
	Twilio      TwilioConfig
	Calendly    CalendlyConfig
	Kafka       KafkaConfig
	Booking     BookingConfig
	Reminder    ReminderConfig
	ServiceArea ServiceAreaConfig
}

type AppConfig struct {
	Name      string
	Env       string
	Port      string
	PublicURL string // base URL of the portal front end, used in login links
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

type JWTConfig struct {
	Secret      string
	ExpiryHours int
}

// AuthConfig controls passwordless login links
type AuthConfig struct {
	LinkTTL      time.Duration
	AllowSignup  bool
	RedirectPath string
	SecureCookie bool
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

type HTTPConfig struct {
	CORSAllowOrigins     []string
	SlowRequestThreshold time.Duration
}

// StorageConfig holds S3-compatible object storage settings for item photos
type StorageConfig struct {
	Endpoint          string
	Region            string
	Bucket            string
	AccessKey         string
	SecretKey         string
	UsePathStyle      bool
	PresignExpiration time.Duration
}

type StripeConfig struct {
	SecretKey       string
	PortalReturnURL string
}

type TwilioConfig struct {
	AccountSID       string
	AuthToken        string
	FromNumber       string
	VerifyServiceSID string
}

type CalendlyConfig struct {
	APIToken          string
	BaseURL           string
	WebhookSigningKey string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// BookingConfig holds booking confirmation and cancellation rules
type BookingConfig struct {
	PollInterval    time.Duration
	PollMaxAttempts int
	CancelCutoff    time.Duration
}

type ReminderConfig struct {
	Enabled bool
	Cron    string
}

type ServiceAreaConfig struct {
	ZipCodes []string
}

// Load loads configuration from config.toml and environment variables.
// Environment variables use the PORTAL_ prefix, e.g. PORTAL_DATABASE_URL.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("PORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "keepsafe-portal")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.public_url", "http://localhost:3000")

	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.cache_ttl", time.Minute)

	v.SetDefault("jwt.expiry_hours", 24)

	v.SetDefault("auth.link_ttl", 15*time.Minute)
	v.SetDefault("auth.allow_signup", true)
	v.SetDefault("auth.redirect_path", "/auth/callback")
	v.SetDefault("auth.secure_cookie", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("http.cors_allow_origins", []string{"http://localhost:3000"})
	v.SetDefault("http.slow_request_threshold", 200*time.Millisecond)

	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.bucket", "item-photos")
	v.SetDefault("storage.use_path_style", true)
	v.SetDefault("storage.presign_expiration", 15*time.Minute)

	v.SetDefault("calendly.base_url", "https://api.calendly.com")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "booking-events")

	v.SetDefault("booking.poll_interval", 2*time.Second)
	v.SetDefault("booking.poll_max_attempts", 15)
	v.SetDefault("booking.cancel_cutoff", 24*time.Hour)

	v.SetDefault("reminder.enabled", true)
	v.SetDefault("reminder.cron", "0 9 * * *")
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		App: AppConfig{
			Name:      v.GetString("app.name"),
			Env:       v.GetString("app.env"),
			Port:      v.GetString("app.port"),
			PublicURL: strings.TrimRight(v.GetString("app.public_url"), "/"),
		},
		Database: DatabaseConfig{
			URL:             v.GetString("database.url"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			CacheTTL: v.GetDuration("redis.cache_ttl"),
		},
		JWT: JWTConfig{
			Secret:      v.GetString("jwt.secret"),
			ExpiryHours: v.GetInt("jwt.expiry_hours"),
		},
		Auth: AuthConfig{
			LinkTTL:      v.GetDuration("auth.link_ttl"),
			AllowSignup:  v.GetBool("auth.allow_signup"),
			RedirectPath: v.GetString("auth.redirect_path"),
			SecureCookie: v.GetBool("auth.secure_cookie"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			CORSAllowOrigins:     v.GetStringSlice("http.cors_allow_origins"),
			SlowRequestThreshold: v.GetDuration("http.slow_request_threshold"),
		},
		Storage: StorageConfig{
			Endpoint:          v.GetString("storage.endpoint"),
			Region:            v.GetString("storage.region"),
			Bucket:            v.GetString("storage.bucket"),
			AccessKey:         v.GetString("storage.access_key"),
			SecretKey:         v.GetString("storage.secret_key"),
			UsePathStyle:      v.GetBool("storage.use_path_style"),
			PresignExpiration: v.GetDuration("storage.presign_expiration"),
		},
		Stripe: StripeConfig{
			SecretKey:       v.GetString("stripe.secret_key"),
			PortalReturnURL: v.GetString("stripe.portal_return_url"),
		},
		Twilio: TwilioConfig{
			AccountSID:       v.GetString("twilio.account_sid"),
			AuthToken:        v.GetString("twilio.auth_token"),
			FromNumber:       v.GetString("twilio.from_number"),
			VerifyServiceSID: v.GetString("twilio.verify_service_sid"),
		},
		Calendly: CalendlyConfig{
			APIToken:          v.GetString("calendly.api_token"),
			BaseURL:           strings.TrimRight(v.GetString("calendly.base_url"), "/"),
			WebhookSigningKey: v.GetString("calendly.webhook_signing_key"),
		},
		Kafka: KafkaConfig{
			Enabled: v.GetBool("kafka.enabled"),
			Brokers: v.GetStringSlice("kafka.brokers"),
			Topic:   v.GetString("kafka.topic"),
		},
		Booking: BookingConfig{
			PollInterval:    v.GetDuration("booking.poll_interval"),
			PollMaxAttempts: v.GetInt("booking.poll_max_attempts"),
			CancelCutoff:    v.GetDuration("booking.cancel_cutoff"),
		},
		Reminder: ReminderConfig{
			Enabled: v.GetBool("reminder.enabled"),
			Cron:    v.GetString("reminder.cron"),
		},
		ServiceArea: ServiceAreaConfig{
			ZipCodes: v.GetStringSlice("service_area.zip_codes"),
		},
	}
}

// Validate checks the settings the server cannot start without
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database url is required")
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt secret is required")
	}
	if c.JWT.ExpiryHours <= 0 {
		return errors.New("jwt expiry hours must be positive")
	}
	if c.Booking.PollInterval <= 0 {
		return errors.New("booking poll interval must be positive")
	}
	if c.Booking.PollMaxAttempts <= 0 {
		return errors.New("booking poll max attempts must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka brokers are required when kafka is enabled")
	}
	return nil
}

// IsProduction reports whether the app runs in the production environment
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
