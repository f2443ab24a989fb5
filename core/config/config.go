package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"event-coordinator/core/constants"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type ChatConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	BotToken string `mapstructure:"bot_token"`
}

type CalendarConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type VenueProviderConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type VenuesConfig struct {
	Places          VenueProviderConfig `mapstructure:"places"`
	Gurume          VenueProviderConfig `mapstructure:"gurume"`
	BudgetPerPerson int                 `mapstructure:"budget_per_person"`
	CacheTTL        time.Duration       `mapstructure:"cache_ttl"`
}

type CoordinationConfig struct {
	Quorum                int           `mapstructure:"quorum"`
	MaxPhaseRetries       int           `mapstructure:"max_phase_retries"`
	LeaseTTL              time.Duration `mapstructure:"lease_ttl"`
	ParticipantDeadline   time.Duration `mapstructure:"participant_deadline"`
	ConfirmationTimeout   time.Duration `mapstructure:"confirmation_timeout"`
	ReminderInterval      time.Duration `mapstructure:"reminder_interval"`
	MaxReminders          int           `mapstructure:"max_reminders"`
	SearchHorizonDays     int           `mapstructure:"search_horizon_days"`
	AllowCancelDuringOpen bool          `mapstructure:"allow_cancel_during_open_confirmation"`
}

type GatewayConfig struct {
	MaxRetries           int           `mapstructure:"max_retries"`
	BreakerThreshold     int           `mapstructure:"breaker_threshold"`
	BreakerCooldown      time.Duration `mapstructure:"breaker_cooldown"`
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `mapstructure:"retry_max_interval"`
}

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Chat         ChatConfig         `mapstructure:"chat"`
	Calendar     CalendarConfig     `mapstructure:"calendar"`
	Venues       VenuesConfig       `mapstructure:"venues"`
	Coordination CoordinationConfig `mapstructure:"coordination"`
	Gateway      GatewayConfig      `mapstructure:"gateway"`
}

var (
	mu       sync.RWMutex
	instance *Config
)

// Load reads configuration from the environment (and .env for local dev)
// and caches it for Get/GetSafe.
func Load() (*Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	mu.Lock()
	instance = &cfg
	mu.Unlock()

	return &cfg, nil
}

// Get returns the loaded config; it panics if Load was never called.
func Get() *Config {
	cfg, ok := GetSafe()
	if !ok {
		panic("config: Get called before Load")
	}
	return cfg
}

// GetSafe returns the loaded config and whether it is initialized.
func GetSafe() (*Config, bool) {
	mu.RLock()
	defer mu.RUnlock()
	return instance, instance != nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 7070)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "event_coordinator")
	v.SetDefault("database.ssl_mode", constants.DatabaseSSLMode)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("chat.base_url", "https://slack.com/api")
	v.SetDefault("chat.bot_token", "")

	v.SetDefault("calendar.base_url", "https://www.googleapis.com/calendar/v3")
	v.SetDefault("calendar.api_key", "")

	v.SetDefault("venues.places.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("venues.places.api_key", "")
	v.SetDefault("venues.gurume.base_url", "https://api.gnavi.example.com/v3")
	v.SetDefault("venues.gurume.api_key", "")
	v.SetDefault("venues.budget_per_person", constants.DefaultBudgetPerPerson)
	v.SetDefault("venues.cache_ttl", constants.DefaultVenueCacheTTL)

	v.SetDefault("coordination.quorum", constants.DefaultQuorum)
	v.SetDefault("coordination.max_phase_retries", constants.DefaultMaxPhaseRetries)
	v.SetDefault("coordination.lease_ttl", constants.DefaultLeaseTTL)
	v.SetDefault("coordination.participant_deadline", constants.DefaultParticipantDeadline)
	v.SetDefault("coordination.confirmation_timeout", constants.DefaultConfirmationTimeout)
	v.SetDefault("coordination.reminder_interval", constants.DefaultReminderInterval)
	v.SetDefault("coordination.max_reminders", constants.DefaultMaxReminders)
	v.SetDefault("coordination.search_horizon_days", constants.DefaultSearchHorizonDays)
	v.SetDefault("coordination.allow_cancel_during_open_confirmation", true)

	v.SetDefault("gateway.max_retries", constants.DefaultGatewayMaxRetries)
	v.SetDefault("gateway.breaker_threshold", constants.DefaultBreakerFailureThreshold)
	v.SetDefault("gateway.breaker_cooldown", constants.DefaultBreakerCooldown)
	v.SetDefault("gateway.retry_initial_interval", constants.DefaultRetryInitialInterval)
	v.SetDefault("gateway.retry_max_interval", constants.DefaultRetryMaxInterval)
}
