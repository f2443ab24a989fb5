package constants

import "time"

// Echo context keys.
const (
	ContextTokenData = "token_data"
	ContextRequestID = "request_id"
)

// Database pool defaults.
const (
	DatabaseSSLMode         = "disable"
	DatabaseMaxOpenConns    = 25
	DatabaseMaxIdleConns    = 5
	DatabaseConnMaxLifetime = 30 // minutes
)

// Coordination defaults. Most are overridable through config; these are the
// fallbacks viper seeds.
const (
	DefaultQuorum              = 2
	DefaultMaxPhaseRetries     = 3
	DefaultLeaseTTL            = 30 * time.Second
	DefaultParticipantDeadline = 24 * time.Hour
	DefaultConfirmationTimeout = 24 * time.Hour
	DefaultReminderInterval    = 8 * time.Hour
	DefaultMaxReminders        = 2
	DefaultSearchHorizonDays   = 14
)

// Gateway defaults.
const (
	DefaultGatewayMaxRetries       = 3
	DefaultBreakerFailureThreshold = 5
	DefaultBreakerCooldown         = 60 * time.Second
	DefaultRetryInitialInterval    = 500 * time.Millisecond
	DefaultRetryMaxInterval        = 10 * time.Second
)

// Venue search defaults.
const (
	DefaultBudgetPerPerson = 3000 // yen
	DefaultVenueCacheTTL   = 10 * time.Minute
)

// Asynq task queues.
const (
	QueueCoordination = "coordination"
	QueueDefault      = "default"
)
