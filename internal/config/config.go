package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	DatabaseURL    string
	UseMemoryStore bool
	AdminJWTSecret string

	RedisAddr      string
	RedisPassword  string
	RedisTLS       bool
	SessionLockTTL time.Duration
	FlowCacheTTL   time.Duration

	// Drip dispatch
	DripSweepInterval time.Duration
	DripBatchSize     int
	DripWorkerCount   int
	// DripAnchorMode is "chain" (each delay added to the previous drip's raw
	// time) or "step_anchor" (each delay measured from the step's start, so
	// 2h and 24h drips land at +2h and +24h).
	DripAnchorMode string

	// Idle abandonment policy
	IdleAbandonAfter  time.Duration
	IdleSweepInterval time.Duration

	// Fallback calendar for orgs without stored business hours
	DefaultTimezone      string
	DefaultBusinessOpen  string
	DefaultBusinessClose string
	DefaultBusinessDays  string

	// Twilio SMS transport
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// SendGrid owner notifications
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	OwnerNotifyEmail  string
	SESFromEmail      string

	// Inbound event queue
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	EventQueueURL       string
	EventWorkerCount    int
	UseMemoryQueue      bool
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		UseMemoryStore: getEnvAsBool("USE_MEMORY_STORE", false),
		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		RedisAddr:      getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),
		SessionLockTTL: getEnvAsDuration("SESSION_LOCK_TTL", 10*time.Second),
		FlowCacheTTL:   getEnvAsDuration("FLOW_CACHE_TTL", 5*time.Minute),

		DripSweepInterval: getEnvAsDuration("DRIP_SWEEP_INTERVAL", 30*time.Second),
		DripBatchSize:     getEnvAsInt("DRIP_BATCH_SIZE", 50),
		DripWorkerCount:   getEnvAsInt("DRIP_WORKER_COUNT", 2),
		DripAnchorMode:    strings.ToLower(getEnv("DRIP_ANCHOR_MODE", "chain")),

		IdleAbandonAfter:  getEnvAsDuration("IDLE_ABANDON_AFTER", 72*time.Hour),
		IdleSweepInterval: getEnvAsDuration("IDLE_SWEEP_INTERVAL", 15*time.Minute),

		DefaultTimezone:      getEnv("DEFAULT_TIMEZONE", "America/New_York"),
		DefaultBusinessOpen:  getEnv("DEFAULT_BUSINESS_OPEN", "09:00"),
		DefaultBusinessClose: getEnv("DEFAULT_BUSINESS_CLOSE", "17:00"),
		DefaultBusinessDays:  strings.ToLower(getEnv("DEFAULT_BUSINESS_DAYS", "mon,tue,wed,thu,fri")),

		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: getEnv("TWILIO_FROM_NUMBER", ""),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "MedSpa Nurture"),
		OwnerNotifyEmail:  getEnv("OWNER_NOTIFY_EMAIL", ""),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		EventQueueURL:       getEnv("EVENT_QUEUE_URL", ""),
		EventWorkerCount:    getEnvAsInt("EVENT_WORKER_COUNT", 2),
		UseMemoryQueue:      getEnvAsBool("USE_MEMORY_QUEUE", false),
	}
}

// BusinessDays splits DefaultBusinessDays into trimmed day abbreviations.
func (c *Config) BusinessDays() []string {
	var days []string
	for _, d := range strings.Split(c.DefaultBusinessDays, ",") {
		if d = strings.TrimSpace(d); d != "" {
			days = append(days, d)
		}
	}
	return days
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
