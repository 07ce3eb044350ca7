/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the claim-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	EventExchange        string `mapstructure:"EVENT_EXCHANGE"`
	VerificationQueue    string `mapstructure:"VERIFICATION_QUEUE"`

	MLAPIBaseURL       string `mapstructure:"ML_API_BASE_URL"`
	MLAPIKey           string `mapstructure:"ML_API_KEY"`
	MLTimeoutSeconds   int    `mapstructure:"ML_TIMEOUT_SECONDS"`
	MLBreakerThreshold int    `mapstructure:"ML_BREAKER_THRESHOLD"`
	MLBreakerCooldownS int    `mapstructure:"ML_BREAKER_COOLDOWN_SECONDS"`

	LedgerAPIBaseURL string `mapstructure:"LEDGER_API_BASE_URL"`
	LedgerAPIKey     string `mapstructure:"LEDGER_API_KEY"`

	EvidenceAPIBaseURL string `mapstructure:"EVIDENCE_API_BASE_URL"`
	EvidenceAPIKey     string `mapstructure:"EVIDENCE_API_KEY"`

	PayoutAPIBaseURL string `mapstructure:"PAYOUT_API_BASE_URL"`
	PayoutAPIKey     string `mapstructure:"PAYOUT_API_KEY"`

	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	OTPExpiryMinutes        int `mapstructure:"OTP_EXPIRY_MINUTES"`
	OTPSendRateLimitPerHour int `mapstructure:"OTP_SEND_RATE_LIMIT_PER_HOUR"`

	ReconcileCronSpec        string `mapstructure:"RECONCILE_CRON_SPEC"`
	ReconcileGraceMinutes    int    `mapstructure:"RECONCILE_GRACE_MINUTES"`
	ReconcileBatchSize       int    `mapstructure:"RECONCILE_BATCH_SIZE"`
	OTPPurgeCronSpec         string `mapstructure:"OTP_PURGE_CRON_SPEC"`
	OTPPurgeRetentionMinutes int    `mapstructure:"OTP_PURGE_RETENTION_MINUTES"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "krishiraksha:rate_limit")
	viper.SetDefault("EVENT_EXCHANGE", "krishiraksha.events")
	viper.SetDefault("VERIFICATION_QUEUE", "claim_service.verification_requests")
	viper.SetDefault("ML_TIMEOUT_SECONDS", 30)
	viper.SetDefault("ML_BREAKER_THRESHOLD", 5)
	viper.SetDefault("ML_BREAKER_COOLDOWN_SECONDS", 60)
	viper.SetDefault("OTP_EXPIRY_MINUTES", 10)
	viper.SetDefault("OTP_SEND_RATE_LIMIT_PER_HOUR", 5)
	viper.SetDefault("RECONCILE_CRON_SPEC", "*/10 * * * *")
	viper.SetDefault("RECONCILE_GRACE_MINUTES", 15)
	viper.SetDefault("RECONCILE_BATCH_SIZE", 50)
	viper.SetDefault("OTP_PURGE_CRON_SPEC", "0 * * * *")
	viper.SetDefault("OTP_PURGE_RETENTION_MINUTES", 60)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "CLAIM_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("VERIFICATION_QUEUE")
	_ = viper.BindEnv("ML_API_BASE_URL")
	_ = viper.BindEnv("ML_API_KEY")
	_ = viper.BindEnv("ML_TIMEOUT_SECONDS")
	_ = viper.BindEnv("ML_BREAKER_THRESHOLD")
	_ = viper.BindEnv("ML_BREAKER_COOLDOWN_SECONDS")
	_ = viper.BindEnv("LEDGER_API_BASE_URL")
	_ = viper.BindEnv("LEDGER_API_KEY")
	_ = viper.BindEnv("EVIDENCE_API_BASE_URL")
	_ = viper.BindEnv("EVIDENCE_API_KEY")
	_ = viper.BindEnv("PAYOUT_API_BASE_URL")
	_ = viper.BindEnv("PAYOUT_API_KEY")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "CLAIM_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("OTP_EXPIRY_MINUTES")
	_ = viper.BindEnv("OTP_SEND_RATE_LIMIT_PER_HOUR")
	_ = viper.BindEnv("RECONCILE_CRON_SPEC")
	_ = viper.BindEnv("RECONCILE_GRACE_MINUTES")
	_ = viper.BindEnv("RECONCILE_BATCH_SIZE")
	_ = viper.BindEnv("OTP_PURGE_CRON_SPEC")
	_ = viper.BindEnv("OTP_PURGE_RETENTION_MINUTES")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("CLAIM_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "krishiraksha:rate_limit"
	}

	if config.MLTimeoutSeconds <= 0 {
		config.MLTimeoutSeconds = 30
	}
	if config.MLBreakerThreshold <= 0 {
		config.MLBreakerThreshold = 5
	}
	if config.MLBreakerCooldownS <= 0 {
		config.MLBreakerCooldownS = 60
	}
	if config.OTPExpiryMinutes <= 0 {
		config.OTPExpiryMinutes = 10
	}
	if config.OTPSendRateLimitPerHour <= 0 {
		config.OTPSendRateLimitPerHour = 5
	}
	if config.ReconcileGraceMinutes <= 0 {
		config.ReconcileGraceMinutes = 15
	}
	if config.ReconcileBatchSize <= 0 {
		config.ReconcileBatchSize = 50
	}
	if config.OTPPurgeRetentionMinutes <= 0 {
		config.OTPPurgeRetentionMinutes = 60
	}

	return
}
