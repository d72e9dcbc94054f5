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

// Config holds all the configuration variables for the bond transaction
// service. These values are loaded from environment variables.
type Config struct {
	ServerPort                 string  `mapstructure:"SERVER_PORT"`
	DatabaseURL                string  `mapstructure:"DATABASE_URL"`
	RedisURL                   string  `mapstructure:"REDIS_URL"`
	RedisRiskCachePrefix       string  `mapstructure:"REDIS_RISK_CACHE_PREFIX"`
	RedisRateLimitPrefix       string  `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	SubmitRateLimitPerMinute   int     `mapstructure:"SUBMIT_RATE_LIMIT_PER_MINUTE"`
	RiskCacheTTLSeconds        int     `mapstructure:"RISK_CACHE_TTL_SECONDS"`
	RabbitMQURL                string  `mapstructure:"RABBITMQ_URL"`
	TransactionEventExchange   string  `mapstructure:"TRANSACTION_EVENT_EXCHANGE"`
	ProjectionQueue            string  `mapstructure:"PROJECTION_QUEUE"`
	RiskModelBaseURL           string  `mapstructure:"RISK_MODEL_BASE_URL"`
	RiskModelAPIKey            string  `mapstructure:"RISK_MODEL_API_KEY"`
	FraudServiceBaseURL        string  `mapstructure:"FRAUD_SERVICE_BASE_URL"`
	FraudServiceAPIKey         string  `mapstructure:"FRAUD_SERVICE_API_KEY"`
	EventSigningSecret         string  `mapstructure:"EVENT_SIGNING_SECRET"`
	ServiceTokenSecret         string  `mapstructure:"SERVICE_TOKEN_SECRET"`
	RiskCeiling                float64 `mapstructure:"RISK_CEILING"`
	CommandFreshnessSeconds    int     `mapstructure:"COMMAND_FRESHNESS_SECONDS"`
	BreakerFailureThreshold    int     `mapstructure:"BREAKER_FAILURE_THRESHOLD"`
	BreakerFailureWindowSecs   int     `mapstructure:"BREAKER_FAILURE_WINDOW_SECONDS"`
	BreakerCooldownSeconds     int     `mapstructure:"BREAKER_COOLDOWN_SECONDS"`
	MaxVerificationRetries     int     `mapstructure:"MAX_VERIFICATION_RETRIES"`
	ShutdownGraceSeconds       int     `mapstructure:"SHUTDOWN_GRACE_SECONDS"`
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
	viper.SetDefault("REDIS_RISK_CACHE_PREFIX", "bondtx:risk")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "bondtx:rate_limit")
	viper.SetDefault("SUBMIT_RATE_LIMIT_PER_MINUTE", 120)
	viper.SetDefault("RISK_CACHE_TTL_SECONDS", 300)
	viper.SetDefault("TRANSACTION_EVENT_EXCHANGE", "bondtx.events")
	viper.SetDefault("PROJECTION_QUEUE", "bondtx.projection_updates")
	viper.SetDefault("RISK_CEILING", 0.8)
	viper.SetDefault("COMMAND_FRESHNESS_SECONDS", 300)
	viper.SetDefault("BREAKER_FAILURE_THRESHOLD", 5)
	viper.SetDefault("BREAKER_FAILURE_WINDOW_SECONDS", 60)
	viper.SetDefault("BREAKER_COOLDOWN_SECONDS", 30)
	viper.SetDefault("MAX_VERIFICATION_RETRIES", 3)
	viper.SetDefault("SHUTDOWN_GRACE_SECONDS", 15)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "BONDTX_REDIS_URL")
	_ = viper.BindEnv("REDIS_RISK_CACHE_PREFIX")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("SUBMIT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RISK_CACHE_TTL_SECONDS")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("TRANSACTION_EVENT_EXCHANGE")
	_ = viper.BindEnv("PROJECTION_QUEUE")
	_ = viper.BindEnv("RISK_MODEL_BASE_URL")
	_ = viper.BindEnv("RISK_MODEL_API_KEY")
	_ = viper.BindEnv("FRAUD_SERVICE_BASE_URL")
	_ = viper.BindEnv("FRAUD_SERVICE_API_KEY")
	_ = viper.BindEnv("EVENT_SIGNING_SECRET")
	_ = viper.BindEnv("SERVICE_TOKEN_SECRET", "SERVICE_TOKEN_SECRET", "BONDTX_SERVICE_TOKEN_SECRET")
	_ = viper.BindEnv("RISK_CEILING")
	_ = viper.BindEnv("COMMAND_FRESHNESS_SECONDS")
	_ = viper.BindEnv("BREAKER_FAILURE_THRESHOLD")
	_ = viper.BindEnv("BREAKER_FAILURE_WINDOW_SECONDS")
	_ = viper.BindEnv("BREAKER_COOLDOWN_SECONDS")
	_ = viper.BindEnv("MAX_VERIFICATION_RETRIES")
	_ = viper.BindEnv("SHUTDOWN_GRACE_SECONDS")

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
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRiskCachePrefix = strings.TrimSpace(config.RedisRiskCachePrefix)
	if config.RedisRiskCachePrefix == "" {
		config.RedisRiskCachePrefix = "bondtx:risk"
	}
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "bondtx:rate_limit"
	}
	if config.SubmitRateLimitPerMinute < 0 {
		config.SubmitRateLimitPerMinute = 0
	}
	config.EventSigningSecret = strings.TrimSpace(config.EventSigningSecret)
	config.ServiceTokenSecret = strings.TrimSpace(config.ServiceTokenSecret)

	if config.RiskCeiling <= 0 || config.RiskCeiling > 1 {
		log.Printf("level=warn component=config msg=\"risk ceiling out of range; using default\" risk_ceiling=%f", config.RiskCeiling)
		config.RiskCeiling = 0.8
	}
	if config.RiskCacheTTLSeconds <= 0 {
		config.RiskCacheTTLSeconds = 300
	}
	if config.CommandFreshnessSeconds <= 0 {
		config.CommandFreshnessSeconds = 300
	}
	if config.BreakerFailureThreshold <= 0 {
		config.BreakerFailureThreshold = 5
	}
	if config.BreakerFailureWindowSecs <= 0 {
		config.BreakerFailureWindowSecs = 60
	}
	if config.BreakerCooldownSeconds <= 0 {
		config.BreakerCooldownSeconds = 30
	}
	if config.MaxVerificationRetries <= 0 {
		config.MaxVerificationRetries = 3
	}
	if config.ShutdownGraceSeconds <= 0 {
		config.ShutdownGraceSeconds = 15
	}

	return
}
