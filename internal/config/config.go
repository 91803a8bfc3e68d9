/**
 * @description
 * This package handles the configuration management for the payment engine. It
 * uses the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings.
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

// Config holds all the configuration variables for the payment engine.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	JWKSURL              string `mapstructure:"JWKS_URL"`
	InternalAPIKey       string `mapstructure:"INTERNAL_API_KEY"`

	EscrowRailBaseURL string `mapstructure:"ESCROW_RAIL_BASE_URL"`
	EscrowRailAPIKey  string `mapstructure:"ESCROW_RAIL_API_KEY"`
	OracleBaseURL     string `mapstructure:"ORACLE_BASE_URL"`
	OracleAPIKey      string `mapstructure:"ORACLE_API_KEY"`

	CreatorRegistryURL string `mapstructure:"CREATOR_REGISTRY_URL"`
	ContentRegistryURL string `mapstructure:"CONTENT_REGISTRY_URL"`
	RegistryAPIKey     string `mapstructure:"REGISTRY_API_KEY"`

	SettlementToken  string `mapstructure:"SETTLEMENT_TOKEN"`
	CollectorAddress string `mapstructure:"COLLECTOR_ADDRESS"`

	PlatformFeeBps      int64  `mapstructure:"PLATFORM_FEE_BPS"`
	OperatorFeeBps      int64  `mapstructure:"OPERATOR_FEE_BPS"`
	PlatformDestination string `mapstructure:"PLATFORM_FEE_DESTINATION"`
	OperatorDestination string `mapstructure:"OPERATOR_FEE_DESTINATION"`
	BootstrapAdmin      string `mapstructure:"BOOTSTRAP_ADMIN"`

	RenewalSchedule string `mapstructure:"RENEWAL_SCHEDULE"`
	CleanupSchedule string `mapstructure:"CLEANUP_SCHEDULE"`
	RenewalBatch    int    `mapstructure:"RENEWAL_BATCH"`
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
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "fanvault:rate_limit")
	viper.SetDefault("PLATFORM_FEE_BPS", 250)
	viper.SetDefault("OPERATOR_FEE_BPS", 50)
	viper.SetDefault("RENEWAL_SCHEDULE", "*/30 * * * *")
	viper.SetDefault("CLEANUP_SCHEDULE", "15 3 * * *")
	viper.SetDefault("RENEWAL_BATCH", 100)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "PAYMENT_ENGINE_INTERNAL_API_KEY")
	_ = viper.BindEnv("ESCROW_RAIL_BASE_URL")
	_ = viper.BindEnv("ESCROW_RAIL_API_KEY")
	_ = viper.BindEnv("ORACLE_BASE_URL")
	_ = viper.BindEnv("ORACLE_API_KEY")
	_ = viper.BindEnv("CREATOR_REGISTRY_URL")
	_ = viper.BindEnv("CONTENT_REGISTRY_URL")
	_ = viper.BindEnv("REGISTRY_API_KEY")
	_ = viper.BindEnv("SETTLEMENT_TOKEN")
	_ = viper.BindEnv("COLLECTOR_ADDRESS")
	_ = viper.BindEnv("PLATFORM_FEE_BPS")
	_ = viper.BindEnv("OPERATOR_FEE_BPS")
	_ = viper.BindEnv("PLATFORM_FEE_DESTINATION")
	_ = viper.BindEnv("OPERATOR_FEE_DESTINATION")
	_ = viper.BindEnv("BOOTSTRAP_ADMIN")
	_ = viper.BindEnv("RENEWAL_SCHEDULE")
	_ = viper.BindEnv("CLEANUP_SCHEDULE")
	_ = viper.BindEnv("RENEWAL_BATCH")

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
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("PAYMENT_ENGINE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "fanvault:rate_limit"
	}
	config.BootstrapAdmin = strings.TrimSpace(config.BootstrapAdmin)

	// Fee rates outside the manager's caps would make every intent creation
	// fail, so clamp obviously broken values back to the defaults here.
	if config.PlatformFeeBps < 0 || config.PlatformFeeBps > 2500 {
		log.Printf("level=warn component=config msg=\"platform fee out of range; using default\" value=%d", config.PlatformFeeBps)
		config.PlatformFeeBps = 250
	}
	if config.OperatorFeeBps < 0 || config.OperatorFeeBps > 1000 {
		log.Printf("level=warn component=config msg=\"operator fee out of range; using default\" value=%d", config.OperatorFeeBps)
		config.OperatorFeeBps = 50
	}
	if config.RenewalBatch <= 0 {
		config.RenewalBatch = 100
	}

	return config, nil
}
