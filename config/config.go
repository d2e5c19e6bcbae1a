package config

import (
	"fmt"

	"github.com/spf13/viper"
)

/* Config is a helper package. Could be an external lib */

type Config struct {
	Port string `mapstructure:"PORT"`

	// Store selects the persistence backend: memory, redis or postgres
	Store string `mapstructure:"STORE"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	PostgresDSN string `mapstructure:"POSTGRES_DSN"`

	DispatchWorkers       int    `mapstructure:"DISPATCH_WORKERS"`
	SchedulerIntervalSecs int    `mapstructure:"SCHEDULER_INTERVAL_SECONDS"`
	WebhooksFile          string `mapstructure:"WEBHOOKS_FILE"`
}

func GetConfig() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("STORE", "memory")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("DISPATCH_WORKERS", 8)
	viper.SetDefault("SCHEDULER_INTERVAL_SECONDS", 30)

	err := viper.ReadInConfig()
	if err != nil {
		// The .env file is optional; environment variables still apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	var config Config
	err = viper.Unmarshal(&config)
	if err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}
	return &config, nil
}
