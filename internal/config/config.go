package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Market    MarketConfig
	Trading   TradingConfig
	Scheduler SchedulerConfig
}

// ServerConfig defines the HTTP server settings.
type ServerConfig struct {
	Port  string `mapstructure:"port"`
	Debug bool   `mapstructure:"debug"`
}

// DatabaseConfig defines the database connection settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// AuthConfig defines JWT issuance settings.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// MarketConfig defines the upstream market data settings.
type MarketConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	RequestTimeoutSec int    `mapstructure:"request_timeout_sec"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
}

// TradingConfig defines the paper trading settings.
type TradingConfig struct {
	PaperBalance     float64 `mapstructure:"paper_balance"`
	PositionFraction float64 `mapstructure:"position_fraction"`
}

// SchedulerConfig defines the bot scheduling limits.
type SchedulerConfig struct {
	MinIntervalSeconds int `mapstructure:"min_interval_seconds"`
	MaxConcurrentBots  int `mapstructure:"max_concurrent_bots"`
}

// LoadConfig reads configuration from file or environment variables.
// Missing file is not fatal; defaults plus environment cover all settings.
func LoadConfig(path string) (Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.debug", false)
	viper.SetDefault("database.path", "papertrade.db")
	viper.SetDefault("auth.jwt_secret", "papertrade-secret-key")
	viper.SetDefault("market.base_url", "https://api.binance.com")
	viper.SetDefault("market.request_timeout_sec", 30)
	viper.SetDefault("market.requests_per_minute", 100)
	viper.SetDefault("trading.paper_balance", 10000.0)
	viper.SetDefault("trading.position_fraction", 0.10)
	viper.SetDefault("scheduler.min_interval_seconds", 30)
	viper.SetDefault("scheduler.max_concurrent_bots", 50)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var config Config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return config, err
		}
	}

	err := viper.Unmarshal(&config)
	return config, err
}
