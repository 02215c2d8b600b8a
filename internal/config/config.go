package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// The values are read by Viper from a config file or environment variables.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Lock      LockConfig      `mapstructure:"lock"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type DatabaseConfig struct {
	URI  string `mapstructure:"uri"`
	Name string `mapstructure:"name"`
}

// JWTConfig carries the shared secret used to verify caller tokens.
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// RedisConfig enables distributed per-user locks. Leave Addr empty to use
// in-process locks (single instance deployments).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LockConfig struct {
	Expiry time.Duration `mapstructure:"expiry"`
	Tries  int           `mapstructure:"tries"`
}

// SchedulerConfig drives the daily advancement cron. Spec uses the
// seconds-enabled cron format ("0 */5 * * * *").
type SchedulerConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Spec       string        `mapstructure:"spec"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Workers    int           `mapstructure:"workers"`
	RunOnStart bool          `mapstructure:"run_on_start"`
	Timezone   string        `mapstructure:"timezone"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	// Values from a local .env become plain environment variables.
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// server.address -> SERVER_ADDRESS, scheduler.run_on_start -> SCHEDULER_RUN_ON_START
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`))

	v.SetDefault("server.address", ":8080")
	v.SetDefault("database.uri", "mongodb://localhost:27017")
	v.SetDefault("database.name", "wellness_plan")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("lock.expiry", "30s")
	v.SetDefault("lock.tries", 32)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.spec", "0 */5 * * * *")
	v.SetDefault("scheduler.timeout", "10m")
	v.SetDefault("scheduler.workers", 8)
	v.SetDefault("scheduler.run_on_start", false)
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	err = v.ReadInConfig()
	// A missing config file is fine; defaults and env vars still apply.
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		err = nil
	} else if err != nil {
		return
	}

	if err = v.Unmarshal(&config); err != nil {
		return
	}

	if config.Scheduler.Workers < 1 {
		config.Scheduler.Workers = 1
	}
	return config, nil
}
