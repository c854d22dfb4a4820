package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix shared by all configuration environment variables.
const EnvPrefix = "NOTIFY"

// ConfigFileEnv names the environment variable that points at an explicit
// configuration file.
const ConfigFileEnv = "NOTIFY_CONFIG_FILE"

// setDefaults registers every configuration key with viper. Keys must be known
// to viper for AutomaticEnv to populate them during Unmarshal, so required
// settings are registered with empty values and rejected by validation.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("scan.interval", time.Minute)
	v.SetDefault("scan.lookahead", 5*time.Minute)
	v.SetDefault("scan.timeout", 50*time.Second)
	v.SetDefault("scan.worker_count", 4)
	v.SetDefault("scan.max_in_flight", 8)
	v.SetDefault("scan.retention", 24*time.Hour)
	v.SetDefault("scan.claim_lease", 2*time.Minute)

	v.SetDefault("dedup.backend", "postgres")
	v.SetDefault("dedup.redis_addr", "")
	v.SetDefault("dedup.redis_password", "")
	v.SetDefault("dedup.redis_db", 0)

	v.SetDefault("push.enabled", true)
	v.SetDefault("push.credentials_file", "")
	v.SetDefault("push.project_id", "")
	v.SetDefault("push.dry_run", false)

	v.SetDefault("email.enabled", false)
	v.SetDefault("email.host", "")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from", "")

	v.SetDefault("events.source", "postgres")
	v.SetDefault("events.channel", "todo_created")
	v.SetDefault("events.amqp_url", "")
	v.SetDefault("events.queue", "todo_created")
}

// Load configuration from environment variables and optionally a config file.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv(ConfigFileEnv); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
