package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Scan     ScanConfig     `mapstructure:"scan" validate:"required"`
	Dedup    DedupConfig    `mapstructure:"dedup" validate:"required"`
	Push     PushConfig     `mapstructure:"push"`
	Email    EmailConfig    `mapstructure:"email"`
	Events   EventsConfig   `mapstructure:"events" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"required,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=1"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
}

// ScanConfig controls the periodic deadline scan.
type ScanConfig struct {
	// Interval between two scan ticks.
	Interval time.Duration `mapstructure:"interval" validate:"min=1s"`

	// Lookahead is the width of the notification window before a deadline.
	Lookahead time.Duration `mapstructure:"lookahead" validate:"min=1s"`

	// Timeout bounds a single scan. Zero disables the bound.
	Timeout time.Duration `mapstructure:"timeout" validate:"min=0s"`

	// WorkerCount is the number of concurrent dispatch workers per scan.
	WorkerCount int `mapstructure:"worker_count" validate:"gte=1"`

	// MaxInFlight caps concurrent push sends across overlapping scans.
	MaxInFlight int `mapstructure:"max_in_flight" validate:"gte=1"`

	// Retention is how long dedup records are kept after their window ends.
	Retention time.Duration `mapstructure:"retention" validate:"min=0s"`

	// ClaimLease is how long an unconfirmed dedup claim blocks other senders
	// before it is presumed abandoned. It must outlast the slowest send.
	ClaimLease time.Duration `mapstructure:"claim_lease" validate:"min=1s"`
}

// DedupConfig selects the backing store for sent-notification records.
type DedupConfig struct {
	Backend       string `mapstructure:"backend" validate:"required,oneof=postgres redis memory"`
	RedisAddr     string `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"gte=0"`
}

// PushConfig contains Firebase Cloud Messaging settings. When
// CredentialsFile is empty, application default credentials are used.
type PushConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	CredentialsFile string `mapstructure:"credentials_file"`
	ProjectID       string `mapstructure:"project_id"`
	DryRun          bool   `mapstructure:"dry_run"`
}

// EmailConfig contains SMTP submission settings for task-creation emails.
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host" validate:"required_if=Enabled true"`
	Port     int    `mapstructure:"port" validate:"gt=0,lt=65536"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from" validate:"required_if=Enabled true"`
}

// EventsConfig selects where task-creation events come from.
type EventsConfig struct {
	Source  string `mapstructure:"source" validate:"required,oneof=postgres amqp none"`
	Channel string `mapstructure:"channel"`
	AMQPURL string `mapstructure:"amqp_url" validate:"required_if=Source amqp"`
	Queue   string `mapstructure:"queue"`
}
