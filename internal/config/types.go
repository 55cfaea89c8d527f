package config

// Config is the whole bot configuration. Durations are Go duration strings
// ("500ms", "10s", "1m"); empty means the documented default.
//
// Fields tagged with env can be overridden by SCHEDBOT_<NAME> environment
// variables (see ApplyEnv).
type Config struct {
	Telegram     TelegramConfig     `json:"telegram"`
	Logging      LoggingConfig      `json:"logging"`
	Schedule     ScheduleConfig     `json:"schedule"`
	Storage      StorageConfig      `json:"storage"`
	Commands     CommandsConfig     `json:"commands"`
	Metrics      MetricsConfig      `json:"metrics,omitempty"`
	Housekeeping HousekeepingConfig `json:"housekeeping,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token" env:"TELEGRAM_TOKEN" validate:"required"`
	// GroupLog is the chat id receiving warn/error logs when logging.telegram is on.
	GroupLog    string `json:"group_log,omitempty" env:"TELEGRAM_GROUP_LOG" validate:"omitempty,numeric"`
	PollTimeout string `json:"poll_timeout,omitempty"` // default "10s"
}

type LoggingConfig struct {
	Level    string          `json:"level" env:"LOG_LEVEL" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id" validate:"gte=0"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
}

// ScheduleConfig controls the poll loop.
//
// Defaults:
//   - poll_interval: "1s"
//   - timezone: UTC
//   - retry.max_attempts: 5 (0 retries forever)
//   - retry.base: "1s", retry.max_delay: "1m"
type ScheduleConfig struct {
	PollInterval string      `json:"poll_interval,omitempty"`
	Timezone     string      `json:"timezone,omitempty" env:"TZ_NAME"`
	Retry        RetryConfig `json:"retry,omitempty"`
}

// RetryConfig bounds dispatch retries of a failing head job.
//
// MaxAttempts is a pointer so an explicit 0 (unbounded) can be told apart
// from an omitted value.
type RetryConfig struct {
	MaxAttempts *int   `json:"max_attempts,omitempty" validate:"omitempty,gte=0"`
	Base        string `json:"base,omitempty"`
	MaxDelay    string `json:"max_delay,omitempty"`
}

// StorageConfig selects the schedule backend.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./resources/schedule.json" }
type StorageConfig struct {
	Driver      string `json:"driver" env:"STORAGE_DRIVER" validate:"omitempty,oneof=file sqlite sqlite3 redis"`
	Path        string `json:"path" env:"STORAGE_PATH"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	RedisURL    string `json:"redis_url,omitempty" env:"REDIS_URL" validate:"required_if=Driver redis"`
	KeyPrefix   string `json:"key_prefix,omitempty"`
	LockTTL     string `json:"lock_ttl,omitempty"` // sqlite, redis
}

type CommandsConfig struct {
	// Timeout bounds one command handler; default "15s".
	Timeout string `json:"timeout,omitempty"`
	// DeleteRequest removes the user's /schedule message once accepted.
	DeleteRequest bool   `json:"delete_request"`
	DocsURL       string `json:"docs_url,omitempty" validate:"omitempty,url"`
}

// MetricsConfig controls the HTTP server exposing /metrics and /healthz.
//
// Prefer binding to localhost. A non-loopback address needs a token or
// allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty" validate:"omitempty,hostname_port"` // default "127.0.0.1:9464"
	Pprof         bool   `json:"pprof,omitempty"`
	Token         string `json:"token,omitempty" env:"METRICS_TOKEN"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// HousekeepingConfig controls the periodic maintenance job.
type HousekeepingConfig struct {
	// Spec is a cron expression (seconds optional) or descriptor; default "@hourly".
	Spec string `json:"spec,omitempty"`
	// DeadLetterRetention drops dead letters older than this; default "720h", "0s" keeps forever.
	DeadLetterRetention string `json:"dead_letter_retention,omitempty"`
}
