package app

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"schedbot/internal/commands"
	"schedbot/internal/config"
	"schedbot/internal/housekeeping"
	"schedbot/internal/observability"
	"schedbot/internal/schedule"
	"schedbot/internal/storage"
	logx "schedbot/pkg/logx"
)

const (
	defaultDataDir        = "resources"
	defaultCommandTimeout = 15 * time.Second
	defaultBusyTimeout    = 5 * time.Second
)

func loadLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Schedule.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(tz)
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// logTarget parses telegram.group_log; ok is false when unset.
func logTarget(cfg *config.Config) (int64, bool) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil
}

func mapStorageConfig(cfg *config.Config, loc *time.Location) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "file"
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		switch driver {
		case "file":
			path = filepath.Join(defaultDataDir, "schedule.json")
		case "sqlite", "sqlite3":
			path = filepath.Join(defaultDataDir, "schedule.db")
		}
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	ttl, err := config.ParseDurationField("storage.lock_ttl", sc.LockTTL)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        path,
		BusyTimeout: busy,
		RedisURL:    strings.TrimSpace(sc.RedisURL),
		KeyPrefix:   strings.TrimSpace(sc.KeyPrefix),
		LockTTL:     ttl,
		Location:    loc,
	}, nil
}

func mapPollerConfig(cfg *config.Config) (schedule.PollerConfig, error) {
	interval, err := config.ParseDurationOrDefault("schedule.poll_interval", cfg.Schedule.PollInterval, time.Second)
	if err != nil {
		return schedule.PollerConfig{}, err
	}
	retry := schedule.DefaultRetryPolicy()
	rc := cfg.Schedule.Retry
	if rc.MaxAttempts != nil {
		retry.MaxAttempts = *rc.MaxAttempts
	}
	if retry.Base, err = config.ParseDurationOrDefault("schedule.retry.base", rc.Base, retry.Base); err != nil {
		return schedule.PollerConfig{}, err
	}
	if retry.MaxDelay, err = config.ParseDurationOrDefault("schedule.retry.max_delay", rc.MaxDelay, retry.MaxDelay); err != nil {
		return schedule.PollerConfig{}, err
	}
	if retry.MaxDelay < retry.Base {
		retry.MaxDelay = retry.Base
	}
	return schedule.PollerConfig{Interval: interval, Retry: retry}, nil
}

func mapCommandSettings(cfg *config.Config, loc *time.Location) (commands.Settings, error) {
	timeout, err := config.ParseDurationOrDefault("commands.timeout", cfg.Commands.Timeout, defaultCommandTimeout)
	if err != nil {
		return commands.Settings{}, err
	}
	return commands.Settings{
		Timeout:       timeout,
		DeleteRequest: cfg.Commands.DeleteRequest,
		DocsURL:       strings.TrimSpace(cfg.Commands.DocsURL),
		Location:      loc,
	}, nil
}

func mapMetricsConfig(cfg *config.Config) observability.Config {
	return observability.Config{
		Enabled:       cfg.Metrics.Enabled,
		Addr:          config.MetricsAddr(cfg.Metrics),
		Pprof:         cfg.Metrics.Pprof,
		Token:         strings.TrimSpace(cfg.Metrics.Token),
		AllowInsecure: cfg.Metrics.AllowInsecure,
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  60 * time.Second, // pprof profiles stream for 30s by default
		IdleTimeout:   60 * time.Second,
	}
}

func mapHousekeepingConfig(cfg *config.Config, loc *time.Location) (housekeeping.Config, error) {
	hc := housekeeping.Config{Spec: cfg.Housekeeping.Spec, Retention: housekeeping.DefaultRetention, Location: loc}
	// unlike other durations an explicit "0s" is meaningful: keep forever
	if raw := strings.TrimSpace(cfg.Housekeeping.DeadLetterRetention); raw != "" {
		d, err := config.ParseDurationField("housekeeping.dead_letter_retention", raw)
		if err != nil {
			return housekeeping.Config{}, err
		}
		hc.Retention = d
	}
	return hc, nil
}
