package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DurationError reports a config key whose value is not a usable duration.
type DurationError struct {
	Key string
	Raw string
	Err error
}

func (e *DurationError) Error() string {
	return fmt.Sprintf("%s: invalid duration %q: %v", e.Key, e.Raw, e.Err)
}

func (e *DurationError) Unwrap() error { return e.Err }

var errNegativeDuration = errors.New("must be >= 0")

// ParseDurationField parses a duration config value. Empty means zero, and a
// bare integer is taken as seconds so env overrides can say "30".
func ParseDurationField(key, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	var d time.Duration
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		d = time.Duration(n) * time.Second
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, &DurationError{Key: key, Raw: raw, Err: err}
	}
	if d < 0 {
		return 0, &DurationError{Key: key, Raw: raw, Err: errNegativeDuration}
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(key, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(key, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

func durationFields(cfg *Config) []struct{ key, raw string } {
	return []struct{ key, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"schedule.poll_interval", cfg.Schedule.PollInterval},
		{"schedule.retry.base", cfg.Schedule.Retry.Base},
		{"schedule.retry.max_delay", cfg.Schedule.Retry.MaxDelay},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"storage.lock_ttl", cfg.Storage.LockTTL},
		{"commands.timeout", cfg.Commands.Timeout},
		{"housekeeping.dead_letter_retention", cfg.Housekeeping.DeadLetterRetention},
	}
}
