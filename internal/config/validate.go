package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// CronParser accepts an optional seconds field and descriptors (@hourly, @every 5m).
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks struct tags first, then values the tags can't express
// (durations, timezone, cron spec, metrics exposure).
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := structValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q", fe.Namespace(), fe.Tag())
		}
		return err
	}

	for _, d := range durationFields(cfg) {
		if _, err := ParseDurationField(d.key, d.raw); err != nil {
			return err
		}
	}
	if tz := strings.TrimSpace(cfg.Schedule.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("schedule.timezone: invalid %q: %w", tz, err)
		}
	}
	if spec := strings.TrimSpace(cfg.Housekeeping.Spec); spec != "" {
		if _, err := CronParser.Parse(spec); err != nil {
			return fmt.Errorf("housekeeping.spec: invalid %q: %w", spec, err)
		}
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Token == "" && !cfg.Metrics.AllowInsecure && !IsLoopbackAddr(MetricsAddr(cfg.Metrics)) {
		return fmt.Errorf("metrics.addr %q is not loopback; set metrics.token or metrics.allow_insecure", cfg.Metrics.Addr)
	}
	return nil
}

// MetricsAddr returns the configured listen address or the default.
func MetricsAddr(m MetricsConfig) string {
	if a := strings.TrimSpace(m.Addr); a != "" {
		return a
	}
	return "127.0.0.1:9464"
}

// IsLoopbackAddr reports whether a host:port only listens on loopback.
// An empty host (":9464") binds every interface.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
