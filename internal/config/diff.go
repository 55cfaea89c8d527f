package config

import (
	"reflect"
	"sort"
	"strings"

	logx "schedbot/pkg/logx"
)

// RestartSections are sections whose changes only take effect after a
// restart.
var RestartSections = map[string]bool{"telegram": true, "storage": true}

// SummarizeConfigChange returns the changed section names (sorted) and safe
// structured attrs for logging. Secrets (tokens, redis url) are never
// included, only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)
	set := func(s string) bool { return strings.TrimSpace(s) != "" }

	o, n := oldCfg.Telegram, newCfg.Telegram
	if o.Token != n.Token || strings.TrimSpace(o.GroupLog) != strings.TrimSpace(n.GroupLog) || strings.TrimSpace(o.PollTimeout) != strings.TrimSpace(n.PollTimeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", o.Token != n.Token),
			logx.Bool("telegram.group_log_set", set(n.GroupLog)),
			logx.String("telegram.poll_timeout", strings.TrimSpace(n.PollTimeout)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		l := newCfg.Logging
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", l.Level),
			logx.Bool("logging.console", l.Console),
			logx.Bool("logging.file_enabled", l.File.Enabled),
			logx.Bool("logging.telegram_enabled", l.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Schedule, newCfg.Schedule) {
		s := newCfg.Schedule
		changed = append(changed, "schedule")
		maxAttempts := -1
		if s.Retry.MaxAttempts != nil {
			maxAttempts = *s.Retry.MaxAttempts
		}
		attrs = append(attrs,
			logx.String("schedule.poll_interval", s.PollInterval),
			logx.String("schedule.timezone", s.Timezone),
			logx.Int("schedule.retry.max_attempts", maxAttempts),
			logx.String("schedule.retry.base", s.Retry.Base),
			logx.String("schedule.retry.max_delay", s.Retry.MaxDelay),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		s := newCfg.Storage
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(s.Driver)),
			logx.Bool("storage.path_set", set(s.Path)),
			logx.Bool("storage.redis_url_set", set(s.RedisURL)),
		)
	}

	if oldCfg.Commands != newCfg.Commands {
		c := newCfg.Commands
		changed = append(changed, "commands")
		attrs = append(attrs,
			logx.String("commands.timeout", c.Timeout),
			logx.Bool("commands.delete_request", c.DeleteRequest),
			logx.Bool("commands.docs_url_set", set(c.DocsURL)),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		m := newCfg.Metrics
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", m.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(m.Addr)),
			logx.Bool("metrics.pprof", m.Pprof),
			logx.Bool("metrics.token_set", set(m.Token)),
		)
	}

	if oldCfg.Housekeeping != newCfg.Housekeeping {
		h := newCfg.Housekeeping
		changed = append(changed, "housekeeping")
		attrs = append(attrs,
			logx.String("housekeeping.spec", h.Spec),
			logx.String("housekeeping.dead_letter_retention", h.DeadLetterRetention),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
