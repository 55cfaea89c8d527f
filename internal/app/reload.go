package app

import (
	"context"
	"strings"

	"schedbot/internal/config"
	logx "schedbot/pkg/logx"
)

// reloadLoop fans validated config changes out to the live components.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		if config.RestartSections[s] {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}
	if strings.TrimSpace(prev.Schedule.Timezone) != strings.TrimSpace(next.Schedule.Timezone) {
		a.log.Warn("schedule.timezone changed; restart required for it to take effect")
	}

	// update log target first so Apply doesn't warn when Telegram logging is enabled
	if chatID, ok := logTarget(next); ok {
		a.logs.SetTelegramTarget(chatID, next.Logging.Telegram.ThreadID)
	} else {
		a.logs.SetTelegramTarget(0, 0)
	}
	a.logs.Apply(mapLogConfig(next))

	if pcfg, err := mapPollerConfig(next); err != nil {
		a.log.Warn("invalid schedule config; keeping previous", logx.Err(err))
	} else {
		pcfg.OnTick = a.sd.Watchdog
		a.poller.Apply(pcfg)
	}

	// The location stays fixed for the process lifetime; the store encodes with it.
	if st, err := mapCommandSettings(next, a.loc); err != nil {
		a.log.Warn("invalid commands config; keeping previous", logx.Err(err))
	} else {
		a.router.Apply(st)
	}

	if hc, err := mapHousekeepingConfig(next, a.loc); err != nil {
		a.log.Warn("invalid housekeeping config; keeping previous", logx.Err(err))
	} else if err := a.house.Apply(hc); err != nil {
		a.log.Warn("housekeeping reconfigure failed", logx.Err(err))
	}

	a.metrics.Reconfigure(ctx, mapMetricsConfig(next))

	a.log.Info("config reloaded", fields...)
}
