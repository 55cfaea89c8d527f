package app

import (
	"context"
	"fmt"
	"time"

	"schedbot/internal/commands"
	"schedbot/internal/config"
	"schedbot/internal/delivery"
	"schedbot/internal/eventbus"
	"schedbot/internal/housekeeping"
	"schedbot/internal/observability"
	"schedbot/internal/runtime/supervisor"
	"schedbot/internal/schedule"
	"schedbot/internal/storage"
	kit "schedbot/internal/transport"
	telegram "schedbot/internal/transport/telegram/adapter"
	logx "schedbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	loc   *time.Location

	adapter *telegram.Adapter

	sched    *schedule.Scheduler
	poller   *schedule.Poller
	router   *commands.Router
	handlers *commands.Handlers
	metrics  *observability.Service
	house    *housekeeping.Service
	sd       *sdNotifier

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	loc, err := loadLocation(cfg)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: %w", err)
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// logx.New applies immediately; set the Telegram target before enabling
	// that sink so Apply doesn't warn about a missing chat.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	if chatID, ok := logTarget(cfg); ok {
		logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	logSvc.Apply(logCfg)
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg, loc)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	appLog.Info("storage opened", logx.String("driver", sc.Driver))

	pcfg, err := mapPollerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	settings, err := mapCommandSettings(cfg, loc)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	hcfg, err := mapHousekeepingConfig(cfg, loc)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	sd := newSdNotifier(log.With(logx.String("comp", "systemd")))
	pcfg.OnTick = sd.Watchdog

	sched := schedule.NewScheduler(store, log.With(logx.String("comp", "schedule")), bus)
	gw := delivery.NewGateway(ad, log.With(logx.String("comp", "delivery")))
	poller := schedule.NewPoller(sched, gw, pcfg, log.With(logx.String("comp", "poller")), bus)

	router := commands.NewRouter(log.With(logx.String("comp", "commands")), ad, settings)
	handlers := commands.NewHandlers(sched, router.Settings)

	return &App{
		cfgm:     cfgm,
		log:      appLog,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		loc:      loc,
		adapter:  ad,
		sched:    sched,
		poller:   poller,
		router:   router,
		handlers: handlers,
		metrics:  observability.New(mapMetricsConfig(cfg), store.Ping, log.With(logx.String("comp", "metrics"))),
		house:    housekeeping.New(hcfg, sched, log.With(logx.String("comp", "housekeeping"))),
		sd:       sd,
		updates:  make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.router.SetMenuSupervisor(a.sup)
	a.router.SetRegistry(a.handlers.Commands())
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	// The poll loop starts once the adapter is receiving updates.
	a.sup.Go("schedule.poll", func(c context.Context) error {
		return a.poller.Run(c, a.adapter.Ready())
	})
	a.sup.Go0("systemd.ready", func(c context.Context) {
		select {
		case <-c.Done():
		case <-a.adapter.Ready():
			a.sd.Ready()
			a.log.Info("ready")
		}
	})

	a.metrics.Start(a.sup.Context())
	if err := a.house.Start(a.sup.Context()); err != nil {
		return err
	}

	// Debug trail of scheduler events.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
				if job, ok := e.Data.(schedule.Job); ok {
					fields = append(fields, logx.Int64("chat_id", job.ChannelID), logx.Time("due", job.Due))
				}
				a.log.Debug("event", fields...)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("tz", a.loc.String()))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Cancel the run context first; the poll loop finishes its in-flight
	// tick and starts no new one.
	a.sup.Cancel()

	a.step(ctx, "housekeeping", 2*time.Second, func(c context.Context) error { a.house.Stop(c); return nil })
	a.step(ctx, "metrics", time.Second, func(c context.Context) error { a.metrics.Stop(c); return nil })
	// Wait for the poll loop and command workers before the adapter and store
	// go away: an in-flight dispatch still needs both.
	a.step(ctx, "supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop. It never extends the caller's deadline.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped, no time left", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}
