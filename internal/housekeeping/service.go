// Package housekeeping runs periodic maintenance on the schedule store:
// pruning old dead letters and logging a queue summary.
package housekeeping

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"schedbot/internal/config"
	"schedbot/internal/schedule"
	logx "schedbot/pkg/logx"
)

const (
	DefaultSpec      = "@hourly"
	DefaultRetention = 30 * 24 * time.Hour
	runTimeout       = time.Minute
)

type Config struct {
	Spec string
	// Retention drops dead letters older than this; 0 keeps them forever.
	Retention time.Duration
	Location  *time.Location
}

// Store is what maintenance needs from the scheduler.
type Store interface {
	Snapshot(ctx context.Context) (schedule.Queue, error)
	DeadLetters(ctx context.Context) ([]schedule.DeadLetter, error)
	PruneDeadLetters(ctx context.Context, before time.Time) (int, error)
}

// Report summarizes one maintenance run.
type Report struct {
	Pending     int
	NextDue     time.Time
	DeadLetters int
	Pruned      int
}

type Service struct {
	mu    sync.Mutex
	cfg   Config
	store Store
	log   logx.Logger
	now   func() time.Time

	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config, store Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: normalize(cfg), store: store, log: log, now: time.Now}
}

func normalize(cfg Config) Config {
	cfg.Spec = strings.TrimSpace(cfg.Spec)
	if cfg.Spec == "" {
		cfg.Spec = DefaultSpec
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Retention < 0 {
		cfg.Retention = 0
	}
	return cfg
}

// Apply swaps the config; the cron is rebuilt when spec or location change.
func (s *Service) Apply(cfg Config) error {
	cfg = normalize(cfg)
	if _, err := config.CronParser.Parse(cfg.Spec); err != nil {
		return fmt.Errorf("housekeeping: spec %q: %w", cfg.Spec, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cfg
	s.cfg = cfg
	if s.c == nil || (prev.Spec == cfg.Spec && prev.Location.String() == cfg.Location.String()) {
		return nil
	}
	s.stopCronLocked()
	return s.startCronLocked()
}

// Start begins cron triggering. Runs stop when ctx is cancelled or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	return s.startCronLocked()
}

func (s *Service) startCronLocked() error {
	cur := s.cfg
	c := cron.New(
		cron.WithParser(config.CronParser),
		cron.WithLocation(cur.Location),
		cron.WithLogger(cronLogger{log: s.log}),
		cron.WithChain(cron.Recover(cronLogger{log: s.log}), cron.SkipIfStillRunning(cronLogger{log: s.log})),
	)
	ctx := s.ctx
	if _, err := c.AddFunc(cur.Spec, func() {
		rctx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		_, _ = s.RunOnce(rctx)
	}); err != nil {
		return fmt.Errorf("housekeeping: spec %q: %w", cur.Spec, err)
	}
	c.Start()
	s.c = c
	s.log.Info("housekeeping started", logx.String("spec", cur.Spec), logx.String("tz", cur.Location.String()), logx.Duration("retention", cur.Retention))
	return nil
}

func (s *Service) stopCronLocked() <-chan struct{} {
	if s.c == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	done := s.c.Stop().Done()
	s.c = nil
	return done
}

// Stop halts triggering and waits (bounded by ctx) for a running job.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	done := s.stopCronLocked()
	if s.cancel != nil {
		defer s.cancel()
	}
	s.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("housekeeping stopped")
}

// RunOnce prunes expired dead letters and logs a queue summary.
func (s *Service) RunOnce(ctx context.Context) (Report, error) {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()

	var rep Report
	if cur.Retention > 0 {
		n, err := s.store.PruneDeadLetters(ctx, s.now().Add(-cur.Retention))
		if err != nil {
			s.log.Warn("dead-letter prune failed", logx.Err(err))
			return rep, err
		}
		rep.Pruned = n
	}

	q, err := s.store.Snapshot(ctx)
	if err != nil {
		s.log.Warn("queue summary failed", logx.Err(err))
		return rep, err
	}
	rep.Pending = len(q)
	if len(q) > 0 {
		rep.NextDue = q[0].Due
	}
	dead, err := s.store.DeadLetters(ctx)
	if err != nil {
		s.log.Warn("dead-letter listing failed", logx.Err(err))
		return rep, err
	}
	rep.DeadLetters = len(dead)

	fields := []logx.Field{
		logx.Int("pending", rep.Pending),
		logx.Int("dead_letters", rep.DeadLetters),
		logx.Int("pruned", rep.Pruned),
	}
	if !rep.NextDue.IsZero() {
		fields = append(fields, logx.String("next_due", rep.NextDue.In(cur.Location).Format(schedule.TimeLayout)))
	}
	s.log.Info("housekeeping done", fields...)
	return rep, nil
}

// cronLogger routes cron's internal logging through logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
