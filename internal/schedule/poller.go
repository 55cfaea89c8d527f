package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"schedbot/internal/eventbus"
	logx "schedbot/pkg/logx"
)

// State is the poll loop state.
type State int32

const (
	StateIdle State = iota
	StateChecking
	StateDispatching
	StatePersisting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChecking:
		return "checking"
	case StateDispatching:
		return "dispatching"
	case StatePersisting:
		return "persisting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Gateway delivers a job's message. A nil error means delivered.
type Gateway interface {
	Deliver(ctx context.Context, channelID int64, threadID int, authorID int64, text string) error
}

// RetryPolicy bounds how long a failing head job may block the queue.
//
// MaxAttempts 0 retries forever. Between attempts the head is held back for
// Base, doubling up to MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Base: time.Second, MaxDelay: time.Minute}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Outcome describes what a single tick did.
type Outcome string

const (
	OutcomeIdle       Outcome = "idle"
	OutcomeHeld       Outcome = "held"
	OutcomeDispatched Outcome = "dispatched"
	OutcomeFailed     Outcome = "failed"
	OutcomeDead       Outcome = "dead"
	OutcomeError      Outcome = "error"
)

type PollerConfig struct {
	Interval time.Duration
	Retry    RetryPolicy
	// OnTick runs after every tick (systemd watchdog ping).
	OnTick func()
}

// failure tracks consecutive dispatch failures of the current head.
type failure struct {
	job      Job
	attempts int
	next     time.Time
	lastErr  error
}

// Poller fires due jobs through a Gateway.
type Poller struct {
	sched *Scheduler
	gw    Gateway
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	state atomic.Int32

	mu      sync.Mutex
	cfg     PollerConfig
	failing *failure
	retune  chan struct{}
}

func NewPoller(sched *Scheduler, gw Gateway, cfg PollerConfig, log logx.Logger, bus eventbus.Bus) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Poller{
		sched:  sched,
		gw:     gw,
		log:    log,
		bus:    bus,
		now:    time.Now,
		cfg:    cfg,
		retune: make(chan struct{}, 1),
	}
}

func (p *Poller) State() State { return State(p.state.Load()) }

func (p *Poller) setState(s State) { p.state.Store(int32(s)) }

// Apply swaps interval and retry policy at runtime.
func (p *Poller) Apply(cfg PollerConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	p.mu.Lock()
	if cfg.OnTick == nil {
		cfg.OnTick = p.cfg.OnTick
	}
	changed := cfg.Interval != p.cfg.Interval
	p.cfg = cfg
	p.mu.Unlock()
	if changed {
		select {
		case p.retune <- struct{}{}:
		default:
		}
	}
}

func (p *Poller) config() PollerConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Run waits for ready, then ticks until ctx is cancelled. A tick in flight
// when ctx is cancelled runs to completion on a detached context, so a
// delivered job is always removed before Run returns.
func (p *Poller) Run(ctx context.Context, ready <-chan struct{}) error {
	defer p.setState(StateStopped)

	if ready != nil {
		select {
		case <-ctx.Done():
			return nil
		case <-ready:
		}
	}

	interval := p.config().Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	p.log.Info("poll loop started", logx.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			p.log.Info("poll loop stopped")
			return nil
		case <-p.retune:
			interval = p.config().Interval
			ticker.Reset(interval)
			p.log.Debug("poll interval changed", logx.Duration("interval", interval))
		case <-ticker.C:
			// Stop was requested while we waited: don't start a new tick.
			if ctx.Err() != nil {
				p.log.Info("poll loop stopped")
				return nil
			}
			_, _ = p.Tick(context.WithoutCancel(ctx), p.now())
			if fn := p.config().OnTick; fn != nil {
				fn()
			}
		}
	}
}

// Tick runs one check-and-dispatch cycle at now.
func (p *Poller) Tick(ctx context.Context, now time.Time) (Outcome, error) {
	defer p.setState(StateIdle)

	p.setState(StateChecking)
	q, err := p.sched.Snapshot(ctx)
	if err != nil {
		p.log.Error("schedule load failed", logx.Err(err))
		recordTick(string(OutcomeError))
		return OutcomeError, err
	}
	job, ok := q.PeekDue(now)
	if !ok {
		recordTick(string(OutcomeIdle))
		return OutcomeIdle, nil
	}

	cfg := p.config()
	p.mu.Lock()
	f := p.failing
	if f != nil && !f.job.Equal(job) {
		// Head changed (cancelled or delivered elsewhere); forget old failures.
		f = nil
		p.failing = nil
	}
	p.mu.Unlock()
	if f != nil && now.Before(f.next) {
		recordTick(string(OutcomeHeld))
		return OutcomeHeld, nil
	}

	p.setState(StateDispatching)
	start := time.Now()
	err = p.gw.Deliver(ctx, job.ChannelID, job.ThreadID, job.AuthorID, job.Message)
	took := time.Since(start)
	if err != nil {
		recordDispatch("failure", took)
		return p.onFailure(ctx, job, f, cfg.Retry, now, err)
	}
	recordDispatch("success", took)

	p.setState(StatePersisting)
	rest, found, err := p.sched.complete(ctx, job)
	if err != nil {
		// Job stays queued and will be delivered again: at-least-once.
		p.log.Error("remove dispatched job failed", logx.Err(err), logx.Time("due", job.Due), logx.Int64("chat_id", job.ChannelID))
		recordTick(string(OutcomeError))
		return OutcomeError, err
	}
	p.mu.Lock()
	p.failing = nil
	p.mu.Unlock()

	p.log.Info("job dispatched",
		logx.Time("due", job.Due),
		logx.Int64("chat_id", job.ChannelID),
		logx.Int64("author_id", job.AuthorID),
		logx.Duration("took", took),
		logx.Int("pending", len(rest)),
		logx.Bool("removed", found),
	)
	p.bus.Publish(eventbus.Event{Type: eventbus.TypeJobDispatched, Data: job})
	recordTick(string(OutcomeDispatched))
	return OutcomeDispatched, nil
}

func (p *Poller) onFailure(ctx context.Context, job Job, f *failure, policy RetryPolicy, now time.Time, cause error) (Outcome, error) {
	attempts := 1
	if f != nil {
		attempts = f.attempts + 1
	}
	fields := []logx.Field{
		logx.Err(cause),
		logx.Time("due", job.Due),
		logx.Int64("chat_id", job.ChannelID),
		logx.Int64("author_id", job.AuthorID),
		logx.Int("attempt", attempts),
		logx.Int("max_attempts", policy.MaxAttempts),
	}

	if policy.MaxAttempts > 0 && attempts >= policy.MaxAttempts {
		d := DeadLetter{Job: job, Attempts: attempts, Reason: cause.Error(), FailedAt: now}
		if err := p.sched.bury(ctx, d); err != nil {
			// Keep retrying; the queue is unchanged.
			p.log.Error("dead-letter failed; job stays queued", append(fields, logx.Any("bury_err", err.Error()))...)
			p.remember(job, attempts, now.Add(policy.delay(attempts)), cause)
			recordTick(string(OutcomeError))
			return OutcomeError, err
		}
		p.mu.Lock()
		p.failing = nil
		p.mu.Unlock()
		deadLettersTotal.Inc()
		p.log.Error("job moved to dead letters", fields...)
		p.bus.Publish(eventbus.Event{Type: eventbus.TypeJobDead, Data: d})
		recordTick(string(OutcomeDead))
		return OutcomeDead, cause
	}

	next := now.Add(policy.delay(attempts))
	p.remember(job, attempts, next, cause)
	p.log.Warn("dispatch failed; job stays at head", append(fields, logx.Time("retry_at", next))...)
	p.bus.Publish(eventbus.Event{Type: eventbus.TypeJobFailed, Data: job})
	recordTick(string(OutcomeFailed))
	return OutcomeFailed, cause
}

func (p *Poller) remember(job Job, attempts int, next time.Time, err error) {
	p.mu.Lock()
	p.failing = &failure{job: job, attempts: attempts, next: next, lastErr: err}
	p.mu.Unlock()
}

// Attempts reports consecutive failures recorded for job.
func (p *Poller) Attempts(job Job) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing == nil || !p.failing.job.Equal(job) {
		return 0
	}
	return p.failing.attempts
}
