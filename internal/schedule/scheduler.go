package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"schedbot/internal/eventbus"
	logx "schedbot/pkg/logx"
)

// Store persists the whole queue as one document.
type Store interface {
	Load(ctx context.Context) (Queue, error)
	Save(ctx context.Context, q Queue) error
}

// DeadLetterStore keeps jobs that were given up on.
type DeadLetterStore interface {
	AppendDead(ctx context.Context, d DeadLetter) error
	ListDead(ctx context.Context) ([]DeadLetter, error)
	PruneDead(ctx context.Context, before time.Time) (int, error)
}

// Locker is implemented by stores that can exclude other processes for the
// duration of a load-mutate-save cycle.
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

// Scheduler owns the store and serializes every load-mutate-save cycle on it.
// Both the poll loop and request intake go through the same Scheduler.
type Scheduler struct {
	mu    sync.Mutex
	store Store
	log   logx.Logger
	bus   eventbus.Bus

	// unsaved is a job whose dead letter was written but whose removal
	// from the queue was not saved. Guarded by mu.
	unsaved    Job
	hasUnsaved bool
}

func NewScheduler(store Store, log logx.Logger, bus eventbus.Bus) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Scheduler{store: store, log: log, bus: bus}
}

func (s *Scheduler) lock(ctx context.Context) (func(), error) {
	s.mu.Lock()
	l, ok := s.store.(Locker)
	if !ok {
		return s.mu.Unlock, nil
	}
	unlock, err := l.Lock(ctx)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("schedule: acquire store lock: %w", err)
	}
	return func() {
		unlock()
		s.mu.Unlock()
	}, nil
}

// Update runs one exclusive load → fn → save cycle and returns the saved
// queue. When fn returns an error nothing is written.
func (s *Scheduler) Update(ctx context.Context, fn func(Queue) (Queue, error)) (Queue, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	q, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	next, err := fn(q)
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, next); err != nil {
		return nil, err
	}
	queueLength.Set(float64(len(next)))
	return next, nil
}

// Snapshot loads the current queue under the same exclusion as Update.
func (s *Scheduler) Snapshot(ctx context.Context) (Queue, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	q, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	queueLength.Set(float64(len(q)))
	return q, nil
}

// Schedule inserts job in due order and persists the queue.
func (s *Scheduler) Schedule(ctx context.Context, job Job) error {
	q, err := s.Update(ctx, func(q Queue) (Queue, error) {
		return q.Insert(job), nil
	})
	if err != nil {
		return err
	}
	s.log.Info("job scheduled",
		logx.Time("due", job.Due),
		logx.Int64("chat_id", job.ChannelID),
		logx.Int64("author_id", job.AuthorID),
		logx.Int("pending", len(q)),
	)
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobAdded, Data: job})
	return nil
}

// Pending lists the author's jobs for a chat, in due order.
func (s *Scheduler) Pending(ctx context.Context, authorID, channelID int64) ([]Job, error) {
	q, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return q.Filter(ownedBy(authorID, channelID)), nil
}

// Cancel removes the n-th (1-based) entry of Pending(authorID, channelID).
func (s *Scheduler) Cancel(ctx context.Context, authorID, channelID int64, n int) (Job, error) {
	var removed Job
	_, err := s.Update(ctx, func(q Queue) (Queue, error) {
		mine := q.Filter(ownedBy(authorID, channelID))
		if n < 1 || n > len(mine) {
			return nil, ErrNoSuchJob
		}
		removed = mine[n-1]
		next, _ := q.Remove(removed)
		return next, nil
	})
	if err != nil {
		return Job{}, err
	}
	s.log.Info("job cancelled", logx.Time("due", removed.Due), logx.Int64("chat_id", channelID), logx.Int64("author_id", authorID))
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobCancelled, Data: removed})
	return removed, nil
}

// complete removes a dispatched job. The job is normally still the head, but
// an intake may have inserted an earlier job while dispatch ran, so the
// first equal entry is removed. A job cancelled mid-dispatch is a no-op.
func (s *Scheduler) complete(ctx context.Context, job Job) (Queue, bool, error) {
	found := false
	q, err := s.Update(ctx, func(q Queue) (Queue, error) {
		if len(q) > 0 && q[0].Equal(job) {
			_, rest, err := q.RemoveHead()
			if err != nil {
				return nil, err
			}
			found = true
			return rest, nil
		}
		next, ok := q.Remove(job)
		found = ok
		return next, nil
	})
	return q, found, err
}

// bury records job as a dead letter and drops it from the queue. When the
// save fails after the dead letter was written, the next bury of the same job
// only retries the save.
func (s *Scheduler) bury(ctx context.Context, d DeadLetter) error {
	dl, ok := s.store.(DeadLetterStore)
	if !ok {
		return fmt.Errorf("schedule: store has no dead-letter support")
	}
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	q, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	next, found := q.Remove(d.Job)
	if !found {
		s.hasUnsaved = false
		return nil
	}
	if !s.hasUnsaved || !s.unsaved.Equal(d.Job) {
		if err := dl.AppendDead(ctx, d); err != nil {
			return err
		}
		s.unsaved, s.hasUnsaved = d.Job, true
	}
	if err := s.store.Save(ctx, next); err != nil {
		return err
	}
	s.hasUnsaved = false
	queueLength.Set(float64(len(next)))
	return nil
}

// DeadLetters lists dead letters, oldest first.
func (s *Scheduler) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	dl, ok := s.store.(DeadLetterStore)
	if !ok {
		return nil, nil
	}
	return dl.ListDead(ctx)
}

// PruneDeadLetters drops dead letters that failed before the cutoff.
func (s *Scheduler) PruneDeadLetters(ctx context.Context, before time.Time) (int, error) {
	dl, ok := s.store.(DeadLetterStore)
	if !ok {
		return 0, nil
	}
	unlock, err := s.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()
	return dl.PruneDead(ctx, before)
}

func ownedBy(authorID, channelID int64) func(Job) bool {
	return func(j Job) bool { return j.AuthorID == authorID && j.ChannelID == channelID }
}
