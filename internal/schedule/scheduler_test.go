package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"schedbot/internal/eventbus"
	logx "schedbot/pkg/logx"
)

func newTestScheduler(store Store) (*Scheduler, eventbus.Bus) {
	bus := eventbus.New()
	return NewScheduler(store, logx.Nop(), bus), bus
}

// Empty store, schedule "00:00:05 hello" at T, reload yields that single job.
func TestScheduleIntoEmptyStore(t *testing.T) {
	st := &memStore{}
	s, _ := newTestScheduler(st)
	ctx := context.Background()

	q, err := s.Snapshot(ctx)
	if err != nil || len(q) != 0 {
		t.Fatalf("initial snapshot = %+v, %v", q, err)
	}

	off, err := ParseOffset("00:00:05")
	if err != nil {
		t.Fatalf("ParseOffset: %v", err)
	}
	job := NewJob(t0, off, 1, 100, 0, "hello")
	if err := s.Schedule(ctx, job); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	q, err = s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(q) != 1 || !q[0].Equal(job) || !q[0].Due.Equal(t0.Add(5*time.Second)) {
		t.Fatalf("after reload = %+v", q)
	}
}

func TestScheduleKeepsOrderAcrossCalls(t *testing.T) {
	s, _ := newTestScheduler(&memStore{})
	ctx := context.Background()
	for _, j := range []Job{at(10, "10"), at(5, "5"), at(20, "20"), at(5, "5b")} {
		if err := s.Schedule(ctx, j); err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	}
	q, _ := s.Snapshot(ctx)
	want := []string{"5", "5b", "10", "20"}
	for i, w := range want {
		if q[i].Message != w {
			t.Fatalf("q[%d]=%q want %q (%+v)", i, q[i].Message, w, q)
		}
	}
}

func TestScheduleConcurrentIntakeLosesNothing(t *testing.T) {
	s, _ := newTestScheduler(&memStore{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Schedule(ctx, at(i%7, "x")); err != nil {
				t.Errorf("Schedule: %v", err)
			}
		}(i)
	}
	wg.Wait()

	q, _ := s.Snapshot(ctx)
	if len(q) != 50 || !q.Sorted() {
		t.Fatalf("len=%d sorted=%v", len(q), q.Sorted())
	}
}

func TestUpdateErrorWritesNothing(t *testing.T) {
	st := &memStore{}
	s, _ := newTestScheduler(st)
	boom := errors.New("boom")
	_, err := s.Update(context.Background(), func(q Queue) (Queue, error) {
		return q.Insert(at(1, "x")), boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	if _, saves := st.counts(); saves != 0 {
		t.Fatalf("saves=%d want 0", saves)
	}
}

func TestUpdateCorruptStore(t *testing.T) {
	st := &memStore{doc: []byte("{not json")}
	s, _ := newTestScheduler(st)
	err := s.Schedule(context.Background(), at(1, "x"))
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err=%v want ErrCorrupt", err)
	}
	if string(st.doc) != "{not json" {
		t.Fatalf("corrupt document was overwritten: %s", st.doc)
	}
}

func TestUpdateTakesStoreLock(t *testing.T) {
	st := &lockingStore{memStore: &memStore{}}
	s, _ := newTestScheduler(st)
	ctx := context.Background()
	_ = s.Schedule(ctx, at(1, "x"))
	_, _ = s.Snapshot(ctx)
	if st.locks != 2 || st.unlocks != 2 {
		t.Fatalf("locks=%d unlocks=%d", st.locks, st.unlocks)
	}

	st.lockErr = errors.New("held elsewhere")
	if err := s.Schedule(ctx, at(2, "y")); err == nil {
		t.Fatalf("expected lock error")
	}
	// The in-process mutex must have been released.
	st.lockErr = nil
	if err := s.Schedule(ctx, at(2, "y")); err != nil {
		t.Fatalf("Schedule after lock failure: %v", err)
	}
}

func TestPendingAndCancel(t *testing.T) {
	s, bus := newTestScheduler(&memStore{})
	ctx := context.Background()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	mine1 := Job{Due: t0.Add(time.Minute), AuthorID: 1, ChannelID: 100, Message: "one"}
	mine2 := Job{Due: t0.Add(2 * time.Minute), AuthorID: 1, ChannelID: 100, Message: "two"}
	other := Job{Due: t0.Add(90 * time.Second), AuthorID: 2, ChannelID: 100, Message: "theirs"}
	elsewhere := Job{Due: t0, AuthorID: 1, ChannelID: 200, Message: "other chat"}
	for _, j := range []Job{mine2, other, mine1, elsewhere} {
		if err := s.Schedule(ctx, j); err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	}

	pending, err := s.Pending(ctx, 1, 100)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 2 || pending[0].Message != "one" || pending[1].Message != "two" {
		t.Fatalf("pending=%+v", pending)
	}

	if _, err := s.Cancel(ctx, 1, 100, 3); !errors.Is(err, ErrNoSuchJob) {
		t.Fatalf("err=%v want ErrNoSuchJob", err)
	}
	if _, err := s.Cancel(ctx, 1, 100, 0); !errors.Is(err, ErrNoSuchJob) {
		t.Fatalf("err=%v want ErrNoSuchJob", err)
	}

	got, err := s.Cancel(ctx, 1, 100, 2)
	if err != nil || !got.Equal(mine2) {
		t.Fatalf("Cancel = %+v, %v", got, err)
	}
	q, _ := s.Snapshot(ctx)
	if len(q) != 3 {
		t.Fatalf("len=%d want 3", len(q))
	}
	for _, j := range q {
		if j.Equal(mine2) {
			t.Fatalf("cancelled job still queued")
		}
	}

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	if len(types) != 5 || types[4] != eventbus.TypeJobCancelled {
		t.Fatalf("events=%v", types)
	}
}

func TestPruneDeadLetters(t *testing.T) {
	st := &memStore{dead: []DeadLetter{
		{Job: at(1, "old"), FailedAt: t0.Add(-48 * time.Hour)},
		{Job: at(2, "new"), FailedAt: t0},
	}}
	s, _ := newTestScheduler(st)
	n, err := s.PruneDeadLetters(context.Background(), t0.Add(-24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("prune = %d, %v", n, err)
	}
	left, _ := s.DeadLetters(context.Background())
	if len(left) != 1 || left[0].Job.Message != "new" {
		t.Fatalf("left=%+v", left)
	}
}

func TestBuryRetriesSaveWithoutDuplicateDeadLetter(t *testing.T) {
	ctx := context.Background()
	st := &memStore{}
	s, _ := newTestScheduler(st)
	if err := s.Schedule(ctx, at(1, "a")); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	d := DeadLetter{Job: at(1, "a"), Attempts: 5, Reason: "chat not found", FailedAt: t0}

	st.mu.Lock()
	st.saveErr = errors.New("disk full")
	st.mu.Unlock()
	if err := s.bury(ctx, d); err == nil {
		t.Fatalf("bury succeeded with failing save")
	}
	q, _ := s.Snapshot(ctx)
	if len(q) != 1 {
		t.Fatalf("queue=%+v, want job still queued", q)
	}

	st.mu.Lock()
	st.saveErr = nil
	st.mu.Unlock()
	if err := s.bury(ctx, d); err != nil {
		t.Fatalf("bury: %v", err)
	}
	q, _ = s.Snapshot(ctx)
	if len(q) != 0 {
		t.Fatalf("queue=%+v, want empty", q)
	}
	dead, _ := s.DeadLetters(ctx)
	if len(dead) != 1 {
		t.Fatalf("dead letters=%d, want 1", len(dead))
	}

	// A later identical job is a new dead letter.
	if err := s.Schedule(ctx, at(1, "a")); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.bury(ctx, d); err != nil {
		t.Fatalf("bury: %v", err)
	}
	if dead, _ := s.DeadLetters(ctx); len(dead) != 2 {
		t.Fatalf("dead letters=%d, want 2", len(dead))
	}
}
