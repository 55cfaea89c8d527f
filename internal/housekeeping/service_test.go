package housekeeping

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"schedbot/internal/schedule"
	logx "schedbot/pkg/logx"
)

type fakeStore struct {
	mu        sync.Mutex
	q         schedule.Queue
	dead      []schedule.DeadLetter
	cutoffs   []time.Time
	snapshots int
	pruneErr  error
}

func (f *fakeStore) Snapshot(context.Context) (schedule.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots++
	return f.q, nil
}

func (f *fakeStore) DeadLetters(context.Context) ([]schedule.DeadLetter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dead, nil
}

func (f *fakeStore) PruneDeadLetters(_ context.Context, before time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pruneErr != nil {
		return 0, f.pruneErr
	}
	f.cutoffs = append(f.cutoffs, before)
	kept := f.dead[:0]
	n := 0
	for _, d := range f.dead {
		if d.FailedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, d)
	}
	f.dead = kept
	return n, nil
}

func (f *fakeStore) snapshotCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots
}

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestRunOncePrunesAndSummarizes(t *testing.T) {
	due := now.Add(time.Minute)
	fs := &fakeStore{
		q: schedule.Queue{}.Insert(schedule.Job{Due: due, AuthorID: 1, ChannelID: 2, Message: "a"}),
		dead: []schedule.DeadLetter{
			{FailedAt: now.Add(-48 * time.Hour)},
			{FailedAt: now.Add(-time.Hour)},
		},
	}
	s := New(Config{Retention: 24 * time.Hour, Location: time.UTC}, fs, logx.Nop())
	s.now = func() time.Time { return now }

	rep, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Pruned != 1 || rep.DeadLetters != 1 || rep.Pending != 1 || !rep.NextDue.Equal(due) {
		t.Fatalf("report=%+v", rep)
	}
	if len(fs.cutoffs) != 1 || !fs.cutoffs[0].Equal(now.Add(-24*time.Hour)) {
		t.Fatalf("cutoffs=%v", fs.cutoffs)
	}
}

func TestRunOnceZeroRetentionKeepsEverything(t *testing.T) {
	fs := &fakeStore{dead: []schedule.DeadLetter{{FailedAt: now.Add(-1000 * time.Hour)}}}
	s := New(Config{}, fs, logx.Nop())
	rep, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Pruned != 0 || rep.DeadLetters != 1 || len(fs.cutoffs) != 0 {
		t.Fatalf("report=%+v cutoffs=%v", rep, fs.cutoffs)
	}
}

func TestRunOncePruneError(t *testing.T) {
	boom := errors.New("boom")
	fs := &fakeStore{pruneErr: boom}
	s := New(Config{Retention: time.Hour}, fs, logx.Nop())
	if _, err := s.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
}

func TestApplyRejectsBadSpec(t *testing.T) {
	s := New(Config{}, &fakeStore{}, logx.Nop())
	if err := s.Apply(Config{Spec: "not a cron"}); err == nil {
		t.Fatalf("expected error")
	}
	if s.cfg.Spec != DefaultSpec {
		t.Fatalf("spec=%q after rejected apply", s.cfg.Spec)
	}
}

func TestCronTriggersRuns(t *testing.T) {
	fs := &fakeStore{}
	s := New(Config{Spec: "@every 1s"}, fs, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for fs.snapshotCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("cron never ran")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// rebuilding on a spec change keeps the service running
	if err := s.Apply(Config{Spec: "@every 2s"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	s.mu.Lock()
	running := s.c != nil
	s.mu.Unlock()
	if !running {
		t.Fatalf("cron not running after Apply")
	}
}
