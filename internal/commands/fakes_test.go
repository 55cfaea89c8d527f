package commands

import (
	"context"
	"errors"
	"sync"
	"time"

	"schedbot/internal/schedule"
	kit "schedbot/internal/transport"
)

type sent struct {
	To   kit.ChatTarget
	Text string
}

type fakeOut struct {
	mu      sync.Mutex
	sent    []sent
	deleted []kit.MessageRef
	menu    []kit.BotCommand
	notify  chan struct{}
}

func newFakeOut() *fakeOut { return &fakeOut{notify: make(chan struct{}, 16)} }

func (f *fakeOut) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sent{To: to, Text: text})
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: 1}, nil
}

func (f *fakeOut) DeleteMessage(_ context.Context, ref kit.MessageRef) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, ref)
	f.mu.Unlock()
	return nil
}

func (f *fakeOut) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	f.menu = append([]kit.BotCommand(nil), cmds...)
	f.mu.Unlock()
	return nil
}

func (f *fakeOut) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.Text)
	}
	return out
}

func (f *fakeOut) last() sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sent{}
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeOut) waitSent(d time.Duration) bool {
	select {
	case <-f.notify:
		return true
	case <-time.After(d):
		return false
	}
}

// fakeSched keeps jobs in a schedule.Queue without persistence.
type fakeSched struct {
	mu    sync.Mutex
	q     schedule.Queue
	err   error
	calls int
}

func (f *fakeSched) Schedule(_ context.Context, job schedule.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.q = f.q.Insert(job)
	return nil
}

func (f *fakeSched) Pending(_ context.Context, authorID, channelID int64) ([]schedule.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.q.Filter(func(j schedule.Job) bool { return j.AuthorID == authorID && j.ChannelID == channelID }), nil
}

func (f *fakeSched) Cancel(_ context.Context, authorID, channelID int64, n int) (schedule.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return schedule.Job{}, f.err
	}
	mine := f.q.Filter(func(j schedule.Job) bool { return j.AuthorID == authorID && j.ChannelID == channelID })
	if n < 1 || n > len(mine) {
		return schedule.Job{}, schedule.ErrNoSuchJob
	}
	f.q, _ = f.q.Remove(mine[n-1])
	return mine[n-1], nil
}

func (f *fakeSched) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var errBoom = errors.New("boom")
