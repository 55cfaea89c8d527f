package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedbot/internal/schedule"
	logx "schedbot/pkg/logx"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func job(sec int, msg string) schedule.Job {
	return schedule.Job{Due: t0.Add(time.Duration(sec) * time.Second), AuthorID: 11, ChannelID: -100123, Message: msg}
}

func openDriver(t *testing.T, driver string) Store {
	t.Helper()
	if driver == "redis" {
		m := miniredis.RunT(t)
		st, err := Open(Config{Driver: "redis", RedisURL: "redis://" + m.Addr(), Location: time.UTC}, logx.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		return st
	}
	name := "schedule.json"
	if driver == "sqlite" {
		name = "schedule.db"
	}
	st, err := Open(Config{Driver: driver, Path: filepath.Join(t.TempDir(), name), Location: time.UTC}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestDrivers(t *testing.T) {
	for _, driver := range []string{"file", "sqlite", "redis"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openDriver(t, driver)
			require.NoError(t, st.Ping(ctx))

			q, err := st.Load(ctx)
			require.NoError(t, err)
			assert.NotNil(t, q)
			assert.Empty(t, q)

			want := schedule.Queue{job(1, "a"), {Due: t0.Add(time.Hour), AuthorID: 2, ChannelID: 3, ThreadID: 4, Message: "b"}}
			require.NoError(t, st.Save(ctx, want))
			got, err := st.Load(ctx)
			require.NoError(t, err)
			require.Len(t, got, 2)
			for i := range want {
				assert.True(t, got[i].Equal(want[i]), "job %d: %+v != %+v", i, got[i], want[i])
			}

			// Saving the empty queue replaces the whole document.
			require.NoError(t, st.Save(ctx, schedule.Queue{}))
			got, err = st.Load(ctx)
			require.NoError(t, err)
			assert.Empty(t, got)

			dead := []schedule.DeadLetter{
				{Job: job(1, "old"), Attempts: 5, Reason: "x", FailedAt: t0.Add(-48 * time.Hour)},
				{Job: job(2, "new"), Attempts: 5, Reason: "y", FailedAt: t0},
			}
			for _, d := range dead {
				require.NoError(t, st.AppendDead(ctx, d))
			}
			list, err := st.ListDead(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "old", list[0].Job.Message)

			n, err := st.PruneDead(ctx, t0.Add(-24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			list, err = st.ListDead(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "new", list[0].Job.Message)
			assert.True(t, list[0].FailedAt.Equal(t0))

			l, ok := st.(schedule.Locker)
			require.True(t, ok, "%s driver must support locking", driver)
			unlock, err := l.Lock(ctx)
			require.NoError(t, err)
			unlock()
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "etcd"}, logx.Nop())
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestOpenDefaultsToFile(t *testing.T) {
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "s.json")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	_, ok := st.(*fileStore)
	assert.True(t, ok)
}

func TestFileCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"date":`), 0o600))
	st, err := Open(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	_, err = st.Load(context.Background())
	assert.True(t, errors.Is(err, schedule.ErrCorrupt), "err=%v", err)
}

func TestFileEmptyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	st, err := Open(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	q, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, q)
}

func TestFileSaveIsAtomicAndExact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schedule.json")
	st, err := Open(Config{Path: path, Location: time.UTC}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Save(context.Background(), schedule.Queue{job(5, "hello")}))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `[{"date":"2026/05/01, 12:00:05","author":11,"channel_id":-100123,"msg":"hello"}]`, string(b))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file left behind")

	require.NoError(t, st.Save(context.Background(), nil))
	b, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))
}

func TestFileDeadLettersSkipGarbage(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Path: filepath.Join(dir, "schedule.json"), Location: time.UTC}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	require.NoError(t, st.AppendDead(ctx, schedule.DeadLetter{Job: job(1, "a"), FailedAt: t0}))
	f, err := os.OpenFile(filepath.Join(dir, "schedule.dead.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, _ = f.WriteString("not json\n\n")
	require.NoError(t, f.Close())
	require.NoError(t, st.AppendDead(ctx, schedule.DeadLetter{Job: job(2, "b"), FailedAt: t0}))

	list, err := st.ListDead(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[1].Job.Message)
}

func TestFileLockExcludesOtherHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	a, err := Open(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer b.Close()

	unlock, err := a.(schedule.Locker).Lock(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = b.(schedule.Locker).Lock(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlockB, err := b.(schedule.Locker).Lock(context.Background())
	require.NoError(t, err)
	unlockB()
}

func TestFileClosed(t *testing.T) {
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "s.json")}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Close())
	require.NoError(t, st.Close())
	assert.ErrorIs(t, st.Ping(context.Background()), ErrClosed)
	_, err = st.(schedule.Locker).Lock(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSQLiteLockLease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.db")
	a, err := Open(Config{Driver: "sqlite", Path: path, LockTTL: time.Hour}, logx.Nop())
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(Config{Driver: "sqlite", Path: path, LockTTL: time.Hour}, logx.Nop())
	require.NoError(t, err)
	defer b.Close()

	unlock, err := a.(schedule.Locker).Lock(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = b.(schedule.Locker).Lock(ctx)
	require.Error(t, err)

	unlock()
	unlockB, err := b.(schedule.Locker).Lock(context.Background())
	require.NoError(t, err)
	unlockB()
}

func TestSQLiteExpiredLeaseIsTakenOver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.db")
	a, err := Open(Config{Driver: "sqlite", Path: path, LockTTL: time.Millisecond}, logx.Nop())
	require.NoError(t, err)
	defer a.Close()

	// Never released: simulates a crashed holder.
	_, err = a.(schedule.Locker).Lock(context.Background())
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlock, err := a.(schedule.Locker).Lock(ctx)
	require.NoError(t, err)
	unlock()
}

func TestRedisConfigErrors(t *testing.T) {
	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	require.Error(t, err)

	_, err = Open(Config{Driver: "redis", RedisURL: "not-a-url://"}, logx.Nop())
	require.Error(t, err)
}

func TestRedisKeys(t *testing.T) {
	st := newRedisStore(nil, Config{KeyPrefix: "bot1"}, logx.Nop())
	assert.Equal(t, "bot1:queue", st.queueKey)
	assert.Equal(t, "bot1:dead", st.deadKey)
	assert.Equal(t, "bot1:lock", st.lockKey)

	st = newRedisStore(nil, Config{}, logx.Nop())
	assert.Equal(t, "schedbot:queue", st.queueKey)
	assert.Equal(t, defaultLockTTL, st.lockTTL)
}

func newMiniRedisStore(t *testing.T, cfg Config) (*redisStore, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	cfg.Location = time.UTC
	st := newRedisStore(redis.NewClient(&redis.Options{Addr: m.Addr()}), cfg, logx.Nop())
	t.Cleanup(func() { _ = st.Close() })
	return st, m
}

func TestRedisDocument(t *testing.T) {
	ctx := context.Background()
	st, m := newMiniRedisStore(t, Config{KeyPrefix: "bot1"})

	require.NoError(t, st.Save(ctx, schedule.Queue{job(5, "hello")}))
	raw, err := m.Get("bot1:queue")
	require.NoError(t, err)
	assert.Equal(t, `[{"date":"2026/05/01, 12:00:05","author":11,"channel_id":-100123,"msg":"hello"}]`, raw)

	require.NoError(t, m.Set("bot1:queue", ""))
	q, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, q)

	require.NoError(t, m.Set("bot1:queue", `[{"date":`))
	_, err = st.Load(ctx)
	assert.ErrorIs(t, err, schedule.ErrCorrupt)
}

func TestRedisLockExcludesOtherClients(t *testing.T) {
	a, m := newMiniRedisStore(t, Config{LockTTL: time.Hour})
	b := newRedisStore(redis.NewClient(&redis.Options{Addr: m.Addr()}), Config{LockTTL: time.Hour}, logx.Nop())
	defer b.Close()

	unlock, err := a.Lock(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = b.Lock(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.False(t, m.Exists(a.lockKey))
	unlockB, err := b.Lock(context.Background())
	require.NoError(t, err)
	unlockB()
}

func TestRedisUnlockKeepsNewOwner(t *testing.T) {
	a, m := newMiniRedisStore(t, Config{LockTTL: time.Second})
	b := newRedisStore(redis.NewClient(&redis.Options{Addr: m.Addr()}), Config{LockTTL: time.Hour}, logx.Nop())
	defer b.Close()

	staleUnlock, err := a.Lock(context.Background())
	require.NoError(t, err)
	m.FastForward(2 * time.Second)

	unlockB, err := b.Lock(context.Background())
	require.NoError(t, err)
	owner, err := m.Get(b.lockKey)
	require.NoError(t, err)

	// The expired holder must not release a lock it no longer owns.
	staleUnlock()
	got, err := m.Get(b.lockKey)
	require.NoError(t, err)
	assert.Equal(t, owner, got)

	unlockB()
	assert.False(t, m.Exists(b.lockKey))
}
