package storage

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"schedbot/internal/schedule"
	logx "schedbot/pkg/logx"
)

// fileStore keeps the queue in one JSON file.
//
// Files:
//   - <path>                 (the schedule document)
//   - <path>.lock            (flock target, never written)
//   - <prefix>.dead.jsonl    (append-only dead letters)
type fileStore struct {
	log logx.Logger
	loc *time.Location

	path     string
	deadPath string

	mu       sync.Mutex
	lockFile *os.File
	closed   bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	lf, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:      log,
		loc:      cfg.Location,
		path:     path,
		deadPath: prefix + ".dead.jsonl",
		lockFile: lf,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.lockFile.Close()
}

func (s *fileStore) Ping(context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	_, err := os.Stat(filepath.Dir(s.path))
	return err
}

// Lock takes an exclusive advisory lock on <path>.lock, polling until ctx
// is done.
func (s *fileStore) Lock(ctx context.Context) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	f := s.lockFile
	s.mu.Unlock()

	for {
		ok, err := tryLockFile(f)
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", f.Name(), err)
		}
		if ok {
			return func() {
				if err := unlockFile(f); err != nil {
					s.log.Warn("unlock failed", logx.String("path", f.Name()), logx.Err(err))
				}
			}, nil
		}
		if err := waitRetry(ctx); err != nil {
			return nil, err
		}
	}
}

func (s *fileStore) Load(context.Context) (schedule.Queue, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return schedule.Queue{}, nil
	}
	if err != nil {
		return nil, err
	}
	q, err := schedule.DecodeQueue(b, s.loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return q, nil
}

func (s *fileStore) Save(_ context.Context, q schedule.Queue) error {
	b, err := schedule.EncodeQueue(q, s.loc)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, b)
}

func (s *fileStore) AppendDead(_ context.Context, d schedule.DeadLetter) error {
	b, err := schedule.EncodeDeadLetter(d, s.loc)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.deadPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *fileStore) ListDead(context.Context) ([]schedule.DeadLetter, error) {
	out, _, err := s.readDead()
	return out, err
}

// readDead returns decoded entries and the raw lines they came from.
// Unreadable lines are skipped.
func (s *fileStore) readDead() ([]schedule.DeadLetter, [][]byte, error) {
	f, err := os.Open(s.deadPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var (
		out  []schedule.DeadLetter
		raws [][]byte
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		d, err := schedule.DecodeDeadLetter(raw, s.loc)
		if err != nil {
			s.log.Warn("skipping unreadable dead letter", logx.String("path", s.deadPath), logx.Int("line", line), logx.Err(err))
			continue
		}
		out = append(out, d)
		raws = append(raws, append([]byte(nil), raw...))
	}
	return out, raws, sc.Err()
}

func (s *fileStore) PruneDead(_ context.Context, before time.Time) (int, error) {
	all, raws, err := s.readDead()
	if err != nil {
		return 0, err
	}
	var buf bytes.Buffer
	pruned := 0
	for i, d := range all {
		if d.FailedAt.Before(before) {
			pruned++
			continue
		}
		buf.Write(raws[i])
		buf.WriteByte('\n')
	}
	if pruned == 0 {
		return 0, nil
	}
	return pruned, writeFileAtomic(s.deadPath, buf.Bytes())
}

// writeFileAtomic replaces path with b: write path.tmp, fsync, rename.
func writeFileAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	// Best-effort: persist the rename itself.
	if d, err := os.Open(filepath.Dir(path)); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
