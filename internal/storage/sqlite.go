package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"schedbot/internal/schedule"
	logx "schedbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db      *sql.DB
	log     logx.Logger
	loc     *time.Location
	lockTTL time.Duration
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, loc: cfg.Location, lockTTL: cfg.lockTTL()}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqliteStore) Load(ctx context.Context) (schedule.Queue, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM schedule_document WHERE id = 1`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Queue{}, nil
	}
	if err != nil {
		return nil, err
	}
	return schedule.DecodeQueue([]byte(body), s.loc)
}

func (s *sqliteStore) Save(ctx context.Context, q schedule.Queue) error {
	b, err := schedule.EncodeQueue(q, s.loc)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO schedule_document(id, body, updated_at) VALUES(1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		string(b), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Lock takes a lease row owned by a random token. A holder that dies keeps
// others out for at most lockTTL.
func (s *sqliteStore) Lock(ctx context.Context) (func(), error) {
	owner := uuid.NewString()
	for {
		now := time.Now()
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO schedule_lock(id, owner, expires_at) VALUES(1, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
			 WHERE schedule_lock.expires_at < ?`,
			owner, now.Add(s.lockTTL).UnixMilli(), now.UnixMilli(),
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite lock: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return func() {
				uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if _, err := s.db.ExecContext(uctx, `DELETE FROM schedule_lock WHERE id = 1 AND owner = ?`, owner); err != nil {
					s.log.Warn("sqlite unlock failed", logx.Err(err))
				}
			}, nil
		}
		if err := waitRetry(ctx); err != nil {
			return nil, err
		}
	}
}

func (s *sqliteStore) AppendDead(ctx context.Context, d schedule.DeadLetter) error {
	b, err := schedule.EncodeDeadLetter(d, s.loc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dead_letters(failed_at, body) VALUES(?, ?)`,
		d.FailedAt.UnixMilli(), string(b),
	)
	return err
}

func (s *sqliteStore) ListDead(ctx context.Context) ([]schedule.DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, body FROM dead_letters ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.DeadLetter
	for rows.Next() {
		var (
			id   int64
			body string
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		d, err := schedule.DecodeDeadLetter([]byte(body), s.loc)
		if err != nil {
			s.log.Warn("skipping unreadable dead letter", logx.Int64("id", id), logx.Err(err))
			continue
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneDead(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE failed_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
