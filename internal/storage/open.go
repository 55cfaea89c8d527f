package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"schedbot/internal/schedule"
	logx "schedbot/pkg/logx"
)

// Store is the persistence API used by the scheduler.
type Store interface {
	schedule.Store
	schedule.DeadLetterStore
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Open initializes the configured store. An empty driver selects "file".
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("driver", driver))

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "redis":
		return openRedis(cfg, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// waitRetry sleeps for one lock retry interval or until ctx is done.
func waitRetry(ctx context.Context) error {
	t := time.NewTimer(lockRetry)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
