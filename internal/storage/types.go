package storage

import (
	"errors"
	"time"
)

var (
	ErrUnknownDriver = errors.New("storage: unknown driver")
	ErrClosed        = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "file" (default): JSON document at Path
//   - "sqlite": SQLite database file at Path
//   - "redis": keys under KeyPrefix on the server at RedisURL
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	RedisURL    string
	KeyPrefix   string
	// LockTTL bounds how long a crashed holder can block others (sqlite, redis).
	LockTTL time.Duration
	// Location is used to format and parse due times; nil means time.Local.
	Location *time.Location
}

const (
	defaultLockTTL   = 30 * time.Second
	defaultKeyPrefix = "schedbot"
	lockRetry        = 50 * time.Millisecond
)

func (c Config) lockTTL() time.Duration {
	if c.LockTTL <= 0 {
		return defaultLockTTL
	}
	return c.LockTTL
}
