package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"schedbot/internal/schedule"
	logx "schedbot/pkg/logx"
)

// unlockScript deletes the lock key only if we still own it.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisStore struct {
	client  redis.UniversalClient
	log     logx.Logger
	loc     *time.Location
	lockTTL time.Duration

	queueKey string
	deadKey  string
	lockKey  string
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	url := strings.TrimSpace(cfg.RedisURL)
	if url == "" {
		return nil, errors.New("storage.redis_url is required for redis driver")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	st := newRedisStore(redis.NewClient(opt), cfg, log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.Ping(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func newRedisStore(client redis.UniversalClient, cfg Config, log logx.Logger) *redisStore {
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &redisStore{
		client:   client,
		log:      log,
		loc:      cfg.Location,
		lockTTL:  cfg.lockTTL(),
		queueKey: prefix + ":queue",
		deadKey:  prefix + ":dead",
		lockKey:  prefix + ":lock",
	}
}

func (s *redisStore) Close() error { return s.client.Close() }

func (s *redisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *redisStore) Load(ctx context.Context) (schedule.Queue, error) {
	b, err := s.client.Get(ctx, s.queueKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return schedule.Queue{}, nil
	}
	if err != nil {
		return nil, err
	}
	return schedule.DecodeQueue(b, s.loc)
}

func (s *redisStore) Save(ctx context.Context, q schedule.Queue) error {
	b, err := schedule.EncodeQueue(q, s.loc)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.queueKey, b, 0).Err()
}

func (s *redisStore) Lock(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	for {
		ok, err := s.client.SetNX(ctx, s.lockKey, token, s.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock: %w", err)
		}
		if ok {
			return func() {
				uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := unlockScript.Run(uctx, s.client, []string{s.lockKey}, token).Err(); err != nil {
					s.log.Warn("redis unlock failed", logx.Err(err))
				}
			}, nil
		}
		if err := waitRetry(ctx); err != nil {
			return nil, err
		}
	}
}

func (s *redisStore) AppendDead(ctx context.Context, d schedule.DeadLetter) error {
	b, err := schedule.EncodeDeadLetter(d, s.loc)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, s.deadKey, b).Err()
}

func (s *redisStore) ListDead(ctx context.Context) ([]schedule.DeadLetter, error) {
	raws, err := s.client.LRange(ctx, s.deadKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]schedule.DeadLetter, 0, len(raws))
	for i, raw := range raws {
		d, err := schedule.DecodeDeadLetter([]byte(raw), s.loc)
		if err != nil {
			s.log.Warn("skipping unreadable dead letter", logx.Int("index", i), logx.Err(err))
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// PruneDead rewrites the list without the expired entries. Callers hold the
// schedule lock, so nothing appends concurrently.
func (s *redisStore) PruneDead(ctx context.Context, before time.Time) (int, error) {
	raws, err := s.client.LRange(ctx, s.deadKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	keep := make([]any, 0, len(raws))
	pruned := 0
	for _, raw := range raws {
		d, err := schedule.DecodeDeadLetter([]byte(raw), s.loc)
		if err == nil && d.FailedAt.Before(before) {
			pruned++
			continue
		}
		keep = append(keep, raw)
	}
	if pruned == 0 {
		return 0, nil
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.deadKey)
		if len(keep) > 0 {
			p.RPush(ctx, s.deadKey, keep...)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return pruned, nil
}
