package schedule

import (
	"context"
	"errors"
	"sync"
	"time"
)

// memStore keeps the encoded document so every cycle goes through the codec.
type memStore struct {
	mu      sync.Mutex
	doc     []byte
	dead    []DeadLetter
	loads   int
	saves   int
	saveErr error
	deadErr error
}

func (s *memStore) Load(context.Context) (Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	return DecodeQueue(s.doc, time.UTC)
}

func (s *memStore) Save(_ context.Context, q Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	b, err := EncodeQueue(q, time.UTC)
	if err != nil {
		return err
	}
	s.doc = b
	s.saves++
	return nil
}

func (s *memStore) AppendDead(_ context.Context, d DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deadErr != nil {
		return s.deadErr
	}
	s.dead = append(s.dead, d)
	return nil
}

func (s *memStore) ListDead(context.Context) ([]DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeadLetter(nil), s.dead...), nil
}

func (s *memStore) PruneDead(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.dead[:0]
	n := 0
	for _, d := range s.dead {
		if d.FailedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, d)
	}
	s.dead = kept
	return n, nil
}

func (s *memStore) counts() (loads, saves int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads, s.saves
}

type delivery struct {
	channelID int64
	threadID  int
	authorID  int64
	text      string
}

type fakeGateway struct {
	mu    sync.Mutex
	sent  []delivery
	fail  error
	calls int
	// during runs inside Deliver, before it returns.
	during func()
}

var errGateway = errors.New("gateway down")

func (g *fakeGateway) Deliver(_ context.Context, channelID int64, threadID int, authorID int64, text string) error {
	g.mu.Lock()
	g.calls++
	fail := g.fail
	during := g.during
	g.mu.Unlock()
	if during != nil {
		during()
	}
	if fail != nil {
		return fail
	}
	g.mu.Lock()
	g.sent = append(g.sent, delivery{channelID, threadID, authorID, text})
	g.mu.Unlock()
	return nil
}

func (g *fakeGateway) setFail(err error) {
	g.mu.Lock()
	g.fail = err
	g.mu.Unlock()
}

func (g *fakeGateway) delivered() []delivery {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]delivery(nil), g.sent...)
}

// lockingStore records Lock/unlock pairs.
type lockingStore struct {
	*memStore
	mu      sync.Mutex
	locks   int
	unlocks int
	lockErr error
}

func (s *lockingStore) Lock(context.Context) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockErr != nil {
		return nil, s.lockErr
	}
	s.locks++
	return func() {
		s.mu.Lock()
		s.unlocks++
		s.mu.Unlock()
	}, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}
