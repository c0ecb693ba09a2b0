package market

import (
	"context"
	"sync"
)

// Sequencer serialises mutations that share a key. Acquire blocks until the
// key is free or ctx is done and returns the function that releases it.
type Sequencer interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// LocalSequencer is an in-process Sequencer backed by one token channel per
// key. Idle keys are dropped once no caller holds or waits on them.
type LocalSequencer struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	token chan struct{}
	refs  int
}

// NewLocalSequencer constructs an empty in-process sequencer.
func NewLocalSequencer() *LocalSequencer {
	return &LocalSequencer{slots: make(map[string]*slot)}
}

func (s *LocalSequencer) Acquire(ctx context.Context, key string) (func(), error) {
	s.mu.Lock()
	sl, ok := s.slots[key]
	if !ok {
		sl = &slot{token: make(chan struct{}, 1)}
		s.slots[key] = sl
	}
	sl.refs++
	s.mu.Unlock()

	select {
	case sl.token <- struct{}{}:
	case <-ctx.Done():
		s.unref(key, sl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-sl.token
			s.unref(key, sl)
		})
	}, nil
}

func (s *LocalSequencer) unref(key string, sl *slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(s.slots, key)
	}
}

// size reports the number of tracked keys.
func (s *LocalSequencer) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
