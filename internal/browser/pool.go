package browser

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of concurrently open sessions on an engine.
// It implements Engine, so the scraper does not know whether it is pooled.
type Pool struct {
	engine Engine
	size   int64
	sem    *semaphore.Weighted
}

// NewPool wraps engine so that at most size sessions are open at once.
func NewPool(engine Engine, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		engine: engine,
		size:   int64(size),
		sem:    semaphore.NewWeighted(int64(size)),
	}
}

func (p *Pool) Name() string { return p.engine.Name() }

// Size returns the maximum number of concurrent sessions.
func (p *Pool) Size() int { return int(p.size) }

// NewSession blocks until a slot is free or ctx is done.
func (p *Pool) NewSession(ctx context.Context, id Identity) (Session, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%s: waiting for session slot: %w", p.engine.Name(), err)
	}
	s, err := p.engine.NewSession(ctx, id)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	return &pooledSession{Session: s, release: func() { p.sem.Release(1) }}, nil
}

// Close shuts the underlying engine down.
func (p *Pool) Close() error { return p.engine.Close() }

// pooledSession returns its slot on the first Close. Later calls are no-ops.
type pooledSession struct {
	Session
	once    sync.Once
	err     error
	release func()
}

func (s *pooledSession) Close() error {
	s.once.Do(func() {
		s.err = s.Session.Close()
		s.release()
	})
	return s.err
}
