package main

import (
	"context"
	"sync"
	"time"

	"github.com/Tutortoise/object-detection-service/detections"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	// DefaultPoolSize Pool configuration
	DefaultPoolSize   = 4
	AcquireTimeout    = 5 * time.Second
	HealthCheckPeriod = 60 * time.Second
)

var (
	ErrPoolClosed     = errors.New("pool is closed")
	ErrAcquireTimeout = errors.New("timeout waiting for available session")
)

// SessionFactory creates one engine. Every engine of a pool shares the
// same model and label table.
type SessionFactory func() (detections.Engine, error)

type PoolOptions struct {
	Size              int
	AcquireTimeout    time.Duration
	HealthCheckPeriod time.Duration
}

type ModelSessionPool struct {
	sessions       chan detections.Engine
	size           int
	newSession     SessionFactory
	acquireTimeout time.Duration
	logger         *zap.Logger

	mu         sync.Mutex
	closed     bool
	done       chan struct{}
	metrics    *PoolMetrics
	lastErrors []error
}

type PoolMetrics struct {
	mu              sync.RWMutex
	inUse           int
	totalAcquired   int64
	totalReleased   int64
	acquireFailures int64
	waitTime        time.Duration
}

// PoolSnapshot is a copy of the pool counters.
type PoolSnapshot struct {
	Size            int           `json:"pool_size"`
	InUse           int           `json:"sessions_in_use"`
	Idle            int           `json:"sessions_idle"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	AcquireFailures int64         `json:"acquire_failures"`
	WaitTime        time.Duration `json:"wait_time_ns"`
	RecentErrors    []string      `json:"recent_errors,omitempty"`
}

func NewModelSessionPool(newSession SessionFactory, opts PoolOptions, logger *zap.Logger) (*ModelSessionPool, error) {
	if opts.Size <= 0 {
		opts.Size = DefaultPoolSize
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = AcquireTimeout
	}
	if opts.HealthCheckPeriod <= 0 {
		opts.HealthCheckPeriod = HealthCheckPeriod
	}

	pool := &ModelSessionPool{
		sessions:       make(chan detections.Engine, opts.Size),
		size:           opts.Size,
		newSession:     newSession,
		acquireTimeout: opts.AcquireTimeout,
		logger:         logger,
		done:           make(chan struct{}),
		metrics:        &PoolMetrics{},
	}

	// Initialize sessions
	for i := 0; i < opts.Size; i++ {
		session, err := newSession()
		if err != nil {
			destroyErr := pool.Destroy()
			return nil, multierr.Append(errors.Wrapf(err, "initialize session %d", i), destroyErr)
		}
		pool.sessions <- session
	}

	go pool.healthCheck(opts.HealthCheckPeriod)

	return pool, nil
}

func (p *ModelSessionPool) Acquire(ctx context.Context) (detections.Engine, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.waitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case session, ok := <-p.sessions:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.metrics.mu.Lock()
		p.metrics.inUse++
		p.metrics.totalAcquired++
		p.metrics.mu.Unlock()
		return session, nil
	case <-timer.C:
		p.metrics.mu.Lock()
		p.metrics.acquireFailures++
		p.metrics.mu.Unlock()
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a session to the pool. Sessions released after Destroy
// are destroyed instead.
func (p *ModelSessionPool) Release(session detections.Engine) {
	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		if err := session.Destroy(); err != nil {
			p.logger.Warn("destroy released session", zap.Error(err))
		}
		return
	}
	p.offer(session)
}

// offer puts session back without blocking; a full pool destroys it.
// Callers hold p.mu.
func (p *ModelSessionPool) offer(session detections.Engine) {
	select {
	case p.sessions <- session:
	default:
		if err := session.Destroy(); err != nil {
			p.logger.Warn("destroy surplus session", zap.Error(err))
		}
	}
}

// Discard drops a session that is no longer usable; the health check
// replaces it.
func (p *ModelSessionPool) Discard(session detections.Engine) {
	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.mu.Unlock()

	if err := session.Destroy(); err != nil {
		p.recordError(err)
	}
}

func (p *ModelSessionPool) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	close(p.done)
	close(p.sessions)

	// Destroy all sessions
	var err error
	for session := range p.sessions {
		err = multierr.Append(err, session.Destroy())
	}
	return err
}

func (p *ModelSessionPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *ModelSessionPool) healthCheck(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.replenish()
		}
	}
}

// replenish recreates sessions lost through Discard.
func (p *ModelSessionPool) replenish() {
	p.metrics.mu.RLock()
	inUse := p.metrics.inUse
	p.metrics.mu.RUnlock()

	p.mu.Lock()
	missing := p.size - len(p.sessions) - inUse
	p.mu.Unlock()

	for i := 0; i < missing; i++ {
		session, err := p.newSession()
		if err != nil {
			p.recordError(err)
			p.logger.Warn("replenish session", zap.Error(err))
			continue
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			if err := session.Destroy(); err != nil {
				p.recordError(err)
				p.logger.Warn("destroy replenished session", zap.Error(err))
			}
			return
		}
		p.offer(session)
		p.mu.Unlock()
	}
}

func (p *ModelSessionPool) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > 10 {
		p.lastErrors = p.lastErrors[1:]
	}
}

func (p *ModelSessionPool) GetMetrics() PoolSnapshot {
	p.metrics.mu.RLock()
	snapshot := PoolSnapshot{
		Size:            p.size,
		InUse:           p.metrics.inUse,
		TotalAcquired:   p.metrics.totalAcquired,
		TotalReleased:   p.metrics.totalReleased,
		AcquireFailures: p.metrics.acquireFailures,
		WaitTime:        p.metrics.waitTime,
	}
	p.metrics.mu.RUnlock()

	p.mu.Lock()
	snapshot.Idle = len(p.sessions)
	for _, err := range p.lastErrors {
		snapshot.RecentErrors = append(snapshot.RecentErrors, err.Error())
	}
	p.mu.Unlock()

	return snapshot
}
