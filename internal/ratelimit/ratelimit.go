package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket for one connection
type Limiter struct {
	limiter *rate.Limiter
}

func NewLimiter(perSecond float64, burst int) *Limiter {
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// ClientLimiters hands out one Limiter per key (remote address, identity)
type ClientLimiters struct {
	limiters        map[string]*entry
	rate            float64
	burst           int
	mu              sync.Mutex
	cleanupInterval time.Duration
	idleAfter       time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

type entry struct {
	limiter  *Limiter
	lastSeen time.Time
}

func NewClientLimiters(perSecond float64, burst int) *ClientLimiters {
	cl := &ClientLimiters{
		limiters:        make(map[string]*entry),
		rate:            perSecond,
		burst:           burst,
		cleanupInterval: 5 * time.Minute,
		idleAfter:       10 * time.Minute,
		stop:            make(chan struct{}),
	}
	go cl.cleanup()
	return cl
}

func (cl *ClientLimiters) Get(key string) *Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	e, ok := cl.limiters[key]
	if !ok {
		e = &entry{limiter: NewLimiter(cl.rate, cl.burst)}
		cl.limiters[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

func (cl *ClientLimiters) Allow(key string) bool {
	return cl.Get(key).Allow()
}

func (cl *ClientLimiters) Stop() {
	cl.stopOnce.Do(func() { close(cl.stop) })
}

func (cl *ClientLimiters) cleanup() {
	ticker := time.NewTicker(cl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cl.stop:
			return
		case now := <-ticker.C:
			cl.evictIdle(now)
		}
	}
}

func (cl *ClientLimiters) evictIdle(now time.Time) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for key, e := range cl.limiters {
		if now.Sub(e.lastSeen) > cl.idleAfter {
			delete(cl.limiters, key)
		}
	}
}
