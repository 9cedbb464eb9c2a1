package server

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimitConfig bounds the request volume the server accepts. The global
// bucket caps everything; the session limit throttles POST /api/sessions per
// client IP, since each create probes sources and holds registry state. With
// a Redis address the session budget is shared across replicas.
type RateLimitConfig struct {
	GlobalRPS             float64
	GlobalBurst           int
	SessionLimit          int
	SessionWindow         time.Duration
	RedisAddr             string
	RedisPassword         string
	RedisTimeout          time.Duration
	RedisTLS              RedisTLSConfig
	TrustForwardedHeaders bool
	TrustedProxies        []string
}

type rateLimiter struct {
	global         *tokenBucket
	sessionLimit   int
	sessionWindow  time.Duration
	sessionMu      sync.Mutex
	sessionBuckets map[string]*ipLimiter
	store          tokenStore
}

type ipLimiter struct {
	bucket   *tokenBucket
	lastSeen time.Time
}

type tokenStore interface {
	Allow(key string, limit int, window time.Duration) (bool, time.Duration, error)
}

func newRateLimiter(cfg RateLimitConfig) (*rateLimiter, error) {
	if cfg.GlobalRPS < 0 {
		return nil, fmt.Errorf("global rps must not be negative")
	}
	if cfg.SessionLimit < 0 {
		return nil, fmt.Errorf("session limit must not be negative")
	}
	rl := &rateLimiter{
		sessionLimit:   cfg.SessionLimit,
		sessionWindow:  cfg.SessionWindow,
		sessionBuckets: make(map[string]*ipLimiter),
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = newTokenBucket(cfg.GlobalRPS, burst)
	}
	if rl.sessionWindow <= 0 {
		rl.sessionWindow = time.Minute
	}
	if cfg.RedisAddr != "" && rl.sessionLimit > 0 {
		timeout := cfg.RedisTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		store, err := newRedisStore(redisStoreConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Timeout:  timeout,
			TLS:      cfg.RedisTLS,
		})
		if err != nil {
			return nil, fmt.Errorf("rate limit redis store: %w", err)
		}
		rl.store = store
	}
	return rl, nil
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.Allow()
}

// AllowSessionCreate answers whether the given client may create another
// playback session, with a retry hint when the budget is spent.
func (r *rateLimiter) AllowSessionCreate(key string) (bool, time.Duration, error) {
	if r == nil || r.sessionLimit <= 0 {
		return true, 0, nil
	}
	if r.store != nil {
		return r.store.Allow(fmt.Sprintf("streamswitch:sessions:%s", key), r.sessionLimit, r.sessionWindow)
	}
	if key == "" {
		key = "unknown"
	}
	r.sessionMu.Lock()
	limiter, exists := r.sessionBuckets[key]
	if !exists {
		rate := float64(r.sessionLimit) / r.sessionWindow.Seconds()
		if rate <= 0 {
			rate = 1 / r.sessionWindow.Seconds()
		}
		limiter = &ipLimiter{bucket: newTokenBucket(rate, r.sessionLimit)}
		r.sessionBuckets[key] = limiter
	}
	limiter.lastSeen = time.Now()
	r.cleanupLocked()
	r.sessionMu.Unlock()

	if limiter.bucket.Allow() {
		return true, 0, nil
	}
	return false, time.Second, nil
}

func (r *rateLimiter) Close() error {
	if r == nil {
		return nil
	}
	if store, ok := r.store.(*redisStore); ok {
		return store.Close(context.Background())
	}
	return nil
}

func (r *rateLimiter) cleanupLocked() {
	if len(r.sessionBuckets) == 0 {
		return
	}
	cutoff := time.Now().Add(-2 * r.sessionWindow)
	for key, limiter := range r.sessionBuckets {
		if limiter.lastSeen.Before(cutoff) {
			delete(r.sessionBuckets, key)
		}
	}
}

type tokenBucket struct {
	mu        sync.Mutex
	rate      float64
	capacity  float64
	tokens    float64
	lastCheck time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	now := time.Now()
	return &tokenBucket{
		rate:      rate,
		capacity:  float64(burst),
		tokens:    float64(burst),
		lastCheck: now,
	}
}

func (tb *tokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(tb.lastCheck).Seconds()
	tb.lastCheck = now
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	if tb.tokens < 1 {
		return false
	}
	tb.tokens -= 1
	return true
}
