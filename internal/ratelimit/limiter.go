package ratelimit

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Scope identifies which bucket tier denied a request.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeRoute  Scope = "route"
	ScopeIP     Scope = "ip"
)

// Config holds limiter settings. Bucket capacity is QPS multiplied by the
// burst multiplier; the refill rate is the QPS itself.
type Config struct {
	GlobalQPS       float64
	PerRouteQPS     float64
	PerIPQPS        float64
	BurstMultiplier float64
	IPMapCapacity   int
}

// Decision is the outcome of a limiter check.
type Decision struct {
	Allowed    bool
	Scope      Scope
	RetryAfter time.Duration
}

// Limiter applies three token-bucket tiers: global, per-route, per-IP.
// All three must admit for a request to pass; tiers after the denying one
// are neither consulted nor charged. The per-IP map is an LRU bounded by
// IPMapCapacity: inserting into a full map evicts the least recently used
// address, which returns at full capacity if it comes back.
type Limiter struct {
	cfg    Config
	global *TokenBucket

	mu     sync.Mutex
	routes map[string]*TokenBucket

	ips *lru.Cache[string, *TokenBucket]
}

// New creates a limiter from config.
func New(cfg Config) (*Limiter, error) {
	if cfg.BurstMultiplier <= 0 {
		cfg.BurstMultiplier = 1
	}
	if cfg.IPMapCapacity <= 0 {
		cfg.IPMapCapacity = 10000
	}

	ips, err := lru.New[string, *TokenBucket](cfg.IPMapCapacity)
	if err != nil {
		return nil, fmt.Errorf("create ip bucket map: %w", err)
	}

	return &Limiter{
		cfg:    cfg,
		global: NewTokenBucket(cfg.GlobalQPS*cfg.BurstMultiplier, cfg.GlobalQPS),
		routes: make(map[string]*TokenBucket),
		ips:    ips,
	}, nil
}

// Allow checks the global, per-route and per-IP buckets in that order.
func (l *Limiter) Allow(routeID, clientIP string) Decision {
	if ok, wait := l.global.Take(); !ok {
		return Decision{Scope: ScopeGlobal, RetryAfter: wait}
	}

	if ok, wait := l.routeBucket(routeID).Take(); !ok {
		return Decision{Scope: ScopeRoute, RetryAfter: wait}
	}

	if ok, wait := l.ipBucket(clientIP).Take(); !ok {
		return Decision{Scope: ScopeIP, RetryAfter: wait}
	}

	return Decision{Allowed: true}
}

func (l *Limiter) routeBucket(routeID string) *TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.routes[routeID]
	if !ok {
		b = NewTokenBucket(l.cfg.PerRouteQPS*l.cfg.BurstMultiplier, l.cfg.PerRouteQPS)
		l.routes[routeID] = b
	}
	return b
}

func (l *Limiter) ipBucket(clientIP string) *TokenBucket {
	if b, ok := l.ips.Get(clientIP); ok {
		return b
	}
	b := NewTokenBucket(l.cfg.PerIPQPS*l.cfg.BurstMultiplier, l.cfg.PerIPQPS)
	l.ips.Add(clientIP, b)
	return b
}

// IPCount reports how many IP buckets are currently tracked.
func (l *Limiter) IPCount() int {
	return l.ips.Len()
}

// IPTracked reports whether an address currently has a bucket, without
// refreshing its recency.
func (l *Limiter) IPTracked(clientIP string) bool {
	return l.ips.Contains(clientIP)
}
