// Package pool caches live, authenticated transport connections per
// endpoint so repeated operations against the same server skip the TLS
// handshake and login. The pool owns every connection it creates; callers
// borrow one through Acquire and must hand it back with Release or
// Discard.
package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/atolye/mailwire/internal/metrics"
	"github.com/atolye/mailwire/pkg/mailerr"
	"github.com/atolye/mailwire/pkg/models"
)

// Conn is the minimal surface the pool needs from a pooled connection:
// a cheap liveness check and a way to tear it down.
type Conn interface {
	Ping() error
	Close() error
}

// DialFunc establishes, secures and authenticates a new connection. The
// pool never retries a failed dial; retry policy belongs to callers.
type DialFunc func(ctx context.Context, ep models.Endpoint) (Conn, error)

// Options tune the pool. Zero values pick the defaults.
type Options struct {
	MaxPerEndpoint int           // live connections per host:port, default 5
	MaxIdle        time.Duration // idle eviction threshold, default 5m
	MaxAge         time.Duration // stale eviction threshold, default 1h
}

func (o Options) withDefaults() Options {
	if o.MaxPerEndpoint <= 0 {
		o.MaxPerEndpoint = 5
	}
	if o.MaxIdle <= 0 {
		o.MaxIdle = 5 * time.Minute
	}
	if o.MaxAge <= 0 {
		o.MaxAge = time.Hour
	}
	return o
}

type entry struct {
	conn       Conn
	key        string
	createdAt  time.Time
	lastUsedAt time.Time
	useCount   int
}

// Lease is a borrowed connection. Exactly one of Release or Discard must
// be called once the caller is done; using the connection after that is a
// caller bug.
type Lease struct {
	entry *entry
	pool  *Pool
}

// Conn returns the borrowed connection.
func (l *Lease) Conn() Conn { return l.entry.conn }

// UseCount reports how many times this connection has been handed out.
func (l *Lease) UseCount() int { return l.entry.useCount }

// KeyStats is a point-in-time snapshot of one endpoint's pool activity.
type KeyStats struct {
	Created int
	Reused  int
	Closed  int
	Idle    int
	Live    int
}

// Pool caches connections keyed by host:port.
type Pool struct {
	dial   DialFunc
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	idle   map[string][]*entry
	live   map[string]int // idle + checked out
	stats  map[string]*KeyStats
	closed bool
}

// New creates a pool around dial.
func New(dial DialFunc, opts Options, logger *slog.Logger) *Pool {
	return &Pool{
		dial:   dial,
		opts:   opts.withDefaults(),
		logger: logger.With("component", "pool"),
		idle:   make(map[string][]*entry),
		live:   make(map[string]int),
		stats:  make(map[string]*KeyStats),
	}
}

// Acquire returns a live connection for the endpoint, reusing an idle one
// when it is fresh enough and still answers a ping, dialing otherwise.
// When the endpoint already has MaxPerEndpoint live connections it fails
// with mailerr.ErrPoolExhausted instead of exceeding the limit.
func (p *Pool) Acquire(ctx context.Context, ep models.Endpoint) (*Lease, error) {
	key := ep.Addr()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, mailerr.Connection("pool is closed")
		}
		p.evictLocked(key)

		e := p.popIdleLocked(key)
		if e == nil {
			if p.live[key] >= p.opts.MaxPerEndpoint {
				p.mu.Unlock()
				return nil, mailerr.ErrPoolExhausted
			}
			// Reserve the slot before dialing so concurrent callers
			// cannot overshoot the limit.
			p.live[key]++
			p.mu.Unlock()
			return p.dialNew(ctx, ep, key)
		}
		p.mu.Unlock()

		// The entry is checked out; ping it outside the lock.
		if err := e.conn.Ping(); err != nil {
			p.logger.Debug("pooled connection failed ping", "endpoint", key, "error", err)
			p.closeEntry(e)
			continue
		}

		p.mu.Lock()
		e.useCount++
		e.lastUsedAt = time.Now()
		p.keyStatsLocked(key).Reused++
		p.mu.Unlock()
		metrics.PoolConnectionsReused.WithLabelValues(key).Inc()
		p.logger.Debug("reusing pooled connection", "endpoint", key, "use_count", e.useCount)
		return &Lease{entry: e, pool: p}, nil
	}
}

func (p *Pool) dialNew(ctx context.Context, ep models.Endpoint, key string) (*Lease, error) {
	conn, err := p.dial(ctx, ep)
	if err != nil {
		p.mu.Lock()
		p.live[key]--
		p.mu.Unlock()
		return nil, mailerr.Connection("dial %s: %v", key, err)
	}

	now := time.Now()
	e := &entry{conn: conn, key: key, createdAt: now, lastUsedAt: now, useCount: 1}

	p.mu.Lock()
	p.keyStatsLocked(key).Created++
	p.mu.Unlock()
	metrics.PoolConnectionsCreated.WithLabelValues(key).Inc()
	metrics.PoolConnectionsLive.WithLabelValues(key).Inc()
	p.logger.Debug("dialed new connection", "endpoint", key)
	return &Lease{entry: e, pool: p}, nil
}

// Release hands a borrowed connection back. It rejoins the idle list when
// the endpoint's idle list is below MaxPerEndpoint, otherwise it is
// closed.
func (p *Pool) Release(l *Lease) {
	if l == nil || l.entry == nil {
		return
	}
	e := l.entry
	l.entry = nil

	p.mu.Lock()
	if p.closed || len(p.idle[e.key]) >= p.opts.MaxPerEndpoint {
		p.mu.Unlock()
		p.closeEntry(e)
		return
	}
	e.lastUsedAt = time.Now()
	p.idle[e.key] = append(p.idle[e.key], e)
	p.mu.Unlock()
}

// Discard closes a borrowed connection instead of returning it, used when
// the caller saw a transport-level failure on it.
func (p *Pool) Discard(l *Lease) {
	if l == nil || l.entry == nil {
		return
	}
	e := l.entry
	l.entry = nil
	p.closeEntry(e)
}

// EvictIdleAndStale sweeps every idle list, closing connections past the
// idle or age threshold.
func (p *Pool) EvictIdleAndStale() {
	p.mu.Lock()
	var victims []*entry
	for key := range p.idle {
		victims = append(victims, p.collectExpiredLocked(key)...)
	}
	p.mu.Unlock()

	for _, e := range victims {
		p.closeEntry(e)
	}
}

// StartSweeper runs EvictIdleAndStale on a ticker until ctx is done.
func (p *Pool) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.EvictIdleAndStale()
			}
		}
	}()
}

// CloseAll drains and closes every pooled connection. Further Acquire
// calls fail. Used at shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	p.closed = true
	var victims []*entry
	for key, list := range p.idle {
		victims = append(victims, list...)
		p.idle[key] = nil
	}
	p.mu.Unlock()

	for _, e := range victims {
		p.closeEntry(e)
	}
	p.logger.Info("pool closed", "connections", len(victims))
}

// Stats returns a snapshot of per-endpoint pool activity.
func (p *Pool) Stats() map[string]KeyStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]KeyStats, len(p.stats))
	for key, s := range p.stats {
		snapshot := *s
		snapshot.Idle = len(p.idle[key])
		snapshot.Live = p.live[key]
		out[key] = snapshot
	}
	return out
}

func (p *Pool) popIdleLocked(key string) *entry {
	list := p.idle[key]
	if len(list) == 0 {
		return nil
	}
	e := list[len(list)-1]
	p.idle[key] = list[:len(list)-1]
	return e
}

// evictLocked drops expired idle entries for one key. Closing happens
// later, outside the lock, via the returned slice in collectExpiredLocked;
// here the victims are closed asynchronously to keep Acquire prompt.
func (p *Pool) evictLocked(key string) {
	victims := p.collectExpiredLocked(key)
	if len(victims) == 0 {
		return
	}
	go func() {
		for _, e := range victims {
			p.closeEntry(e)
		}
	}()
}

func (p *Pool) collectExpiredLocked(key string) []*entry {
	now := time.Now()
	var victims []*entry
	kept := p.idle[key][:0]
	for _, e := range p.idle[key] {
		if now.Sub(e.createdAt) > p.opts.MaxAge || now.Sub(e.lastUsedAt) > p.opts.MaxIdle {
			victims = append(victims, e)
		} else {
			kept = append(kept, e)
		}
	}
	p.idle[key] = kept
	return victims
}

func (p *Pool) closeEntry(e *entry) {
	if err := e.conn.Close(); err != nil {
		p.logger.Debug("error closing pooled connection", "endpoint", e.key, "error", err)
	}
	p.mu.Lock()
	p.live[e.key]--
	p.keyStatsLocked(e.key).Closed++
	p.mu.Unlock()
	metrics.PoolConnectionsClosed.WithLabelValues(e.key).Inc()
	metrics.PoolConnectionsLive.WithLabelValues(e.key).Dec()
}

func (p *Pool) keyStatsLocked(key string) *KeyStats {
	s, ok := p.stats[key]
	if !ok {
		s = &KeyStats{}
		p.stats[key] = s
	}
	return s
}
