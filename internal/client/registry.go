package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"chattranslator/internal/redis"
	"chattranslator/internal/service/chat"
)

const redisKeyPrefix = "client:ctx:"

type entry struct {
	cc       *chat.ClientContext
	lastSeen time.Time
}

// Registry hands out one ClientContext per client id. With redis enabled the
// context state survives restarts and is shared between instances.
type Registry struct {
	mu       sync.Mutex
	contexts map[string]*entry
	redis    *redis.Client
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewRegistry(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Registry {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		contexts: make(map[string]*entry),
		redis:    client,
		ttl:      ttl,
		logger:   logger.With("component", "client_registry"),
		now:      time.Now,
	}
}

// Context returns the client's context, restoring persisted state on first use.
func (r *Registry) Context(ctx context.Context, id string) *chat.ClientContext {
	if cc, ok := r.cached(id); ok {
		return cc
	}
	// load without the lock; a concurrent first request may win the insert
	loaded := r.load(ctx, id)

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.contexts[id]; ok {
		e.lastSeen = r.now()
		return e.cc
	}
	r.contexts[id] = &entry{cc: loaded, lastSeen: r.now()}
	return loaded
}

func (r *Registry) cached(id string) (*chat.ClientContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.contexts[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.cc, true
}

func (r *Registry) load(ctx context.Context, id string) *chat.ClientContext {
	raw, err := r.redis.Get(ctx, redisKeyPrefix+id)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			r.logger.Warn("load client context failed", "client", id, "error", err)
		}
		return chat.NewClientContext()
	}
	var st chat.ContextState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		r.logger.Warn("client context corrupt", "client", id, "error", err)
		return chat.NewClientContext()
	}
	return chat.RestoreClientContext(st)
}

// Save persists the context's state when redis is enabled.
func (r *Registry) Save(ctx context.Context, id string, cc *chat.ClientContext) {
	if !r.redis.Enabled() {
		return
	}
	payload, err := json.Marshal(cc.State())
	if err != nil {
		return
	}
	if err := r.redis.Set(ctx, redisKeyPrefix+id, payload, r.ttl); err != nil {
		r.logger.Warn("save client context failed", "client", id, "error", err)
	}
}

// Evict drops in-memory contexts idle since before cutoff. Persisted state
// is kept and restored on the client's next request.
func (r *Registry) Evict(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.contexts {
		if e.lastSeen.Before(cutoff) {
			delete(r.contexts, id)
			n++
		}
	}
	return n
}

// StartJanitor evicts contexts idle longer than the registry TTL.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.Evict(r.now().Add(-r.ttl)); n > 0 {
					r.logger.Info("evicted idle client contexts", "count", n)
				}
			}
		}
	}()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}
