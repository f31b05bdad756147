package memory

import (
	"context"
	"sync"
	"time"

	"agent-memory-be/internal/entity"
	"agent-memory-be/internal/repository/contract"

	"github.com/patrickmn/go-cache"
)

// ContextCacheRepository keeps contexts in process memory. Suitable for a single
// instance and for tests; use the redis implementation when agents span processes.
type ContextCacheRepository struct {
	cache *cache.Cache

	mu     sync.Mutex
	recent map[string][]string
}

func NewContextCacheRepository(defaultTTL time.Duration) contract.ContextCacheRepository {
	// purges expired items every 10 minutes
	c := cache.New(defaultTTL, 10*time.Minute)
	return &ContextCacheRepository{
		cache:  c,
		recent: make(map[string][]string),
	}
}

func contextKey(agentId, sessionId string) string {
	return agentId + "\x00" + sessionId
}

func (r *ContextCacheRepository) Save(ctx context.Context, c *entity.Context, ttl time.Duration) error {
	r.cache.Set(contextKey(c.AgentId, c.SessionId), c.Clone(), ttl)
	return nil
}

func (r *ContextCacheRepository) Get(ctx context.Context, agentId, sessionId string) (*entity.Context, error) {
	if x, found := r.cache.Get(contextKey(agentId, sessionId)); found {
		return x.(*entity.Context).Clone(), nil
	}
	return nil, nil
}

func (r *ContextCacheRepository) Delete(ctx context.Context, agentId, sessionId string) error {
	r.cache.Delete(contextKey(agentId, sessionId))
	return nil
}

func (r *ContextCacheRepository) PushRecent(ctx context.Context, agentId, sessionId string, max int, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := append([]string{sessionId}, without(r.recent[agentId], sessionId)...)
	if max > 0 && len(list) > max {
		list = list[:max]
	}
	r.recent[agentId] = list
	return nil
}

func (r *ContextCacheRepository) RecentSessions(ctx context.Context, agentId string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.recent[agentId]...), nil
}

func (r *ContextCacheRepository) RemoveRecent(ctx context.Context, agentId, sessionId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := without(r.recent[agentId], sessionId)
	if len(list) == 0 {
		delete(r.recent, agentId)
		return nil
	}
	r.recent[agentId] = list
	return nil
}

func (r *ContextCacheRepository) All(ctx context.Context) ([]*entity.Context, error) {
	items := r.cache.Items()
	out := make([]*entity.Context, 0, len(items))
	for _, item := range items {
		out = append(out, item.Object.(*entity.Context).Clone())
	}
	return out, nil
}

func (r *ContextCacheRepository) Ping(ctx context.Context) error {
	return nil
}

func without(list []string, id string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != id {
			out = append(out, s)
		}
	}
	return out
}
