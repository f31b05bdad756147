package contract

import (
	"context"
	"time"

	"agent-memory-be/internal/entity"
)

// ContextCacheRepository is the low-latency cache behind the session context store:
// one value per (agent, session) with a write-driven TTL, plus a bounded per-agent
// list of session ids, newest first.
type ContextCacheRepository interface {
	Save(ctx context.Context, c *entity.Context, ttl time.Duration) error
	// Get returns (nil, nil) when the key is absent or expired.
	Get(ctx context.Context, agentId, sessionId string) (*entity.Context, error)
	Delete(ctx context.Context, agentId, sessionId string) error

	// PushRecent moves sessionId to the head of the agent's list and trims it to max.
	PushRecent(ctx context.Context, agentId, sessionId string, max int, ttl time.Duration) error
	RecentSessions(ctx context.Context, agentId string) ([]string, error)
	RemoveRecent(ctx context.Context, agentId, sessionId string) error

	// All returns every live context; used by maintenance sweeps only.
	All(ctx context.Context) ([]*entity.Context, error)
	Ping(ctx context.Context) error
}
