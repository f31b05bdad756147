package implementation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"agent-memory-be/internal/entity"
	"agent-memory-be/internal/repository/contract"

	"github.com/redis/go-redis/v9"
)

const scanBatchSize = 200

type ContextCacheRepositoryImpl struct {
	client    redis.UniversalClient
	namespace string
}

func NewContextCacheRepository(client redis.UniversalClient, namespace string) contract.ContextCacheRepository {
	return &ContextCacheRepositoryImpl{
		client:    client,
		namespace: namespace,
	}
}

func (r *ContextCacheRepositoryImpl) prefix(key string) string {
	if r.namespace == "" {
		return key
	}
	return r.namespace + ":" + key
}

func (r *ContextCacheRepositoryImpl) contextKey(agentId, sessionId string) string {
	return r.prefix(fmt.Sprintf("context:%s:%s", agentId, sessionId))
}

func (r *ContextCacheRepositoryImpl) recentKey(agentId string) string {
	return r.prefix("recent:" + agentId)
}

func (r *ContextCacheRepositoryImpl) Save(ctx context.Context, c *entity.Context, ttl time.Duration) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	if err := r.client.Set(ctx, r.contextKey(c.AgentId, c.SessionId), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *ContextCacheRepositoryImpl) Get(ctx context.Context, agentId, sessionId string) (*entity.Context, error) {
	raw, err := r.client.Get(ctx, r.contextKey(agentId, sessionId)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var c entity.Context
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	return &c, nil
}

func (r *ContextCacheRepositoryImpl) Delete(ctx context.Context, agentId, sessionId string) error {
	if err := r.client.Del(ctx, r.contextKey(agentId, sessionId)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *ContextCacheRepositoryImpl) PushRecent(ctx context.Context, agentId, sessionId string, max int, ttl time.Duration) error {
	key := r.recentKey(agentId)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, key, 0, sessionId)
		pipe.LPush(ctx, key, sessionId)
		if max > 0 {
			pipe.LTrim(ctx, key, 0, int64(max-1))
		}
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis push recent: %w", err)
	}
	return nil
}

func (r *ContextCacheRepositoryImpl) RecentSessions(ctx context.Context, agentId string) ([]string, error) {
	ids, err := r.client.LRange(ctx, r.recentKey(agentId), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	return ids, nil
}

func (r *ContextCacheRepositoryImpl) RemoveRecent(ctx context.Context, agentId, sessionId string) error {
	if err := r.client.LRem(ctx, r.recentKey(agentId), 0, sessionId).Err(); err != nil {
		return fmt.Errorf("redis lrem: %w", err)
	}
	return nil
}

func (r *ContextCacheRepositoryImpl) All(ctx context.Context) ([]*entity.Context, error) {
	var (
		out    []*entity.Context
		cursor uint64
	)
	pattern := r.prefix("context:*")
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			values, err := r.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, fmt.Errorf("redis mget: %w", err)
			}
			for _, v := range values {
				s, ok := v.(string)
				if !ok {
					continue // expired between SCAN and MGET
				}
				var c entity.Context
				if err := json.Unmarshal([]byte(s), &c); err != nil {
					return nil, fmt.Errorf("unmarshal context: %w", err)
				}
				out = append(out, &c)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

func (r *ContextCacheRepositoryImpl) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
