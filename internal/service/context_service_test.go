package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"agent-memory-be/internal/config"
	"agent-memory-be/internal/entity"
	"agent-memory-be/internal/pkg/logger"
	"agent-memory-be/internal/repository/implementation"
	"agent-memory-be/internal/repository/memory"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newContextServiceWithClock(cfg config.MemoryConfig) (*contextService, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewContextService(memory.NewContextCacheRepository(cfg.ContextTTL), cfg, logger.NewNopLogger()).(*contextService)
	svc.now = clock.now
	return svc, clock
}

func TestContextService_RoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _ := newContextServiceWithClock(config.DefaultMemoryConfig())

	outcome := "pending"
	in := &entity.Context{
		Topic:      "Index Optimization",
		Entities:   []string{"SQL Server", "Index"},
		Decisions:  []string{"add covering index"},
		Outcome:    &outcome,
		Tags:       []string{"db"},
		Metadata:   map[string]interface{}{"ticket": "T-1"},
		Confidence: 0.8,
	}
	require.NoError(t, svc.Store(ctx, "db-agent", "s1", in))

	got, err := svc.Get(ctx, "db-agent", "s1")
	require.NoError(t, err)
	require.NotNil(t, got)

	expected := in.Clone()
	expected.AgentId = "db-agent"
	expected.SessionId = "s1"
	expected.Timestamp = got.Timestamp
	assert.Equal(t, expected, got)
	assert.False(t, got.Timestamp.IsZero())
}

func TestContextService_StoreRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	svc, _ := newContextServiceWithClock(config.DefaultMemoryConfig())

	tests := []struct {
		name      string
		agentId   string
		sessionId string
		context   *entity.Context
	}{
		{"nil context", "a1", "s1", nil},
		{"empty agent", "", "s1", &entity.Context{Confidence: 0.5}},
		{"empty session", "a1", "", &entity.Context{Confidence: 0.5}},
		{"confidence above one", "a1", "s1", &entity.Context{Confidence: 1.5}},
		{"negative confidence", "a1", "s1", &entity.Context{Confidence: -0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Store(ctx, tt.agentId, tt.sessionId, tt.context)
			assert.ErrorIs(t, err, entity.ErrInvalidInput)
		})
	}

	_, err := svc.Get(ctx, "", "s1")
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}

func TestContextService_GetRecentNewestFirstWithinWindow(t *testing.T) {
	ctx := context.Background()
	svc, clock := newContextServiceWithClock(config.DefaultMemoryConfig())

	require.NoError(t, svc.Store(ctx, "a1", "old", &entity.Context{Topic: "old"}))
	clock.advance(2 * time.Hour)
	require.NoError(t, svc.Store(ctx, "a1", "mid", &entity.Context{Topic: "mid"}))
	clock.advance(30 * time.Minute)
	require.NoError(t, svc.Store(ctx, "a1", "new", &entity.Context{Topic: "new"}))
	require.NoError(t, svc.Store(ctx, "a2", "other", &entity.Context{Topic: "other"}))

	recent, err := svc.GetRecent(ctx, "a1", time.Hour)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "new", recent[0].SessionId)
	assert.Equal(t, "mid", recent[1].SessionId)

	all, err := svc.GetRecent(ctx, "a1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// rewriting moves a session to the front without duplicating it
	clock.advance(time.Minute)
	require.NoError(t, svc.Update(ctx, "a1", "old", &entity.Context{Topic: "old again"}))
	all, err = svc.GetRecent(ctx, "a1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "old", all[0].SessionId)
	assert.Equal(t, "old again", all[0].Topic)
}

func TestContextService_RecentListIsBounded(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultMemoryConfig()
	cfg.MaxRecentSessions = 3
	svc, clock := newContextServiceWithClock(cfg)

	for i := 0; i < 5; i++ {
		clock.advance(time.Second)
		require.NoError(t, svc.Store(ctx, "a1", fmt.Sprintf("s%d", i), &entity.Context{}))
	}

	recent, err := svc.GetRecent(ctx, "a1", 0)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "s4", recent[0].SessionId)
	assert.Equal(t, "s2", recent[2].SessionId)
}

func TestContextService_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cfg := config.DefaultMemoryConfig()
	cfg.ContextTTL = time.Second
	svc := NewContextService(implementation.NewContextCacheRepository(client, cfg.CacheNamespace), cfg, logger.NewNopLogger())

	require.NoError(t, svc.Store(ctx, "a1", "s1", &entity.Context{Topic: "short lived", Confidence: 0.5}))
	got, err := svc.Get(ctx, "a1", "s1")
	require.NoError(t, err)
	require.NotNil(t, got)

	mr.FastForward(2 * time.Second)

	got, err = svc.Get(ctx, "a1", "s1")
	require.NoError(t, err)
	assert.Nil(t, got)

	recent, err := svc.GetRecent(ctx, "a1", 0)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestContextService_ExpiredSessionsArePruned(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cfg := config.DefaultMemoryConfig()
	cache := implementation.NewContextCacheRepository(client, cfg.CacheNamespace)
	svc := NewContextService(cache, cfg, logger.NewNopLogger())

	require.NoError(t, svc.Store(ctx, "a1", "s1", &entity.Context{}))
	require.NoError(t, svc.Store(ctx, "a1", "s2", &entity.Context{}))
	mr.Del(cfg.CacheNamespace + ":context:a1:s1")

	recent, err := svc.GetRecent(ctx, "a1", 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	ids, err := cache.RecentSessions(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, ids)
}

func TestContextService_Summarize(t *testing.T) {
	ctx := context.Background()
	svc, _ := newContextServiceWithClock(config.DefaultMemoryConfig())

	in := &entity.Context{Topic: "long session", Confidence: 0.8, Tags: []string{"db"}}
	for i := 0; i < 15; i++ {
		in.Entities = append(in.Entities, fmt.Sprintf("e%d", i))
	}
	for i := 0; i < 8; i++ {
		in.Decisions = append(in.Decisions, fmt.Sprintf("d%d", i))
	}
	require.NoError(t, svc.Store(ctx, "a1", "s1", in))

	summary, err := svc.Summarize(ctx, "a1", "s1")
	require.NoError(t, err)

	assert.Len(t, summary.Entities, 10)
	assert.Equal(t, "e0", summary.Entities[0])
	assert.Equal(t, []string{"d3", "d4", "d5", "d6", "d7"}, summary.Decisions)
	assert.InDelta(t, 0.7, summary.Confidence, 1e-9)
	assert.Equal(t, []string{"db", entity.TagSummarized}, summary.Tags)
	assert.Equal(t, 15, summary.Metadata["original_entity_count"])
	assert.Equal(t, 8, summary.Metadata["original_decision_count"])

	stored, err := svc.Get(ctx, "a1", "s1")
	require.NoError(t, err)
	assert.True(t, stored.HasTag(entity.TagSummarized))
	assert.Len(t, stored.Entities, 10)

	_, err = svc.Summarize(ctx, "a1", "missing")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestContextService_SummarizeConfidenceFloor(t *testing.T) {
	ctx := context.Background()
	svc, _ := newContextServiceWithClock(config.DefaultMemoryConfig())

	require.NoError(t, svc.Store(ctx, "a1", "low", &entity.Context{Confidence: 0.15}))
	require.NoError(t, svc.Store(ctx, "a1", "tiny", &entity.Context{Confidence: 0.05}))

	low, err := svc.Summarize(ctx, "a1", "low")
	require.NoError(t, err)
	assert.InDelta(t, 0.1, low.Confidence, 1e-9)

	tiny, err := svc.Summarize(ctx, "a1", "tiny")
	require.NoError(t, err)
	assert.InDelta(t, 0.05, tiny.Confidence, 1e-9)
}

func TestContextService_SearchAndDelete(t *testing.T) {
	ctx := context.Background()
	svc, clock := newContextServiceWithClock(config.DefaultMemoryConfig())

	require.NoError(t, svc.Store(ctx, "a1", "s1", &entity.Context{Topic: "Index Optimization", Entities: []string{"SQL Server"}}))
	clock.advance(time.Second)
	require.NoError(t, svc.Store(ctx, "a1", "s2", &entity.Context{Topic: "Deploy", Decisions: []string{"canary first"}}))

	hits, err := svc.Search(ctx, "sql server", "a1")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "s1", hits[0].SessionId)

	hits, err = svc.Search(ctx, "CANARY", "a1")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "s2", hits[0].SessionId)

	hits, err = svc.Search(ctx, "index", "")
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = svc.Search(ctx, "", "a1")
	assert.ErrorIs(t, err, entity.ErrInvalidInput)

	require.NoError(t, svc.Delete(ctx, "a1", "s1"))
	got, err := svc.Get(ctx, "a1", "s1")
	require.NoError(t, err)
	assert.Nil(t, got)

	recent, err := svc.GetRecent(ctx, "a1", 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "s2", recent[0].SessionId)
}

func TestContextService_StorageFailuresAreLogged(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()

	cfg := config.DefaultMemoryConfig()
	rec := &recordingLogger{}
	svc := NewContextService(implementation.NewContextCacheRepository(client, cfg.CacheNamespace), cfg, rec)

	mr.Close()

	_, err := svc.Get(ctx, "a1", "s1")
	require.ErrorIs(t, err, entity.ErrStorageFailure)

	err = svc.Delete(ctx, "a1", "s2")
	require.ErrorIs(t, err, entity.ErrStorageFailure)

	logged := rec.errors()
	require.Len(t, logged, 2)
	assert.Equal(t, contextModule, logged[0].module)
	assert.Equal(t, "get context", logged[0].details["operation"])
	assert.Equal(t, "a1", logged[0].details["agent_id"])
	assert.Equal(t, "s1", logged[0].details["session_id"])
	assert.Equal(t, "delete context", logged[1].details["operation"])
	assert.Equal(t, "s2", logged[1].details["session_id"])
}

func TestContextService_ReadsDoNotExtendTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cfg := config.DefaultMemoryConfig()
	cfg.ContextTTL = 10 * time.Second
	svc := NewContextService(implementation.NewContextCacheRepository(client, cfg.CacheNamespace), cfg, logger.NewNopLogger())

	require.NoError(t, svc.Store(ctx, "a1", "read", &entity.Context{Confidence: 0.5}))
	require.NoError(t, svc.Store(ctx, "a1", "write", &entity.Context{Confidence: 0.5}))

	mr.FastForward(6 * time.Second)
	got, err := svc.Get(ctx, "a1", "read")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NoError(t, svc.Update(ctx, "a1", "write", &entity.Context{Confidence: 0.6}))

	mr.FastForward(6 * time.Second)
	got, err = svc.Get(ctx, "a1", "read")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = svc.Get(ctx, "a1", "write")
	require.NoError(t, err)
	assert.NotNil(t, got)
}
