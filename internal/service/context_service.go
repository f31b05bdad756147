package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"agent-memory-be/internal/config"
	"agent-memory-be/internal/entity"
	"agent-memory-be/internal/pkg/logger"
	"agent-memory-be/internal/pkg/serverutils"
	"agent-memory-be/internal/repository/contract"
)

const contextModule = "CONTEXT_STORE"

// IContextService is the session context store: short-lived per-(agent, session)
// working state and a bounded recency list per agent. Every write restarts the TTL;
// reads never extend it.
type IContextService interface {
	Store(ctx context.Context, agentId, sessionId string, c *entity.Context) error
	Get(ctx context.Context, agentId, sessionId string) (*entity.Context, error)
	// GetRecent returns the agent's contexts written within window, newest first.
	// A non-positive window disables the time filter.
	GetRecent(ctx context.Context, agentId string, window time.Duration) ([]*entity.Context, error)
	Update(ctx context.Context, agentId, sessionId string, c *entity.Context) error
	Delete(ctx context.Context, agentId, sessionId string) error
	Summarize(ctx context.Context, agentId, sessionId string) (*entity.Context, error)
	Search(ctx context.Context, query, agentId string) ([]*entity.Context, error)
	All(ctx context.Context) ([]*entity.Context, error)
	Ping(ctx context.Context) error
}

type contextService struct {
	cache  contract.ContextCacheRepository
	cfg    config.MemoryConfig
	logger logger.ILogger
	now    func() time.Time
}

func NewContextService(
	cache contract.ContextCacheRepository,
	cfg config.MemoryConfig,
	logger logger.ILogger,
) IContextService {
	return &contextService{
		cache:  cache,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// storageError logs a failed cache operation with the keys involved and wraps it as
// ErrStorageFailure.
func (s *contextService) storageError(op string, err error, agentId, sessionId string) error {
	details := map[string]interface{}{"operation": op, "error": err.Error()}
	if agentId != "" {
		details["agent_id"] = agentId
	}
	if sessionId != "" {
		details["session_id"] = sessionId
	}
	s.logger.Error(contextModule, "Context storage failed", details)
	return fmt.Errorf("%w: %s: %w", entity.ErrStorageFailure, op, err)
}

func (s *contextService) Store(ctx context.Context, agentId, sessionId string, c *entity.Context) error {
	if c == nil {
		return fmt.Errorf("%w: context is required", entity.ErrInvalidInput)
	}

	stored := c.Clone()
	stored.AgentId = agentId
	stored.SessionId = sessionId
	if err := serverutils.ValidateStruct(stored); err != nil {
		return fmt.Errorf("%w: %v", entity.ErrInvalidInput, err)
	}

	return s.write(ctx, stored)
}

// write persists an already validated context and moves it to the head of the
// agent's recency list. Every write refreshes the timestamp and the TTL.
func (s *contextService) write(ctx context.Context, c *entity.Context) error {
	c.Timestamp = s.now()

	if err := s.cache.Save(ctx, c, s.cfg.ContextTTL); err != nil {
		return s.storageError("save context", err, c.AgentId, c.SessionId)
	}

	if err := s.cache.PushRecent(ctx, c.AgentId, c.SessionId, s.cfg.MaxRecentSessions, s.cfg.ContextTTL); err != nil {
		return s.storageError("push recent session", err, c.AgentId, c.SessionId)
	}
	return nil
}

func (s *contextService) Get(ctx context.Context, agentId, sessionId string) (*entity.Context, error) {
	if agentId == "" || sessionId == "" {
		return nil, fmt.Errorf("%w: agent id and session id are required", entity.ErrInvalidInput)
	}

	c, err := s.cache.Get(ctx, agentId, sessionId)
	if err != nil {
		return nil, s.storageError("get context", err, agentId, sessionId)
	}
	return c, nil
}

func (s *contextService) GetRecent(ctx context.Context, agentId string, window time.Duration) ([]*entity.Context, error) {
	if agentId == "" {
		return nil, fmt.Errorf("%w: agent id is required", entity.ErrInvalidInput)
	}

	sessions, err := s.cache.RecentSessions(ctx, agentId)
	if err != nil {
		return nil, s.storageError("recent sessions", err, agentId, "")
	}

	cutoff := s.now().Add(-window)
	result := make([]*entity.Context, 0, len(sessions))
	for _, sessionId := range sessions {
		c, err := s.cache.Get(ctx, agentId, sessionId)
		if err != nil {
			return nil, s.storageError("get context", err, agentId, sessionId)
		}
		if c == nil {
			// expired behind the list's back
			if err := s.cache.RemoveRecent(ctx, agentId, sessionId); err != nil {
				s.logger.Warn(contextModule, "Failed to prune expired session", map[string]interface{}{
					"agent_id": agentId, "session_id": sessionId, "error": err.Error(),
				})
			}
			continue
		}
		if window > 0 && c.Timestamp.Before(cutoff) {
			continue
		}
		result = append(result, c)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	return result, nil
}

func (s *contextService) Update(ctx context.Context, agentId, sessionId string, c *entity.Context) error {
	return s.Store(ctx, agentId, sessionId, c)
}

func (s *contextService) Delete(ctx context.Context, agentId, sessionId string) error {
	if agentId == "" || sessionId == "" {
		return fmt.Errorf("%w: agent id and session id are required", entity.ErrInvalidInput)
	}

	if err := s.cache.Delete(ctx, agentId, sessionId); err != nil {
		return s.storageError("delete context", err, agentId, sessionId)
	}
	if err := s.cache.RemoveRecent(ctx, agentId, sessionId); err != nil {
		return s.storageError("remove recent session", err, agentId, sessionId)
	}
	return nil
}

// Summarize compacts a context in place: the first entities and the latest decisions
// survive, confidence drops by the configured decrement and the context is tagged
// "summarized" with the original sizes recorded in metadata.
func (s *contextService) Summarize(ctx context.Context, agentId, sessionId string) (*entity.Context, error) {
	c, err := s.Get(ctx, agentId, sessionId)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: context %s/%s", entity.ErrNotFound, agentId, sessionId)
	}

	originalEntities := len(c.Entities)
	originalDecisions := len(c.Decisions)

	if limit := s.cfg.SummaryMaxEntities; limit >= 0 && len(c.Entities) > limit {
		c.Entities = append([]string(nil), c.Entities[:limit]...)
	}
	if limit := s.cfg.SummaryMaxDecisions; limit >= 0 && len(c.Decisions) > limit {
		c.Decisions = append([]string(nil), c.Decisions[len(c.Decisions)-limit:]...)
	}

	confidence := c.Confidence - s.cfg.SummaryConfidenceDecrement
	if confidence < s.cfg.SummaryConfidenceFloor {
		confidence = s.cfg.SummaryConfidenceFloor
		if c.Confidence < confidence {
			confidence = c.Confidence
		}
	}
	c.Confidence = confidence

	c.Tags = entity.AddTags(c.Tags, entity.TagSummarized)
	if c.Metadata == nil {
		c.Metadata = make(map[string]interface{})
	}
	c.Metadata["original_entity_count"] = originalEntities
	c.Metadata["original_decision_count"] = originalDecisions
	c.Metadata["summarized_at"] = s.now().UTC().Format(time.RFC3339)

	if err := s.write(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Debug(contextModule, "Context summarized", map[string]interface{}{
		"agent_id":   agentId,
		"session_id": sessionId,
		"entities":   fmt.Sprintf("%d -> %d", originalEntities, len(c.Entities)),
		"decisions":  fmt.Sprintf("%d -> %d", originalDecisions, len(c.Decisions)),
	})
	return c.Clone(), nil
}

// Search matches query case-insensitively against the topic, entities, decisions,
// tags and outcome of the agent's recent contexts. Without an agent id the result
// is empty.
func (s *contextService) Search(ctx context.Context, query, agentId string) ([]*entity.Context, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", entity.ErrInvalidInput)
	}
	if agentId == "" {
		return []*entity.Context{}, nil
	}

	recent, err := s.GetRecent(ctx, agentId, 0)
	if err != nil {
		return nil, err
	}

	result := make([]*entity.Context, 0)
	for _, c := range recent {
		if contextMatches(c, query) {
			result = append(result, c)
		}
	}
	return result, nil
}

func contextMatches(c *entity.Context, query string) bool {
	if entity.ContainsFold(c.Topic, query) || entity.ContainsFold(c.OutcomeText(), query) {
		return true
	}
	for _, group := range [][]string{c.Entities, c.Decisions, c.Tags} {
		for _, v := range group {
			if entity.ContainsFold(v, query) {
				return true
			}
		}
	}
	return false
}

func (s *contextService) All(ctx context.Context) ([]*entity.Context, error) {
	all, err := s.cache.All(ctx)
	if err != nil {
		return nil, s.storageError("list contexts", err, "", "")
	}
	return all, nil
}

func (s *contextService) Ping(ctx context.Context) error {
	if err := s.cache.Ping(ctx); err != nil {
		return s.storageError("ping", err, "", "")
	}
	return nil
}
