package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agent-memory-be/internal/config"
	"agent-memory-be/internal/entity"
	"agent-memory-be/internal/pkg/logger"
	"agent-memory-be/internal/pkg/serverutils"
	"agent-memory-be/pkg/events"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	memoryModule = "MEMORY"

	recommendationEntityQueries = 3
	recommendationsPerEntity    = 2
)

// IMemoryService is the public face of agent memory. It coordinates the session
// context store, the knowledge store and the vector index behind it.
type IMemoryService interface {
	StoreContext(ctx context.Context, agentId, sessionId string, c *entity.Context) error
	GetContext(ctx context.Context, agentId, sessionId string) (*entity.Context, error)
	GetRecentContext(ctx context.Context, agentId string, window time.Duration) ([]*entity.Context, error)

	// StoreKnowledge returns the id of the stored row. Knowledge below the configured
	// minimum confidence is not written; its id is still returned.
	StoreKnowledge(ctx context.Context, k *entity.Knowledge) (string, error)
	// QueryKnowledge falls back to configured defaults for a non-positive threshold or
	// maxResults. domain, when set, filters the similarity hits after the query.
	QueryKnowledge(ctx context.Context, query, domain string, threshold float64, maxResults int) ([]*entity.Knowledge, error)
	QueryKnowledgeMatches(ctx context.Context, query, domain string, threshold float64, maxResults int) ([]*entity.SimilarityMatch, error)
	GetKnowledgeByDomain(ctx context.Context, domain string, maxResults int) ([]*entity.Knowledge, error)

	ShareContext(ctx context.Context, fromAgentId, toAgentId, sessionId string) error
	GetSharedKnowledge(ctx context.Context, agentIds []string, topic string) ([]*entity.Knowledge, error)
	LearnFromInteraction(ctx context.Context, agentId string, c *entity.Context, outcome string, confidence float64) error
	GetRecommendations(ctx context.Context, agentId string, current *entity.Context, maxResults int) ([]*entity.Knowledge, error)

	SummarizeOldContext(ctx context.Context, olderThan time.Duration) (int, error)
	CleanupMemory(ctx context.Context, minConfidence float64, olderThan time.Duration) (*entity.CleanupReport, error)
	GetMemoryStats(ctx context.Context) (*entity.MemoryStats, error)
	IsHealthy(ctx context.Context) bool
}

type memoryService struct {
	contexts  IContextService
	knowledge IKnowledgeService
	publisher events.Publisher
	cfg       config.MemoryConfig
	logger    logger.ILogger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewMemoryService wires the coordinator. publisher may be nil, in which case no
// memory events are emitted.
func NewMemoryService(
	contexts IContextService,
	knowledge IKnowledgeService,
	publisher events.Publisher,
	cfg config.MemoryConfig,
	logger logger.ILogger,
) IMemoryService {
	return &memoryService{
		contexts:  contexts,
		knowledge: knowledge,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("agent-memory-be/internal/service"),
		now:       time.Now,
	}
}

func (s *memoryService) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "MemoryService."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// publish never fails the caller.
func (s *memoryService) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	evt := events.BaseEvent{Type: eventType, Data: data, OccurredAt: s.now()}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn(memoryModule, "Failed to publish memory event", map[string]interface{}{
			"event_type": eventType, "error": err.Error(),
		})
	}
}

func (s *memoryService) StoreContext(ctx context.Context, agentId, sessionId string, c *entity.Context) (err error) {
	ctx, span := s.startSpan(ctx, "StoreContext", attribute.String("agent_id", agentId), attribute.String("session_id", sessionId))
	defer func() { endSpan(span, err) }()

	return s.contexts.Store(ctx, agentId, sessionId, c)
}

func (s *memoryService) GetContext(ctx context.Context, agentId, sessionId string) (c *entity.Context, err error) {
	ctx, span := s.startSpan(ctx, "GetContext", attribute.String("agent_id", agentId), attribute.String("session_id", sessionId))
	defer func() { endSpan(span, err) }()

	return s.contexts.Get(ctx, agentId, sessionId)
}

func (s *memoryService) GetRecentContext(ctx context.Context, agentId string, window time.Duration) (result []*entity.Context, err error) {
	ctx, span := s.startSpan(ctx, "GetRecentContext", attribute.String("agent_id", agentId))
	defer func() { endSpan(span, err) }()

	return s.contexts.GetRecent(ctx, agentId, window)
}

func (s *memoryService) StoreKnowledge(ctx context.Context, k *entity.Knowledge) (id string, err error) {
	ctx, span := s.startSpan(ctx, "StoreKnowledge")
	defer func() { endSpan(span, err) }()

	if k == nil {
		return "", fmt.Errorf("%w: knowledge is required", entity.ErrInvalidInput)
	}

	if k.Confidence < s.cfg.MinKnowledgeConfidence {
		id = k.Id
		if id == "" {
			id = uuid.NewString()
		}
		s.logger.Info(memoryModule, "Knowledge below minimum confidence, not stored", map[string]interface{}{
			"id": id, "domain": k.Domain, "concept": k.Concept,
			"confidence": k.Confidence, "min_confidence": s.cfg.MinKnowledgeConfidence,
		})
		span.SetAttributes(attribute.Bool("dropped", true))
		s.publish(ctx, events.KnowledgeDropped, map[string]interface{}{
			"id": id, "domain": k.Domain, "confidence": k.Confidence,
		})
		return id, nil
	}

	id, err = s.knowledge.Store(ctx, k)
	if err != nil {
		return "", err
	}

	span.SetAttributes(attribute.String("knowledge_id", id))
	s.publish(ctx, events.KnowledgeStored, map[string]interface{}{
		"id": id, "domain": k.Domain, "concept": k.Concept, "confidence": k.Confidence,
	})
	return id, nil
}

func (s *memoryService) QueryKnowledge(ctx context.Context, query, domain string, threshold float64, maxResults int) ([]*entity.Knowledge, error) {
	matches, err := s.QueryKnowledgeMatches(ctx, query, domain, threshold, maxResults)
	if err != nil {
		return nil, err
	}
	result := make([]*entity.Knowledge, len(matches))
	for i, m := range matches {
		result[i] = m.Knowledge
	}
	return result, nil
}

func (s *memoryService) QueryKnowledgeMatches(ctx context.Context, query, domain string, threshold float64, maxResults int) (result []*entity.SimilarityMatch, err error) {
	ctx, span := s.startSpan(ctx, "QueryKnowledge", attribute.String("domain", domain))
	defer func() { endSpan(span, err) }()

	if threshold <= 0 {
		threshold = s.cfg.DefaultSimilarityThreshold
	}
	if maxResults <= 0 {
		maxResults = s.cfg.DefaultMaxResults
	}

	matches, err := s.knowledge.QuerySimilar(ctx, query, threshold, maxResults)
	if err != nil {
		return nil, err
	}
	if domain == "" {
		return matches, nil
	}

	result = make([]*entity.SimilarityMatch, 0, len(matches))
	for _, m := range matches {
		if m.Knowledge.Domain == domain {
			result = append(result, m)
		}
	}
	span.SetAttributes(attribute.Int("results", len(result)))
	return result, nil
}

func (s *memoryService) GetKnowledgeByDomain(ctx context.Context, domain string, maxResults int) (result []*entity.Knowledge, err error) {
	ctx, span := s.startSpan(ctx, "GetKnowledgeByDomain", attribute.String("domain", domain))
	defer func() { endSpan(span, err) }()

	if maxResults <= 0 {
		maxResults = s.cfg.DefaultMaxResults
	}
	return s.knowledge.GetByDomain(ctx, domain, maxResults)
}

// ShareContext copies the source agent's session into a context the target agent
// owns outright, under session "shared_<sessionId>". A missing source is a no-op.
func (s *memoryService) ShareContext(ctx context.Context, fromAgentId, toAgentId, sessionId string) (err error) {
	ctx, span := s.startSpan(ctx, "ShareContext",
		attribute.String("from_agent_id", fromAgentId),
		attribute.String("to_agent_id", toAgentId),
		attribute.String("session_id", sessionId),
	)
	defer func() { endSpan(span, err) }()

	if toAgentId == "" {
		return fmt.Errorf("%w: target agent id is required", entity.ErrInvalidInput)
	}

	source, err := s.contexts.Get(ctx, fromAgentId, sessionId)
	if err != nil {
		return err
	}
	if source == nil {
		s.logger.Warn(memoryModule, "Context to share not found", map[string]interface{}{
			"from_agent_id": fromAgentId, "to_agent_id": toAgentId, "session_id": sessionId,
		})
		return nil
	}

	sharedAt := s.now()
	shared := source.Clone()
	shared.AgentId = toAgentId
	shared.SessionId = entity.SharedSessionPrefix + sessionId
	shared.Confidence = source.Confidence * s.cfg.ShareConfidenceDecay
	shared.Tags = entity.AddTags(shared.Tags, entity.TagShared, "from_"+fromAgentId)
	if shared.Metadata == nil {
		shared.Metadata = make(map[string]interface{})
	}
	shared.Metadata["shared_from"] = fromAgentId
	shared.Metadata["original_session"] = sessionId
	shared.Metadata["shared_at"] = sharedAt.UTC().Format(time.RFC3339)

	if err := s.contexts.Store(ctx, toAgentId, shared.SessionId, shared); err != nil {
		return err
	}

	s.publish(ctx, events.ContextShared, map[string]interface{}{
		"from_agent_id": fromAgentId, "to_agent_id": toAgentId, "session_id": sessionId,
	})
	return nil
}

// GetSharedKnowledge gathers knowledge whose concept, rule or tags mention any of the
// agent ids, optionally narrowed to a topic.
func (s *memoryService) GetSharedKnowledge(ctx context.Context, agentIds []string, topic string) (result []*entity.Knowledge, err error) {
	ctx, span := s.startSpan(ctx, "GetSharedKnowledge", attribute.StringSlice("agent_ids", agentIds))
	defer func() { endSpan(span, err) }()

	var collected []*entity.Knowledge
	for _, agentId := range agentIds {
		if agentId == "" {
			continue
		}
		rows, err := s.knowledge.Search(ctx, agentId, "")
		if err != nil {
			return nil, err
		}
		collected = append(collected, rows...)
	}

	if topic != "" {
		filtered := collected[:0]
		for _, k := range collected {
			if mentionsTopic(k, topic) {
				filtered = append(filtered, k)
			}
		}
		collected = filtered
	}

	result = entity.DedupKnowledge(collected)
	entity.RankKnowledge(result)
	return result, nil
}

func mentionsTopic(k *entity.Knowledge, topic string) bool {
	if entity.ContainsFold(k.Concept, topic) {
		return true
	}
	for _, tag := range k.Tags {
		if entity.ContainsFold(tag, topic) {
			return true
		}
	}
	return false
}

// LearnFromInteraction turns a finished interaction into knowledge in the agent's
// domain, then records the outcome on the context itself. The two writes are not
// atomic: if the context update fails the knowledge stays stored.
func (s *memoryService) LearnFromInteraction(ctx context.Context, agentId string, c *entity.Context, outcome string, confidence float64) (err error) {
	ctx, span := s.startSpan(ctx, "LearnFromInteraction", attribute.String("agent_id", agentId))
	defer func() { endSpan(span, err) }()

	if agentId == "" {
		return fmt.Errorf("%w: agent id is required", entity.ErrInvalidInput)
	}
	if c == nil || c.Topic == "" {
		return fmt.Errorf("%w: context with a topic is required", entity.ErrInvalidInput)
	}
	if confidence < 0 || confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of range", entity.ErrInvalidInput, confidence)
	}

	owner := c.AgentId
	if owner == "" {
		owner = agentId
	}
	// the context update must be valid before the knowledge row is written
	candidate := c.Clone()
	candidate.AgentId = owner
	candidate.Confidence = confidence
	if err := serverutils.ValidateStruct(candidate); err != nil {
		return fmt.Errorf("%w: %v", entity.ErrInvalidInput, err)
	}

	learnedAt := s.now()
	k := &entity.Knowledge{
		Domain:     agentId,
		Concept:    c.Topic,
		Rule:       learnedRule(c, outcome),
		Source:     agentId,
		Confidence: confidence,
		Tags:       []string{entity.TagLearned, agentId},
		Metadata: map[string]interface{}{
			"session_id": c.SessionId,
			"learned_at": learnedAt.UTC().Format(time.RFC3339),
		},
	}

	knowledgeId, err := s.StoreKnowledge(ctx, k)
	if err != nil {
		return err
	}

	c.Outcome = &outcome
	c.Confidence = confidence
	c.Tags = entity.AddTags(c.Tags, entity.TagLearned)
	if c.Metadata == nil {
		c.Metadata = make(map[string]interface{})
	}
	c.Metadata["knowledge_id"] = knowledgeId

	if err := s.contexts.Update(ctx, owner, c.SessionId, c); err != nil {
		s.logger.Error(memoryModule, "Knowledge learned but context update failed", map[string]interface{}{
			"agent_id": owner, "session_id": c.SessionId, "knowledge_id": knowledgeId, "error": err.Error(),
		})
		return err
	}

	s.publish(ctx, events.InteractionLearned, map[string]interface{}{
		"agent_id": agentId, "session_id": c.SessionId, "knowledge_id": knowledgeId, "confidence": confidence,
	})
	return nil
}

func learnedRule(c *entity.Context, outcome string) string {
	return fmt.Sprintf("When handling %s involving %s, the decisions %s led to the outcome: %s",
		c.Topic, joinOrNone(c.Entities), joinOrNone(c.Decisions), outcome)
}

func joinOrNone(values []string) string {
	if len(values) == 0 {
		return "none"
	}
	return strings.Join(values, ", ")
}

// GetRecommendations spends half the budget on the context's topic and a couple of
// results on each of its leading entities.
func (s *memoryService) GetRecommendations(ctx context.Context, agentId string, current *entity.Context, maxResults int) (result []*entity.Knowledge, err error) {
	ctx, span := s.startSpan(ctx, "GetRecommendations", attribute.String("agent_id", agentId))
	defer func() { endSpan(span, err) }()

	if current == nil {
		return nil, fmt.Errorf("%w: current context is required", entity.ErrInvalidInput)
	}
	if maxResults <= 0 {
		maxResults = s.cfg.DefaultMaxResults
	}

	var collected []*entity.Knowledge
	if current.Topic != "" {
		topicBudget := maxResults / 2
		if topicBudget < 1 {
			topicBudget = 1
		}
		rows, err := s.QueryKnowledge(ctx, current.Topic, "", 0, topicBudget)
		if err != nil {
			return nil, err
		}
		collected = append(collected, rows...)
	}

	for i, e := range current.Entities {
		if i == recommendationEntityQueries {
			break
		}
		if strings.TrimSpace(e) == "" {
			continue
		}
		rows, err := s.QueryKnowledge(ctx, e, "", 0, recommendationsPerEntity)
		if err != nil {
			return nil, err
		}
		collected = append(collected, rows...)
	}

	result = entity.DedupKnowledge(collected)
	entity.RankKnowledge(result)
	if len(result) > maxResults {
		result = result[:maxResults]
	}
	return result, nil
}

// SummarizeOldContext compacts every cached context last written before
// now-olderThan that has not been summarized yet.
func (s *memoryService) SummarizeOldContext(ctx context.Context, olderThan time.Duration) (count int, err error) {
	ctx, span := s.startSpan(ctx, "SummarizeOldContext")
	defer func() { endSpan(span, err) }()

	all, err := s.contexts.All(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-olderThan)
	for _, c := range all {
		if !c.Timestamp.Before(cutoff) || c.HasTag(entity.TagSummarized) {
			continue
		}
		if _, err := s.contexts.Summarize(ctx, c.AgentId, c.SessionId); err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				continue // expired mid-sweep
			}
			return count, err
		}
		count++
	}

	s.logger.Info(memoryModule, "Old contexts summarized", map[string]interface{}{
		"count": count, "older_than": olderThan.String(),
	})
	span.SetAttributes(attribute.Int("summarized", count))
	return count, nil
}

// CleanupMemory archives stale low-confidence knowledge and drops stale
// low-confidence contexts. Both must be below minConfidence and older than olderThan.
func (s *memoryService) CleanupMemory(ctx context.Context, minConfidence float64, olderThan time.Duration) (report *entity.CleanupReport, err error) {
	ctx, span := s.startSpan(ctx, "CleanupMemory")
	defer func() { endSpan(span, err) }()

	cutoff := s.now().Add(-olderThan)
	report = &entity.CleanupReport{}

	report.ArchivedKnowledge, err = s.knowledge.Archive(ctx, minConfidence, cutoff)
	if err != nil {
		return nil, err
	}

	all, err := s.contexts.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range all {
		if c.Confidence >= minConfidence || !c.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.contexts.Delete(ctx, c.AgentId, c.SessionId); err != nil {
			return nil, err
		}
		report.DeletedContexts++
	}

	s.logger.Info(memoryModule, "Memory cleaned", map[string]interface{}{
		"archived_knowledge": report.ArchivedKnowledge,
		"deleted_contexts":   report.DeletedContexts,
		"min_confidence":     minConfidence,
		"older_than":         olderThan.String(),
	})
	s.publish(ctx, events.MemoryCleaned, map[string]interface{}{
		"archived_knowledge": report.ArchivedKnowledge,
		"deleted_contexts":   report.DeletedContexts,
	})
	return report, nil
}

func (s *memoryService) GetMemoryStats(ctx context.Context) (stats *entity.MemoryStats, err error) {
	ctx, span := s.startSpan(ctx, "GetMemoryStats")
	defer func() { endSpan(span, err) }()

	knowledgeStats, err := s.knowledge.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &entity.MemoryStats{
		Knowledge:   knowledgeStats,
		Index:       s.knowledge.IndexStats(),
		GeneratedAt: s.now(),
	}, nil
}

func (s *memoryService) IsHealthy(ctx context.Context) (healthy bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(memoryModule, "Health check panicked", map[string]interface{}{"panic": fmt.Sprint(r)})
			healthy = false
		}
	}()

	if _, err := s.GetMemoryStats(ctx); err != nil {
		s.logger.Warn(memoryModule, "Health check failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	return true
}
