package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"sync"
	"time"

	"agent-memory-be/internal/config"
	"agent-memory-be/internal/entity"
	"agent-memory-be/internal/pkg/logger"
	"agent-memory-be/internal/pkg/serverutils"
	"agent-memory-be/internal/repository/contract"
	"agent-memory-be/internal/repository/specification"
	"agent-memory-be/internal/repository/unitofwork"
	"agent-memory-be/pkg/vectorindex"

	"github.com/google/uuid"
)

const (
	knowledgeModule = "KNOWLEDGE_STORE"
	lockStripes     = 64
)

// IKnowledgeService is the durable knowledge store: rows unique per
// (domain, concept, rule) in the database, mirrored into the in-memory vector index.
type IKnowledgeService interface {
	// Store inserts k or merges it into the existing row with the same triple and
	// returns the id of the row that now holds it.
	Store(ctx context.Context, k *entity.Knowledge) (string, error)
	// Get returns (nil, nil) when id is unknown. A hit counts as a use.
	Get(ctx context.Context, id string) (*entity.Knowledge, error)
	QuerySimilar(ctx context.Context, text string, threshold float64, maxResults int) ([]*entity.SimilarityMatch, error)
	GetByDomain(ctx context.Context, domain string, maxResults int) ([]*entity.Knowledge, error)
	GetByTags(ctx context.Context, tags []string, maxResults int) ([]*entity.Knowledge, error)
	Update(ctx context.Context, k *entity.Knowledge) error
	Delete(ctx context.Context, id string) error
	Link(ctx context.Context, sourceId, targetId, relationshipType string) error
	GetRelated(ctx context.Context, id string, maxResults int) ([]*entity.Knowledge, error)
	Search(ctx context.Context, text, domain string) ([]*entity.Knowledge, error)
	Stats(ctx context.Context) (*entity.KnowledgeStats, error)
	IndexStats() entity.IndexStats
	// Archive soft-deletes rows below minConfidence not used since before and drops
	// them from the index.
	Archive(ctx context.Context, minConfidence float64, before time.Time) (int, error)
	// LoadIndex fills the vector index from persisted rows, embedding any row that
	// has no stored vector.
	LoadIndex(ctx context.Context) (int, error)
	// RebuildEmbeddings recomputes every vector with the current provider and
	// persists the result.
	RebuildEmbeddings(ctx context.Context) (int, error)
}

type knowledgeService struct {
	uowFactory unitofwork.RepositoryFactory
	index      *vectorindex.Index
	cfg        config.MemoryConfig
	logger     logger.ILogger
	metric     vectorindex.Metric
	now        func() time.Time

	// Writers take a dedup stripe before a row stripe, never the reverse.
	dedupLocks [lockStripes]sync.Mutex
	rowLocks   [lockStripes]sync.Mutex
}

func NewKnowledgeService(
	uowFactory unitofwork.RepositoryFactory,
	index *vectorindex.Index,
	cfg config.MemoryConfig,
	logger logger.ILogger,
) IKnowledgeService {
	metric, err := vectorindex.ParseMetric(cfg.DefaultMetric)
	if err != nil {
		logger.Warn(knowledgeModule, "Unknown similarity metric, using cosine", map[string]interface{}{
			"metric": cfg.DefaultMetric,
		})
		metric = vectorindex.Cosine
	}

	return &knowledgeService{
		uowFactory: uowFactory,
		index:      index,
		cfg:        cfg,
		logger:     logger,
		metric:     metric,
		now:        time.Now,
	}
}

func stripe(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % lockStripes
}

// dedupLock serializes stores of the same (domain, concept, rule) triple.
func (s *knowledgeService) dedupLock(hash string) *sync.Mutex {
	return &s.dedupLocks[stripe(hash)]
}

// rowLock serializes read-modify-write cycles on one row.
func (s *knowledgeService) rowLock(id string) *sync.Mutex {
	return &s.rowLocks[stripe(id)]
}

func (s *knowledgeService) repo(ctx context.Context) contract.KnowledgeRepository {
	return s.uowFactory.NewUnitOfWork(ctx).KnowledgeRepository()
}

// storageError logs a failed storage operation with its key context and wraps it
// as ErrStorageFailure.
func (s *knowledgeService) storageError(op string, err error, details map[string]interface{}) error {
	s.logger.Error(knowledgeModule, "Knowledge storage failed", failureDetails(op, err, details))
	return fmt.Errorf("%w: %s: %w", entity.ErrStorageFailure, op, err)
}

// indexError maps vector index failures onto the store's error kinds.
func (s *knowledgeService) indexError(op string, err error, details map[string]interface{}) error {
	if errors.Is(err, vectorindex.ErrInvalidInput) {
		return fmt.Errorf("%w: %s: %v", entity.ErrInvalidInput, op, err)
	}
	return s.storageError(op, err, details)
}

func failureDetails(op string, err error, details map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(details)+2)
	for k, v := range details {
		out[k] = v
	}
	out["operation"] = op
	out["error"] = err.Error()
	return out
}

func (s *knowledgeService) validate(k *entity.Knowledge) error {
	if k == nil {
		return fmt.Errorf("%w: knowledge is required", entity.ErrInvalidInput)
	}
	if err := serverutils.ValidateStruct(k); err != nil {
		return fmt.Errorf("%w: %v", entity.ErrInvalidInput, err)
	}
	if n := len(k.EmbeddingValue); n > 0 && n != s.index.ProviderDimensions() {
		return fmt.Errorf("%w: embedding has %d dimensions, expected %d", entity.ErrInvalidInput, n, s.index.ProviderDimensions())
	}
	return nil
}

func (s *knowledgeService) Store(ctx context.Context, k *entity.Knowledge) (string, error) {
	if err := s.validate(k); err != nil {
		return "", err
	}

	hash := k.DedupHash()
	mu := s.dedupLock(hash)
	mu.Lock()
	defer mu.Unlock()

	// A merge rewrites the whole row, so it must not interleave with Link or Update
	// on the same id.
	known, err := s.repo(ctx).FindOne(ctx, specification.IncludeArchived{}, specification.ByDedupHash{Hash: hash})
	if err != nil {
		return "", s.storageError("find duplicate", err, map[string]interface{}{"dedup_hash": hash})
	}
	if known != nil {
		rowMu := s.rowLock(known.Id)
		rowMu.Lock()
		defer rowMu.Unlock()
	}

	now := s.now()
	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return "", s.storageError("begin transaction", err, map[string]interface{}{"dedup_hash": hash})
	}
	defer uow.Rollback()

	repo := uow.KnowledgeRepository()
	existing, err := repo.FindOne(ctx, specification.IncludeArchived{}, specification.ByDedupHash{Hash: hash})
	if err != nil {
		return "", s.storageError("find duplicate", err, map[string]interface{}{"dedup_hash": hash})
	}

	var row *entity.Knowledge
	if existing != nil {
		row = existing
		row.MergeFrom(k, now)
		if row.IsArchived {
			row.IsArchived = false
			row.ArchivedAt = nil
			s.logger.Info(knowledgeModule, "Restoring archived knowledge", map[string]interface{}{"id": row.Id})
		}
		if len(row.EmbeddingValue) == 0 {
			if row.EmbeddingValue, err = s.index.Embed(ctx, row.EmbeddingText()); err != nil {
				return "", s.indexError("embed knowledge", err, map[string]interface{}{"id": row.Id, "dedup_hash": hash})
			}
		}
		if err := repo.Update(ctx, row); err != nil {
			return "", s.storageError("merge knowledge", err, map[string]interface{}{"id": row.Id, "dedup_hash": hash})
		}
		// Update never writes usage_count; concurrent readers bump it in place too.
		if err := repo.IncrementUsage(ctx, []string{row.Id}, now); err != nil {
			return "", s.storageError("merge usage", err, map[string]interface{}{"id": row.Id, "dedup_hash": hash})
		}
	} else {
		row = k.Clone()
		if row.Id == "" {
			row.Id = uuid.NewString()
		}
		row.Tags = entity.NormalizeTags(row.Tags)
		row.UsageCount = 1
		row.CreatedAt = now
		row.LastUsedAt = now
		row.IsArchived = false
		row.ArchivedAt = nil
		if len(row.EmbeddingValue) == 0 {
			if row.EmbeddingValue, err = s.index.Embed(ctx, row.EmbeddingText()); err != nil {
				return "", s.indexError("embed knowledge", err, map[string]interface{}{"dedup_hash": hash})
			}
		}
		if err := repo.Create(ctx, row); err != nil {
			return "", s.storageError("create knowledge", err, map[string]interface{}{"id": row.Id, "dedup_hash": hash})
		}
	}

	if err := uow.Commit(); err != nil {
		return "", s.storageError("commit knowledge", err, map[string]interface{}{"id": row.Id, "dedup_hash": hash})
	}

	if _, err := s.index.Index(ctx, documentOf(row)); err != nil {
		return "", s.indexError("index knowledge", err, map[string]interface{}{"id": row.Id})
	}

	s.logger.Debug(knowledgeModule, "Knowledge stored", map[string]interface{}{
		"id": row.Id, "domain": row.Domain, "merged": existing != nil,
	})
	return row.Id, nil
}

func documentOf(k *entity.Knowledge) vectorindex.Document {
	return vectorindex.Document{
		Id:        k.Id,
		Domain:    k.Domain,
		Text:      k.EmbeddingText(),
		Embedding: k.EmbeddingValue,
	}
}

func (s *knowledgeService) Get(ctx context.Context, id string) (*entity.Knowledge, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", entity.ErrInvalidInput)
	}

	repo := s.repo(ctx)
	k, err := repo.FindOne(ctx, specification.ByID{ID: id})
	if err != nil {
		return nil, s.storageError("get knowledge", err, map[string]interface{}{"id": id})
	}
	if k == nil {
		return nil, nil
	}

	now := s.now()
	if err := repo.IncrementUsage(ctx, []string{id}, now); err != nil {
		return nil, s.storageError("record usage", err, map[string]interface{}{"id": id})
	}
	k.UsageCount++
	k.LastUsedAt = now
	return k, nil
}

func (s *knowledgeService) QuerySimilar(ctx context.Context, text string, threshold float64, maxResults int) ([]*entity.SimilarityMatch, error) {
	vector, err := s.index.Embed(ctx, text)
	if err != nil {
		return nil, s.indexError("embed query", err, map[string]interface{}{"text": text})
	}

	matches, err := s.index.Query(ctx, vector, maxResults, threshold, s.metric)
	if err != nil {
		return nil, s.indexError("query index", err, map[string]interface{}{"threshold": threshold, "max_results": maxResults})
	}
	if len(matches) == 0 {
		return []*entity.SimilarityMatch{}, nil
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.Id
	}

	repo := s.repo(ctx)
	rows, err := repo.FindAll(ctx, specification.ByIDs{IDs: ids})
	if err != nil {
		return nil, s.storageError("load matches", err, map[string]interface{}{"ids": ids})
	}
	byId := make(map[string]*entity.Knowledge, len(rows))
	for _, r := range rows {
		byId[r.Id] = r
	}

	now := s.now()
	used := make([]string, 0, len(matches))
	result := make([]*entity.SimilarityMatch, 0, len(matches))
	for _, m := range matches {
		k, ok := byId[m.Id]
		if !ok {
			// row vanished underneath the index
			s.index.Remove(m.Id)
			continue
		}
		k.UsageCount++
		k.LastUsedAt = now
		used = append(used, k.Id)
		result = append(result, &entity.SimilarityMatch{
			Knowledge: k,
			Score:     m.Score,
			Metric:    string(m.Metric),
		})
	}

	if len(used) > 0 {
		if err := repo.IncrementUsage(ctx, used, now); err != nil {
			return nil, s.storageError("record usage", err, map[string]interface{}{"ids": used})
		}
	}
	return result, nil
}

func (s *knowledgeService) GetByDomain(ctx context.Context, domain string, maxResults int) ([]*entity.Knowledge, error) {
	if domain == "" {
		return nil, fmt.Errorf("%w: domain is required", entity.ErrInvalidInput)
	}

	rows, err := s.repo(ctx).FindAll(ctx,
		specification.ByDomain{Domain: domain},
		specification.RankedByConfidence{},
		specification.Pagination{Limit: maxResults},
	)
	if err != nil {
		return nil, s.storageError("knowledge by domain", err, map[string]interface{}{"domain": domain})
	}
	return rows, nil
}

func (s *knowledgeService) GetByTags(ctx context.Context, tags []string, maxResults int) ([]*entity.Knowledge, error) {
	tags = entity.NormalizeTags(tags)
	if len(tags) == 0 {
		return nil, fmt.Errorf("%w: at least one tag is required", entity.ErrInvalidInput)
	}

	rows, err := s.repo(ctx).FindAll(ctx,
		specification.HasAnyTag{Tags: tags},
		specification.RankedByConfidence{},
		specification.Pagination{Limit: maxResults},
	)
	if err != nil {
		return nil, s.storageError("knowledge by tags", err, map[string]interface{}{"tags": tags})
	}
	return rows, nil
}

func (s *knowledgeService) Update(ctx context.Context, k *entity.Knowledge) error {
	if err := s.validate(k); err != nil {
		return err
	}
	if k.Id == "" {
		return fmt.Errorf("%w: id is required", entity.ErrInvalidInput)
	}

	mu := s.rowLock(k.Id)
	mu.Lock()
	defer mu.Unlock()

	repo := s.repo(ctx)
	current, err := repo.FindOne(ctx, specification.ByID{ID: k.Id})
	if err != nil {
		return s.storageError("load knowledge", err, map[string]interface{}{"id": k.Id})
	}
	if current == nil {
		return fmt.Errorf("%w: knowledge %s", entity.ErrNotFound, k.Id)
	}

	clash, err := repo.FindOne(ctx, specification.IncludeArchived{}, specification.ByDedupHash{Hash: k.DedupHash()})
	if err != nil {
		return s.storageError("find duplicate", err, map[string]interface{}{"id": k.Id, "dedup_hash": k.DedupHash()})
	}
	if clash != nil && clash.Id != k.Id {
		return fmt.Errorf("%w: knowledge %s already holds this domain, concept and rule", entity.ErrInvalidInput, clash.Id)
	}

	updated := k.Clone()
	updated.Tags = entity.NormalizeTags(updated.Tags)
	updated.CreatedAt = current.CreatedAt
	if updated.LastUsedAt.IsZero() {
		updated.LastUsedAt = current.LastUsedAt
	}
	textChanged := current.DedupHash() != updated.DedupHash()
	if len(updated.EmbeddingValue) == 0 || (textChanged && len(k.EmbeddingValue) == 0) {
		if updated.EmbeddingValue, err = s.index.Embed(ctx, updated.EmbeddingText()); err != nil {
			return s.indexError("embed knowledge", err, map[string]interface{}{"id": updated.Id})
		}
	}

	if err := repo.Update(ctx, updated); err != nil {
		return s.storageError("update knowledge", err, map[string]interface{}{"id": updated.Id})
	}
	if _, err := s.index.Index(ctx, documentOf(updated)); err != nil {
		return s.indexError("index knowledge", err, map[string]interface{}{"id": updated.Id})
	}
	return nil
}

func (s *knowledgeService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", entity.ErrInvalidInput)
	}

	if err := s.repo(ctx).Delete(ctx, id); err != nil {
		return s.storageError("delete knowledge", err, map[string]interface{}{"id": id})
	}
	s.index.Remove(id)
	return nil
}

// Link records a directed, weak relation. Linking an already linked pair changes
// nothing; deleting either side never cascades.
func (s *knowledgeService) Link(ctx context.Context, sourceId, targetId, relationshipType string) error {
	if sourceId == "" || targetId == "" {
		return fmt.Errorf("%w: source and target ids are required", entity.ErrInvalidInput)
	}
	if sourceId == targetId {
		return fmt.Errorf("%w: knowledge cannot be linked to itself", entity.ErrInvalidInput)
	}

	mu := s.rowLock(sourceId)
	mu.Lock()
	defer mu.Unlock()

	repo := s.repo(ctx)
	source, err := repo.FindOne(ctx, specification.ByID{ID: sourceId})
	if err != nil {
		return s.storageError("load link source", err, map[string]interface{}{"id": sourceId})
	}
	if source == nil {
		return fmt.Errorf("%w: knowledge %s", entity.ErrNotFound, sourceId)
	}
	targetCount, err := repo.Count(ctx, specification.ByID{ID: targetId})
	if err != nil {
		return s.storageError("load link target", err, map[string]interface{}{"id": targetId})
	}
	if targetCount == 0 {
		return fmt.Errorf("%w: knowledge %s", entity.ErrNotFound, targetId)
	}

	if slices.Contains(source.RelatedKnowledgeIds, targetId) {
		return nil
	}
	source.RelatedKnowledgeIds = append(source.RelatedKnowledgeIds, targetId)

	if relationshipType != "" {
		if source.Metadata == nil {
			source.Metadata = make(map[string]interface{})
		}
		relationships, _ := source.Metadata["relationships"].(map[string]interface{})
		if relationships == nil {
			relationships = make(map[string]interface{})
		}
		if _, ok := relationships[targetId]; !ok {
			relationships[targetId] = relationshipType
		}
		source.Metadata["relationships"] = relationships
	}

	if err := repo.Update(ctx, source); err != nil {
		return s.storageError("link knowledge", err, map[string]interface{}{"id": sourceId, "target_id": targetId})
	}
	return nil
}

func (s *knowledgeService) GetRelated(ctx context.Context, id string, maxResults int) ([]*entity.Knowledge, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", entity.ErrInvalidInput)
	}

	repo := s.repo(ctx)
	source, err := repo.FindOne(ctx, specification.ByID{ID: id})
	if err != nil {
		return nil, s.storageError("load knowledge", err, map[string]interface{}{"id": id})
	}
	if source == nil {
		return nil, fmt.Errorf("%w: knowledge %s", entity.ErrNotFound, id)
	}
	if len(source.RelatedKnowledgeIds) == 0 {
		return []*entity.Knowledge{}, nil
	}

	rows, err := repo.FindAll(ctx,
		specification.ByIDs{IDs: source.RelatedKnowledgeIds},
		specification.RankedByConfidence{},
		specification.Pagination{Limit: maxResults},
	)
	if err != nil {
		return nil, s.storageError("load related knowledge", err, map[string]interface{}{"id": id})
	}
	return rows, nil
}

func (s *knowledgeService) Search(ctx context.Context, text, domain string) ([]*entity.Knowledge, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: search text is required", entity.ErrInvalidInput)
	}

	specs := []specification.Specification{specification.KnowledgeSearchQuery{Query: text}}
	if domain != "" {
		specs = append(specs, specification.ByDomain{Domain: domain})
	}
	specs = append(specs, specification.RankedByConfidence{})

	rows, err := s.repo(ctx).FindAll(ctx, specs...)
	if err != nil {
		return nil, s.storageError("search knowledge", err, map[string]interface{}{"text": text, "domain": domain})
	}
	return rows, nil
}

func (s *knowledgeService) Stats(ctx context.Context) (*entity.KnowledgeStats, error) {
	repo := s.repo(ctx)

	total, err := repo.Count(ctx)
	if err != nil {
		return nil, s.storageError("count knowledge", err, nil)
	}
	byDomain, err := repo.CountByDomain(ctx)
	if err != nil {
		return nil, s.storageError("count by domain", err, nil)
	}
	mean, err := repo.AverageConfidence(ctx)
	if err != nil {
		return nil, s.storageError("average confidence", err, nil)
	}
	mostUsed, err := repo.FindAll(ctx,
		specification.OrderBy{Field: "usage_count", Desc: true},
		specification.OrderBy{Field: "created_at"},
		specification.Pagination{Limit: s.cfg.TopUsedCount},
	)
	if err != nil {
		return nil, s.storageError("most used knowledge", err, nil)
	}

	return &entity.KnowledgeStats{
		TotalCount:     total,
		DomainCounts:   byDomain,
		MeanConfidence: mean,
		MostUsed:       mostUsed,
	}, nil
}

func (s *knowledgeService) IndexStats() entity.IndexStats {
	st := s.index.Stats()
	return entity.IndexStats{
		Count:     st.Count,
		Dimension: st.Dimension,
		Domains:   st.Domains,
	}
}

func (s *knowledgeService) Archive(ctx context.Context, minConfidence float64, before time.Time) (int, error) {
	repo := s.repo(ctx)
	stale, err := repo.FindAll(ctx,
		specification.ConfidenceBelow{Value: minConfidence},
		specification.LastUsedBefore{Time: before},
	)
	if err != nil {
		return 0, s.storageError("find stale knowledge", err, map[string]interface{}{"min_confidence": minConfidence})
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]string, len(stale))
	for i, k := range stale {
		ids[i] = k.Id
	}
	archived, err := repo.Archive(ctx, ids)
	if err != nil {
		return 0, s.storageError("archive knowledge", err, map[string]interface{}{"ids": ids})
	}
	for _, id := range ids {
		s.index.Remove(id)
	}

	s.logger.Info(knowledgeModule, "Archived stale knowledge", map[string]interface{}{
		"count": archived, "min_confidence": minConfidence, "before": before.Format(time.RFC3339),
	})
	return int(archived), nil
}

func (s *knowledgeService) LoadIndex(ctx context.Context) (int, error) {
	repo := s.repo(ctx)
	rows, err := repo.FindAll(ctx, specification.OrderBy{Field: "created_at"})
	if err != nil {
		return 0, s.storageError("load knowledge", err, nil)
	}

	dims := s.index.ProviderDimensions()
	loaded := 0
	for _, k := range rows {
		if len(k.EmbeddingValue) != dims {
			vector, err := s.index.Embed(ctx, k.EmbeddingText())
			if err != nil {
				return loaded, s.indexError("embed knowledge", err, map[string]interface{}{"id": k.Id})
			}
			k.EmbeddingValue = vector
			if err := repo.Update(ctx, k); err != nil {
				return loaded, s.storageError("persist embedding", err, map[string]interface{}{"id": k.Id})
			}
		}
		if _, err := s.index.Index(ctx, documentOf(k)); err != nil {
			return loaded, s.indexError("index knowledge", err, map[string]interface{}{"id": k.Id})
		}
		loaded++
	}
	return loaded, nil
}

func (s *knowledgeService) RebuildEmbeddings(ctx context.Context) (int, error) {
	if err := s.index.Rebuild(ctx); err != nil {
		return 0, s.indexError("rebuild index", err, nil)
	}

	repo := s.repo(ctx)
	rows, err := repo.FindAll(ctx)
	if err != nil {
		return 0, s.storageError("load knowledge", err, nil)
	}

	rebuilt := 0
	for _, k := range rows {
		vector, ok := s.index.Vector(k.Id)
		if !ok {
			if vector, err = s.index.Index(ctx, vectorindex.Document{Id: k.Id, Domain: k.Domain, Text: k.EmbeddingText()}); err != nil {
				return rebuilt, s.indexError("index knowledge", err, map[string]interface{}{"id": k.Id})
			}
		}
		k.EmbeddingValue = vector
		if err := repo.Update(ctx, k); err != nil {
			return rebuilt, s.storageError("persist embedding", err, map[string]interface{}{"id": k.Id})
		}
		rebuilt++
	}

	s.logger.Info(knowledgeModule, "Embeddings rebuilt", map[string]interface{}{"count": rebuilt})
	return rebuilt, nil
}
