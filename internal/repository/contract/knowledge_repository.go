package contract

import (
	"context"
	"time"

	"agent-memory-be/internal/entity"
	"agent-memory-be/internal/repository/specification"
)

type KnowledgeRepository interface {
	Create(ctx context.Context, knowledge *entity.Knowledge) error
	// Update saves every field, archived rows included (saving an archived row with
	// IsArchived=false restores it).
	Update(ctx context.Context, knowledge *entity.Knowledge) error
	Delete(ctx context.Context, id string) error
	Archive(ctx context.Context, ids []string) (int64, error)
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Knowledge, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Knowledge, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
	// IncrementUsage bumps usage_count and last_used_at for all ids in one statement.
	IncrementUsage(ctx context.Context, ids []string, at time.Time) error
	CountByDomain(ctx context.Context) (map[string]int64, error)
	AverageConfidence(ctx context.Context) (float64, error)
}
