package implementation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"agent-memory-be/internal/entity"
	"agent-memory-be/internal/mapper"
	"agent-memory-be/internal/model"
	"agent-memory-be/internal/repository/contract"
	"agent-memory-be/internal/repository/specification"

	"gorm.io/gorm"
)

type KnowledgeRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.KnowledgeMapper
}

func NewKnowledgeRepository(db *gorm.DB) contract.KnowledgeRepository {
	return &KnowledgeRepositoryImpl{
		db:     db,
		mapper: mapper.NewKnowledgeMapper(),
	}
}

func (r *KnowledgeRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

func (r *KnowledgeRepositoryImpl) Create(ctx context.Context, knowledge *entity.Knowledge) error {
	m, err := r.mapper.ToModel(knowledge)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	return r.mapper.Into(knowledge, m)
}

func (r *KnowledgeRepositoryImpl) Update(ctx context.Context, knowledge *entity.Knowledge) error {
	m, err := r.mapper.ToModel(knowledge)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).
		Unscoped().
		Model(m).
		Select("*").
		Omit("id", "usage_count").
		Updates(m).Error
	if err != nil {
		return err
	}
	return r.mapper.Into(knowledge, m)
}

func (r *KnowledgeRepositoryImpl) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Unscoped().Where("id = ?", id).Delete(&model.Knowledge{}).Error
}

func (r *KnowledgeRepositoryImpl) Archive(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.Knowledge{})
	return res.RowsAffected, res.Error
}

func (r *KnowledgeRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Knowledge, error) {
	var m model.Knowledge
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ToEntity(&m)
}

func (r *KnowledgeRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Knowledge, error) {
	var models []*model.Knowledge
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToEntities(models)
}

func (r *KnowledgeRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	err := query.Model(&model.Knowledge{}).Count(&count).Error
	return count, err
}

func (r *KnowledgeRepositoryImpl) IncrementUsage(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&model.Knowledge{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"usage_count":  gorm.Expr("usage_count + ?", 1),
			"last_used_at": at,
		}).Error
}

func (r *KnowledgeRepositoryImpl) CountByDomain(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Domain string
		Total  int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&model.Knowledge{}).
		Select("domain, COUNT(*) AS total").
		Group("domain").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Domain] = r.Total
	}
	return counts, nil
}

func (r *KnowledgeRepositoryImpl) AverageConfidence(ctx context.Context) (float64, error) {
	var avg sql.NullFloat64
	err := r.db.WithContext(ctx).
		Model(&model.Knowledge{}).
		Select("AVG(confidence)").
		Row().
		Scan(&avg)
	if err != nil {
		return 0, err
	}
	return avg.Float64, nil
}
