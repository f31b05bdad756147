package mapper

import (
	"encoding/json"
	"fmt"
	"time"

	"agent-memory-be/internal/entity"
	"agent-memory-be/internal/model"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type KnowledgeMapper struct{}

func NewKnowledgeMapper() *KnowledgeMapper {
	return &KnowledgeMapper{}
}

func (m *KnowledgeMapper) ToEntity(k *model.Knowledge) (*entity.Knowledge, error) {
	if k == nil {
		return nil, nil
	}

	tags, err := decodeStrings(k.Tags)
	if err != nil {
		return nil, fmt.Errorf("knowledge %s tags: %w", k.Id, err)
	}
	metadata, err := decodeMap(k.Metadata)
	if err != nil {
		return nil, fmt.Errorf("knowledge %s metadata: %w", k.Id, err)
	}
	related, err := decodeStrings(k.RelatedKnowledgeIds)
	if err != nil {
		return nil, fmt.Errorf("knowledge %s related ids: %w", k.Id, err)
	}

	var archivedAt *time.Time
	if k.DeletedAt.Valid {
		t := k.DeletedAt.Time
		archivedAt = &t
	}

	var embedding []float32
	if s := k.EmbeddingValue.Slice(); len(s) > 0 {
		embedding = s
	}

	return &entity.Knowledge{
		Id:                  k.Id,
		Domain:              k.Domain,
		Concept:             k.Concept,
		Rule:                k.Rule,
		Source:              k.Source,
		Confidence:          k.Confidence,
		Tags:                tags,
		Metadata:            metadata,
		EmbeddingValue:      embedding,
		UsageCount:          k.UsageCount,
		RelatedKnowledgeIds: related,
		CreatedAt:           k.CreatedAt,
		LastUsedAt:          k.LastUsedAt,
		ArchivedAt:          archivedAt,
		IsArchived:          k.DeletedAt.Valid,
	}, nil
}

// ToModel fails when tags, metadata or related ids cannot be encoded as JSON
// (a NaN in metadata, for instance); nothing is written in that case.
func (m *KnowledgeMapper) ToModel(k *entity.Knowledge) (*model.Knowledge, error) {
	if k == nil {
		return nil, fmt.Errorf("knowledge is nil")
	}

	tags, err := encode(nonNilStrings(k.Tags))
	if err != nil {
		return nil, fmt.Errorf("knowledge %s tags: %w", k.Id, err)
	}
	metadata, err := encode(nonNilMap(k.Metadata))
	if err != nil {
		return nil, fmt.Errorf("knowledge %s metadata: %w", k.Id, err)
	}
	related, err := encode(nonNilStrings(k.RelatedKnowledgeIds))
	if err != nil {
		return nil, fmt.Errorf("knowledge %s related ids: %w", k.Id, err)
	}

	var deletedAt gorm.DeletedAt
	if k.ArchivedAt != nil {
		deletedAt = gorm.DeletedAt{Time: *k.ArchivedAt, Valid: true}
	} else if k.IsArchived {
		deletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
	}

	return &model.Knowledge{
		Id:                  k.Id,
		DedupHash:           k.DedupHash(),
		Domain:              k.Domain,
		Concept:             k.Concept,
		Rule:                k.Rule,
		Source:              k.Source,
		Confidence:          k.Confidence,
		Tags:                tags,
		Metadata:            metadata,
		RelatedKnowledgeIds: related,
		EmbeddingValue:      pgvector.NewVector(k.EmbeddingValue),
		UsageCount:          k.UsageCount,
		CreatedAt:           k.CreatedAt,
		LastUsedAt:          k.LastUsedAt,
		DeletedAt:           deletedAt,
	}, nil
}

// Into overwrites dst with the entity form of k, used after a write to reflect
// what was persisted.
func (m *KnowledgeMapper) Into(dst *entity.Knowledge, k *model.Knowledge) error {
	e, err := m.ToEntity(k)
	if err != nil {
		return err
	}
	*dst = *e
	return nil
}

func (m *KnowledgeMapper) ToEntities(rows []*model.Knowledge) ([]*entity.Knowledge, error) {
	entities := make([]*entity.Knowledge, len(rows))
	for i, r := range rows {
		e, err := m.ToEntity(r)
		if err != nil {
			return nil, err
		}
		entities[i] = e
	}
	return entities, nil
}

func encode(v interface{}) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func decodeStrings(raw datatypes.JSON) ([]string, error) {
	var out []string
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeMap(raw datatypes.JSON) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
