package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Knowledge is a durable semantic fact, unique per (Domain, Concept, Rule).
type Knowledge struct {
	Id                  string
	Domain              string  `validate:"required"`
	Concept             string  `validate:"required"`
	Rule                string  `validate:"required"`
	Source              string
	Confidence          float64 `validate:"gte=0,lte=1"`
	Tags                []string
	Metadata            map[string]interface{}
	EmbeddingValue      []float32
	UsageCount          int64
	RelatedKnowledgeIds []string
	CreatedAt           time.Time
	LastUsedAt          time.Time
	ArchivedAt          *time.Time
	IsArchived          bool
}

// EmbeddingText is the text a knowledge row is embedded from.
func (k *Knowledge) EmbeddingText() string {
	return k.Domain + " " + k.Concept + " " + k.Rule
}

// DedupHash identifies the (domain, concept, rule) triple.
func (k *Knowledge) DedupHash() string {
	return DedupHash(k.Domain, k.Concept, k.Rule)
}

func DedupHash(domain, concept, rule string) string {
	sum := sha256.Sum256([]byte(domain + "\x00" + concept + "\x00" + rule))
	return hex.EncodeToString(sum[:])
}

func (k *Knowledge) Clone() *Knowledge {
	if k == nil {
		return nil
	}
	out := *k
	out.Tags = append([]string(nil), k.Tags...)
	out.Metadata = CopyMetadata(k.Metadata)
	out.EmbeddingValue = append([]float32(nil), k.EmbeddingValue...)
	out.RelatedKnowledgeIds = append([]string(nil), k.RelatedKnowledgeIds...)
	return &out
}

// MergeFrom folds a duplicate store of the same triple into k.
func (k *Knowledge) MergeFrom(other *Knowledge, now time.Time) {
	if other.Confidence > k.Confidence {
		k.Confidence = other.Confidence
	}
	k.Tags = UnionTags(k.Tags, other.Tags)
	if k.Metadata == nil {
		k.Metadata = make(map[string]interface{})
	}
	for key, v := range other.Metadata {
		k.Metadata[key] = v
	}
	k.UsageCount++
	k.LastUsedAt = now
}

// SimilarityMatch pairs a knowledge row with the score it matched at. Never persisted.
type SimilarityMatch struct {
	Knowledge *Knowledge
	Score     float64
	Metric    string
}

type KnowledgeStats struct {
	TotalCount     int64
	DomainCounts   map[string]int64
	MeanConfidence float64
	MostUsed       []*Knowledge
}

type IndexStats struct {
	Count     int
	Dimension int
	Domains   int
}

type MemoryStats struct {
	Knowledge   *KnowledgeStats
	Index       IndexStats
	GeneratedAt time.Time
}

type CleanupReport struct {
	ArchivedKnowledge int
	DeletedContexts   int
}
