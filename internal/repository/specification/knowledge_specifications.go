package specification

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Queries stick to LOWER(..) LIKE and CAST(.. AS TEXT) so they run on postgres and sqlite alike.

type ByDomain struct {
	Domain string
}

func (s ByDomain) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("domain = ?", s.Domain)
}

type ByDedupHash struct {
	Hash string
}

func (s ByDedupHash) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("dedup_hash = ?", s.Hash)
}

// HasAnyTag matches rows carrying at least one of Tags (exact tag match).
type HasAnyTag struct {
	Tags []string
}

func (s HasAnyTag) Apply(db *gorm.DB) *gorm.DB {
	if len(s.Tags) == 0 {
		return db
	}
	cond := db.Session(&gorm.Session{NewDB: true})
	for i, tag := range s.Tags {
		quoted, _ := json.Marshal(tag)
		pattern := "%" + escapeLike(string(quoted)) + "%"
		if i == 0 {
			cond = cond.Where("CAST(tags AS TEXT) LIKE ? ESCAPE '\\'", pattern)
		} else {
			cond = cond.Or("CAST(tags AS TEXT) LIKE ? ESCAPE '\\'", pattern)
		}
	}
	return db.Where(cond)
}

// KnowledgeSearchQuery is a case-insensitive substring match over concept, rule and tags.
type KnowledgeSearchQuery struct {
	Query string
}

func (s KnowledgeSearchQuery) Apply(db *gorm.DB) *gorm.DB {
	pattern := "%" + escapeLike(strings.ToLower(s.Query)) + "%"
	return db.Where(
		"LOWER(concept) LIKE ? ESCAPE '\\' OR LOWER(rule) LIKE ? ESCAPE '\\' OR LOWER(CAST(tags AS TEXT)) LIKE ? ESCAPE '\\'",
		pattern, pattern, pattern,
	)
}

type ConfidenceBelow struct {
	Value float64
}

func (s ConfidenceBelow) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("confidence < ?", s.Value)
}

type LastUsedBefore struct {
	Time time.Time
}

func (s LastUsedBefore) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("last_used_at < ?", s.Time)
}

// RankedByConfidence orders by confidence, then usage, both descending.
type RankedByConfidence struct{}

func (s RankedByConfidence) Apply(db *gorm.DB) *gorm.DB {
	return db.Order("confidence DESC").Order("usage_count DESC").Order("created_at ASC")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
