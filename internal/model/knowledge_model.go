package model

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Knowledge struct {
	Id                  string          `gorm:"type:varchar(36);primaryKey"`
	DedupHash           string          `gorm:"type:char(64);uniqueIndex;not null"`
	Domain              string          `gorm:"type:varchar(255);index;not null"`
	Concept             string          `gorm:"type:text;not null"`
	Rule                string          `gorm:"type:text;not null"`
	Source              string          `gorm:"type:varchar(255)"`
	Confidence          float64         `gorm:"not null;default:0;index"`
	Tags                datatypes.JSON  `gorm:"type:jsonb"`
	Metadata            datatypes.JSON  `gorm:"type:jsonb"`
	RelatedKnowledgeIds datatypes.JSON  `gorm:"type:jsonb"`
	// dimensions pinned by database.EnsureVectorDimensions
	EmbeddingValue      pgvector.Vector `gorm:"type:vector"`
	UsageCount          int64           `gorm:"not null;default:0"`
	CreatedAt           time.Time       `gorm:"autoCreateTime"`
	LastUsedAt          time.Time       `gorm:"index"`
	DeletedAt           gorm.DeletedAt  `gorm:"index"` // archival
}

func (Knowledge) TableName() string {
	return "knowledge"
}
