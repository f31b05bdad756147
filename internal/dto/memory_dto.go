package dto

import (
	"time"

	"agent-memory-be/internal/entity"
)

type HealthResponse struct {
	Healthy bool `json:"healthy"`
}

type KnowledgeSummary struct {
	Id         string    `json:"id"`
	Domain     string    `json:"domain"`
	Concept    string    `json:"concept"`
	Confidence float64   `json:"confidence"`
	UsageCount int64     `json:"usage_count"`
	LastUsedAt time.Time `json:"last_used_at"`
}

type MemoryStatsResponse struct {
	TotalKnowledge int64              `json:"total_knowledge"`
	DomainCounts   map[string]int64   `json:"domain_counts"`
	MeanConfidence float64            `json:"mean_confidence"`
	MostUsed       []KnowledgeSummary `json:"most_used"`
	IndexCount     int                `json:"index_count"`
	IndexDimension int                `json:"index_dimension"`
	IndexDomains   int                `json:"index_domains"`
	GeneratedAt    time.Time          `json:"generated_at"`
}

func NewMemoryStatsResponse(stats *entity.MemoryStats) *MemoryStatsResponse {
	res := &MemoryStatsResponse{
		DomainCounts:   map[string]int64{},
		MostUsed:       []KnowledgeSummary{},
		IndexCount:     stats.Index.Count,
		IndexDimension: stats.Index.Dimension,
		IndexDomains:   stats.Index.Domains,
		GeneratedAt:    stats.GeneratedAt,
	}

	if stats.Knowledge == nil {
		return res
	}

	res.TotalKnowledge = stats.Knowledge.TotalCount
	res.MeanConfidence = stats.Knowledge.MeanConfidence
	for domain, count := range stats.Knowledge.DomainCounts {
		res.DomainCounts[domain] = count
	}
	for _, k := range stats.Knowledge.MostUsed {
		res.MostUsed = append(res.MostUsed, KnowledgeSummary{
			Id:         k.Id,
			Domain:     k.Domain,
			Concept:    k.Concept,
			Confidence: k.Confidence,
			UsageCount: k.UsageCount,
			LastUsedAt: k.LastUsedAt,
		})
	}
	return res
}
