package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"agent-memory-be/internal/dto"
	"agent-memory-be/internal/entity"
	"agent-memory-be/internal/pkg/serverutils"
	"agent-memory-be/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMemory struct {
	service.IMemoryService
	healthy  bool
	stats    *entity.MemoryStats
	statsErr error
}

func (s *stubMemory) IsHealthy(ctx context.Context) bool { return s.healthy }

func (s *stubMemory) GetMemoryStats(ctx context.Context) (*entity.MemoryStats, error) {
	return s.stats, s.statsErr
}

func newTestApp(memory service.IMemoryService) *fiber.App {
	app := fiber.New()
	app.Use(serverutils.ErrorHandlerMiddleware())
	NewMemoryController(memory).RegisterRoutes(app.Group("/api"))
	return app
}

func TestMemoryController_Health(t *testing.T) {
	resp, err := newTestApp(&stubMemory{healthy: true}).Test(httptest.NewRequest("GET", "/api/memory/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = newTestApp(&stubMemory{healthy: false}).Test(httptest.NewRequest("GET", "/api/memory/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestMemoryController_Stats(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	memory := &stubMemory{stats: &entity.MemoryStats{
		Knowledge: &entity.KnowledgeStats{
			TotalCount:     2,
			DomainCounts:   map[string]int64{"sql": 2},
			MeanConfidence: 0.8,
			MostUsed: []*entity.Knowledge{
				{Id: "k1", Domain: "sql", Concept: "indexing", Confidence: 0.9, UsageCount: 4},
			},
		},
		Index:       entity.IndexStats{Count: 2, Dimension: 768, Domains: 1},
		GeneratedAt: now,
	}}

	resp, err := newTestApp(memory).Test(httptest.NewRequest("GET", "/api/memory/stats", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Success bool                    `json:"success"`
		Data    dto.MemoryStatsResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, int64(2), body.Data.TotalKnowledge)
	assert.Equal(t, int64(2), body.Data.DomainCounts["sql"])
	assert.Equal(t, 768, body.Data.IndexDimension)
	require.Len(t, body.Data.MostUsed, 1)
	assert.Equal(t, "k1", body.Data.MostUsed[0].Id)
	assert.Equal(t, int64(4), body.Data.MostUsed[0].UsageCount)
}

func TestMemoryController_StatsStorageFailure(t *testing.T) {
	memory := &stubMemory{statsErr: fmt.Errorf("%w: count knowledge", entity.ErrStorageFailure)}

	resp, err := newTestApp(memory).Test(httptest.NewRequest("GET", "/api/memory/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}
