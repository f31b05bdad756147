package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"unicode"

	"agent-memory-be/internal/config"
	"agent-memory-be/internal/model"
	"agent-memory-be/internal/pkg/logger"
	"agent-memory-be/internal/repository/memory"
	"agent-memory-be/internal/repository/unitofwork"
	"agent-memory-be/pkg/embedding"
	"agent-memory-be/pkg/events"
	"agent-memory-be/pkg/vectorindex"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// conceptEmbedder gives every text a binary vector over a handful of concept axes,
// so that related wording lands close together without a real model.
type conceptEmbedder struct{}

var conceptAxes = map[string]int{
	"index": 0, "indexes": 0, "indexing": 0,
	"optimization": 1, "optimize": 1, "performance": 1, "faster": 1, "speed": 1, "perf": 1,
	"sql": 2, "server": 2, "database": 2, "db": 2, "query": 2, "queries": 2,
	"deploy": 3, "deployment": 3, "rollout": 3, "canary": 3,
	"cache": 4, "redis": 4, "ttl": 4,
	"retry": 5, "backoff": 5, "timeout": 5,
}

const (
	conceptOtherAxis = 6
	conceptDims      = 7
)

func (conceptEmbedder) Generate(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, embedding.ErrEmptyText
	}
	vec := make([]float32, conceptDims)
	matched := false
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		if axis, ok := conceptAxes[tok]; ok {
			vec[axis] = 1
			matched = true
		}
	}
	if !matched {
		vec[conceptOtherAxis] = 1
	}
	return vec, nil
}

func (conceptEmbedder) Dimensions() int { return conceptDims }

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&model.Knowledge{}))
	return db
}

type testMemory struct {
	cfg       config.MemoryConfig
	index     *vectorindex.Index
	contexts  IContextService
	knowledge IKnowledgeService
	memory    IMemoryService
	events    *recordingPublisher
}

func newTestMemory(t *testing.T) *testMemory {
	t.Helper()
	cfg := config.DefaultMemoryConfig()
	log := logger.NewNopLogger()

	index := vectorindex.New(conceptEmbedder{})
	contexts := NewContextService(memory.NewContextCacheRepository(cfg.ContextTTL), cfg, log)
	knowledge := NewKnowledgeService(unitofwork.NewRepositoryFactory(newTestDB(t)), index, cfg, log)
	pub := &recordingPublisher{}

	return &testMemory{
		cfg:       cfg,
		index:     index,
		contexts:  contexts,
		knowledge: knowledge,
		memory:    NewMemoryService(contexts, knowledge, pub, cfg, log),
		events:    pub,
	}
}

type logEntry struct {
	level   string
	module  string
	message string
	details map[string]interface{}
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) record(level, module, message string, details map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, module: module, message: message, details: details})
}

func (l *recordingLogger) Debug(module, message string, details map[string]interface{}) {
	l.record("debug", module, message, details)
}

func (l *recordingLogger) Info(module, message string, details map[string]interface{}) {
	l.record("info", module, message, details)
}

func (l *recordingLogger) Warn(module, message string, details map[string]interface{}) {
	l.record("warn", module, message, details)
}

func (l *recordingLogger) Error(module, message string, details map[string]interface{}) {
	l.record("error", module, message, details)
}

func (l *recordingLogger) Sync() error { return nil }

func (l *recordingLogger) errors() []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []logEntry
	for _, e := range l.entries {
		if e.level == "error" {
			out = append(out, e)
		}
	}
	return out
}
