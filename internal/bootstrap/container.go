package bootstrap

import (
	"context"
	"log"
	"time"

	"agent-memory-be/internal/config"
	"agent-memory-be/internal/controller"
	"agent-memory-be/internal/model"
	"agent-memory-be/internal/pkg/logger"
	"agent-memory-be/internal/repository/contract"
	"agent-memory-be/internal/repository/implementation"
	"agent-memory-be/internal/repository/memory"
	"agent-memory-be/internal/repository/unitofwork"
	"agent-memory-be/internal/service"
	"agent-memory-be/pkg/database"
	"agent-memory-be/pkg/embedding"
	"agent-memory-be/pkg/events"
	"agent-memory-be/pkg/vectorindex"

	pktNats "agent-memory-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const maintenanceDurable = "memory-maintenance"

type Container struct {
	// Controllers
	MemoryController controller.IMemoryController

	// Services
	MemoryService    service.IMemoryService
	KnowledgeService service.IKnowledgeService

	// Background Services (Exposed for main.go to run)
	ConsumerService service.IConsumerService

	natsSub *pktNats.Subscriber
	closers []func()
	sysLog  logger.ILogger
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core Facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	maintenanceLogger := logger.NewIsolatedLogger("logs/maintenance.log")

	c := &Container{sysLog: sysLogger}

	// 2. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)
	c.closers = append(c.closers, func() { _ = pubSub.Close() })

	var publisher events.Publisher = events.NewWatermillPublisher(pubSub)
	if cfg.App.EventsBackend == "nats" {
		natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Publisher: %v. Falling back to in-process bus", err)
		} else {
			publisher = natsPub
			c.closers = append(c.closers, natsPub.Close)
			log.Printf("[INFO] Using Events Backend: NATS (%s)", cfg.App.NatsURL)
		}
	}

	// 3. Embedding Provider
	var embeddingProvider embedding.EmbeddingProvider
	if cfg.Ai.EmbeddingProvider == "ollama" {
		embeddingProvider = embedding.NewOllamaProvider(
			cfg.Ai.OllamaBaseURL,
			cfg.Ai.OllamaModel,
			cfg.Ai.EmbeddingDimensions,
		)
		log.Printf("[INFO] Using Embedding Provider: OLLAMA (%s)", cfg.Ai.OllamaModel)
	} else {
		embeddingProvider = embedding.NewHashProvider(cfg.Ai.EmbeddingDimensions)
		log.Printf("[INFO] Using Embedding Provider: HASH (%d dims)", cfg.Ai.EmbeddingDimensions)
	}
	index := vectorindex.New(embeddingProvider)

	// A column sized for another model would reject every insert.
	columnDims, err := database.VectorDimensions(db, model.Knowledge{}.TableName(), "embedding_value")
	if err != nil {
		log.Printf("[WARN] Failed to read embedding column dimensions: %v", err)
	} else if columnDims != 0 && columnDims != embeddingProvider.Dimensions() {
		log.Fatalf("[FATAL] Embedding column holds %d dimensions but EMBEDDING_DIMENSIONS is %d; run cmd/migrate after re-embedding",
			columnDims, embeddingProvider.Dimensions())
	}

	// 4. Context Cache
	var contextCache contract.ContextCacheRepository
	if cfg.App.CacheBackend == "memory" {
		contextCache = memory.NewContextCacheRepository(cfg.Memory.ContextTTL)
		log.Printf("[INFO] Using Context Cache: in-process")
	} else {
		opt, err := redis.ParseURL(cfg.App.RedisURL)
		if err != nil {
			log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
			opt = &redis.Options{
				Addr: cfg.App.RedisURL,
			}
		}
		rdb := redis.NewClient(opt)
		if _, err := rdb.Ping(context.Background()).Result(); err != nil {
			log.Printf("[WARN] Failed to connect to Redis: %v", err)
		}
		c.closers = append(c.closers, func() { _ = rdb.Close() })
		contextCache = implementation.NewContextCacheRepository(rdb, cfg.Memory.CacheNamespace)
		log.Printf("[INFO] Using Context Cache: REDIS")
	}

	// 5. Services
	contextService := service.NewContextService(contextCache, cfg.Memory, sysLogger)
	knowledgeService := service.NewKnowledgeService(uowFactory, index, cfg.Memory, sysLogger)
	memoryService := service.NewMemoryService(contextService, knowledgeService, publisher, cfg.Memory, sysLogger)
	consumerService := service.NewConsumerService(pubSub, memoryService, cfg.Memory.MinKnowledgeConfidence, maintenanceLogger)

	warmCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if loaded, err := knowledgeService.LoadIndex(warmCtx); err != nil {
		log.Printf("[WARN] Failed to warm up knowledge index: %v", err)
	} else {
		log.Printf("[INFO] Knowledge index loaded: %d entries", loaded)
	}

	// 6. External maintenance trigger
	natsSub, err := pktNats.NewSubscriber(cfg.App.NatsURL)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Subscriber: %v", err)
	} else {
		c.natsSub = natsSub
		c.closers = append(c.closers, natsSub.Close)
	}

	// 7. Controllers
	c.MemoryController = controller.NewMemoryController(memoryService)
	c.MemoryService = memoryService
	c.KnowledgeService = knowledgeService
	c.ConsumerService = consumerService

	return c
}

// StartMaintenance subscribes the consumer to the in-process bus and, when NATS is
// reachable, to memory.maintenance.> on the MEMORY stream.
func (c *Container) StartMaintenance(ctx context.Context) error {
	if err := c.ConsumerService.Consume(ctx); err != nil {
		return err
	}
	if c.natsSub == nil {
		return nil
	}
	return c.natsSub.Subscribe(ctx, service.MaintenanceWildcard, maintenanceDurable, c.ConsumerService.Handle)
}

func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	_ = c.sysLog.Sync()
}
