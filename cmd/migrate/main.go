package main

import (
	"log"

	"agent-memory-be/internal/config"
	"agent-memory-be/internal/model"
	"agent-memory-be/pkg/database"
)

func main() {
	// 1. Load Environment Variables
	cfg := config.Load()

	if cfg.Database.Connection == "" {
		log.Fatal("Error: DB_CONNECTION_STRING is not set")
	}

	// 2. Connect to Database using existing GORM helpers
	db, err := database.NewGormDBFromDSN(cfg.Database.Connection)
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	log.Println("Starting knowledge schema migration...")

	// 3. Extension + tables
	if err := database.Migrate(db, &model.Knowledge{}); err != nil {
		log.Fatalf("Error: Migration failed: %v", err)
	}

	// 4. Embedding column follows EMBEDDING_DIMENSIONS
	dims := cfg.Ai.EmbeddingDimensions
	if err := database.EnsureVectorDimensions(db, model.Knowledge{}.TableName(), "embedding_value", dims); err != nil {
		log.Fatalf("Error: Failed to size embedding column: %v", err)
	}

	log.Printf("✅ Migration complete: knowledge table is up to date (embedding dimensions: %d)", dims)
}
