package database

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type GormConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c GormConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode)
}

func getLogger() logger.Interface {
	level := logger.Warn
	if os.Getenv("DB_LOG_SQL") == "true" {
		level = logger.Info
	}
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold:             200 * time.Millisecond, // Slow SQL threshold
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true, // FindOne treats not-found as (nil, nil)
			ParameterizedQueries:      true, // Don't include params in the SQL log
			Colorful:                  false,
		},
	)
}

func configureConnectionPool(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return nil
}

func NewGormDB(cfg GormConfig) (*gorm.DB, error) {
	return NewGormDBFromDSN(cfg.DSN())
}

func NewGormDBFromDSN(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database connection string is empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: getLogger(),
	})
	if err != nil {
		return nil, err
	}

	if err := configureConnectionPool(db); err != nil {
		return nil, err
	}

	return db, nil
}

// EnsureVectorExtension installs pgvector. Needs a role allowed to create extensions.
func EnsureVectorExtension(db *gorm.DB) error {
	return db.Exec(`CREATE EXTENSION IF NOT EXISTS vector;`).Error
}

// Migrate installs pgvector and auto-migrates the given models.
func Migrate(db *gorm.DB, models ...interface{}) error {
	if err := EnsureVectorExtension(db); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// VectorDimensions reports the declared dimension of a pgvector column, 0 when the
// column is unconstrained.
func VectorDimensions(db *gorm.DB, table, column string) (int, error) {
	var typmods []int
	err := db.Raw(
		`SELECT atttypmod FROM pg_attribute WHERE attrelid = ?::regclass AND attname = ? AND NOT attisdropped`,
		table, column,
	).Scan(&typmods).Error
	if err != nil {
		return 0, err
	}
	if len(typmods) == 0 {
		return 0, fmt.Errorf("column %s.%s does not exist", table, column)
	}
	if typmods[0] < 0 {
		return 0, nil
	}
	return typmods[0], nil
}

// EnsureVectorDimensions pins a pgvector column to dims. Fails while rows with a
// different length exist; re-embed them first.
func EnsureVectorDimensions(db *gorm.DB, table, column string, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("vector dimensions must be positive, got %d", dims)
	}

	current, err := VectorDimensions(db, table, column)
	if err != nil {
		return err
	}
	if current == dims {
		return nil
	}

	stmt := fmt.Sprintf("ALTER TABLE ? ALTER COLUMN ? TYPE vector(%d)", dims)
	if err := db.Exec(stmt, clause.Table{Name: table}, clause.Column{Name: column}).Error; err != nil {
		return fmt.Errorf("resize %s.%s from %d to %d dimensions: %w", table, column, current, dims, err)
	}
	return nil
}
