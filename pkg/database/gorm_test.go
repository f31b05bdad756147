package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureVectorDimensionsRejectsNonPositive(t *testing.T) {
	for _, dims := range []int{0, -768} {
		err := EnsureVectorDimensions(nil, "knowledge", "embedding_value", dims)
		assert.Error(t, err)
	}
}

func TestGormConfigDSN(t *testing.T) {
	cfg := GormConfig{Host: "db", Port: "5432", User: "mem", Password: "secret", DBName: "agentmem", SSLMode: "disable"}
	assert.Equal(t, "host=db user=mem password=secret dbname=agentmem port=5432 sslmode=disable", cfg.DSN())
}
