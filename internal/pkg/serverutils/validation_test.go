package serverutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type sample struct {
	Name       string  `validate:"required"`
	Confidence float64 `validate:"gte=0,lte=1"`
}

func TestValidateStruct(t *testing.T) {
	assert.NoError(t, ValidateStruct(sample{Name: "n", Confidence: 0.5}))

	err := ValidateStruct(sample{Confidence: 1.5})
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "Name is required")
		assert.Contains(t, err.Error(), "Confidence must satisfy lte=1")
	}
}
