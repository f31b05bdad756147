package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var ab, aa, bb float64
	for i := range a {
		ab += float64(a[i]) * float64(b[i])
		aa += float64(a[i]) * float64(a[i])
		bb += float64(b[i]) * float64(b[i])
	}
	return ab / (math.Sqrt(aa) * math.Sqrt(bb))
}

func TestHashProvider_DeterministicAndNormalized(t *testing.T) {
	ctx := context.Background()
	p := NewHashProvider(128)

	v1, err := p.Generate(ctx, "Use covering indexes for hot queries")
	require.NoError(t, err)
	v2, err := p.Generate(ctx, "Use covering indexes for hot queries")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Len(t, v1, 128)
	assert.Equal(t, 128, p.Dimensions())

	var norm float64
	for _, v := range v1 {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestHashProvider_SharedVocabularyScoresHigher(t *testing.T) {
	ctx := context.Background()
	p := NewHashProvider(768)

	base, err := p.Generate(ctx, "index optimization for sql server")
	require.NoError(t, err)
	related, err := p.Generate(ctx, "sql server index tuning")
	require.NoError(t, err)
	unrelated, err := p.Generate(ctx, "weather forecast tomorrow sunny")
	require.NoError(t, err)

	assert.Greater(t, cosine(base, related), cosine(base, unrelated))
	assert.Greater(t, cosine(base, related), 0.5)
}

func TestHashProvider_EmptyText(t *testing.T) {
	p := NewHashProvider(0)
	assert.Equal(t, defaultHashDimensions, p.Dimensions())

	_, err := p.Generate(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyText)

	// only stop words still yields a usable vector
	v, err := p.Generate(context.Background(), "the and of")
	require.NoError(t, err)
	assert.Len(t, v, defaultHashDimensions)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"sql", "server", "60", "faster"}, Tokenize("SQL-Server is 60% faster!"))
}
