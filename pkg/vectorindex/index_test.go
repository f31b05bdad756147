package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"agent-memory-be/pkg/embedding"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// axisProvider maps a text to a fixed vector looked up by exact text.
type axisProvider struct {
	vectors map[string][]float32
	calls   int
	mu      sync.Mutex
}

func (p *axisProvider) Generate(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, embedding.ErrEmptyText
	}
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if v, ok := p.vectors[text]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("no vector for %q", text)
}

func (p *axisProvider) Dimensions() int { return 3 }

func newAxisIndex() (*Index, *axisProvider) {
	p := &axisProvider{vectors: map[string][]float32{
		"x":  {1, 0, 0},
		"y":  {0, 1, 0},
		"xy": {1, 1, 0},
	}}
	return New(p), p
}

func TestIndex_QueryOrdersByScoreThenInsertion(t *testing.T) {
	ctx := context.Background()
	ix, _ := newAxisIndex()

	_, err := ix.Index(ctx, Document{Id: "a", Domain: "d1", Text: "x"})
	require.NoError(t, err)
	_, err = ix.Index(ctx, Document{Id: "b", Domain: "d1", Text: "xy"})
	require.NoError(t, err)
	_, err = ix.Index(ctx, Document{Id: "c", Domain: "d2", Embedding: []float32{2, 0, 0}})
	require.NoError(t, err)
	_, err = ix.Index(ctx, Document{Id: "d", Domain: "d2", Text: "y"})
	require.NoError(t, err)

	matches, err := ix.Query(ctx, []float32{1, 0, 0}, 10, 0.5, Cosine)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	// a and c are both exact matches: insertion order decides
	assert.Equal(t, "a", matches[0].Id)
	assert.Equal(t, "c", matches[1].Id)
	assert.Equal(t, "b", matches[2].Id)
	assert.InDelta(t, 0.7071, matches[2].Score, 1e-3)
	assert.Equal(t, Cosine, matches[0].Metric)
}

func TestIndex_TopKAndThreshold(t *testing.T) {
	ctx := context.Background()
	ix, _ := newAxisIndex()
	for i, text := range []string{"x", "xy", "y"} {
		_, err := ix.Index(ctx, Document{Id: fmt.Sprintf("k%d", i), Text: text})
		require.NoError(t, err)
	}

	matches, err := ix.Query(ctx, []float32{1, 0, 0}, 1, 0, Cosine)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "k0", matches[0].Id)

	matches, err = ix.Query(ctx, []float32{1, 0, 0}, 10, 0.99, Cosine)
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestIndex_ReplaceKeepsRankAndRemove(t *testing.T) {
	ctx := context.Background()
	ix, _ := newAxisIndex()

	_, err := ix.Index(ctx, Document{Id: "first", Text: "y"})
	require.NoError(t, err)
	_, err = ix.Index(ctx, Document{Id: "second", Text: "x"})
	require.NoError(t, err)
	_, err = ix.Index(ctx, Document{Id: "first", Text: "x"})
	require.NoError(t, err)

	matches, err := ix.Query(ctx, []float32{1, 0, 0}, 0, 0.9, Cosine)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "first", matches[0].Id)

	assert.True(t, ix.Remove("first"))
	assert.False(t, ix.Remove("first"))
	assert.False(t, ix.Contains("first"))

	matches, err = ix.Query(ctx, []float32{1, 0, 0}, 0, 0.9, Cosine)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "second", matches[0].Id)
}

func TestIndex_Metrics(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{1, 2, 3}
	zero := []float32{0, 0, 0}

	assert.InDelta(t, 1.0, Score(Cosine, a, b), 1e-9)
	assert.Equal(t, 0.0, Score(Cosine, a, zero))
	assert.InDelta(t, 14.0, Score(DotProduct, a, b), 1e-9)
	assert.InDelta(t, 1.0, Score(Euclidean, a, b), 1e-9)
	assert.InDelta(t, 1/(1+5.0), Score(Euclidean, []float32{0, 0}, []float32{3, 4}), 1e-9)
}

func TestParseMetric(t *testing.T) {
	tests := []struct {
		in   string
		want Metric
		err  bool
	}{
		{"", Cosine, false},
		{"COSINE", Cosine, false},
		{"dot", DotProduct, false},
		{"euclidean", Euclidean, false},
		{"manhattan", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMetric(tt.in)
			if tt.err {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIndex_InvalidInputAndDimensions(t *testing.T) {
	ctx := context.Background()
	ix, _ := newAxisIndex()

	_, err := ix.Embed(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ix.Index(ctx, Document{Text: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ix.Index(ctx, Document{Id: "a", Text: "x"})
	require.NoError(t, err)
	_, err = ix.Index(ctx, Document{Id: "b", Embedding: []float32{1, 2}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = ix.Query(ctx, []float32{1, 2}, 5, 0, Cosine)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestIndex_RebuildRecomputesFromText(t *testing.T) {
	ctx := context.Background()
	ix, p := newAxisIndex()

	_, err := ix.Index(ctx, Document{Id: "a", Domain: "db", Text: "x", Embedding: []float32{0, 0, 1}})
	require.NoError(t, err)
	_, err = ix.Index(ctx, Document{Id: "b", Domain: "net", Text: "y"})
	require.NoError(t, err)

	matches, err := ix.Query(ctx, []float32{1, 0, 0}, 5, 0.9, Cosine)
	require.NoError(t, err)
	assert.Empty(t, matches)

	require.NoError(t, ix.Rebuild(ctx))
	assert.Equal(t, 3, p.calls)

	matches, err = ix.Query(ctx, []float32{1, 0, 0}, 5, 0.9, Cosine)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].Id)

	stats := ix.Stats()
	assert.Equal(t, Stats{Count: 2, Dimension: 3, Domains: 2}, stats)
}

func TestIndex_SelfSimilarityWithHashProvider(t *testing.T) {
	ctx := context.Background()
	ix := New(embedding.NewHashProvider(256))
	text := "db Index Use covering indexes"

	_, err := ix.Index(ctx, Document{Id: "k1", Domain: "db", Text: text})
	require.NoError(t, err)
	_, err = ix.Index(ctx, Document{Id: "k2", Domain: "net", Text: "net Retry Back off exponentially"})
	require.NoError(t, err)

	q, err := ix.Embed(ctx, text)
	require.NoError(t, err)
	matches, err := ix.Query(ctx, q, 5, 1.0, Cosine)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "k1", matches[0].Id)
}

func TestIndex_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	ix := New(embedding.NewHashProvider(64))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := fmt.Sprintf("w%d-%d", i, j)
				_, err := ix.Index(ctx, Document{Id: id, Text: "text " + id})
				assert.NoError(t, err)
				q, _ := ix.Embed(ctx, "text "+id)
				_, err = ix.Query(ctx, q, 3, 0, Cosine)
				assert.NoError(t, err)
				if j%2 == 0 {
					ix.Remove(id)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8*25, ix.Stats().Count)
}

func TestIndex_ProviderErrors(t *testing.T) {
	ctx := context.Background()
	unavailable := errors.New("model unavailable")
	ix := New(embedding.EmbeddingProviderFunc{
		Dims: 3,
		Fn: func(ctx context.Context, text string) ([]float32, error) {
			if text == "down" {
				return nil, unavailable
			}
			return []float32{1, 0, 0}, nil
		},
	})

	_, err := ix.Index(ctx, Document{Id: "a", Text: "down"})
	require.ErrorIs(t, err, unavailable)
	assert.NotErrorIs(t, err, ErrInvalidInput)

	vec, err := ix.Index(ctx, Document{Id: "b", Text: "up"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, vec)
	assert.Equal(t, 3, ix.ProviderDimensions())
	assert.Equal(t, 1, ix.Stats().Count)
}
