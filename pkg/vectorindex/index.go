// Package vectorindex is an in-memory nearest-neighbour index over (id, vector) pairs.
//
// A single RWMutex guards the entry map: queries share the read lock, every mutation
// (Index, Remove, Rebuild) takes the write lock, so a write is visible to the next read.
// Queries are a linear scan.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"agent-memory-be/pkg/embedding"
)

var (
	ErrInvalidInput      = errors.New("vectorindex: invalid input")
	ErrDimensionMismatch = errors.New("vectorindex: dimension mismatch")
)

// scoreTolerance absorbs float rounding so an exact match still clears threshold 1.0.
const scoreTolerance = 1e-6

// Document is what the index needs to know about a knowledge row.
type Document struct {
	Id        string
	Domain    string
	Text      string
	Embedding []float32
}

type Match struct {
	Id     string
	Score  float64
	Metric Metric
}

type Stats struct {
	Count     int
	Dimension int
	Domains   int
}

type entry struct {
	id     string
	domain string
	text   string
	vector []float32
	seq    uint64
}

type Index struct {
	provider embedding.EmbeddingProvider

	mu        sync.RWMutex
	entries   map[string]*entry
	nextSeq   uint64
	dimension int
}

func New(provider embedding.EmbeddingProvider) *Index {
	return &Index{
		provider: provider,
		entries:  make(map[string]*entry),
	}
}

// Embed converts text with the configured provider.
func (ix *Index) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrInvalidInput)
	}
	vec, err := ix.provider.Generate(ctx, text)
	if err != nil {
		if errors.Is(err, embedding.ErrEmptyText) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("embed: %w", err)
	}
	return vec, nil
}

// Index inserts or replaces doc. The vector comes from doc.Embedding when present,
// otherwise it is computed from doc.Text. A replaced entry keeps its insertion rank.
func (ix *Index) Index(ctx context.Context, doc Document) ([]float32, error) {
	if doc.Id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidInput)
	}

	vec := doc.Embedding
	if len(vec) == 0 {
		var err error
		if vec, err = ix.Embed(ctx, doc.Text); err != nil {
			return nil, err
		}
	}
	vec = append([]float32(nil), vec...)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.dimension != 0 && len(vec) != ix.dimension {
		return nil, fmt.Errorf("%w: got %d, index holds %d", ErrDimensionMismatch, len(vec), ix.dimension)
	}
	if ix.dimension == 0 {
		ix.dimension = len(vec)
	}

	if e, ok := ix.entries[doc.Id]; ok {
		e.domain = doc.Domain
		e.text = doc.Text
		e.vector = vec
		return vec, nil
	}

	ix.entries[doc.Id] = &entry{
		id:     doc.Id,
		domain: doc.Domain,
		text:   doc.Text,
		vector: vec,
		seq:    ix.nextSeq,
	}
	ix.nextSeq++
	return vec, nil
}

// Query returns up to topK entries scoring at or above threshold, best first.
// topK <= 0 means no limit.
func (ix *Index) Query(ctx context.Context, vector []float32, topK int, threshold float64, metric Metric) ([]Match, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.entries) == 0 {
		return nil, nil
	}
	if len(vector) != ix.dimension {
		return nil, fmt.Errorf("%w: query has %d, index holds %d", ErrDimensionMismatch, len(vector), ix.dimension)
	}

	type scored struct {
		match Match
		seq   uint64
	}
	hits := make([]scored, 0, len(ix.entries))
	for _, e := range ix.entries {
		s := Score(metric, vector, e.vector)
		if s+scoreTolerance < threshold {
			continue
		}
		hits = append(hits, scored{match: Match{Id: e.id, Score: s, Metric: metric}, seq: e.seq})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].match.Score != hits[j].match.Score {
			return hits[i].match.Score > hits[j].match.Score
		}
		return hits[i].seq < hits[j].seq
	})

	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	out := make([]Match, len(hits))
	for i, h := range hits {
		out[i] = h.match
	}
	return out, nil
}

// Remove drops id from the index and reports whether it was present.
func (ix *Index) Remove(id string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.entries[id]; !ok {
		return false
	}
	delete(ix.entries, id)
	if len(ix.entries) == 0 {
		ix.dimension = 0
	}
	return true
}

// Rebuild recomputes every vector from its source text, e.g. after the provider
// changed. Either every entry is replaced or, on error, none is.
func (ix *Index) Rebuild(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	fresh := make(map[string][]float32, len(ix.entries))
	dimension := 0
	for id, e := range ix.entries {
		vec, err := ix.Embed(ctx, e.text)
		if err != nil {
			return fmt.Errorf("rebuild %s: %w", id, err)
		}
		if dimension != 0 && len(vec) != dimension {
			return fmt.Errorf("rebuild %s: %w", id, ErrDimensionMismatch)
		}
		dimension = len(vec)
		fresh[id] = vec
	}

	for id, vec := range fresh {
		ix.entries[id].vector = vec
	}
	ix.dimension = dimension
	return nil
}

func (ix *Index) Contains(id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.entries[id]
	return ok
}

func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	domains := make(map[string]struct{})
	for _, e := range ix.entries {
		domains[e.domain] = struct{}{}
	}
	return Stats{
		Count:     len(ix.entries),
		Dimension: ix.dimension,
		Domains:   len(domains),
	}
}

// Vector returns a copy of the stored vector for id.
func (ix *Index) Vector(id string) ([]float32, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.entries[id]
	if !ok {
		return nil, false
	}
	return append([]float32(nil), e.vector...), true
}

// ProviderDimensions is the vector length the configured provider produces.
func (ix *Index) ProviderDimensions() int {
	return ix.provider.Dimensions()
}
