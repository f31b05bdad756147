package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const defaultHashDimensions = 768

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {},
	"that": {}, "the": {}, "to": {}, "was": {}, "were": {}, "with": {},
}

// HashProvider is the offline placeholder embedder. Each token is hashed into one of
// Dimensions buckets with a hash-derived sign (feature hashing), weighted by 1+ln(tf)
// and L2-normalized, so texts sharing vocabulary score a high cosine similarity.
type HashProvider struct {
	dimensions int
}

func NewHashProvider(dimensions int) EmbeddingProvider {
	if dimensions <= 0 {
		dimensions = defaultHashDimensions
	}
	return &HashProvider{dimensions: dimensions}
}

func (p *HashProvider) Generate(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, tok := range Tokenize(text) {
		counts[tok]++
	}
	if len(counts) == 0 {
		counts[strings.ToLower(strings.TrimSpace(text))] = 1
	}

	vec := make([]float32, p.dimensions)
	for tok, n := range counts {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()

		idx := int(sum % uint64(p.dimensions))
		weight := float32(1 + math.Log(float64(n)))
		if sum&(1<<63) != 0 {
			weight = -weight
		}
		vec[idx] += weight
	}

	return normalizeVector(vec), nil
}

func (p *HashProvider) Dimensions() int {
	return p.dimensions
}

// Tokenize lower-cases text, splits on anything that is not a letter or digit and
// drops stop words.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, skip := stopWords[f]; skip {
			continue
		}
		out = append(out, f)
	}
	return out
}
