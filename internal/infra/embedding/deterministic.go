package embedding

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/yanqian/faq-pipeline/internal/domain/faq"
)

// DeterministicEmbedder avoids network calls by hashing words into a
// fixed number of signed buckets. Texts sharing most words land close
// together, which keeps clustering meaningful in development.
type DeterministicEmbedder struct {
	dim int
}

// NewDeterministicEmbedder constructs the embedder.
func NewDeterministicEmbedder(dim int) *DeterministicEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &DeterministicEmbedder{dim: dim}
}

func (e *DeterministicEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return nil, errors.New("cannot embed text without words")
	}
	vector := make([]float64, e.dim)
	for _, word := range words {
		hash := fnv.New64a()
		_, _ = hash.Write([]byte(word))
		sum := hash.Sum64()
		bucket := int(sum % uint64(e.dim))
		if sum&(1<<63) != 0 {
			vector[bucket]--
		} else {
			vector[bucket]++
		}
	}
	var norm float64
	for _, v := range vector {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, e.dim)
	if norm == 0 {
		// Every word cancelled out; keep a stable non-zero direction.
		out[0] = 1
		return out, nil
	}
	for i, v := range vector {
		out[i] = float32(v / norm)
	}
	return out, nil
}

var _ faq.Embedder = (*DeterministicEmbedder)(nil)
