package textbudget

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/yanqian/faq-pipeline/pkg/util"
)

// DefaultEncoding matches the OpenAI chat and embedding models.
const DefaultEncoding = "cl100k_base"

type encoder interface {
	Encode(text string, allowedSpecial, disallowedSpecial []string) []int
	Decode(tokens []int) string
}

// TokenBudget cuts text to a token count using a BPE encoding.
type TokenBudget struct {
	enc       encoder
	maxTokens int
}

// NewTokenBudget loads encoding. Loading may fetch the BPE ranks on first
// use, so callers fall back to RuneBudget when it fails.
func NewTokenBudget(maxTokens int, encoding string) (*TokenBudget, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %s: %w", encoding, err)
	}
	return &TokenBudget{enc: enc, maxTokens: maxTokens}, nil
}

// Count returns the number of tokens in text.
func (b *TokenBudget) Count(text string) int {
	return len(b.enc.Encode(text, nil, nil))
}

// Truncate keeps at most maxTokens tokens of text. A non-positive budget
// disables truncation.
func (b *TokenBudget) Truncate(text string) string {
	if b.maxTokens <= 0 || text == "" {
		return text
	}
	tokens := b.enc.Encode(text, nil, nil)
	if len(tokens) <= b.maxTokens {
		return text
	}
	return b.enc.Decode(tokens[:b.maxTokens])
}

// RuneBudget approximates a token budget at four runes per token.
type RuneBudget struct {
	maxTokens int
}

// NewRuneBudget constructs the fallback budget.
func NewRuneBudget(maxTokens int) RuneBudget {
	return RuneBudget{maxTokens: maxTokens}
}

func (b RuneBudget) Truncate(text string) string {
	if b.maxTokens <= 0 {
		return text
	}
	return util.TruncateRunes(text, b.maxTokens*4)
}
