package agent

import (
	"log"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
)

// TokenBudget caps the size of free text carried between rounds (hints and
// reflections) so prompts stay bounded however verbose the model gets.
type TokenBudget struct {
	codec tokenizer.Codec
	limit int
}

// NewTokenBudget uses the GPT-4 encoding for every model. A non-positive
// limit disables truncation.
func NewTokenBudget(limit int) *TokenBudget {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		log.Printf("Failed to load tokenizer, falling back to estimates: %v", err)
		codec = nil
	}
	return &TokenBudget{codec: codec, limit: limit}
}

// Count returns the number of tokens in text.
func (b *TokenBudget) Count(text string) int {
	if b.codec == nil {
		return len(text) / 4
	}
	n, err := b.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// Truncate cuts text to the budget on a token boundary.
func (b *TokenBudget) Truncate(text string) string {
	if b == nil || b.limit <= 0 || text == "" {
		return text
	}
	if b.codec == nil {
		if len(text)/4 <= b.limit {
			return text
		}
		cut := b.limit * 4
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		return text[:cut] + "..."
	}
	ids, _, err := b.codec.Encode(text)
	if err != nil || len(ids) <= b.limit {
		return text
	}
	out, err := b.codec.Decode(ids[:b.limit])
	if err != nil {
		return text
	}
	return out + "..."
}
