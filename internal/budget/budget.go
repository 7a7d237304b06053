// Package budget provides token budget estimation for prompts sent to the
// generation backend. Because several LLM backends with different tokenizers
// are supported, this package uses a conservative character-based heuristic:
// 1 token ≈ 4 characters (English prose and code).
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// It fits within 8k-context models (Llama 3 8B, GPT-3.5) while leaving
	// room for the output.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// Each message has a small per-message overhead (~4 tokens in most APIs).
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// FitBlocks returns how many leading context blocks fit in maxTokens once
// the fixed prompt text is accounted for. Blocks are expected in priority
// order, so the least relevant ones are dropped first. At least one block is
// always kept when any are given, even if it alone exceeds the budget.
// A non-positive maxTokens disables the limit.
func FitBlocks(fixed string, blocks []string, maxTokens int) int {
	if len(blocks) == 0 {
		return 0
	}
	if maxTokens <= 0 {
		return len(blocks)
	}

	used := Estimate(fixed)
	for i, b := range blocks {
		used += Estimate(b)
		if used > maxTokens {
			return max(i, 1)
		}
	}
	return len(blocks)
}
