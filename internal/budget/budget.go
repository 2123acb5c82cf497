// Package budget estimates token counts and fits retrieved context into a
// model's input window. Because answers can come from several backends with
// different tokenizers, it uses a conservative character heuristic:
// 1 token ≈ 4 characters.
package budget

import (
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default token budget for retrieved
	// context. It fits 8k-context models with room for the prompt template,
	// the question and the answer.
	DefaultMaxContextTokens = 3000

	// separatorTokens is the cost charged for the blank line between chunks.
	separatorTokens = 1
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

// FitChunks keeps the longest prefix of chunks (best-ranked first) whose
// estimated size fits maxTokens, dropping from the lowest-ranked end. When
// not even the first chunk fits, it is cut to the budget so the model still
// sees the best match. maxTokens <= 0 returns nil.
func FitChunks(chunks []string, maxTokens int) []string {
	if maxTokens <= 0 || len(chunks) == 0 {
		return nil
	}

	used := 0
	for i, c := range chunks {
		cost := Estimate(c)
		if i > 0 {
			cost += separatorTokens
		}
		if used+cost > maxTokens {
			if i == 0 {
				return []string{truncate(c, maxTokens*charsPerToken)}
			}
			return chunks[:i]
		}
		used += cost
	}
	return chunks
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
