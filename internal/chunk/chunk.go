// Package chunk splits string lists into pieces that fit an estimated token
// ceiling, without invoking a real tokenizer.
package chunk

const (
	// charsPerToken is the cheap length-to-token proxy (≈4 chars per token
	// for English text).
	charsPerToken = 4
	// itemOverhead accounts for per-item formatting tokens (separators,
	// list markers, quotes).
	itemOverhead = 4
)

// EstimateTokens returns the estimated token cost of a single item.
func EstimateTokens(s string) int {
	return (len(s)+charsPerToken-1)/charsPerToken + itemOverhead
}

// ByBudget packs items into chunks whose estimated cost stays within
// maxTokens. Every input item lands in exactly one chunk, order is preserved,
// and no empty chunk is emitted. An item whose own cost exceeds the budget is
// placed alone in an oversized chunk rather than dropped.
func ByBudget(items []string, maxTokens int) [][]string {
	var chunks [][]string
	var current []string
	used := 0

	for _, item := range items {
		cost := EstimateTokens(item)
		if len(current) > 0 && used+cost > maxTokens {
			chunks = append(chunks, current)
			current = nil
			used = 0
		}
		current = append(current, item)
		used += cost
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}
