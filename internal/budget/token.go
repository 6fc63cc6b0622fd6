package budget

// TokenCounter estimates token counts for text.
type TokenCounter struct{}

// NewTokenCounter creates a new TokenCounter.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

// EstimateText estimates the token count for a given text.
// Uses a simple heuristic of approximately 3 characters per token, which
// works reasonably well for mixed natural-language and JSON content.
func (tc *TokenCounter) EstimateText(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 2) / 3
}

// EstimateSources estimates the total token count for a set of sources,
// including a small per-source framing overhead.
func (tc *TokenCounter) EstimateSources(sources []Source) int {
	total := 0
	for _, s := range sources {
		total += tc.EstimateText(s.Content) + 4
	}
	return total
}
