package gateway

// EstimateTokens approximates a token count as one token per four
// characters. Used only when the backend does not report real usage; callers
// must flag the result as estimated.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
