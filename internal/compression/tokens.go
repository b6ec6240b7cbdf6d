package compression

import (
	"unicode/utf8"

	"github.com/fyrsmithlabs/costgate/internal/store"
)

const defaultCharsPerToken = 4

// EstimateTokens approximates the token count of text as characters divided
// by charsPerToken, rounded up. It is a heuristic, not a tokenizer.
func EstimateTokens(text string, charsPerToken int) int {
	if charsPerToken <= 0 {
		charsPerToken = defaultCharsPerToken
	}
	n := utf8.RuneCountInString(text)
	return (n + charsPerToken - 1) / charsPerToken
}

// EstimateMessages sums EstimateTokens over message contents.
func EstimateMessages(msgs []store.Message, charsPerToken int) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m.Content, charsPerToken)
	}
	return total
}

func countUserTurns(msgs []store.Message) int {
	n := 0
	for _, m := range msgs {
		if m.Role == store.RoleUser {
			n++
		}
	}
	return n
}
