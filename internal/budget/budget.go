// Package budget estimates prompt size for the conversation orchestrator and
// trims prior turns so that a request fits the model's input window. Chat
// backends use different tokenizers, so estimation is a character heuristic
// of roughly 4 characters per token, which errs on the side of headroom.
package budget

import (
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// perMessageOverhead approximates the role and framing tokens each
	// chat message costs in most APIs.
	perMessageOverhead = 4

	// DefaultMaxContextTokens is the default input budget in tokens. It fits
	// 8k-context models with room left for the answer.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s. Runes are counted rather than
// bytes so abstracts with accented author names are not over-charged.
func Estimate(s string) int {
	runes := utf8.RuneCountInString(s)
	n := runes / charsPerToken
	if n == 0 && runes > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for msgs,
// summing role, content and a fixed framing overhead for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimHistory drops the oldest messages from history until fixed + history
// fits within maxTokens. fixed holds what must always be sent (system prompt,
// retrieved context, the new question). After trimming, history never starts
// with an assistant message: a reply whose question was dropped is dropped too.
//
// If fixed alone exceeds the budget the returned history is empty; callers
// should warn about that separately.
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	if len(history) == 0 {
		return history
	}

	fixedTokens := EstimateMessages(fixed)
	for len(history) > 0 && fixedTokens+EstimateMessages(history) > maxTokens {
		history = history[1:]
	}
	for len(history) > 0 && history[0].Role == schema.Assistant {
		history = history[1:]
	}
	return history
}

// Exceeds reports whether msgs alone are over maxTokens.
func Exceeds(msgs []*schema.Message, maxTokens int) bool {
	return EstimateMessages(msgs) > maxTokens
}
