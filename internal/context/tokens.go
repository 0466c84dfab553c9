// Package context keeps the token-budgeted conversation log used to build
// decision prompts, with priority/generation compaction and rule-based or
// LLM-assisted summarization of old turns.
package context

import (
	"math"
	"unicode"

	"gamepilot/internal/config"
)

// =============================================================================
// Token Counting Utilities
// =============================================================================
// Estimates are calibrated for Claude-style tokenizers: roughly four
// characters per token for Latin text and far fewer for CJK scripts.

// TokenCounter estimates token counts for mixed-script text.
type TokenCounter struct {
	denseCharsPerToken float64
	charsPerToken      float64
}

// NewTokenCounter creates a counter from the window's divisors. Non-positive
// divisors fall back to the defaults.
func NewTokenCounter(cfg config.ContextWindowConfig) *TokenCounter {
	def := config.DefaultContextWindowConfig()
	tc := &TokenCounter{
		denseCharsPerToken: cfg.DenseCharsPerToken,
		charsPerToken:      cfg.CharsPerToken,
	}
	if tc.denseCharsPerToken <= 0 {
		tc.denseCharsPerToken = def.DenseCharsPerToken
	}
	if tc.charsPerToken <= 0 {
		tc.charsPerToken = def.CharsPerToken
	}
	return tc
}

var defaultCounter = NewTokenCounter(config.DefaultContextWindowConfig())

// EstimateTokens estimates tokens with the default divisors.
func EstimateTokens(text string) int {
	return defaultCounter.Count(text)
}

// Count splits text into runs of dense-script and other characters, divides
// each run by its divisor, ceils it and sums the runs.
func (tc *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}

	total := 0
	runLen := 0
	runDense := false
	flush := func() {
		if runLen == 0 {
			return
		}
		div := tc.charsPerToken
		if runDense {
			div = tc.denseCharsPerToken
		}
		total += int(math.Ceil(float64(runLen) / div))
		runLen = 0
	}

	for _, r := range text {
		dense := isDense(r)
		if runLen > 0 && dense != runDense {
			flush()
		}
		runDense = dense
		runLen++
	}
	flush()
	return total
}

// CountEntries sums the cached token counts.
func (tc *TokenCounter) CountEntries(entries []Entry) int {
	total := 0
	for _, e := range entries {
		total += e.TokenCount
	}
	return total
}

func isDense(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}
