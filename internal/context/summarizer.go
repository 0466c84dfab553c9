package context

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"gamepilot/internal/config"
	"gamepilot/internal/llm"
	"gamepilot/internal/logging"
)

// =============================================================================
// THREAD SUMMARIZER
// =============================================================================

// SummaryResult is a digest of a run of entries.
type SummaryResult struct {
	Summary          string
	OriginalTokens   int
	CompressedTokens int
	EntriesProcessed int
}

var (
	numberPattern = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	quotePattern  = regexp.MustCompile(`"([^"]+)"|「([^」]+)」|『([^』]+)』`)
)

const tailExcerptRunes = 80

// ThreadSummarizer builds bounded digests of old turns.
type ThreadSummarizer struct {
	cfg     config.SummarizerConfig
	counter *TokenCounter
}

// NewThreadSummarizer creates a summarizer. counter may be nil.
func NewThreadSummarizer(cfg config.SummarizerConfig, counter *TokenCounter) *ThreadSummarizer {
	if counter == nil {
		counter = defaultCounter
	}
	return &ThreadSummarizer{cfg: cfg, counter: counter}
}

// Summarize extracts action keywords, numbers and quoted names from every
// entry, deduplicates them, caps them at MaxKeyPoints and joins them into a
// digest no longer than MaxSummaryLength runes. With no key points it falls
// back to the entry count and an excerpt of the last entry.
func (s *ThreadSummarizer) Summarize(entries []Entry) SummaryResult {
	res := SummaryResult{
		OriginalTokens:   s.counter.CountEntries(entries),
		EntriesProcessed: len(entries),
	}
	if len(entries) == 0 {
		return res
	}

	points := s.keyPoints(entries)
	if len(points) > 0 {
		res.Summary = "Key points: " + strings.Join(points, ", ")
	} else {
		last := entries[len(entries)-1].Content
		res.Summary = fmt.Sprintf("%d entries. Latest: %s", len(entries), tail(last, tailExcerptRunes))
	}
	res.Summary = truncate(res.Summary, s.cfg.MaxSummaryLength)
	res.CompressedTokens = s.counter.Count(res.Summary)

	logging.ContextDebug("rule summary: %d entries, %d key points, %d -> %d tokens",
		len(entries), len(points), res.OriginalTokens, res.CompressedTokens)
	return res
}

// SummarizeWithLLM asks client for the digest and falls back to Summarize on
// any failure. A nil client goes straight to the rule-based path.
func (s *ThreadSummarizer) SummarizeWithLLM(ctx context.Context, client llm.Client, model string, entries []Entry) SummaryResult {
	if client == nil || len(entries) == 0 {
		return s.Summarize(entries)
	}
	text, err := s.llmSummary(ctx, client, model, entries)
	if err != nil {
		logging.ContextWarn("LLM summarization failed, using rules: %v", err)
		return s.Summarize(entries)
	}
	return SummaryResult{
		Summary:          text,
		OriginalTokens:   s.counter.CountEntries(entries),
		CompressedTokens: s.counter.Count(text),
		EntriesProcessed: len(entries),
	}
}

// NeedsSummarization reports whether entries sum to at least threshold
// tokens. Empty input never needs it.
func (s *ThreadSummarizer) NeedsSummarization(entries []Entry, threshold int) bool {
	if len(entries) == 0 {
		return false
	}
	return s.counter.CountEntries(entries) >= threshold
}

func (s *ThreadSummarizer) llmSummary(ctx context.Context, client llm.Client, model string, entries []Entry) (string, error) {
	var sb strings.Builder
	sb.WriteString("Summarize these card game turns concisely (max 100 words). Keep:\n")
	sb.WriteString("- actions taken and their targets\n")
	sb.WriteString("- life, cost and BP numbers that still matter\n\n")
	for _, e := range entries {
		sb.WriteString(fmt.Sprintf("[%s] %s\n", e.Role, e.Content))
	}
	sb.WriteString("\nSummary:")

	resp, err := client.Send(ctx, "You compress game logs for a card game assistant.", sb.String(), llm.Options{
		Model:       model,
		MaxTokens:   256,
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("summary request: %w", err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", llm.ErrEmptyResponse
	}
	return truncate(text, s.cfg.MaxSummaryLength), nil
}

func (s *ThreadSummarizer) keyPoints(entries []Entry) []string {
	limit := s.cfg.MaxKeyPoints
	if limit <= 0 {
		return nil
	}

	seen := make(map[string]bool)
	var points []string
	add := func(p string) bool {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			return len(points) < limit
		}
		seen[p] = true
		points = append(points, p)
		return len(points) < limit
	}

	for _, e := range entries {
		lower := strings.ToLower(e.Content)
		for _, kw := range s.cfg.ActionKeywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				if !add(kw) {
					return points
				}
			}
		}
		for _, n := range numberPattern.FindAllString(e.Content, -1) {
			if !add(n) {
				return points
			}
		}
		for _, m := range quotePattern.FindAllStringSubmatch(e.Content, -1) {
			for _, g := range m[1:] {
				if g != "" {
					if !add(g) {
						return points
					}
				}
			}
		}
	}
	return points
}

func truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	r := []rune(s)
	if maxRunes <= 3 {
		return string(r[:maxRunes])
	}
	return string(r[:maxRunes-3]) + "..."
}

func tail(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return "..." + string(r[len(r)-n:])
}
