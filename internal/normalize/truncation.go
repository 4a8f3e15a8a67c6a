package normalize

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// TruncationResult reports whether a reply looks cut off and why.
type TruncationResult struct {
	Truncated bool
	Reason    string
}

// usageRatioThreshold flags replies whose token usage sits close enough to
// the configured budget that the tail was probably clipped.
const usageRatioThreshold = 0.95

// sentenceEnders are the punctuation marks a complete reply is expected to
// end with, across Latin and CJK text.
var sentenceEnders = []rune{'.', '!', '?', '。', '！', '？'}

// DetectTruncation decides whether content was likely cut off. The rules
// run in order and the first hit wins:
//
//  1. a length/max-token finish reason,
//  2. reported (or, failing that, locally estimated) token usage at or
//     above 95% of the configured budget,
//  3. a long reply whose tail neither ends in sentence punctuation nor in a
//     complete word.
//
// This is a heuristic: false positives and negatives are acceptable, the
// caller only uses it to decide on a bigger-budget retry.
func DetectTruncation(content, finishReason string, usage *Usage, configuredMaxTokens int) TruncationResult {
	switch finishReason {
	case "length", "max_tokens", "MAX_TOKENS":
		return TruncationResult{Truncated: true, Reason: "token limit reached"}
	}

	if configuredMaxTokens > 0 {
		total := 0
		estimated := false
		if usage != nil && usage.TotalTokens > 0 {
			total = usage.TotalTokens
		} else if len(content) > 0 {
			total = EstimateTokens(content)
			estimated = true
		}
		if total > 0 && float64(total) >= usageRatioThreshold*float64(configuredMaxTokens) {
			label := "reported"
			if estimated {
				label = "estimated"
			}
			return TruncationResult{
				Truncated: true,
				Reason:    fmt.Sprintf("%s usage near token limit (%d/%d)", label, total, configuredMaxTokens),
			}
		}
	}

	if len(content) > 100 && hasAbruptEnding(content) {
		return TruncationResult{Truncated: true, Reason: "content appears cut off mid-word"}
	}

	return TruncationResult{}
}

// hasAbruptEnding checks the tail of the content: no sentence-ending
// punctuation in the last stretch, and at least one of the final words
// suspiciously short, reads as a mid-word cutoff.
func hasAbruptEnding(content string) bool {
	tail := content
	if len(tail) > 200 {
		tail = tail[len(tail)-200:]
	}
	tail = strings.TrimRight(tail, " \t\r\n")
	if tail == "" {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(tail)
	for _, r := range sentenceEnders {
		if last == r {
			return false
		}
	}

	words := strings.Fields(strings.TrimSpace(content))
	if len(words) > 3 {
		words = words[len(words)-3:]
	}
	for _, w := range words {
		if utf8.RuneCountInString(w) < 2 {
			return true
		}
	}
	return false
}
