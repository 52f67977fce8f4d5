package textutil

import (
	"regexp"
	"sort"
	"strings"
)

// NoKeywordsSentinel is returned as a one-element list when a transcript is
// empty, too short, or yields no usable tokens.
const NoKeywordsSentinel = "no keywords available"

const (
	maxKeywords        = 10
	minTranscriptChars = 10
	minTokenLength     = 4
)

// tokenSplitPattern matches non-alphanumeric character sequences for tokenization.
var tokenSplitPattern = regexp.MustCompile(`[^a-z0-9]+`)

var stopWords = map[string]struct{}{
	"about": {}, "after": {}, "again": {}, "also": {}, "because": {},
	"been": {}, "before": {}, "being": {}, "between": {}, "both": {},
	"could": {}, "does": {}, "doing": {}, "down": {}, "during": {},
	"each": {}, "from": {}, "further": {}, "gonna": {}, "have": {},
	"having": {}, "here": {}, "into": {}, "just": {}, "like": {},
	"more": {}, "most": {}, "okay": {}, "only": {}, "other": {},
	"over": {}, "really": {}, "right": {}, "same": {}, "some": {},
	"such": {}, "than": {}, "that": {}, "their": {}, "them": {},
	"then": {}, "there": {}, "these": {}, "they": {}, "thing": {},
	"this": {}, "those": {}, "through": {}, "under": {}, "until": {},
	"very": {}, "want": {}, "were": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "while": {}, "will": {}, "with": {},
	"would": {}, "your": {},
}

// ExtractKeywords derives up to ten keywords from a transcript by frequency.
// Tokens are lowercased, punctuation-stripped, stop-word filtered, and tokens
// shorter than four characters are dropped. Ties in frequency are broken
// lexicographically so repeated calls always return the same ordered list.
func ExtractKeywords(transcript string) []string {
	trimmed := strings.TrimSpace(transcript)
	if len(trimmed) < minTranscriptChars {
		return []string{NoKeywordsSentinel}
	}

	counts := make(map[string]int)
	for _, token := range tokenSplitPattern.Split(strings.ToLower(trimmed), -1) {
		if len(token) < minTokenLength {
			continue
		}
		if _, stop := stopWords[token]; stop {
			continue
		}
		counts[token]++
	}
	if len(counts) == 0 {
		return []string{NoKeywordsSentinel}
	}

	keywords := make([]string, 0, len(counts))
	for token := range counts {
		keywords = append(keywords, token)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})

	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	return keywords
}
