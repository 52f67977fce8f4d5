package textutil

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const maxDerivedTitleWords = 8

var titleCaser = cases.Title(language.English)

// DeriveTitle builds a fallback recording title from the opening words of a
// transcript. When the transcript has no usable words (placeholder or
// empty), the recording date is used instead.
func DeriveTitle(transcript string, recordedAt time.Time) string {
	if IsTranscriptPlaceholder(transcript) {
		return "Recording " + recordedAt.Format("2006-01-02 15:04")
	}
	words := strings.Fields(strings.TrimSpace(transcript))
	if len(words) > maxDerivedTitleWords {
		words = words[:maxDerivedTitleWords]
	}
	candidate := strings.Join(words, " ")
	candidate = strings.Trim(candidate, ".,;:!?")
	if candidate == "" {
		return "Recording " + recordedAt.Format("2006-01-02 15:04")
	}
	return titleCaser.String(strings.ToLower(candidate))
}

// NoTranscriptPlaceholder is stored when transcription is unavailable and
// processing degrades instead of failing the recording. The failure reason
// is appended after a colon.
const NoTranscriptPlaceholder = "Transcript unavailable for this recording"

// IsTranscriptPlaceholder reports whether text is the stored stand-in for a
// missing transcript, with or without an appended failure reason.
func IsTranscriptPlaceholder(text string) bool {
	trimmed := strings.TrimSpace(text)
	return len(trimmed) >= len(NoTranscriptPlaceholder) &&
		strings.EqualFold(trimmed[:len(NoTranscriptPlaceholder)], NoTranscriptPlaceholder)
}
