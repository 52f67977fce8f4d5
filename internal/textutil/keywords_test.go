package textutil

import (
	"reflect"
	"strings"
	"testing"
)

func TestExtractKeywordsSentinelForEmptyInput(t *testing.T) {
	for _, input := range []string{"", "   ", "hi ok", "hi ok it at"} {
		got := ExtractKeywords(input)
		if len(got) != 1 || got[0] != NoKeywordsSentinel {
			t.Errorf("ExtractKeywords(%q) = %v, want sentinel", input, got)
		}
	}
}

func TestExtractKeywordsFromPlaceholderText(t *testing.T) {
	got := ExtractKeywords(NoTranscriptPlaceholder + ": transcriber offline")
	want := []string{"offline", "recording", "transcriber", "transcript", "unavailable"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractKeywords = %v, want placeholder tokens %v", got, want)
	}
}

func TestExtractKeywordsSentinelWhenOnlyStopWords(t *testing.T) {
	got := ExtractKeywords("that this those they were with would about")
	if len(got) != 1 || got[0] != NoKeywordsSentinel {
		t.Fatalf("expected sentinel for stop-word-only transcript, got %v", got)
	}
}

func TestExtractKeywordsDeterministic(t *testing.T) {
	transcript := "Today we cover goroutines. Goroutines are lightweight threads. " +
		"Channels coordinate goroutines, and channels compose with select."
	first := ExtractKeywords(transcript)
	for i := 0; i < 10; i++ {
		if got := ExtractKeywords(transcript); !reflect.DeepEqual(got, first) {
			t.Fatalf("non-deterministic extraction: %v vs %v", got, first)
		}
	}
	if first[0] != "goroutines" {
		t.Fatalf("expected most frequent token first, got %v", first)
	}
}

func TestExtractKeywordsOrdersByFrequencyThenLexically(t *testing.T) {
	got := ExtractKeywords("zebra zebra apple apple mango")
	want := []string{"apple", "zebra", "mango"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractKeywords = %v, want %v", got, want)
	}
}

func TestExtractKeywordsCapsAtTen(t *testing.T) {
	words := []string{
		"alpha", "bravo", "charlie", "delta", "echo", "foxtrot",
		"golf", "hotel", "india", "juliett", "kilo", "lima",
	}
	got := ExtractKeywords(strings.Join(words, " "))
	if len(got) != 10 {
		t.Fatalf("expected 10 keywords, got %d: %v", len(got), got)
	}
}

func TestExtractKeywordsDropsShortTokensAndPunctuation(t *testing.T) {
	got := ExtractKeywords("Go, go; GO! run runner runner.")
	for _, kw := range got {
		if len(kw) < 4 {
			t.Fatalf("short token %q leaked into keywords %v", kw, got)
		}
	}
	if got[0] != "runner" {
		t.Fatalf("expected runner first, got %v", got)
	}
}

func TestSanitizeFileName(t *testing.T) {
	if got := SanitizeFileName(`lesson: intro/part*one?`); got != "lesson- intro-part-one" {
		t.Fatalf("SanitizeFileName = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello world", 5); got != "hello..." {
		t.Fatalf("Truncate = %q", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("Truncate unmodified = %q", got)
	}
}
