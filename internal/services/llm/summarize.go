package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Transcripts beyond this are truncated before prompting. Long recordings
// still summarize well from their opening span, and oversized prompts are a
// common cause of provider-side failures.
const maxPromptTranscriptChars = 48000

// metadataPrompt drives the structured pass. The model must return JSON only.
const metadataPrompt = `You are an assistant that writes metadata for recorded educational videos.
Given a transcript, respond with a JSON object of exactly this shape:
{"title": "...", "summary": "..."}
The title must be a short, specific name for the recording (at most 80 characters, no quotes or trailing punctuation).
The summary must be one or two sentences describing what the recording covers.
Respond with JSON only. No code fences, no commentary.`

// educationalPrompt drives the prose pass.
const educationalPrompt = `You are an assistant that writes study notes for recorded educational videos.
Given a transcript, write a clear educational summary a student could review instead of rewatching the video.
Cover the main topics in the order they appear, keep it factual, and write plain prose paragraphs.
Do not include headings, bullet lists, or any preamble such as "This video covers".`

// Metadata is the structured result of the JSON summarization pass.
type Metadata struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Raw     string `json:"-"`
}

// SummarizeTranscript runs the JSON-constrained pass and returns the parsed
// title and short summary.
func (c *Client) SummarizeTranscript(ctx context.Context, transcript string) (Metadata, error) {
	var empty Metadata
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return empty, errors.New("llm summarize: transcript required")
	}
	content, err := c.CompleteJSON(ctx, metadataPrompt, clampTranscript(transcript))
	if err != nil {
		return empty, err
	}
	var parsed Metadata
	if err := DecodeLLMJSON(content, &parsed); err != nil {
		return empty, fmt.Errorf("llm summarize: parse payload: %w", err)
	}
	parsed.Raw = content
	parsed.Title = strings.TrimSpace(parsed.Title)
	parsed.Summary = strings.TrimSpace(parsed.Summary)
	if parsed.Title == "" && parsed.Summary == "" {
		return empty, errors.New("llm summarize: payload missing title and summary")
	}
	return parsed, nil
}

// EducationalSummary runs the prose pass and returns the long-form summary.
func (c *Client) EducationalSummary(ctx context.Context, transcript string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", errors.New("llm educational summary: transcript required")
	}
	content, err := c.CompleteText(ctx, educationalPrompt, clampTranscript(transcript))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

func clampTranscript(transcript string) string {
	runes := []rune(transcript)
	if len(runes) <= maxPromptTranscriptChars {
		return transcript
	}
	return string(runes[:maxPromptTranscriptChars])
}
