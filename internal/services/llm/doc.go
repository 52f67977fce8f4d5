// Package llm wraps the OpenRouter chat completion API for recording
// summarization. Two completion styles are exposed: a JSON-constrained pass
// that produces structured title and summary metadata, and a prose pass used
// for the longer educational summary. Responses from JSON-mode models are
// frequently wrapped in code fences or prefixed with commentary, so decoding
// tolerates those quirks rather than failing the recording.
package llm
