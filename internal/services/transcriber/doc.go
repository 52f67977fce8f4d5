// Package transcriber uploads recording media to an OpenAI-compatible
// transcription endpoint and returns the spoken text. Transcription is the
// least reliable step of the processing pipeline, so callers are expected to
// degrade to a placeholder transcript when this service fails rather than
// failing the recording.
package transcriber
