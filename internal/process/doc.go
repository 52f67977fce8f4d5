// Package process turns an uploaded recording into transcript, summary,
// title, and keywords. The pipeline degrades rather than fails when the
// transcription service is unavailable: a placeholder transcript is stored
// and the recording still completes. Summarization failures, by contrast,
// fail the recording so the worker can retry it.
package process
