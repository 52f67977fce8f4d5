// Package textutil provides text processing utilities for keyword
// extraction, truncation, and filename sanitization.
//
// Keyword extraction is a pure, deterministic function: the same transcript
// always yields the same ordered keyword list, which keeps the processing
// pipeline testable without fixtures.
package textutil
