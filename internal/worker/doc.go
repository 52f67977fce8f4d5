// Package worker drains the recordings queue. A single manager goroutine
// claims pending recordings oldest-first and runs each through the processing
// pipeline while a companion goroutine heartbeats the row. Recordings whose
// heartbeats go stale (a crashed worker) are reclaimed back to pending, and
// failed recordings are retried with exponential backoff up to the configured
// attempt limit before the failure becomes terminal.
package worker
