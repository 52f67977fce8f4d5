// Package logs reads the daemon log file for CLI tailing.
//
// Tail supports reading the last N lines, resuming from a byte offset, and a
// bounded follow mode that waits for new lines. Offsets always land on line
// boundaries so repeated calls never split entries.
package logs
