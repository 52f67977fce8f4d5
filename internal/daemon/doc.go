// Package daemon coordinates the long-running caster process.
//
// It wires configuration, the recordings store, the ingest websocket server,
// and the processing worker into a single lifecycle with flock-based locking
// to prevent multiple instances. The daemon exposes queue maintenance helpers
// used by the IPC layer and owns the notification hooks fired when uploads
// arrive and when processing finishes.
//
// Keep orchestration logic here: pipeline stages live in their own packages
// while the daemon focuses on startup, shutdown, and coordination.
package daemon
