// Package ingest runs the server side of the recording transport. It accepts
// WebSocket connections from recording clients, appends streamed segments to
// staging files in arrival order, reserves processing jobs in the store, and
// pushes terminal processing signals back to whichever connection is watching
// a given recording. Status queries let a reconnecting client recover signals
// it missed during an outage.
package ingest
