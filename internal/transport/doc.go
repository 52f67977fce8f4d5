// Package transport implements the persistent duplex channel between a
// capture client and the ingest daemon.
//
// The channel outlives the UI that opened it: while a processing request is
// outstanding (needsProcessing), disconnect calls are refused and unexpected
// drops trigger automatic reconnection with identity re-announcement. Losing
// the channel during that window would lose the user's recording, so the
// guard is the component's central invariant.
//
// The wire protocol is a JSON message envelope over WebSocket; segment
// payloads ride in the envelope's data field. Ordering is preserved by
// sending all segments over the single ordered connection in emission order.
package transport
