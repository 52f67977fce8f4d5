// Package session ties a capture controller to a transport channel. A
// Recorder owns both: segments flow from the capture stream straight onto
// the channel, and stopping a recording hands the finished file to the
// server for processing. The channel outlives the recording UI, so a
// processing request survives page-level teardown on the client side.
package session
