// Package capture manages local screen/microphone capture and exposes a
// small state machine to callers.
//
// A Controller owns one capture session at a time and moves through
// idle -> recording -> (paused <-> recording) -> stopping -> idle. While
// recording it pushes fixed-interval binary segments to a SegmentSink in
// capture order. Elapsed duration is pause-aware: pausing freezes the clock
// exactly at the pause instant and resuming never double-counts the paused
// interval.
//
// The OS capture surface is abstracted behind Source so the controller can
// be driven by the ffmpeg-backed implementation in production and a scripted
// fake in tests.
package capture
