// Package recordings persists processed-media records in SQLite.
//
// Each recording row is keyed by a media identifier (the artifact filename
// reserved at capture start) and moves through a linear status lifecycle:
//
//	pending -> downloading -> transcribing -> summarizing -> completed | failed
//
// The processing flag the rest of the system observes is derived from the
// status: a recording is processing from the moment a job is accepted until
// exactly one terminal update (completed or failed) is written.
package recordings
