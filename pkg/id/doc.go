// Package id provides the stream identity: a 128-bit, lexicographically
// sortable identifier assigned by the producer at ingest time.
//
// # Format
//
// The ID is 16 bytes big-endian: [8 bytes ms_timestamp][8 bytes sequence].
// Byte-wise comparison preserves chronological order, and IDs generated
// within the same millisecond remain strictly increasing by sequence. The
// text form is 32 hex digits and is used verbatim in durable log keys and
// notification channel names.
//
// # Monotonicity
//
// The Generator pins to the last seen millisecond if the clock regresses and
// waits for the next millisecond if the sequence would overflow.
//
// Usage
//
//	g := id.NewGenerator()
//	streamID := g.Next()
//	key := "audio:" + streamID.String()
//	back, _ := id.Parse(streamID.String())
package id
