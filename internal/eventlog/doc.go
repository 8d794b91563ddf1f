// Package eventlog implements the embedded, Pebble-backed stream log.
//
// # Overview
//
// Each stream is an append-only sequence of field maps addressed by
// "<ms>-<seq>" positions, the same shape as a Redis stream. Keys:
//   - s/{key}/m                    (stream metadata: last position, length)
//   - s/{key}/e/{ms_be8}{seq_be8}  (entries)
//   - s/{key}/x                    (expiry deadline)
//   - s/{key}/c/{consumer}         (committed consumer cursors)
//   - t/{deadline_be8}/{key}       (expiry index)
//   - q/{queue}/...                (FIFO announcement queues)
//
// Records are stored as a field count, length-prefixed name/value pairs and
// a trailing crc32c.
//
//	l := eventlog.Open(db, eventlog.Options{})
//	pos, _ := l.Append(ctx, "audio-record:abc", streamlog.MessageFields(p), 1000)
//	entries, _ := l.ReadAfter(ctx, "audio-record:abc", streamlog.Start, 10)
//	_ = l.Expire(ctx, "audio-record:abc", time.Minute)
//	go l.RunSweeper(ctx, 5*time.Second, nil)
//
// Capping is approximate: once a stream holds more than maxLen plus a slack
// of entries, Append trims the oldest ones back to maxLen in the same
// batch. TrimHook observes trims and expiries.
//
// Pub/sub pings are in-process only (Hub). The RESP gateway taps the hub to
// forward them to remote subscribers.
package eventlog
