// Package streamlog defines the durable log contract shared by the producer,
// the relay and the storage backends.
//
// A stream is an append-only, capped, position-addressable sequence of
// entries stored under one key. Each entry is a small field map. Two field
// names are reserved: FieldMessage carries an encoded item and FieldStatus
// carries a status marker. StatusCompleted is the durable terminal signal.
//
// Positions are "<ms>-<seq>" pairs, monotonically increasing per key. Start
// ("0-0") precedes every entry, so ReadAfter(key, Start, n) returns the head
// of the stream.
//
// Notifications are advisory: consumers re-poll the log on every ping and
// never trust ping payloads.
//
// Two backends implement these interfaces: internal/eventlog over Pebble and
// internal/redislog over Redis streams.
package streamlog
