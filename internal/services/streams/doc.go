// Package streamsvc implements the Streams facade consumed by the gRPC and
// HTTP transports. It composes the producer, the relay and a per-process
// registry of live broadcast distributors.
//
// Example:
//
//	svc := streamsvc.New(rt)
//	// Ingest: items is closed by the transport when the client finishes.
//	rec, _ := svc.Ingest(ctx, producer.Identity{Subject: "user:123"}, media.Record{Kind: media.KindAudio}, items)
//	// Read from the beginning, live when this process is ingesting it.
//	r, _ := svc.Read(ctx, rec.ID, streamsvc.ReadOptions{})
//	defer r.Close()
//	for o := r.Next(ctx); o.IsOk(); o = r.Next(ctx) {
//		_ = o.Item.Data
//	}
package streamsvc

// Read paths
//
// Live
//   - A stream ingested by this process has a broadcast distributor holding
//     every part since the first. A plain read attaches a bounded channel
//     sink to it: the replay and live parts come from memory and the sink
//     gets the terminal signal directly.
//
// Durable
//   - Reads with a skip, a filter, a start position or a checkpoint name,
//     and reads of streams ingested elsewhere, open a relay handle that
//     tails the log until the completion entry.
//
// Observability
//   - streams.ingest logs per-stream item counts and duration.
//   - Active reader counts per stream are reported by Live.
