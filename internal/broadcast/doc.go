// Package broadcast fans one source feed out to a changing set of sinks.
//
// A Distributor records every outcome of its source in an append-only
// Buffer and replays it to each sink that attaches, then keeps the sink
// up to date with live items. One driver goroutine owns the buffer and the
// set of registered targets; it alone decides where a new sink's replay
// ends and live delivery begins, so an attaching sink never misses or
// repeats an item.
//
// The driver never writes to sinks. Each registered target runs a pump
// goroutine that reads the buffer by absolute index and writes to its
// sink; the driver only wakes pumps. A slow or broken sink therefore
// stalls nobody but itself.
//
//	src := make(chan outcome.Outcome[[]byte])
//	d := broadcast.New(src)
//	sink := broadcast.NewChanSink[[]byte](64)
//	if err := d.AttachTarget(ctx, sink); err != nil { ... }
//	for o := sink.Next(ctx); !o.Terminal(); o = sink.Next(ctx) { ... }
//
// Policies: PolicyUnbounded keeps every item for the lifetime of the
// Distributor and is what the replay system uses. PolicyTrimmed(n) keeps
// items only until n sinks have attached, then releases everything its
// registered sinks have consumed; later attaches fail with
// ErrReplayUnavailable.
package broadcast
