// Package runtime wires storage and config into a single-node mediaflo
// instance. It opens the configured durable log backend (Pebble or Redis),
// runs the expiry sweeper for the Pebble backend, and exposes the
// streamlog contracts, the key naming and the payload codec that the
// services are built from.
//
// Example:
//
//	cfg := config.Default()
//	cfg.Storage.DataDir = "./data"
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: cfg})
//	defer rt.Close()
//	_ = rt.CheckHealth(ctx)
//	_, _ = rt.Store().Append(ctx, "k", streamlog.MessageFields([]byte("hi")), 100)
package runtime
