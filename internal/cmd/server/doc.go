// Package serverrun exposes the Run entrypoint used by the CLI to start the
// runtime with its HTTP, gRPC and RESP listeners, handling lifecycle and
// shutdown.
//
// Example:
//
//	cfg, _ := config.Load("mediaflo.yaml")
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{Config: cfg})
package serverrun
