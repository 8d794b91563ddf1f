// Package httpserver provides the REST and websocket gateway for mediaflo:
// websocket ingest, SSE and websocket consumers, long-poll stream discovery
// and JSON status endpoints, routed with chi.
//
// Example:
//
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: config.Default()})
//	svc := streamsvc.New(rt)
//	s := httpserver.New(rt, svc, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
