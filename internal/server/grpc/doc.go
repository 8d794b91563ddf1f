// Package grpcserver serves the stream engine over gRPC. The
// mediaflo.v1.Streams service is described by hand on top of protobuf
// well-known types, so no generated code is needed:
//
//	Ingest  client stream of BytesValue, returns Struct{id, items}
//	Read    Struct{id, skip, filter, start, consumer, durable}, streams BytesValue
//	Next    Empty, returns the next announced record as a Struct
//	Info    StringValue id, returns Struct{id, entries, live}
//
// Callers authenticate with an "authorization: Bearer <token>" metadata
// entry. Ingest takes the record's kind, format and id from metadata and
// sends the assigned id back in the "stream-id" header before the first
// item is read. The standard grpc.health.v1 service is registered too.
//
// Example:
//
//	s := grpcserver.New(rt, svc, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":50051")
package grpcserver
