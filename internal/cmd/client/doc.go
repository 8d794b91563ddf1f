// Package client provides the `mediaflo stream` command-line client.
//
// The CLI talks to the gRPC endpoint (default) or the HTTP gateway to
// ingest and read streams from a terminal. It is primarily intended for
// developers and operators.
//
// # Address configuration
//
// The gRPC address is read from MEDIAFLO_GRPC (default 127.0.0.1:50051)
// and the HTTP gateway from MEDIAFLO_HTTP (default http://127.0.0.1:8080).
// A bearer token can be given with --token or MEDIAFLO_TOKEN.
//
// Usage
//
//	# Ingest three items; the assigned id is printed to stderr first
//	mediaflo stream publish --kind transcript --data '{"index":0,"text":"hi"}' --data '{"index":1,"text":"there"}'
//
//	# Ingest an audio file in 16 KiB parts over the websocket gateway
//	mediaflo stream publish --transport http --kind audio --format webm --file talk.webm --chunk-size 16384
//
//	# Read a stream as JSON lines, or raw bytes
//	mediaflo stream read 0000019a1f2b3c4d0000000000000000
//	mediaflo stream read 0000019a1f2b3c4d0000000000000000 --raw > copy.webm
//
//	# Server-side CEL filter and skip
//	mediaflo stream read ID --skip 10 --filter 'json.final == true'
//
//	# Wait for the next announced stream
//	mediaflo stream next --timeout 1m
//
//	mediaflo stream info ID
package client
