// Package transports provides pluggable transport implementations for the CLI.
package transports

import (
	"context"
	"errors"

	"github.com/rzbill/mediaflo/internal/media"
	streamsvc "github.com/rzbill/mediaflo/internal/services/streams"
	"github.com/rzbill/mediaflo/pkg/id"
)

// ErrNoStream is returned by Next when nothing was announced in time.
var ErrNoStream = errors.New("no stream announced")

// IngestResult is what the server reports for a finished ingest.
type IngestResult struct {
	ID    id.ID
	Items int64
}

// StreamsTransport abstracts the transport used by the CLI (gRPC or
// HTTP/websocket).
type StreamsTransport interface {
	// Ingest sends every item of items as one stream. onID, when set, is
	// called with the assigned id before the first item is sent.
	Ingest(ctx context.Context, rec media.Record, items <-chan []byte, onID func(id.ID)) (IngestResult, error)
	// Read calls onPart for each part until the stream ends.
	Read(ctx context.Context, streamID id.ID, opts streamsvc.ReadOptions, onPart func(data []byte) error) error
	// Next waits for the next announced stream.
	Next(ctx context.Context) (media.Record, error)
	Info(ctx context.Context, streamID id.ID) (streamsvc.StreamInfo, error)
}
