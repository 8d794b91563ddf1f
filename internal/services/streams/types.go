package streamsvc

import (
	"context"

	"github.com/rzbill/mediaflo/internal/media"
	"github.com/rzbill/mediaflo/internal/outcome"
	"github.com/rzbill/mediaflo/internal/streamlog"
	"github.com/rzbill/mediaflo/pkg/id"
)

// ReadOptions selects where and how a read starts.
type ReadOptions struct {
	// Skip drops the first Skip parts of the stream.
	Skip int
	// Filter is a CEL expression over index, size, data, text, json and
	// now_ms. Only parts it accepts are delivered.
	Filter string
	// Start resumes after this log position.
	Start streamlog.Position
	// Consumer, when set, checkpoints progress under this name and resumes
	// from it when Start is zero.
	Consumer string
	// Durable forces a relay read even when the stream is live here.
	Durable bool
}

func (o ReadOptions) plain() bool {
	return o.Skip == 0 && o.Filter == "" && o.Start.IsStart() && o.Consumer == "" && !o.Durable
}

// Reader yields the parts of one stream in order, then End, or the error
// that ended the read.
type Reader interface {
	Next(ctx context.Context) outcome.Outcome[media.Part]
	// Close releases the read. Later Next calls return End.
	Close()
	// Live reports whether parts come from an in-process distributor.
	Live() bool
}

// LiveStream describes a stream currently ingested by this process.
type LiveStream struct {
	Record  media.Record `json:"record"`
	Parts   int          `json:"parts"`
	Readers int          `json:"readers"`
}

// StreamInfo is what the log holds for one stream.
type StreamInfo struct {
	ID      id.ID `json:"id"`
	Entries int   `json:"entries"`
	Live    bool  `json:"live"`
}
