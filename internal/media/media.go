// Package media holds the records that travel through mediaflo streams.
package media

import (
	"fmt"
	"strings"
	"time"

	"github.com/rzbill/mediaflo/pkg/id"
)

// Kind classifies a stream's payload.
type Kind string

const (
	KindGeneric    Kind = "generic"
	KindAudio      Kind = "audio"
	KindTranscript Kind = "transcript"
)

// ParseKind accepts the lowercase kind names; empty means generic.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindGeneric, nil
	case KindGeneric, KindAudio, KindTranscript:
		return k, nil
	default:
		return "", fmt.Errorf("media: unknown kind %q", s)
	}
}

// Record describes one ingested stream. It is what the discovery queue
// announces.
type Record struct {
	ID          id.ID  `msgpack:"id" json:"id"`
	Kind        Kind   `msgpack:"kind" json:"kind"`
	Format      string `msgpack:"format,omitempty" json:"format,omitempty"`
	AuthorID    string `msgpack:"author,omitempty" json:"authorId,omitempty"`
	CreatedAtMs int64  `msgpack:"created" json:"createdAtMs"`
}

// CreatedAt returns the creation time.
func (r Record) CreatedAt() time.Time { return time.UnixMilli(r.CreatedAtMs) }

// Part is one item of a stream as stored in the log: its zero-based index
// and the raw bytes the producer sent.
type Part struct {
	Index int64  `msgpack:"i" json:"index"`
	Data  []byte `msgpack:"d" json:"data"`
}

// TranscriptPart is one fragment of a transcript stream. Producers of
// transcript streams send it msgpack-encoded as the part data.
type TranscriptPart struct {
	Index      int64  `msgpack:"i" json:"index"`
	Text       string `msgpack:"t" json:"text"`
	StartMs    int64  `msgpack:"s" json:"startMs"`
	DurationMs int64  `msgpack:"d" json:"durationMs"`
	Final      bool   `msgpack:"f" json:"final"`
}
