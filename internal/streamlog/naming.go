package streamlog

import "github.com/rzbill/mediaflo/pkg/id"

// Naming derives log keys and channel names from stream identities.
type Naming struct {
	Prefix string
	Queue  string
}

// DefaultNaming matches the default configuration.
var DefaultNaming = Naming{Prefix: "audio-record:", Queue: "queue"}

// StreamKey is the log key of a stream.
func (n Naming) StreamKey(streamID id.ID) string { return n.Prefix + streamID.String() }

// PartChannel is the per-stream "new part" notification channel.
func (n Naming) PartChannel(streamID id.ID) string {
	return n.Prefix + streamID.String() + "-new-part"
}

// QueueKey is the list holding announcements of new streams.
func (n Naming) QueueKey() string { return n.Prefix + n.Queue }

// QueueChannel is pinged whenever QueueKey receives a new entry.
func (n Naming) QueueChannel() string { return n.Prefix + n.Queue + "-new" }
