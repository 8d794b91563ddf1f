package controllers

import (
	"github.com/rzbill/mediaflo/internal/media"
	"github.com/rzbill/mediaflo/pkg/id"
)

// partEvent is the JSON form of one delivered part.
type partEvent struct {
	Index int64  `json:"index"`
	Data  []byte `json:"data"`
}

// ingestAccepted is sent to an ingest websocket right after the upgrade.
type ingestAccepted struct {
	ID     id.ID        `json:"id"`
	Record media.Record `json:"record"`
}

// ingestResult is the close reason of a finished ingest websocket.
type ingestResult struct {
	ID    id.ID  `json:"id"`
	Items int64  `json:"items"`
	Error string `json:"error,omitempty"`
}

// liveResponse lists the streams ingested by this process.
type liveResponse struct {
	Streams any `json:"streams"`
}
