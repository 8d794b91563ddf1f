package eventlog

import (
	"encoding/binary"
	"strings"

	"github.com/rzbill/mediaflo/internal/streamlog"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
//   - s/{key}/m                    stream metadata: last position, length
//   - s/{key}/e/{ms_be8}{seq_be8}  entries
//   - s/{key}/x                    expiry deadline (unix ms)
//   - s/{key}/c/{consumer}         committed consumer cursor
//   - t/{deadline_be8}/{key}       expiry index scanned by the sweeper
//   - q/{queue}/m                  queue metadata: head, tail
//   - q/{queue}/e/{seq_be8}        queue items

var (
	sep          = byte('/')
	streamPrefix = []byte("s/")
	ttlPrefix    = []byte("t/")
	queuePrefix  = []byte("q/")
	metaSuffix   = []byte("/m")
	expirySuffix = []byte("/x")
	entrySeg     = []byte("/e/")
	cursorSeg    = []byte("/c/")
)

func validKey(key string) error {
	if key == "" || strings.ContainsAny(key, "/\x00") {
		return streamlog.ErrInvalidKey
	}
	return nil
}

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func streamBase(key string) []byte {
	k := make([]byte, 0, len(streamPrefix)+len(key)+24)
	k = append(k, streamPrefix...)
	k = append(k, key...)
	return k
}

// keyStreamMeta builds the stream metadata key.
func keyStreamMeta(key string) []byte {
	return append(streamBase(key), metaSuffix...)
}

// keyStreamExpiry builds the key holding the stream's deadline.
func keyStreamExpiry(key string) []byte {
	return append(streamBase(key), expirySuffix...)
}

// keyEntry builds the entry key; big-endian ms then seq keeps positions ordered.
func keyEntry(key string, pos streamlog.Position) []byte {
	k := append(streamBase(key), entrySeg...)
	k = appendBE8(k, pos.Ms)
	return appendBE8(k, pos.Seq)
}

// entryBounds returns [low, high) covering every entry of key.
func entryBounds(key string) ([]byte, []byte) {
	low := append(streamBase(key), entrySeg...)
	high := append(streamBase(key), entrySeg[:len(entrySeg)-1]...)
	high = append(high, sep+1)
	return low, high
}

// streamBounds returns [low, high) covering every key of a stream.
func streamBounds(key string) ([]byte, []byte) {
	low := append(streamBase(key), sep)
	high := append(streamBase(key), sep+1)
	return low, high
}

func positionFromEntryKey(k []byte) streamlog.Position {
	n := len(k)
	return streamlog.Position{
		Ms:  binary.BigEndian.Uint64(k[n-16 : n-8]),
		Seq: binary.BigEndian.Uint64(k[n-8:]),
	}
}

func keyCursor(key, consumer string) []byte {
	k := append(streamBase(key), cursorSeg...)
	return append(k, consumer...)
}

func keyTTLIndex(deadlineMs uint64, key string) []byte {
	k := make([]byte, 0, len(ttlPrefix)+9+len(key))
	k = append(k, ttlPrefix...)
	k = appendBE8(k, deadlineMs)
	k = append(k, sep)
	return append(k, key...)
}

// parseTTLIndex splits an index key into deadline and stream key.
func parseTTLIndex(k []byte) (uint64, string, bool) {
	if len(k) < len(ttlPrefix)+9 {
		return 0, "", false
	}
	body := k[len(ttlPrefix):]
	return binary.BigEndian.Uint64(body[:8]), string(body[9:]), true
}

func queueBase(queue string) []byte {
	k := make([]byte, 0, len(queuePrefix)+len(queue)+16)
	k = append(k, queuePrefix...)
	return append(k, queue...)
}

func keyQueueMeta(queue string) []byte { return append(queueBase(queue), metaSuffix...) }

func keyQueueItem(queue string, seq uint64) []byte {
	k := append(queueBase(queue), entrySeg...)
	return appendBE8(k, seq)
}
