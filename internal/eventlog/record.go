package eventlog

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"sort"

	"github.com/rzbill/mediaflo/internal/streamlog"
)

// Record encoding:
//
//	uvarint fieldCount | { uvarint nameLen | name | uvarint valueLen | value }* | crc32c(body)
//
// Field names are written in sorted order so equal maps encode identically.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ErrCorruptRecord is returned when a stored record fails to decode or its
// checksum does not match.
var ErrCorruptRecord = errors.New("eventlog: corrupt record")

func encodeFields(fields streamlog.Fields) []byte {
	names := make([]string, 0, len(fields))
	size := binary.MaxVarintLen64 + 4
	for name, v := range fields {
		names = append(names, name)
		size += 2*binary.MaxVarintLen64 + len(name) + len(v)
	}
	sort.Strings(names)

	out := make([]byte, 0, size)
	out = binary.AppendUvarint(out, uint64(len(names)))
	for _, name := range names {
		v := fields[name]
		out = binary.AppendUvarint(out, uint64(len(name)))
		out = append(out, name...)
		out = binary.AppendUvarint(out, uint64(len(v)))
		out = append(out, v...)
	}
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc32.Checksum(out, castagnoli))
	return append(out, crcb[:]...)
}

func decodeFields(b []byte) (streamlog.Fields, error) {
	if len(b) < 1+4 {
		return nil, ErrCorruptRecord
	}
	body := b[:len(b)-4]
	if crc32.Checksum(body, castagnoli) != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return nil, ErrCorruptRecord
	}
	count, n := binary.Uvarint(body)
	if n <= 0 || count > uint64(len(body)) {
		return nil, ErrCorruptRecord
	}
	body = body[n:]
	fields := make(streamlog.Fields, count)
	for i := uint64(0); i < count; i++ {
		name, rest, ok := readChunk(body)
		if !ok {
			return nil, ErrCorruptRecord
		}
		val, rest, ok := readChunk(rest)
		if !ok {
			return nil, ErrCorruptRecord
		}
		fields[string(name)] = append([]byte(nil), val...)
		body = rest
	}
	if len(body) != 0 {
		return nil, ErrCorruptRecord
	}
	return fields, nil
}

func readChunk(b []byte) ([]byte, []byte, bool) {
	l, n := binary.Uvarint(b)
	if n <= 0 || uint64(len(b)-n) < l {
		return nil, nil, false
	}
	end := n + int(l)
	return b[n:end], b[end:], true
}

type streamMeta struct {
	last   streamlog.Position
	length uint64
}

func (m streamMeta) encode() []byte {
	out := make([]byte, 0, 24)
	out = appendBE8(out, m.last.Ms)
	out = appendBE8(out, m.last.Seq)
	return appendBE8(out, m.length)
}

func decodeMeta(b []byte) (streamMeta, bool) {
	if len(b) < 24 {
		return streamMeta{}, false
	}
	return streamMeta{
		last:   streamlog.Position{Ms: binary.BigEndian.Uint64(b[0:8]), Seq: binary.BigEndian.Uint64(b[8:16])},
		length: binary.BigEndian.Uint64(b[16:24]),
	}, true
}
