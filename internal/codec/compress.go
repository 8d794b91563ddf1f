package codec

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies a payload compressor. Its value is the tag byte
// written in front of every payload.
type Compression byte

const (
	None   Compression = 0
	Zstd   Compression = 1
	Snappy Compression = 2
	LZ4    Compression = 3
)

// minCompressSize is the smallest body worth compressing.
const minCompressSize = 64

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case Zstd:
		return "zstd"
	case Snappy:
		return "snappy"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", byte(c))
	}
}

// ParseCompression maps a config name to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return None, nil
	case "zstd":
		return Zstd, nil
	case "snappy":
		return Snappy, nil
	case "lz4":
		return LZ4, nil
	default:
		return None, fmt.Errorf("codec: unknown compression %q", s)
	}
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCoders() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec, zstdErr
}

var lz4Pool = sync.Pool{New: func() any { return new([1 << 16]int) }}

// Compress prefixes raw with the tag of c and compresses it. Small bodies,
// and bodies that do not shrink, are stored uncompressed.
func Compress(c Compression, raw []byte) ([]byte, error) {
	if c == None || len(raw) < minCompressSize {
		return tagged(None, raw), nil
	}
	var out []byte
	switch c {
	case Zstd:
		enc, _, err := zstdCoders()
		if err != nil {
			return nil, fmt.Errorf("codec: zstd: %w", err)
		}
		out = enc.EncodeAll(raw, []byte{byte(Zstd)})
	case Snappy:
		out = append([]byte{byte(Snappy)}, snappy.Encode(nil, raw)...)
	case LZ4:
		buf := make([]byte, 1+binary.MaxVarintLen64+lz4.CompressBlockBound(len(raw)))
		buf[0] = byte(LZ4)
		hdr := 1 + binary.PutUvarint(buf[1:], uint64(len(raw)))
		ht := lz4Pool.Get().(*[1 << 16]int)
		n, err := lz4.CompressBlock(raw, buf[hdr:], ht[:])
		lz4Pool.Put(ht)
		if err != nil {
			return nil, fmt.Errorf("codec: lz4: %w", err)
		}
		if n == 0 {
			// Incompressible.
			return tagged(None, raw), nil
		}
		out = buf[:hdr+n]
	default:
		return nil, fmt.Errorf("codec: unknown compression %d", byte(c))
	}
	if len(out) >= len(raw)+1 {
		return tagged(None, raw), nil
	}
	return out, nil
}

func tagged(c Compression, body []byte) []byte {
	out := make([]byte, 1+len(body))
	out[0] = byte(c)
	copy(out[1:], body)
	return out
}

// Decompress strips the tag and returns the raw body.
func Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrMalformed
	}
	body := data[1:]
	switch Compression(data[0]) {
	case None:
		return body, nil
	case Zstd:
		_, dec, err := zstdCoders()
		if err != nil {
			return nil, fmt.Errorf("codec: zstd: %w", err)
		}
		raw, err := dec.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrMalformed, err)
		}
		return raw, nil
	case Snappy:
		raw, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %v", ErrMalformed, err)
		}
		return raw, nil
	case LZ4:
		size, n := binary.Uvarint(body)
		if n <= 0 || size > 1<<30 {
			return nil, ErrMalformed
		}
		raw := make([]byte, size)
		m, err := lz4.UncompressBlock(body[n:], raw)
		if err != nil || uint64(m) != size {
			return nil, fmt.Errorf("%w: lz4", ErrMalformed)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrMalformed, data[0])
	}
}
