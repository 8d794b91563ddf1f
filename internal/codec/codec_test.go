package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rzbill/mediaflo/internal/media"
	"github.com/rzbill/mediaflo/pkg/id"
)

func TestCompressionRoundTrip(t *testing.T) {
	payloads := map[string][]byte{
		"empty":      nil,
		"small":      []byte("abc"),
		"repetitive": bytes.Repeat([]byte("opus-frame-"), 400),
	}
	for _, c := range []Compression{None, Zstd, Snappy, LZ4} {
		for name, raw := range payloads {
			t.Run(c.String()+"/"+name, func(t *testing.T) {
				enc, err := Compress(c, raw)
				require.NoError(t, err)
				got, err := Decompress(enc)
				require.NoError(t, err)
				require.Equal(t, len(raw), len(got))
				require.True(t, bytes.Equal(raw, got))
			})
		}
	}
}

func TestCompressionShrinksRepetitiveInput(t *testing.T) {
	raw := bytes.Repeat([]byte("0123456789"), 1000)
	for _, c := range []Compression{Zstd, Snappy, LZ4} {
		enc, err := Compress(c, raw)
		require.NoError(t, err)
		require.Equal(t, byte(c), enc[0], c.String())
		require.Less(t, len(enc), len(raw)/4, c.String())
	}
}

func TestDecompressRejectsGarbage(t *testing.T) {
	_, err := Decompress(nil)
	require.ErrorIs(t, err, ErrMalformed)
	_, err = Decompress([]byte{42, 1, 2})
	require.ErrorIs(t, err, ErrMalformed)
	_, err = Decompress([]byte{byte(Snappy), 0xff, 0xff, 0xff})
	require.True(t, errors.Is(err, ErrMalformed))
}

func TestParseCompression(t *testing.T) {
	for in, want := range map[string]Compression{"": None, "none": None, "ZSTD": Zstd, "snappy": Snappy, "lz4": LZ4} {
		got, err := ParseCompression(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseCompression("brotli")
	require.Error(t, err)
}

func TestCodecRecordRoundTrip(t *testing.T) {
	rec := media.Record{
		ID:          id.MustParse("0000018f0000000000000000000000aa"),
		Kind:        media.KindAudio,
		Format:      "opus",
		AuthorID:    "alice",
		CreatedAtMs: 1700000000000,
	}
	c := New(Zstd)
	b, err := c.Encode(rec)
	require.NoError(t, err)

	var got media.Record
	require.NoError(t, New(None).Decode(b, &got))
	require.Equal(t, rec, got)
}

func TestCodecPartRoundTrip(t *testing.T) {
	part := media.Part{Index: 3, Data: bytes.Repeat([]byte{1, 2, 3}, 100)}
	b, err := New(LZ4).Encode(part)
	require.NoError(t, err)
	var got media.Part
	require.NoError(t, New(None).Decode(b, &got))
	require.Equal(t, part, got)
}
