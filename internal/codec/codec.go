// Package codec serializes stream payloads: MessagePack for structure and
// an optional compressor identified by a one-byte tag, so readers decode
// whatever a writer chose.
package codec

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes v as MessagePack.
func Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }

// Unmarshal decodes MessagePack data into v.
func Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

// ErrMalformed is returned for payloads without a known compression tag or
// whose body does not decompress.
var ErrMalformed = errors.New("codec: malformed payload")

// Codec pairs MessagePack with a compressor.
type Codec struct {
	c Compression
}

// New returns a Codec writing with compression c.
func New(c Compression) *Codec { return &Codec{c: c} }

// Compression returns the compression used when encoding.
func (c *Codec) Compression() Compression { return c.c }

// Encode marshals v and compresses the result.
func (c *Codec) Encode(v any) ([]byte, error) {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}
	return Compress(c.c, raw)
}

// Decode decompresses data, whatever compression it was written with, and
// unmarshals it into v.
func (c *Codec) Decode(data []byte, v any) error {
	raw, err := Decompress(data)
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("codec: unmarshal: %w", err)
	}
	return nil
}
