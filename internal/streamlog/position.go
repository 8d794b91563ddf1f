package streamlog

import (
	"errors"
	"strconv"
	"strings"
)

// Position addresses one entry within a stream.
type Position struct {
	Ms  uint64
	Seq uint64
}

// Start is the cursor value preceding every entry.
var Start = Position{}

// ErrInvalidPosition is returned by ParsePosition for malformed input.
var ErrInvalidPosition = errors.New("streamlog: invalid position")

// ParsePosition parses "<ms>-<seq>". A bare "<ms>" is accepted with seq 0.
func ParsePosition(s string) (Position, error) {
	msPart, seqPart, hasSeq := strings.Cut(s, "-")
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return Position{}, ErrInvalidPosition
	}
	var seq uint64
	if hasSeq {
		seq, err = strconv.ParseUint(seqPart, 10, 64)
		if err != nil {
			return Position{}, ErrInvalidPosition
		}
	}
	return Position{Ms: ms, Seq: seq}, nil
}

// String renders the position as "<ms>-<seq>".
func (p Position) String() string {
	return strconv.FormatUint(p.Ms, 10) + "-" + strconv.FormatUint(p.Seq, 10)
}

// Compare returns -1, 0 or 1.
func (p Position) Compare(o Position) int {
	switch {
	case p.Ms < o.Ms:
		return -1
	case p.Ms > o.Ms:
		return 1
	case p.Seq < o.Seq:
		return -1
	case p.Seq > o.Seq:
		return 1
	default:
		return 0
	}
}

// Less reports p < o.
func (p Position) Less(o Position) bool { return p.Compare(o) < 0 }

// IsStart reports whether p is the initial cursor.
func (p Position) IsStart() bool { return p == Start }

// Next returns the smallest position strictly after p.
func (p Position) Next() Position {
	if p.Seq == ^uint64(0) {
		return Position{Ms: p.Ms + 1}
	}
	return Position{Ms: p.Ms, Seq: p.Seq + 1}
}

// MarshalText implements encoding.TextMarshaler.
func (p Position) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Position) UnmarshalText(b []byte) error {
	v, err := ParsePosition(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
