package streamlog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/mediaflo/internal/streamlog"
	"github.com/rzbill/mediaflo/pkg/id"
)

func TestParsePosition(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want streamlog.Position
		err  bool
	}{
		{"0-0", streamlog.Start, false},
		{"1700000000000-3", streamlog.Position{Ms: 1700000000000, Seq: 3}, false},
		{"42", streamlog.Position{Ms: 42}, false},
		{"", streamlog.Position{}, true},
		{"a-1", streamlog.Position{}, true},
		{"1-b", streamlog.Position{}, true},
	}
	for _, tt := range tests {
		got, err := streamlog.ParsePosition(tt.in)
		if tt.err {
			assert.ErrorIs(t, err, streamlog.ErrInvalidPosition, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		if tt.in != "42" {
			assert.Equal(t, tt.in, got.String())
		}
	}
}

func TestPositionOrdering(t *testing.T) {
	t.Parallel()
	a := streamlog.Position{Ms: 5, Seq: 9}
	b := streamlog.Position{Ms: 6, Seq: 0}
	assert.True(t, a.Less(b))
	assert.True(t, streamlog.Start.Less(a))
	assert.Equal(t, 0, a.Compare(a))
	assert.Equal(t, streamlog.Position{Ms: 5, Seq: 10}, a.Next())
	assert.Equal(t, streamlog.Position{Ms: 6}, streamlog.Position{Ms: 5, Seq: ^uint64(0)}.Next())
	assert.True(t, a.Less(a.Next()))
}

func TestEntryKinds(t *testing.T) {
	t.Parallel()
	msg := streamlog.Entry{Fields: streamlog.MessageFields([]byte("x"))}
	done := streamlog.Entry{Fields: streamlog.CompletedFields()}
	other := streamlog.Entry{Fields: streamlog.Fields{streamlog.FieldStatus: []byte("paused")}}

	assert.Equal(t, streamlog.KindMessage, msg.Kind())
	assert.False(t, msg.Completed())
	p, ok := msg.Message()
	assert.True(t, ok)
	assert.Equal(t, []byte("x"), p)

	assert.Equal(t, streamlog.KindStatus, done.Kind())
	assert.True(t, done.Completed())

	assert.Equal(t, streamlog.KindStatus, other.Kind())
	assert.False(t, other.Completed())
	assert.Equal(t, streamlog.KindUnknown, streamlog.Entry{}.Kind())
}

func TestNaming(t *testing.T) {
	t.Parallel()
	sid := id.MustParse("0000018f2a3b4c5d0000000000000001")
	n := streamlog.DefaultNaming
	assert.Equal(t, "audio-record:0000018f2a3b4c5d0000000000000001", n.StreamKey(sid))
	assert.Equal(t, "audio-record:0000018f2a3b4c5d0000000000000001-new-part", n.PartChannel(sid))
	assert.Equal(t, "audio-record:queue", n.QueueKey())
	assert.NotEqual(t, n.QueueKey(), n.QueueChannel())
}
