package eventlog

import (
	"github.com/cockroachdb/pebble"

	"github.com/rzbill/mediaflo/internal/streamlog"
)

type trimResult struct {
	n           int
	first, last streamlog.Position
}

// trimOldest stages deletion of up to n of the oldest entries of key into b.
// Callers hold l.mu.
func (l *Log) trimOldest(b *pebble.Batch, key string, n int) (trimResult, error) {
	var res trimResult
	if n <= 0 {
		return res, nil
	}
	low, high := entryBounds(key)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return res, err
	}
	defer iter.Close()

	for ok := iter.First(); ok && res.n < n; ok = iter.Next() {
		pos := positionFromEntryKey(iter.Key())
		if err := b.Delete(iter.Key(), nil); err != nil {
			return res, err
		}
		if res.n == 0 {
			res.first = pos
		}
		res.last = pos
		res.n++
	}
	return res, iter.Error()
}

// TrimHook observes entries leaving the log. The default does nothing.
type TrimHook interface {
	// Trimmed reports a contiguous range of n entries removed by capping.
	Trimmed(key string, first, last streamlog.Position, n int)
	// Expired reports a stream removed by the sweeper.
	Expired(key string)
}

type noopHook struct{}

func (noopHook) Trimmed(string, streamlog.Position, streamlog.Position, int) {}
func (noopHook) Expired(string)                                              {}
