package eventlog

import (
	"context"
	"errors"

	"github.com/rzbill/mediaflo/internal/streamlog"
	pebblestore "github.com/rzbill/mediaflo/internal/storage/pebble"
)

var _ streamlog.CursorStore = (*Log)(nil)

// CommitCursor stores the last processed position of consumer on key. A
// position at or below the stored one is ignored.
func (l *Log) CommitCursor(ctx context.Context, key, consumer string, pos streamlog.Position) error {
	if err := validKey(key); err != nil {
		return err
	}
	if consumer == "" {
		return streamlog.ErrInvalidKey
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok, err := l.getCursor(key, consumer); err != nil {
		return err
	} else if ok && !prev.Less(pos) {
		return nil
	}
	b := l.db.NewBatch()
	defer b.Close()
	v := appendBE8(appendBE8(make([]byte, 0, 16), pos.Ms), pos.Seq)
	if err := b.Set(keyCursor(key, consumer), v, nil); err != nil {
		return err
	}
	return l.db.CommitBatch(ctx, b)
}

// GetCursor loads the committed position of consumer on key.
func (l *Log) GetCursor(_ context.Context, key, consumer string) (streamlog.Position, bool, error) {
	if err := validKey(key); err != nil {
		return streamlog.Position{}, false, err
	}
	return l.getCursor(key, consumer)
}

func (l *Log) getCursor(key, consumer string) (streamlog.Position, bool, error) {
	v, err := l.db.Get(keyCursor(key, consumer))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return streamlog.Position{}, false, nil
	}
	if err != nil {
		return streamlog.Position{}, false, err
	}
	if len(v) < 16 {
		return streamlog.Position{}, false, ErrCorruptRecord
	}
	return positionFromEntryKey(v[:16]), true, nil
}
