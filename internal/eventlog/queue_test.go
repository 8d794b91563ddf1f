package eventlog

import (
	"context"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	l := newTestLog(t, Options{})
	ctx := context.Background()
	for _, p := range []string{"a", "b", "c"} {
		if err := l.Push(ctx, "queue", []byte(p)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		got, ok, err := l.Pop(ctx, "queue")
		if err != nil || !ok {
			t.Fatalf("pop: %v %v", ok, err)
		}
		if string(got) != want {
			t.Fatalf("want %q, got %q", want, got)
		}
	}
	if _, ok, err := l.Pop(ctx, "queue"); ok || err != nil {
		t.Fatalf("want empty queue, got ok=%v err=%v", ok, err)
	}
}

func TestHubCoalescesPings(t *testing.T) {
	l := newTestLog(t, Options{})
	ctx := context.Background()
	sub, err := l.Subscribe(ctx, "ch")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	for i := 0; i < 5; i++ {
		_ = l.Publish(ctx, "ch")
	}
	_ = l.Publish(ctx, "other")

	select {
	case <-sub.C():
	case <-time.After(time.Second):
		t.Fatalf("no ping delivered")
	}
	select {
	case <-sub.C():
		t.Fatalf("pings were not coalesced")
	default:
	}
}

func TestHubTapAndClose(t *testing.T) {
	l := newTestLog(t, Options{})
	ctx := context.Background()
	var seen []string
	cancel := l.Tap(func(ch string) { seen = append(seen, ch) })
	_ = l.Publish(ctx, "a")
	cancel()
	_ = l.Publish(ctx, "b")
	if len(seen) != 1 || seen[0] != "a" {
		t.Fatalf("unexpected tap calls %v", seen)
	}

	sub, _ := l.Subscribe(ctx, "a")
	_ = sub.Close()
	_ = sub.Close()
	_ = l.Publish(ctx, "a")
	select {
	case <-sub.C():
		t.Fatalf("closed subscription received a ping")
	default:
	}
}

func TestCommitCursorMonotonic(t *testing.T) {
	l := newTestLog(t, Options{})
	ctx := context.Background()
	fakeClock(t, 100)
	p1, _ := l.Append(ctx, "k", nil, 0)
	p2, _ := l.Append(ctx, "k", nil, 0)

	if err := l.CommitCursor(ctx, "k", "g", p2); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := l.CommitCursor(ctx, "k", "g", p1); err != nil {
		t.Fatalf("commit lower: %v", err)
	}
	got, ok, err := l.GetCursor(ctx, "k", "g")
	if err != nil || !ok || got != p2 {
		t.Fatalf("cursor regressed: %v %v %v", got, ok, err)
	}
	if _, ok, _ := l.GetCursor(ctx, "k", "other"); ok {
		t.Fatalf("unknown consumer has a cursor")
	}
}
