package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rzbill/mediaflo/internal/outcome"
)

// collect drains a sink until its terminal outcome.
func collect[T any](t *testing.T, s *ChanSink[T]) ([]T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out []T
	for {
		o := s.Next(ctx)
		if !o.Terminal() {
			out = append(out, o.Item)
			continue
		}
		return out, o.Err
	}
}

func emit(src chan<- outcome.Outcome[int], n int) {
	for i := 0; i < n; i++ {
		src <- outcome.Ok(i)
	}
	src <- outcome.End[int]()
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	if n == 0 {
		return nil
	}
	return out
}

func TestReplayCompleteness(t *testing.T) {
	ctx := context.Background()
	src := make(chan outcome.Outcome[int])
	d := New(src)
	defer d.Close()

	early := NewChanSink[int](64)
	require.NoError(t, d.AttachTarget(ctx, early))
	emit(src, 20)
	<-d.Done()

	late := NewChanSink[int](64)
	require.NoError(t, d.AttachTarget(ctx, late))

	for _, s := range []*ChanSink[int]{early, late} {
		got, err := collect(t, s)
		require.NoError(t, err)
		require.Equal(t, seq(20), got)
	}
}

func TestAttachMidStream(t *testing.T) {
	ctx := context.Background()
	src := make(chan outcome.Outcome[int])
	d := New(src)
	defer d.Close()

	for i := 0; i < 5; i++ {
		src <- outcome.Ok(i)
	}
	mid := NewChanSink[int](4)
	done := make(chan struct{})
	var got []int
	var gotErr error
	go func() {
		defer close(done)
		got, gotErr = collect(t, mid)
	}()
	require.NoError(t, d.AttachTarget(ctx, mid))
	for i := 5; i < 40; i++ {
		src <- outcome.Ok(i)
	}
	src <- outcome.End[int]()
	<-done
	require.NoError(t, gotErr)
	require.Equal(t, seq(40), got)
}

func TestEmptyStream(t *testing.T) {
	ctx := context.Background()
	src := make(chan outcome.Outcome[int])
	d := New(src)

	before := NewChanSink[int](1)
	require.NoError(t, d.AttachTarget(ctx, before))
	close(src)
	<-d.Done()
	after := NewChanSink[int](1)
	require.NoError(t, d.AttachTarget(ctx, after))

	for _, s := range []*ChanSink[int]{before, after} {
		got, err := collect(t, s)
		require.NoError(t, err)
		require.Empty(t, got)
	}
}

func TestConcurrentAttach(t *testing.T) {
	sinks := 1000
	if testing.Short() {
		sinks = 100
	}
	for n := 0; n <= 50; n++ {
		t.Run(fmt.Sprintf("items=%d", n), func(t *testing.T) {
			ctx := context.Background()
			src := make(chan outcome.Outcome[int])
			d := New(src)
			defer d.Close()

			results := make([][]int, sinks)
			errs := make([]error, sinks)
			var wg sync.WaitGroup
			for i := 0; i < sinks; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					s := NewChanSink[int](64)
					if err := d.AttachTarget(ctx, s); err != nil {
						errs[i] = err
						return
					}
					results[i], errs[i] = collect(t, s)
				}(i)
			}
			emit(src, n)
			wg.Wait()
			for i := 0; i < sinks; i++ {
				require.NoError(t, errs[i], "sink %d", i)
				require.Equal(t, seq(n), results[i], "sink %d", i)
			}
		})
	}
}

func TestErrorTerminalReachesEverySink(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	src := make(chan outcome.Outcome[int], 3)
	src <- outcome.Ok(1)
	src <- outcome.Fail[int](boom)
	src <- outcome.Ok(2)
	d := New(src)
	<-d.Done()

	s := NewChanSink[int](4)
	require.NoError(t, d.AttachTarget(ctx, s))
	got, err := collect(t, s)
	require.ErrorIs(t, err, boom)
	require.Equal(t, []int{1}, got)
}

func TestAlreadyAttached(t *testing.T) {
	ctx := context.Background()
	src := make(chan outcome.Outcome[int])
	d := New(src)
	defer d.Close()

	s := NewChanSink[int](4)
	require.NoError(t, d.AttachTarget(ctx, s))
	require.ErrorIs(t, d.AttachTarget(ctx, s), ErrAlreadyAttached)
	require.ErrorIs(t, d.AttachTarget(ctx, nil), ErrNilSink)
}

func TestDisposalServicesEveryAttach(t *testing.T) {
	ctx := context.Background()
	src := make(chan outcome.Outcome[int])
	d := New(src)
	src <- outcome.Ok(7)

	live := NewChanSink[int](4)
	require.NoError(t, d.AttachTarget(ctx, live))
	d.Close()

	after := NewChanSink[int](4)
	require.NoError(t, d.AttachTarget(ctx, after))
	for _, s := range []*ChanSink[int]{live, after} {
		got, err := collect(t, s)
		require.NoError(t, err)
		require.Equal(t, []int{7}, got)
	}
}

func TestCloseKeepsQueuedSourceItems(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		src := make(chan outcome.Outcome[int], 16)
		d := New(src)
		live := NewChanSink[int](64)
		require.NoError(t, d.AttachTarget(ctx, live))

		emit(src, 15)
		close(src)
		d.Close()

		got, err := collect(t, live)
		require.NoError(t, err)
		require.Equal(t, seq(15), got, "iteration %d", i)

		after := NewChanSink[int](64)
		require.NoError(t, d.AttachTarget(ctx, after))
		got, err = collect(t, after)
		require.NoError(t, err)
		require.Equal(t, seq(15), got, "iteration %d", i)
	}
}

func TestCancelledSinkDoesNotStallOthers(t *testing.T) {
	ctx := context.Background()
	src := make(chan outcome.Outcome[int])
	d := New(src)
	defer d.Close()

	stuck := NewChanSink[int](1)
	healthy := NewChanSink[int](128)
	require.NoError(t, d.AttachTarget(ctx, stuck))
	require.NoError(t, d.AttachTarget(ctx, healthy))

	for i := 0; i < 10; i++ {
		src <- outcome.Ok(i)
	}
	stuck.Cancel()
	for i := 10; i < 100; i++ {
		src <- outcome.Ok(i)
	}
	src <- outcome.End[int]()

	got, err := collect(t, healthy)
	require.NoError(t, err)
	require.Equal(t, seq(100), got)
	require.Eventually(t, func() bool {
		select {
		case <-stuck.Done():
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestFuncSink(t *testing.T) {
	ctx := context.Background()
	src := make(chan outcome.Outcome[int])
	d := New(src)

	var mu sync.Mutex
	var got []int
	closed := make(chan error, 1)
	sink := NewFuncSink(func(_ context.Context, v int) error {
		mu.Lock()
		defer mu.Unlock()
		if v == 3 {
			return ErrSinkClosed
		}
		got = append(got, v)
		return nil
	}, func(err error) { closed <- err })
	require.NoError(t, d.AttachTarget(ctx, sink))
	emit(src, 6)

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sink never closed")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0, 1, 2}, got)
}

func TestTrimmedPolicy(t *testing.T) {
	ctx := context.Background()
	src := make(chan outcome.Outcome[int])
	d := New(src, WithPolicy(PolicyTrimmed(2)))
	defer d.Close()
	require.Equal(t, "trimmed", d.Policy().String())

	src <- outcome.Ok(0)
	a := NewChanSink[int](64)
	b := NewChanSink[int](64)
	require.NoError(t, d.AttachTarget(ctx, a))
	require.NoError(t, d.AttachTarget(ctx, b))
	require.ErrorIs(t, d.AttachTarget(ctx, NewChanSink[int](4)), ErrReplayUnavailable)

	emit2 := func(from, to int) {
		for i := from; i < to; i++ {
			src <- outcome.Ok(i)
		}
	}
	emit2(1, 10)
	src <- outcome.End[int]()

	for _, s := range []*ChanSink[int]{a, b} {
		got, err := collect(t, s)
		require.NoError(t, err)
		require.Equal(t, seq(10), got)
	}
	<-d.Done()
	require.ErrorIs(t, d.AttachTarget(ctx, NewChanSink[int](4)), ErrReplayUnavailable)
}

func TestStalledSinkIsDroppedUnderUnboundedPolicy(t *testing.T) {
	ctx := context.Background()
	src := make(chan outcome.Outcome[int])
	d := New(src, WithLagLimit(4))
	defer d.Close()

	// Never read and never cancelled.
	stalled := NewChanSink[int](1)
	require.NoError(t, d.AttachTarget(ctx, stalled))
	emit(src, 20)
	<-d.Done()

	_, err := collect(t, stalled)
	require.ErrorIs(t, err, ErrSlowSink)

	late := NewChanSink[int](32)
	require.NoError(t, d.AttachTarget(ctx, late))
	got, err := collect(t, late)
	require.NoError(t, err)
	require.Equal(t, seq(20), got)
}

func TestTrimmedPolicyDropsLaggingSink(t *testing.T) {
	ctx := context.Background()
	src := make(chan outcome.Outcome[int])
	d := New(src, WithPolicy(PolicyTrimmed(1)), WithLagLimit(4))
	defer d.Close()

	slow := NewChanSink[int](1)
	require.NoError(t, d.AttachTarget(ctx, slow))
	for i := 0; i < 20; i++ {
		src <- outcome.Ok(i)
	}
	_, err := collect(t, slow)
	require.ErrorIs(t, err, ErrSlowSink)
}
