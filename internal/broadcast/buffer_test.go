package broadcast

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferViewIsStable(t *testing.T) {
	b := NewBuffer[int]()
	for i := 0; i < 3; i++ {
		b.Append(i)
	}
	v := b.View()
	for i := 3; i < 100; i++ {
		b.Append(i)
	}
	require.Equal(t, 3, v.Len())
	for i := 0; i < 3; i++ {
		got, ok := v.At(i)
		require.True(t, ok)
		require.Equal(t, i, got)
	}
	_, ok := v.At(3)
	require.False(t, ok)
	require.Equal(t, 100, b.View().Len())
}

func TestBufferTrimKeepsAbsoluteIndices(t *testing.T) {
	b := NewBuffer[int]()
	for i := 0; i < 10; i++ {
		b.Append(i)
	}
	before := b.View()
	b.TrimBefore(6)
	after := b.View()

	require.Equal(t, 6, after.Base())
	require.Equal(t, 10, after.Len())
	_, ok := after.At(5)
	require.False(t, ok)
	got, ok := after.At(7)
	require.True(t, ok)
	require.Equal(t, 7, got)

	// Older views keep what they captured.
	got, ok = before.At(0)
	require.True(t, ok)
	require.Equal(t, 0, got)

	b.TrimBefore(3)
	require.Equal(t, 6, b.View().Base())
	require.Equal(t, 11, b.Append(10))
}
