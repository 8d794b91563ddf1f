package media

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind("")
	require.NoError(t, err)
	require.Equal(t, KindGeneric, k)

	k, err = ParseKind(" Audio ")
	require.NoError(t, err)
	require.Equal(t, KindAudio, k)

	_, err = ParseKind("video")
	require.Error(t, err)
}
