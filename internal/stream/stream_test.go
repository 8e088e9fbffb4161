package stream

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncoder_WritesDataPrefixedBlankLineTerminatedFrames(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	require.NoError(t, enc.ToolCall("local_search", "running", 0))
	require.NoError(t, enc.Text("hello"))
	require.NoError(t, enc.Done())

	lines := strings.Split(buf.String(), "\n\n")
	require.GreaterOrEqual(t, len(lines), 3)
	for _, l := range lines[:3] {
		require.True(t, strings.HasPrefix(l, "data: "))
	}
}

func TestEncoder_PreservesNonASCII(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Text("こんにちは"))
	require.Contains(t, buf.String(), "こんにちは")
}

func TestFragment_SplitsIntoFixedSizePieces(t *testing.T) {
	frags := Fragment("abcdefghijklmno", 10)
	require.Equal(t, []string{"abcdefghij", "klmno"}, frags)
}

func TestFragment_EmptyTextProducesNoFragments(t *testing.T) {
	require.Empty(t, Fragment("", 10))
}
