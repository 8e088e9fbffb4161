package vectorindex

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex_AddNormalisesVectors(t *testing.T) {
	idx := New(2)
	require.NoError(t, idx.Add([]string{"a"}, [][]float32{{3, 4}}))

	results, err := idx.Search([]float32{3, 4}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestIndex_SearchReturnsDescendingScores(t *testing.T) {
	idx := New(2)
	require.NoError(t, idx.Add(
		[]string{"a", "b", "c"},
		[][]float32{{1, 0}, {0.9, 0.1}, {0, 1}},
	))

	results, err := idx.Search([]float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].ChunkID)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestIndex_SearchClampsKToSize(t *testing.T) {
	idx := New(2)
	require.NoError(t, idx.Add([]string{"a"}, [][]float32{{1, 0}}))

	results, err := idx.Search([]float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestIndex_AddRejectsDimensionMismatch(t *testing.T) {
	idx := New(2)
	err := idx.Add([]string{"a"}, [][]float32{{1, 2, 3}})
	assert.Error(t, err)
}

func TestIndex_SaveLoadRoundTrip(t *testing.T) {
	idx := New(3)
	require.NoError(t, idx.Add(
		[]string{"x", "y"},
		[][]float32{{1, 2, 3}, {4, 5, 6}},
	))

	path := filepath.Join(t.TempDir(), "vectors.idx")
	require.NoError(t, idx.Save(path))
	assert.True(t, Exists(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, idx.Size(), loaded.Size())

	results, err := loaded.Search([]float32{1, 2, 3}, 2)
	require.NoError(t, err)
	assert.Equal(t, "x", results[0].ChunkID)
}

func TestIndex_AllVectorsHaveUnitNorm(t *testing.T) {
	idx := New(3)
	require.NoError(t, idx.Add([]string{"a", "b"}, [][]float32{{2, 0, 0}, {1, 1, 1}}))

	for _, v := range idx.vectors {
		var sumSquares float64
		for _, x := range v {
			sumSquares += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(sumSquares), 1e-6)
	}
}
