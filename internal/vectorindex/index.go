// Package vectorindex implements a flat, exact inner-product nearest
// neighbour index over L2-normalised vectors (cosine-equivalent), with
// atomic gob-encoded persistence. Grounded on the teacher's
// internal/store/hnsw.go for its mutex-protected struct shape, id-mapping
// side table, and temp-file-then-rename Save/Load pattern — but replacing
// the approximate graph search with an exact linear scan, since the spec
// requires bit-reproducible nearest-neighbour rankings that an approximate
// index cannot guarantee (see DESIGN.md's dropped-dependency entry for
// github.com/coder/hnsw).
package vectorindex

import (
	"encoding/gob"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	nerrors "github.com/haruki-endo/notemind/internal/errors"
)

// Result is a single search hit.
type Result struct {
	ChunkID string
	Score   float32
}

// Index is a flat exact inner-product vector index.
type Index struct {
	mu         sync.RWMutex
	dimensions int
	vectors    [][]float32
	ids        []string
}

// persisted is the gob-encoded on-disk representation.
type persisted struct {
	Dimensions int
	Vectors    [][]float32
	IDs        []string
}

// New creates an empty index for vectors of the given dimensionality.
func New(dimensions int) *Index {
	return &Index{dimensions: dimensions}
}

// Add normalises and appends vectors, extending the id mapping in the same
// order as the vectors.
func (idx *Index) Add(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return nerrors.New(nerrors.ErrCodeInvalidInput, "ids and vectors length mismatch", nil)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, v := range vectors {
		if len(v) != idx.dimensions {
			return nerrors.New(nerrors.ErrCodeDimensionMismatch, "vector dimension mismatch", nil).
				WithDetail("expected", strconv.Itoa(idx.dimensions)).WithDetail("got", strconv.Itoa(len(v)))
		}
	}

	for i, v := range vectors {
		idx.vectors = append(idx.vectors, normalize(v))
		idx.ids = append(idx.ids, ids[i])
	}
	return nil
}

// Search L2-normalises query and returns the k highest inner-product
// matches in descending score order.
func (idx *Index) Search(query []float32, k int) ([]Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(query) != idx.dimensions {
		return nil, nerrors.New(nerrors.ErrCodeDimensionMismatch, "query dimension mismatch", nil)
	}
	if k <= 0 || len(idx.vectors) == 0 {
		return nil, nil
	}

	q := normalize(query)

	results := make([]Result, len(idx.vectors))
	for i, v := range idx.vectors {
		results[i] = Result{ChunkID: idx.ids[i], Score: dot(q, v)}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// Size returns the number of vectors stored.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}

// IsEmpty reports whether the index has no vectors.
func (idx *Index) IsEmpty() bool {
	return idx.Size() == 0
}

// Save persists the index and its id mapping atomically: both are
// gob-encoded together into one temp file that is renamed into place only
// once the encoding succeeds, so a reader never observes one without the
// other.
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nerrors.Wrap(nerrors.ErrCodeFilePermission, err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nerrors.Wrap(nerrors.ErrCodeFilePermission, err)
	}

	p := persisted{Dimensions: idx.dimensions, Vectors: idx.vectors, IDs: idx.ids}
	if err := gob.NewEncoder(f).Encode(p); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nerrors.Wrap(nerrors.ErrCodeCorruptIndex, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nerrors.Wrap(nerrors.ErrCodeCorruptIndex, err)
	}

	return os.Rename(tmpPath, path)
}

// Load reads the index persisted at path into a new Index.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nerrors.Wrap(nerrors.ErrCodeFileNotFound, err)
	}
	defer f.Close()

	var p persisted
	if err := gob.NewDecoder(f).Decode(&p); err != nil {
		return nil, nerrors.Wrap(nerrors.ErrCodeCorruptIndex, err)
	}

	return &Index{dimensions: p.Dimensions, vectors: p.Vectors, ids: p.IDs}, nil
}

// Exists reports whether a persisted index file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSquares)
	if norm == 0 {
		return append([]float32(nil), v...)
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

