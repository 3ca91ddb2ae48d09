package index

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Kannnnz/unnes-chat-app/internal/chunker"
	"github.com/Kannnnz/unnes-chat-app/internal/utils"
)

// Persisted artifact names under the vector store directory. Both are
// rewritten together on every successful mutation.
const (
	VectorsFilename = "vectors.gob"
	ChunksFilename  = "chunks.json"
)

// Index is an ordered collection of (embedding, chunk) pairs searched by
// brute-force cosine similarity. An Index is immutable once published by the
// Manager: mutations build a new Index and swap it in.
type Index struct {
	dimension int
	model     string
	vectors   [][]float32
	chunks    []chunker.Chunk
}

// ScoredChunk is a retrieval hit.
type ScoredChunk struct {
	Chunk      chunker.Chunk
	Similarity float32
}

func New(dimension int, model string) (*Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dimension)
	}
	return &Index{dimension: dimension, model: model}, nil
}

func (ix *Index) Size() int      { return len(ix.vectors) }
func (ix *Index) Dimension() int { return ix.dimension }
func (ix *Index) Model() string  { return ix.model }

// Add appends embedded chunks. Every vector must match the index dimension.
func (ix *Index) Add(vectors [][]float32, chunks []chunker.Chunk) error {
	if len(vectors) != len(chunks) {
		return fmt.Errorf("vectors and chunks length mismatch: %d vs %d", len(vectors), len(chunks))
	}
	for i, vec := range vectors {
		if len(vec) != ix.dimension {
			return fmt.Errorf("vector %d has dimension %d, index expects %d", i, len(vec), ix.dimension)
		}
	}
	ix.vectors = append(ix.vectors, vectors...)
	ix.chunks = append(ix.chunks, chunks...)
	return nil
}

// Clone returns a new Index sharing no slice headers with the receiver, so
// the original can keep serving reads while the clone is grown.
func (ix *Index) Clone() *Index {
	next := &Index{dimension: ix.dimension, model: ix.model}
	next.vectors = append(next.vectors, ix.vectors...)
	next.chunks = append(next.chunks, ix.chunks...)
	return next
}

// Search returns the top k chunks by cosine similarity, highest first, ties
// broken by insertion order. A non-nil documentIDs set restricts hits to
// chunks owned by those documents.
func (ix *Index) Search(query []float32, k int, documentIDs map[string]bool) ([]ScoredChunk, error) {
	if len(query) != ix.dimension {
		return nil, fmt.Errorf("query has dimension %d, index expects %d", len(query), ix.dimension)
	}
	if k <= 0 {
		k = 5
	}

	scored := make([]ScoredChunk, 0, len(ix.vectors))
	for i, vec := range ix.vectors {
		if documentIDs != nil && !documentIDs[ix.chunks[i].DocumentID] {
			continue
		}
		similarity, err := utils.CosineSimilarity(query, vec)
		if err != nil {
			return nil, fmt.Errorf("similarity for chunk %d: %w", i, err)
		}
		scored = append(scored, ScoredChunk{Chunk: ix.chunks[i], Similarity: similarity})
	}

	// Stable sort keeps insertion order among equal scores.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

// chunksFile is the JSON metadata artifact paired with the binary vectors.
type chunksFile struct {
	Model     string          `json:"model"`
	Dimension int             `json:"dimension"`
	Chunks    []chunker.Chunk `json:"chunks"`
}

// Save writes both artifacts to dir. Each is written to a temporary sibling
// and renamed so a crash mid-write never leaves a partial pair behind.
func (ix *Index) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create vector store dir: %w", err)
	}

	vectorsPath := filepath.Join(dir, VectorsFilename)
	tmpVectors := vectorsPath + ".tmp"
	vf, err := os.Create(tmpVectors)
	if err != nil {
		return fmt.Errorf("failed to create vectors file: %w", err)
	}
	if err := gob.NewEncoder(vf).Encode(ix.vectors); err != nil {
		vf.Close()
		os.Remove(tmpVectors)
		return fmt.Errorf("failed to encode vectors: %w", err)
	}
	if err := vf.Close(); err != nil {
		os.Remove(tmpVectors)
		return fmt.Errorf("failed to close vectors file: %w", err)
	}

	chunksPath := filepath.Join(dir, ChunksFilename)
	tmpChunks := chunksPath + ".tmp"
	meta := chunksFile{Model: ix.model, Dimension: ix.dimension, Chunks: ix.chunks}
	data, err := json.Marshal(meta)
	if err != nil {
		os.Remove(tmpVectors)
		return fmt.Errorf("failed to marshal chunk metadata: %w", err)
	}
	if err := os.WriteFile(tmpChunks, data, 0o644); err != nil {
		os.Remove(tmpVectors)
		return fmt.Errorf("failed to write chunk metadata: %w", err)
	}

	if err := os.Rename(tmpVectors, vectorsPath); err != nil {
		os.Remove(tmpVectors)
		os.Remove(tmpChunks)
		return fmt.Errorf("failed to publish vectors file: %w", err)
	}
	if err := os.Rename(tmpChunks, chunksPath); err != nil {
		os.Remove(tmpChunks)
		return fmt.Errorf("failed to publish chunk metadata: %w", err)
	}
	return nil
}

// Load reads a persisted index pair from dir. Returns os.ErrNotExist (wrapped)
// when no index has been persisted yet.
func Load(dir string) (*Index, error) {
	vectorsPath := filepath.Join(dir, VectorsFilename)
	chunksPath := filepath.Join(dir, ChunksFilename)

	data, err := os.ReadFile(chunksPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk metadata: %w", err)
	}
	var meta chunksFile
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chunk metadata: %w", err)
	}

	vf, err := os.Open(vectorsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open vectors file: %w", err)
	}
	defer vf.Close()

	var vectors [][]float32
	if err := gob.NewDecoder(vf).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("failed to decode vectors: %w", err)
	}

	if len(vectors) != len(meta.Chunks) {
		return nil, fmt.Errorf("corrupt index: %d vectors but %d chunks", len(vectors), len(meta.Chunks))
	}
	for i, vec := range vectors {
		if len(vec) != meta.Dimension {
			return nil, fmt.Errorf("corrupt index: vector %d has dimension %d, metadata says %d", i, len(vec), meta.Dimension)
		}
	}

	return &Index{
		dimension: meta.Dimension,
		model:     meta.Model,
		vectors:   vectors,
		chunks:    meta.Chunks,
	}, nil
}

// Exists reports whether a persisted index pair is present in dir.
func Exists(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, ChunksFilename)); err != nil {
		return false
	}
	if _, err := os.Stat(filepath.Join(dir, VectorsFilename)); err != nil {
		return false
	}
	return true
}

// Remove deletes the persisted pair, ignoring files that are already gone.
func Remove(dir string) error {
	for _, name := range []string{VectorsFilename, ChunksFilename} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}
