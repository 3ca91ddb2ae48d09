package index

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/Kannnnz/unnes-chat-app/internal/chunker"
	"github.com/Kannnnz/unnes-chat-app/internal/loader"
	"github.com/Kannnnz/unnes-chat-app/internal/store"
)

// ErrNotReady is returned by Query when no usable index is loaded. Callers
// surface it as service-unavailable rather than an internal error.
var ErrNotReady = errors.New("vector index is not ready")

// State is the index manager lifecycle state. Transitions are explicit;
// nothing infers readiness from the shape of the loaded structures.
type State int

const (
	StateUninitialized State = iota // no index loaded, no file on disk
	StateEmpty                      // index loaded with zero vectors
	StateReady                      // index has vectors and can serve queries
	StateRebuilding                 // a rebuild is in flight
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateEmpty:
		return "empty"
	case StateReady:
		return "ready"
	case StateRebuilding:
		return "rebuilding"
	default:
		return "unknown"
	}
}

// Embedder maps text to a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbeddingModel() string
}

// RecordStore is the slice of the relational store the manager needs for a
// rebuild: the authoritative list of documents that should be in the index.
type RecordStore interface {
	ListIndexedDocuments() ([]store.Document, error)
}

// Report summarizes a batch indexing operation so callers can distinguish
// "nothing to do" from per-document failures without digging through logs.
type Report struct {
	DocumentsProcessed int      `json:"documents_processed"`
	DocumentsSkipped   int      `json:"documents_skipped"`
	ChunksIndexed      int      `json:"chunks_indexed"`
	Failures           []string `json:"failures,omitempty"`
}

// Manager exclusively owns the in-memory Index and its persisted form.
// Mutations (AddDocuments, Rebuild) are serialized by writeMu and publish a
// fully built replacement index, so concurrent queries only ever observe a
// complete snapshot.
type Manager struct {
	dir      string
	topK     int
	embedder Embedder
	records  RecordStore
	splitter *chunker.Chunker

	writeMu sync.Mutex // serializes all mutating operations

	mu        sync.RWMutex
	current   *Index
	state     State
	prevState State // state before an in-flight rebuild
}

func NewManager(dir string, topK int, embedder Embedder, records RecordStore, splitter *chunker.Chunker) *Manager {
	if topK <= 0 {
		topK = 5
	}
	return &Manager{
		dir:      dir,
		topK:     topK,
		embedder: embedder,
		records:  records,
		splitter: splitter,
		state:    StateUninitialized,
	}
}

// LoadOrInit loads the persisted index if one exists, otherwise creates an
// empty index dimensioned for the configured embedding model. The model is
// probed once for its output dimensionality; a persisted index built with a
// different dimension is a fatal configuration error (fail closed).
func (m *Manager) LoadOrInit(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	probe, err := m.embedder.Embed(ctx, "dimension probe")
	if err != nil {
		return fmt.Errorf("failed to probe embedding dimension: %w", err)
	}
	if len(probe) == 0 {
		return fmt.Errorf("embedding provider returned an empty probe vector")
	}
	dimension := len(probe)
	model := m.embedder.EmbeddingModel()

	if Exists(m.dir) {
		ix, err := Load(m.dir)
		if err != nil {
			return fmt.Errorf("failed to load persisted index: %w", err)
		}
		if ix.Dimension() != dimension {
			return fmt.Errorf("persisted index dimension %d does not match embedding model %q dimension %d; refusing to serve",
				ix.Dimension(), model, dimension)
		}
		if ix.Model() != model {
			log.Printf("Warning: persisted index was built with embedding model %q, currently configured %q (dimensions match)", ix.Model(), model)
		}
		state := StateEmpty
		if ix.Size() > 0 {
			state = StateReady
		}
		m.publish(ix, state)
		log.Printf("Loaded vector index with %d chunks (state: %s)", ix.Size(), state)
		return nil
	}

	ix, err := New(dimension, model)
	if err != nil {
		return err
	}
	m.publish(ix, StateEmpty)
	log.Printf("No persisted vector index found, initialized empty index (dimension %d)", dimension)
	return nil
}

// AddDocuments embeds the chunks and inserts them into the index, then
// persists. An empty batch is a no-op. When no index has been loaded yet the
// batch constructs a fresh one, dimensioned from its own vectors. On any
// failure the previous index stays authoritative, in memory and on disk.
func (m *Manager) AddDocuments(ctx context.Context, chunks []chunker.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	vectors, err := m.embedChunks(ctx, chunks)
	if err != nil {
		return err
	}

	current, _ := m.snapshot()
	var next *Index
	if current != nil {
		next = current.Clone()
	} else {
		next, err = New(len(vectors[0]), m.embedder.EmbeddingModel())
		if err != nil {
			return err
		}
	}
	if err := next.Add(vectors, chunks); err != nil {
		return fmt.Errorf("failed to add chunks to index: %w", err)
	}
	if err := next.Save(m.dir); err != nil {
		return fmt.Errorf("failed to persist index: %w", err)
	}

	m.publish(next, StateReady)
	return nil
}

// Rebuild reconstructs the entire index from the indexed document records.
// Documents whose file has gone missing are skipped, not fatal. Either the
// new index fully replaces the old one, or on failure the old one remains
// authoritative. An empty result clears the persisted index. Queries in
// flight keep reading the pre-rebuild snapshot.
func (m *Manager) Rebuild(ctx context.Context) (*Report, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	current, state := m.snapshot()
	if state == StateUninitialized || current == nil {
		return nil, fmt.Errorf("index manager is not initialized")
	}

	m.beginRebuild()
	defer m.endRebuild()

	report := &Report{}

	docs, err := m.records.ListIndexedDocuments()
	if err != nil {
		return nil, fmt.Errorf("failed to list indexed documents: %w", err)
	}
	log.Printf("Rebuilding vector index from %d document records", len(docs))

	var all []chunker.Chunk
	for _, doc := range docs {
		if _, err := os.Stat(doc.FilePath); err != nil {
			log.Printf("Rebuild: skipping document %s (%s): file missing", doc.ID, doc.Filename)
			report.DocumentsSkipped++
			continue
		}
		segments, err := loader.Load(doc.FilePath)
		if err != nil {
			log.Printf("Rebuild: skipping document %s (%s): %v", doc.ID, doc.Filename, err)
			report.DocumentsSkipped++
			report.Failures = append(report.Failures, fmt.Sprintf("%s: %v", doc.ID, err))
			continue
		}
		chunks := m.splitter.Split(segments, doc.ID, doc.Username, doc.Filename)
		if len(chunks) == 0 {
			report.DocumentsSkipped++
			continue
		}
		all = append(all, chunks...)
		report.DocumentsProcessed++
	}

	if len(all) == 0 {
		if err := Remove(m.dir); err != nil {
			return nil, fmt.Errorf("failed to clear persisted index: %w", err)
		}
		empty, err := New(current.Dimension(), current.Model())
		if err != nil {
			return nil, err
		}
		m.publish(empty, StateEmpty)
		log.Println("Rebuild produced no chunks, index cleared")
		return report, nil
	}

	vectors, err := m.embedChunks(ctx, all)
	if err != nil {
		return nil, err
	}

	next, err := New(current.Dimension(), current.Model())
	if err != nil {
		return nil, err
	}
	if err := next.Add(vectors, all); err != nil {
		return nil, fmt.Errorf("failed to build replacement index: %w", err)
	}
	if err := next.Save(m.dir); err != nil {
		return nil, fmt.Errorf("failed to persist rebuilt index: %w", err)
	}

	m.publish(next, StateReady)
	report.ChunksIndexed = len(all)
	log.Printf("Rebuild complete: %d documents, %d chunks indexed, %d skipped",
		report.DocumentsProcessed, report.ChunksIndexed, report.DocumentsSkipped)
	return report, nil
}

// Query retrieves the top-K chunks most similar to text. A non-empty
// documentIDs slice restricts retrieval to those documents. Returns
// ErrNotReady when no usable index is available.
func (m *Manager) Query(ctx context.Context, text string, documentIDs []string) ([]ScoredChunk, error) {
	m.mu.RLock()
	ix := m.current
	state := m.state
	prev := m.prevState
	m.mu.RUnlock()

	queryable := state == StateReady || (state == StateRebuilding && prev == StateReady)
	if !queryable || ix == nil {
		return nil, ErrNotReady
	}

	query, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var filter map[string]bool
	if len(documentIDs) > 0 {
		filter = make(map[string]bool, len(documentIDs))
		for _, id := range documentIDs {
			filter[id] = true
		}
	}
	return ix.Search(query, m.topK, filter)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Ready reports whether queries can be served right now.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateReady || (m.state == StateRebuilding && m.prevState == StateReady)
}

// Size returns the number of vectors in the current index.
func (m *Manager) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return 0
	}
	return m.current.Size()
}

func (m *Manager) embedChunks(ctx context.Context, chunks []chunker.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for i, chunk := range chunks {
		// A failed provider call fails the whole operation once; no retries.
		vec, err := m.embedder.Embed(ctx, chunk.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunk %d of document %s: %w", i, chunk.DocumentID, err)
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

func (m *Manager) snapshot() (*Index, State) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.state
}

func (m *Manager) publish(ix *Index, state State) {
	m.mu.Lock()
	m.current = ix
	m.state = state
	m.mu.Unlock()
}

func (m *Manager) beginRebuild() {
	m.mu.Lock()
	m.prevState = m.state
	m.state = StateRebuilding
	m.mu.Unlock()
}

// endRebuild restores the pre-rebuild state if the rebuild bailed out before
// publishing a replacement index.
func (m *Manager) endRebuild() {
	m.mu.Lock()
	if m.state == StateRebuilding {
		m.state = m.prevState
	}
	m.mu.Unlock()
}
