package chunker

import (
	"strings"

	"github.com/Kannnnz/unnes-chat-app/internal/loader"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of overlapping characters.
const DefaultChunkOverlap = 200

// Chunk is the unit stored in the vector index: a bounded span of document
// text plus the metadata needed to trace it back to its source.
type Chunk struct {
	DocumentID string `json:"document_id"`
	Username   string `json:"username"`
	Filename   string `json:"filename"`
	Page       int    `json:"page"`
	Seq        int    `json:"seq"`
	Text       string `json:"text"`
}

// Chunker splits loader segments into overlapping fixed-size windows.
// Same input and configuration always produce the same boundaries.
type Chunker struct {
	chunkSize int
	overlap   int
}

func New(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	// Overlap must leave room for the window to advance.
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}
}

// Split chunks every segment of a single document, propagating the segment's
// page into each chunk. Seq numbers run across the whole document. Windows
// that end up empty or whitespace-only are filtered out.
func (c *Chunker) Split(segments []loader.Segment, documentID, username, filename string) []Chunk {
	var chunks []Chunk
	seq := 0

	for _, segment := range segments {
		content := segment.Text
		start := 0
		for start < len(content) {
			end := start + c.chunkSize
			if end > len(content) {
				end = len(content)
			}

			text := content[start:end]
			if strings.TrimSpace(text) != "" {
				chunks = append(chunks, Chunk{
					DocumentID: documentID,
					Username:   username,
					Filename:   filename,
					Page:       segment.Page,
					Seq:        seq,
					Text:       text,
				})
				seq++
			}

			if end == len(content) {
				break
			}
			start += c.chunkSize - c.overlap
		}
	}
	return chunks
}
