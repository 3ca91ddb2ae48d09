package core

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Kannnnz/unnes-chat-app/internal/chunker"
	"github.com/Kannnnz/unnes-chat-app/internal/index"
	"github.com/Kannnnz/unnes-chat-app/internal/loader"
	"github.com/Kannnnz/unnes-chat-app/internal/store"
)

// DocumentService owns the upload pipeline: store the file, extract and chunk
// its text, hand the chunks to the index manager, and keep the document
// record's indexed flag in sync with what actually made it into the index.
type DocumentService struct {
	dbStore   *store.SQLiteStore
	manager   *index.Manager
	splitter  *chunker.Chunker
	uploadDir string
}

func NewDocumentService(db *store.SQLiteStore, manager *index.Manager, splitter *chunker.Chunker, uploadDir string) *DocumentService {
	return &DocumentService{
		dbStore:   db,
		manager:   manager,
		splitter:  splitter,
		uploadDir: uploadDir,
	}
}

// UploadResult reports what happened to a single uploaded file. Skipped means
// no text could be extracted (unsupported type or empty content) and the
// upload was discarded; Indexed reports whether the chunks made it into the
// vector index.
type UploadResult struct {
	ID         string    `json:"id,omitempty"`
	Filename   string    `json:"filename"`
	UploadDate time.Time `json:"upload_date,omitempty"`
	Skipped    bool      `json:"skipped,omitempty"`
	Indexed    bool      `json:"indexed"`
	Reason     string    `json:"reason,omitempty"`
}

// UploadDocument stores content under the user's upload directory and runs it
// through the indexing pipeline. Files that yield no chunks are removed again
// and reported as skipped, not failed.
func (s *DocumentService) UploadDocument(ctx context.Context, username, filename string, content []byte) (*UploadResult, error) {
	docID := uuid.NewString()
	userDir := filepath.Join(s.uploadDir, username)
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}

	filePath := filepath.Join(userDir, docID+filepath.Ext(filename))
	if err := os.WriteFile(filePath, content, 0o644); err != nil {
		return nil, fmt.Errorf("failed to store uploaded file: %w", err)
	}

	segments, err := loader.Load(filePath)
	if err != nil {
		// Unreadable file: discard the upload, report the reason.
		os.Remove(filePath)
		log.Printf("Upload of %s by %s failed to load: %v", filename, username, err)
		return &UploadResult{Filename: filename, Skipped: true, Reason: "file could not be read"}, nil
	}

	chunks := s.splitter.Split(segments, docID, username, filename)
	if len(chunks) == 0 {
		os.Remove(filePath)
		return &UploadResult{Filename: filename, Skipped: true, Reason: "no text content could be extracted"}, nil
	}

	doc := &store.Document{
		ID:         docID,
		Username:   username,
		Filename:   filename,
		FilePath:   filePath,
		UploadDate: time.Now(),
		FileSize:   int64(len(content)),
		IsIndexed:  false,
	}
	if err := s.dbStore.CreateDocument(doc); err != nil {
		os.Remove(filePath)
		return nil, fmt.Errorf("failed to create document record: %w", err)
	}

	result := &UploadResult{ID: docID, Filename: filename, UploadDate: doc.UploadDate}

	if err := s.manager.AddDocuments(ctx, chunks); err != nil {
		// The record stays not-indexed; a later rebuild or re-upload can
		// pick it up. The upload itself still succeeded.
		log.Printf("Indexing failed for document %s (%s): %v", docID, filename, err)
		return result, nil
	}

	if err := s.dbStore.MarkIndexed(docID, true); err != nil {
		log.Printf("Failed to mark document %s as indexed: %v", docID, err)
	}
	result.Indexed = true
	return result, nil
}

func (s *DocumentService) ListDocuments(username string) ([]store.Document, error) {
	return s.dbStore.GetDocumentsByUsername(username)
}

// RebuildIndex triggers a full rebuild in the background. The index has no
// per-document delete, so this is the only path that removes deleted content;
// a known scalability limitation carried over deliberately.
func (s *DocumentService) RebuildIndex() {
	go func() {
		report, err := s.manager.Rebuild(context.Background())
		if err != nil {
			log.Printf("Background index rebuild failed: %v", err)
			return
		}
		log.Printf("Background index rebuild finished: %d documents, %d chunks, %d skipped",
			report.DocumentsProcessed, report.ChunksIndexed, report.DocumentsSkipped)
	}()
}
