package core

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/Kannnnz/unnes-chat-app/internal/store"
)

// AdminService covers the management surface: stats, user administration and
// cross-user document administration. Deletions trigger a full background
// index rebuild since the index has no targeted delete.
type AdminService struct {
	dbStore   *store.SQLiteStore
	documents *DocumentService
	uploadDir string
}

func NewAdminService(db *store.SQLiteStore, documents *DocumentService, uploadDir string) *AdminService {
	return &AdminService{
		dbStore:   db,
		documents: documents,
		uploadDir: uploadDir,
	}
}

func (s *AdminService) GetStats() (*store.AdminStats, error) {
	return s.dbStore.GetAdminStats()
}

func (s *AdminService) GetAllUsers() ([]store.User, error) {
	return s.dbStore.GetAllUsers()
}

// DeleteUser removes the user, their records and their uploaded files, then
// rebuilds the index to drop their content from retrieval.
func (s *AdminService) DeleteUser(username, requester string) error {
	if username == requester {
		return fmt.Errorf("cannot delete your own account")
	}

	if err := s.dbStore.DeleteUser(username); err != nil {
		return err
	}

	userDir := filepath.Join(s.uploadDir, username)
	if err := os.RemoveAll(userDir); err != nil {
		log.Printf("Failed to remove upload dir for deleted user %s: %v", username, err)
	}

	s.documents.RebuildIndex()
	return nil
}

func (s *AdminService) GetAllDocuments() ([]store.Document, error) {
	return s.dbStore.GetAllDocuments()
}

// DeleteDocument removes the stored file and the record, then rebuilds the
// index.
func (s *AdminService) DeleteDocument(documentID string) error {
	doc, err := s.dbStore.GetDocumentByID(documentID)
	if err != nil {
		return fmt.Errorf("failed to look up document: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("document not found")
	}

	if err := os.Remove(doc.FilePath); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to remove file for deleted document %s: %v", documentID, err)
	}

	if err := s.dbStore.DeleteDocument(documentID); err != nil {
		return err
	}

	s.documents.RebuildIndex()
	return nil
}
