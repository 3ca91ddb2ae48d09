package core

import (
	"context"
	"fmt"

	"github.com/Kannnnz/unnes-chat-app/internal/store"
)

// ChatService persists per-session question/answer history around the query
// engine.
type ChatService struct {
	dbStore *store.SQLiteStore
	engine  *QueryEngine
}

func NewChatService(db *store.SQLiteStore, engine *QueryEngine) *ChatService {
	return &ChatService{
		dbStore: db,
		engine:  engine,
	}
}

// ProcessMessage answers the message grounded in the selected documents (all
// indexed documents when documentIDs is empty) and records the exchange under
// the session. index.ErrNotReady passes through so the handler can report
// service-unavailable.
func (s *ChatService) ProcessMessage(ctx context.Context, username, sessionID, message string, documentIDs []string) (*store.ChatEntry, error) {
	answer, err := s.engine.Answer(ctx, message, documentIDs)
	if err != nil {
		return nil, err
	}

	entry := store.ChatEntry{
		SessionID:   sessionID,
		Username:    username,
		Message:     message,
		Response:    answer,
		DocumentIDs: documentIDs,
	}
	if err := s.dbStore.CreateChatEntry(&entry); err != nil {
		return nil, fmt.Errorf("failed to store chat entry: %w", err)
	}
	return &entry, nil
}

func (s *ChatService) GetSessionHistory(sessionID, username string) ([]store.ChatEntry, error) {
	return s.dbStore.GetSessionHistory(sessionID, username)
}
