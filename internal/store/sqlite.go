package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping() error {
	return s.db.Ping()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        username TEXT UNIQUE NOT NULL,
        email TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        role TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('user', 'admin')),
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS documents (
        id TEXT PRIMARY KEY, -- UUID
        username TEXT NOT NULL,
        filename TEXT NOT NULL,
        file_path TEXT NOT NULL,
        upload_date DATETIME DEFAULT CURRENT_TIMESTAMP,
        file_size INTEGER NOT NULL DEFAULT 0,
        is_indexed BOOLEAN NOT NULL DEFAULT FALSE,
        FOREIGN KEY (username) REFERENCES users (username)
    );

    CREATE TABLE IF NOT EXISTS chat_history (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        session_id TEXT NOT NULL,
        username TEXT NOT NULL,
        message TEXT NOT NULL,
        response TEXT NOT NULL,
        document_ids TEXT, -- JSON array of document UUIDs
        timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (username) REFERENCES users (username)
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods

func (s *SQLiteStore) GetUserByUsername(username string) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, username, email, password_hash, role, created_at FROM users WHERE username = ?", username).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) CreateUser(username, email, passwordHash, role string) (*User, error) {
	res, err := s.db.Exec("INSERT INTO users (username, email, password_hash, role) VALUES (?, ?, ?, ?)",
		username, email, passwordHash, role)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.getUserByID(id)
}

func (s *SQLiteStore) getUserByID(id int64) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, username, email, password_hash, role, created_at FROM users WHERE id = ?", id).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) GetAllUsers() ([]User, error) {
	rows, err := s.db.Query("SELECT id, username, email, password_hash, role, created_at FROM users ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, user)
	}
	return users, nil
}

// DeleteUser removes the user together with their documents and chat history.
func (s *SQLiteStore) DeleteUser(username string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delete user tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM documents WHERE username = ?", username); err != nil {
		return fmt.Errorf("failed to delete user documents: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM chat_history WHERE username = ?", username); err != nil {
		return fmt.Errorf("failed to delete user chat history: %w", err)
	}
	res, err := tx.Exec("DELETE FROM users WHERE username = ?", username)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("user not found")
	}
	return tx.Commit()
}

// Document methods

func (s *SQLiteStore) CreateDocument(doc *Document) error {
	if doc.UploadDate.IsZero() {
		doc.UploadDate = time.Now()
	}
	stmt, err := s.db.Prepare("INSERT INTO documents (id, username, filename, file_path, upload_date, file_size, is_indexed) VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare document insert: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(doc.ID, doc.Username, doc.Filename, doc.FilePath, doc.UploadDate, doc.FileSize, doc.IsIndexed)
	if err != nil {
		return fmt.Errorf("failed to execute document insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDocumentByID(id string) (*Document, error) {
	var doc Document
	err := s.db.QueryRow("SELECT id, username, filename, file_path, upload_date, file_size, is_indexed FROM documents WHERE id = ?", id).
		Scan(&doc.ID, &doc.Username, &doc.Filename, &doc.FilePath, &doc.UploadDate, &doc.FileSize, &doc.IsIndexed)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

func (s *SQLiteStore) GetDocumentsByUsername(username string) ([]Document, error) {
	return s.queryDocuments("SELECT id, username, filename, file_path, upload_date, file_size, is_indexed FROM documents WHERE username = ? ORDER BY upload_date DESC", username)
}

func (s *SQLiteStore) GetAllDocuments() ([]Document, error) {
	return s.queryDocuments("SELECT id, username, filename, file_path, upload_date, file_size, is_indexed FROM documents ORDER BY upload_date DESC")
}

// ListIndexedDocuments returns every document that contributed to the current
// vector index, in upload order. The index manager re-reads this set on rebuild.
func (s *SQLiteStore) ListIndexedDocuments() ([]Document, error) {
	return s.queryDocuments("SELECT id, username, filename, file_path, upload_date, file_size, is_indexed FROM documents WHERE is_indexed = TRUE ORDER BY upload_date ASC")
}

func (s *SQLiteStore) queryDocuments(query string, args ...any) ([]Document, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Username, &doc.Filename, &doc.FilePath, &doc.UploadDate, &doc.FileSize, &doc.IsIndexed); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *SQLiteStore) MarkIndexed(id string, indexed bool) error {
	stmt, err := s.db.Prepare("UPDATE documents SET is_indexed = ? WHERE id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare indexed update: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.Exec(indexed, id)
	if err != nil {
		return fmt.Errorf("failed to execute indexed update: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("document not found, indexed flag not updated")
	}
	return nil
}

func (s *SQLiteStore) DeleteDocument(id string) error {
	res, err := s.db.Exec("DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("document not found")
	}
	return nil
}

// Chat history methods

func (s *SQLiteStore) CreateChatEntry(entry *ChatEntry) error {
	docIDsJSON, err := json.Marshal(entry.DocumentIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal document ids: %w", err)
	}
	entry.Timestamp = time.Now()

	stmt, err := s.db.Prepare("INSERT INTO chat_history (session_id, username, message, response, document_ids, timestamp) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare chat entry insert: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.Exec(entry.SessionID, entry.Username, entry.Message, entry.Response, string(docIDsJSON), entry.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to execute chat entry insert: %w", err)
	}
	entry.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) GetSessionHistory(sessionID, username string) ([]ChatEntry, error) {
	rows, err := s.db.Query(
		"SELECT id, session_id, username, message, response, document_ids, timestamp FROM chat_history WHERE session_id = ? AND username = ? ORDER BY timestamp ASC",
		sessionID, username)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat history: %w", err)
	}
	defer rows.Close()

	var entries []ChatEntry
	for rows.Next() {
		var entry ChatEntry
		var docIDsJSON sql.NullString
		if err := rows.Scan(&entry.ID, &entry.SessionID, &entry.Username, &entry.Message, &entry.Response, &docIDsJSON, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan chat history row: %w", err)
		}
		if docIDsJSON.Valid && docIDsJSON.String != "" {
			if err := json.Unmarshal([]byte(docIDsJSON.String), &entry.DocumentIDs); err != nil {
				log.Printf("Warning: failed to unmarshal document ids for chat entry %d: %v", entry.ID, err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Admin methods

func (s *SQLiteStore) GetAdminStats() (*AdminStats, error) {
	var stats AdminStats
	if err := s.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&stats.TotalUsers); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM documents").Scan(&stats.TotalDocuments); err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(DISTINCT session_id) FROM chat_history").Scan(&stats.TotalChats); err != nil {
		return nil, fmt.Errorf("failed to count chat sessions: %w", err)
	}
	return &stats, nil
}
