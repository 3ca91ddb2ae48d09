package store

import "time"

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Do not expose this in JSON responses
	Role         string    `json:"role"` // "user" or "admin"
	CreatedAt    time.Time `json:"created_at"`
}

type Document struct {
	ID         string    `json:"id"` // UUID
	Username   string    `json:"username"`
	Filename   string    `json:"filename"`
	FilePath   string    `json:"-"` // Server-local storage path, internal
	UploadDate time.Time `json:"upload_date"`
	FileSize   int64     `json:"file_size"`
	IsIndexed  bool      `json:"is_indexed"`
}

type ChatEntry struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	Username    string    `json:"username"`
	Message     string    `json:"message"`
	Response    string    `json:"response"`
	DocumentIDs []string  `json:"document_ids"`
	Timestamp   time.Time `json:"timestamp"`
}

type AdminStats struct {
	TotalUsers     int `json:"total_users"`
	TotalDocuments int `json:"total_documents"`
	TotalChats     int `json:"total_chats"`
}
