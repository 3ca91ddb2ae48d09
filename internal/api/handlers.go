package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Kannnnz/unnes-chat-app/internal/auth"
	"github.com/Kannnnz/unnes-chat-app/internal/core"
	"github.com/Kannnnz/unnes-chat-app/internal/index"
	"github.com/Kannnnz/unnes-chat-app/internal/store"
)

// adminEmailDomain grants the admin role to staff accounts on registration.
const adminEmailDomain = "@mail.unnes.ac.id"

type contextKey string

const userContextKey contextKey = "user"

type APIHandler struct {
	dbStore         *store.SQLiteStore
	chatService     *core.ChatService
	documentService *core.DocumentService
	adminService    *core.AdminService
	indexManager    *index.Manager
}

func NewAPIHandler(db *store.SQLiteStore, cs *core.ChatService, ds *core.DocumentService, as *core.AdminService, im *index.Manager) *APIHandler {
	return &APIHandler{
		dbStore:         db,
		chatService:     cs,
		documentService: ds,
		adminService:    as,
		indexManager:    im,
	}
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		username, err := auth.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		user, err := h.dbStore.GetUserByUsername(username)
		if err != nil {
			log.Printf("Error in JWTAuthMiddleware for user %s: %v", username, err)
			http.Error(w, "Failed to process user identity", http.StatusInternalServerError)
			return
		}

		if user == nil {
			http.Error(w, "User not found", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *APIHandler) AdminOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := currentUser(r)
		if user.Role != "admin" {
			http.Error(w, "The user doesn't have enough privileges", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func currentUser(r *http.Request) *store.User {
	return r.Context().Value(userContextKey).(*store.User)
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *APIHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Email == "" || req.Password == "" {
		http.Error(w, "Username, email and password are required", http.StatusBadRequest)
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Printf("Error hashing password for user %s: %v", req.Username, err)
		http.Error(w, "Failed to process password", http.StatusInternalServerError)
		return
	}

	role := "user"
	if strings.HasSuffix(req.Email, adminEmailDomain) {
		role = "admin"
	}

	user, err := h.dbStore.CreateUser(req.Username, req.Email, hashedPassword, role)
	if err != nil {
		log.Printf("Error creating user %s: %v", req.Username, err)
		http.Error(w, "Failed to create user", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, "Username and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.dbStore.GetUserByUsername(req.Username)
	if err != nil {
		log.Printf("Error getting user %s: %v", req.Username, err)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateJWT(user.Username)
	if err != nil {
		log.Printf("Error generating JWT for user %s: %v", req.Username, err)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{
		"access_token": token,
		"token_type":   "bearer",
		"role":         user.Role,
	})
}

func (h *APIHandler) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(currentUser(r))
}

// maxUploadSize bounds a whole multipart upload request.
const maxUploadSize = 50 << 20 // 50 MiB

type UploadResponse struct {
	UploadedDocuments []core.UploadResult `json:"uploaded_documents"`
}

func (h *APIHandler) UploadDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "Invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		http.Error(w, "No files provided", http.StatusBadRequest)
		return
	}

	var results []core.UploadResult
	for _, header := range files {
		file, err := header.Open()
		if err != nil {
			log.Printf("Error opening uploaded file %s: %v", header.Filename, err)
			results = append(results, core.UploadResult{Filename: header.Filename, Skipped: true, Reason: "could not read upload"})
			continue
		}
		content, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			log.Printf("Error reading uploaded file %s: %v", header.Filename, err)
			results = append(results, core.UploadResult{Filename: header.Filename, Skipped: true, Reason: "could not read upload"})
			continue
		}

		result, err := h.documentService.UploadDocument(r.Context(), user.Username, header.Filename, content)
		if err != nil {
			log.Printf("Error processing upload %s for user %s: %v", header.Filename, user.Username, err)
			http.Error(w, "Failed to process upload", http.StatusInternalServerError)
			return
		}
		results = append(results, *result)
	}

	json.NewEncoder(w).Encode(UploadResponse{UploadedDocuments: results})
}

func (h *APIHandler) ListDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	docs, err := h.documentService.ListDocuments(user.Username)
	if err != nil {
		log.Printf("Error listing documents for user %s: %v", user.Username, err)
		http.Error(w, "Failed to list documents", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	json.NewEncoder(w).Encode(docs)
}

type ChatRequest struct {
	SessionID   string   `json:"session_id"`
	Message     string   `json:"message"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

type ChatResponse struct {
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "Message cannot be empty", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	entry, err := h.chatService.ProcessMessage(r.Context(), user.Username, req.SessionID, req.Message, req.DocumentIDs)
	if err != nil {
		if errors.Is(err, index.ErrNotReady) {
			http.Error(w, "The document system is not ready. Please upload documents first.", http.StatusServiceUnavailable)
			return
		}
		log.Printf("Error processing chat message for user %s: %v", user.Username, err)
		http.Error(w, "Failed to process message", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(ChatResponse{SessionID: entry.SessionID, Response: entry.Response})
}

type ChatHistoryItem struct {
	Sender    string `json:"sender"` // "user" or "assistant"
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

func (h *APIHandler) ChatHistoryHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	sessionID := chi.URLParam(r, "sessionID")

	entries, err := h.chatService.GetSessionHistory(sessionID, user.Username)
	if err != nil {
		log.Printf("Error getting chat history for user %s, session %s: %v", user.Username, sessionID, err)
		http.Error(w, "Failed to get chat history", http.StatusInternalServerError)
		return
	}

	// Each stored entry fans out to a user turn and an assistant turn.
	history := make([]ChatHistoryItem, 0, len(entries)*2)
	for _, entry := range entries {
		ts := entry.Timestamp.Format("2006-01-02T15:04:05Z07:00")
		history = append(history,
			ChatHistoryItem{Sender: "user", Content: entry.Message, Timestamp: ts},
			ChatHistoryItem{Sender: "assistant", Content: entry.Response, Timestamp: ts},
		)
	}
	json.NewEncoder(w).Encode(history)
}

func (h *APIHandler) AdminStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.adminService.GetStats()
	if err != nil {
		log.Printf("Error getting admin stats: %v", err)
		http.Error(w, "Failed to get stats", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(stats)
}

func (h *APIHandler) AdminListUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := h.adminService.GetAllUsers()
	if err != nil {
		log.Printf("Error listing users: %v", err)
		http.Error(w, "Failed to list users", http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []store.User{}
	}
	json.NewEncoder(w).Encode(users)
}

func (h *APIHandler) AdminDeleteUserHandler(w http.ResponseWriter, r *http.Request) {
	admin := currentUser(r)
	username := chi.URLParam(r, "username")

	err := h.adminService.DeleteUser(username, admin.Username)
	if err != nil {
		switch err.Error() {
		case "cannot delete your own account":
			http.Error(w, err.Error(), http.StatusBadRequest)
		case "user not found":
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			log.Printf("Error deleting user %s: %v", username, err)
			http.Error(w, "Failed to delete user", http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) AdminListDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	docs, err := h.adminService.GetAllDocuments()
	if err != nil {
		log.Printf("Error listing all documents: %v", err)
		http.Error(w, "Failed to list documents", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	json.NewEncoder(w).Encode(docs)
}

func (h *APIHandler) AdminDeleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")

	err := h.adminService.DeleteDocument(documentID)
	if err != nil {
		if err.Error() == "document not found" {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			log.Printf("Error deleting document %s: %v", documentID, err)
			http.Error(w, "Failed to delete document", http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	dbStatus := "connected"
	if err := h.dbStore.Ping(); err != nil {
		dbStatus = "disconnected"
	}

	indexState := h.indexManager.State().String()

	status := "healthy"
	if dbStatus != "connected" || !h.indexManager.Ready() {
		status = "degraded"
	}

	json.NewEncoder(w).Encode(map[string]any{
		"status":      status,
		"database":    dbStatus,
		"index_state": indexState,
		"index_size":  h.indexManager.Size(),
	})
}
