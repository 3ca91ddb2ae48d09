package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kannnnz/unnes-chat-app/internal/chunker"
	"github.com/Kannnnz/unnes-chat-app/internal/config"
	"github.com/Kannnnz/unnes-chat-app/internal/core"
	"github.com/Kannnnz/unnes-chat-app/internal/index"
	"github.com/Kannnnz/unnes-chat-app/internal/store"
)

func TestMain(m *testing.M) {
	config.AppConfig.JWTSecret = "test-secret"
	m.Run()
}

// fakeEmbedder counts vocabulary word occurrences, one dimension per word.
type fakeEmbedder struct{ vocab []string }

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, len(e.vocab))
	lower := strings.ToLower(text)
	for i, word := range e.vocab {
		vec[i] = float32(strings.Count(lower, word))
	}
	vec[len(vec)-1] += 0.001
	return vec, nil
}

func (e *fakeEmbedder) EmbeddingModel() string { return "fake-embedder" }

type fakeAnswerProvider struct{ answer string }

func (p *fakeAnswerProvider) GetAnswer(_ context.Context, _ string) (string, error) {
	return p.answer, nil
}

type testEnv struct {
	server  *httptest.Server
	dbStore *store.SQLiteStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dbStore, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbStore.Close() })

	embedder := &fakeEmbedder{vocab: []string{"alpha", "beta", "gamma"}}
	splitter := chunker.New(1000, 200)

	indexManager := index.NewManager(t.TempDir(), 5, embedder, dbStore, splitter)
	require.NoError(t, indexManager.LoadOrInit(context.Background()))

	uploadDir := t.TempDir()
	queryEngine := core.NewQueryEngine(indexManager, &fakeAnswerProvider{answer: "The answer is alpha."})
	chatService := core.NewChatService(dbStore, queryEngine)
	documentService := core.NewDocumentService(dbStore, indexManager, splitter, uploadDir)
	adminService := core.NewAdminService(dbStore, documentService, uploadDir)

	handler := NewAPIHandler(dbStore, chatService, documentService, adminService, indexManager)
	server := httptest.NewServer(NewRouter(handler))
	t.Cleanup(server.Close)

	return &testEnv{server: server, dbStore: dbStore}
}

func (env *testEnv) doJSON(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, env.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (env *testEnv) register(t *testing.T, username, email, password string) {
	t.Helper()
	resp := env.doJSON(t, http.MethodPost, "/api/v1/auth/register", "", RegisterRequest{
		Username: username, Email: email, Password: password,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func (env *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	resp := env.doJSON(t, http.MethodPost, "/api/v1/auth/token", "", LoginRequest{
		Username: username, Password: password,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	require.NotEmpty(t, body["access_token"])
	return body["access_token"]
}

func (env *testEnv) upload(t *testing.T, token, filename, content string) UploadResponse {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("files", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/v1/documents/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeBody[UploadResponse](t, resp)
}

func TestRegister_RoleFromEmailDomain(t *testing.T) {
	env := newTestEnv(t)

	resp := env.doJSON(t, http.MethodPost, "/api/v1/auth/register", "", RegisterRequest{
		Username: "student", Email: "student@students.unnes.ac.id", Password: "pw12345",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	student := decodeBody[store.User](t, resp)
	assert.Equal(t, "user", student.Role)

	resp = env.doJSON(t, http.MethodPost, "/api/v1/auth/register", "", RegisterRequest{
		Username: "staff", Email: "staff@mail.unnes.ac.id", Password: "pw12345",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	staff := decodeBody[store.User](t, resp)
	assert.Equal(t, "admin", staff.Role)
}

func TestRegister_MissingFields(t *testing.T) {
	env := newTestEnv(t)
	resp := env.doJSON(t, http.MethodPost, "/api/v1/auth/register", "", RegisterRequest{Username: "x"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogin_WrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@students.unnes.ac.id", "correct-pw")

	resp := env.doJSON(t, http.MethodPost, "/api/v1/auth/token", "", LoginRequest{Username: "alice", Password: "wrong"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.doJSON(t, http.MethodPost, "/api/v1/auth/token", "", LoginRequest{Username: "nobody", Password: "x"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProfile_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@students.unnes.ac.id", "pw12345")
	token := env.login(t, "alice", "pw12345")

	resp := env.doJSON(t, http.MethodGet, "/api/v1/auth/profile", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.doJSON(t, http.MethodGet, "/api/v1/auth/profile", "garbage-token", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.doJSON(t, http.MethodGet, "/api/v1/auth/profile", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	profile := decodeBody[store.User](t, resp)
	assert.Equal(t, "alice", profile.Username)
	assert.Empty(t, profile.PasswordHash, "password hash must never be serialized")
}

func TestUploadAndListDocuments(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@students.unnes.ac.id", "pw12345")
	token := env.login(t, "alice", "pw12345")

	uploaded := env.upload(t, token, "notes.txt", "alpha content about the topic")
	require.Len(t, uploaded.UploadedDocuments, 1)
	result := uploaded.UploadedDocuments[0]
	assert.NotEmpty(t, result.ID)
	assert.Equal(t, "notes.txt", result.Filename)
	assert.True(t, result.Indexed)
	assert.False(t, result.Skipped)

	resp := env.doJSON(t, http.MethodGet, "/api/v1/documents", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	docs := decodeBody[[]store.Document](t, resp)
	require.Len(t, docs, 1)
	assert.Equal(t, result.ID, docs[0].ID)
	assert.True(t, docs[0].IsIndexed)
}

func TestUpload_UnsupportedFileSkipped(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@students.unnes.ac.id", "pw12345")
	token := env.login(t, "alice", "pw12345")

	uploaded := env.upload(t, token, "image.png", "binary stuff")
	require.Len(t, uploaded.UploadedDocuments, 1)
	assert.True(t, uploaded.UploadedDocuments[0].Skipped)
	assert.False(t, uploaded.UploadedDocuments[0].Indexed)

	resp := env.doJSON(t, http.MethodGet, "/api/v1/documents", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	docs := decodeBody[[]store.Document](t, resp)
	assert.Empty(t, docs, "skipped uploads must not leave document records")
}

func TestChat_BeforeAnyDocuments(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@students.unnes.ac.id", "pw12345")
	token := env.login(t, "alice", "pw12345")

	resp := env.doJSON(t, http.MethodPost, "/api/v1/chat", token, ChatRequest{Message: "anything?"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestChatFlowWithHistory(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@students.unnes.ac.id", "pw12345")
	token := env.login(t, "alice", "pw12345")
	env.upload(t, token, "notes.txt", "alpha content about the topic")

	resp := env.doJSON(t, http.MethodPost, "/api/v1/chat", token, ChatRequest{Message: "what about alpha?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	chat := decodeBody[ChatResponse](t, resp)
	assert.NotEmpty(t, chat.SessionID, "a session id is minted when the client sends none")
	assert.Equal(t, "The answer is alpha.", chat.Response)

	// Second turn reuses the session.
	resp = env.doJSON(t, http.MethodPost, "/api/v1/chat", token, ChatRequest{SessionID: chat.SessionID, Message: "tell me more"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decodeBody[ChatResponse](t, resp)
	assert.Equal(t, chat.SessionID, second.SessionID)

	resp = env.doJSON(t, http.MethodGet, "/api/v1/chat/history/"+chat.SessionID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decodeBody[[]ChatHistoryItem](t, resp)
	require.Len(t, history, 4)
	assert.Equal(t, "user", history[0].Sender)
	assert.Equal(t, "what about alpha?", history[0].Content)
	assert.Equal(t, "assistant", history[1].Sender)
	assert.Equal(t, "The answer is alpha.", history[1].Content)
}

func TestChat_EmptyMessageRejected(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@students.unnes.ac.id", "pw12345")
	token := env.login(t, "alice", "pw12345")

	resp := env.doJSON(t, http.MethodPost, "/api/v1/chat", token, ChatRequest{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminRoutes_ForbiddenForRegularUsers(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@students.unnes.ac.id", "pw12345")
	token := env.login(t, "alice", "pw12345")

	resp := env.doJSON(t, http.MethodGet, "/api/v1/admin/stats", token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAdminStatsAndUsers(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@students.unnes.ac.id", "pw12345")
	env.register(t, "root", "root@mail.unnes.ac.id", "pw12345")
	adminToken := env.login(t, "root", "pw12345")

	resp := env.doJSON(t, http.MethodGet, "/api/v1/admin/stats", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeBody[store.AdminStats](t, resp)
	assert.Equal(t, 2, stats.TotalUsers)

	resp = env.doJSON(t, http.MethodGet, "/api/v1/admin/users", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	users := decodeBody[[]store.User](t, resp)
	assert.Len(t, users, 2)
}

func TestAdminDeleteUser(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@students.unnes.ac.id", "pw12345")
	env.register(t, "root", "root@mail.unnes.ac.id", "pw12345")
	adminToken := env.login(t, "root", "pw12345")

	// Self-deletion is rejected.
	resp := env.doJSON(t, http.MethodDelete, "/api/v1/admin/users/root", adminToken, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.doJSON(t, http.MethodDelete, "/api/v1/admin/users/alice", adminToken, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.doJSON(t, http.MethodDelete, "/api/v1/admin/users/alice", adminToken, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	user, err := env.dbStore.GetUserByUsername("alice")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestAdminDeleteDocument(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@students.unnes.ac.id", "pw12345")
	env.register(t, "root", "root@mail.unnes.ac.id", "pw12345")
	userToken := env.login(t, "alice", "pw12345")
	adminToken := env.login(t, "root", "pw12345")

	uploaded := env.upload(t, userToken, "notes.txt", "alpha content about the topic")
	docID := uploaded.UploadedDocuments[0].ID

	resp := env.doJSON(t, http.MethodDelete, "/api/v1/admin/documents/"+docID, adminToken, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.doJSON(t, http.MethodDelete, "/api/v1/admin/documents/"+docID, adminToken, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	doc, err := env.dbStore.GetDocumentByID(docID)
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.doJSON(t, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "degraded", body["status"], "no documents indexed yet")
	assert.Equal(t, "connected", body["database"])
	assert.Equal(t, "empty", body["index_state"])
}
