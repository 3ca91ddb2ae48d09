package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Kannnnz/unnes-chat-app/internal/api"
	"github.com/Kannnnz/unnes-chat-app/internal/chunker"
	"github.com/Kannnnz/unnes-chat-app/internal/config"
	"github.com/Kannnnz/unnes-chat-app/internal/core"
	"github.com/Kannnnz/unnes-chat-app/internal/index"
	"github.com/Kannnnz/unnes-chat-app/internal/store"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if config.AppConfig.LogLevel == "DEBUG" {
		log.Println("Service starting in DEBUG mode")
	}

	if err := os.MkdirAll(config.AppConfig.UploadDir, 0o755); err != nil {
		log.Fatalf("Failed to create upload directory: %v", err)
	}
	if err := os.MkdirAll(config.AppConfig.VectorStoreDir, 0o755); err != nil {
		log.Fatalf("Failed to create vector store directory: %v", err)
	}

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	// Initialize LLM service
	llmService := core.NewLLMService()
	defer llmService.Close()

	// Initialize the vector index manager and load any persisted index.
	splitter := chunker.New(config.AppConfig.ChunkSize, config.AppConfig.ChunkOverlap)
	indexManager := index.NewManager(config.AppConfig.VectorStoreDir, config.AppConfig.RAGTopK, llmService, dbStore, splitter)
	if err := indexManager.LoadOrInit(context.Background()); err != nil {
		log.Fatalf("Failed to initialize vector index: %v", err)
	}

	// Initialize services
	queryEngine := core.NewQueryEngine(indexManager, llmService)
	chatService := core.NewChatService(dbStore, queryEngine)
	documentService := core.NewDocumentService(dbStore, indexManager, splitter, config.AppConfig.UploadDir)
	adminService := core.NewAdminService(dbStore, documentService, config.AppConfig.UploadDir)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(dbStore, chatService, documentService, adminService, indexManager)
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second, // Adjusted for potentially slower LLM handshakes
		WriteTimeout: 60 * time.Second, // LLM calls can take time
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give active connections time to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting gracefully")
}
