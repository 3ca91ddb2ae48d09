package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/Kannnnz/unnes-chat-app/internal/index"
)

const (
	// NoAnswerMessage is returned when retrieval or the model produced
	// nothing usable for the question.
	NoAnswerMessage = "I could not find an answer to that in the uploaded documents."

	// DegradedAnswerMessage is returned when the language model call failed.
	DegradedAnswerMessage = "I'm sorry, I encountered an error while processing your request. Please try again."

	answerPromptTemplate = "Use the following document context to answer the question.\n\n" +
		"--- CONTEXT START ---\n%s--- CONTEXT END ---\n\nQuestion: %s\nAnswer:"
)

// Retriever is the slice of the index manager the engine depends on.
type Retriever interface {
	Query(ctx context.Context, text string, documentIDs []string) ([]index.ScoredChunk, error)
	Ready() bool
}

// AnswerProvider runs a single grounded completion.
type AnswerProvider interface {
	GetAnswer(ctx context.Context, prompt string) (string, error)
}

// QueryEngine answers questions grounded in retrieved document chunks.
type QueryEngine struct {
	retriever Retriever
	llm       AnswerProvider
}

func NewQueryEngine(retriever Retriever, llm AnswerProvider) *QueryEngine {
	return &QueryEngine{retriever: retriever, llm: llm}
}

// Answer retrieves the top chunks for question (restricted to documentIDs if
// non-empty), builds a context-constrained prompt and returns the model's
// text. It returns index.ErrNotReady when no index is available; provider
// failures degrade to a fallback answer rather than an error.
func (e *QueryEngine) Answer(ctx context.Context, question string, documentIDs []string) (string, error) {
	if !e.retriever.Ready() {
		return "", index.ErrNotReady
	}

	hits, err := e.retriever.Query(ctx, question, documentIDs)
	if err != nil {
		if errors.Is(err, index.ErrNotReady) {
			return "", err
		}
		log.Printf("Context retrieval failed for question %.50q: %v", question, err)
		return DegradedAnswerMessage, nil
	}
	if len(hits) == 0 {
		return NoAnswerMessage, nil
	}

	var contextBuilder strings.Builder
	for _, hit := range hits {
		contextBuilder.WriteString(hit.Chunk.Text)
		contextBuilder.WriteString("\n\n") // Separate chunks clearly
	}

	prompt := fmt.Sprintf(answerPromptTemplate, contextBuilder.String(), question)

	answer, err := e.llm.GetAnswer(ctx, prompt)
	if err != nil {
		log.Printf("LLM completion failed for question %.50q: %v", question, err)
		return DegradedAnswerMessage, nil
	}
	if strings.TrimSpace(answer) == "" {
		return NoAnswerMessage, nil
	}
	return answer, nil
}
