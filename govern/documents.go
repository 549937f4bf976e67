package govern

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/concordlabs/concord/pipeline"
)

// DocumentRegistry is the in-memory governance document store.
type DocumentRegistry struct {
	mu        sync.RWMutex
	documents map[string]*pipeline.Document
}

// NewDocumentRegistry creates an empty registry.
func NewDocumentRegistry() *DocumentRegistry {
	return &DocumentRegistry{documents: make(map[string]*pipeline.Document)}
}

// GetDocument returns a copy of the document.
func (r *DocumentRegistry) GetDocument(_ context.Context, id string) (*pipeline.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.documents[id]
	if !ok {
		return nil, fmt.Errorf("document %s not found", id)
	}
	cp := *doc
	return &cp, nil
}

// CreateDocument stores a new draft document.
func (r *DocumentRegistry) CreateDocument(_ context.Context, params pipeline.DocumentParams) (*pipeline.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := &pipeline.Document{
		ID:        "doc-" + uuid.NewString(),
		Title:     params.Title,
		Type:      params.Type,
		Content:   params.Content,
		CreatedAt: time.Now().UTC(),
	}
	r.documents[doc.ID] = doc

	cp := *doc
	return &cp, nil
}

// PublishDocument marks a document published.
func (r *DocumentRegistry) PublishDocument(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.documents[id]
	if !ok {
		return fmt.Errorf("document %s not found", id)
	}
	doc.Published = true
	return nil
}
