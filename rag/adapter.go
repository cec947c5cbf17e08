package rag

import (
	"context"
	"fmt"

	"github.com/llmdevops/orchestrator/capability"
)

// Adapter satisfies capability.VectorStore by delegating to a rag.VectorStore
// (typically an InMemoryVectorStore, though any implementation works). It
// exists because the dispatcher only ever sees capability.VectorStore's
// narrower search-only contract, while this package's stores speak the
// richer Document/AddDocuments/Search shape an indexing pipeline needs.
type Adapter struct {
	store VectorStore
}

// NewAdapter wraps store so it can be registered with a capability.Registry.
func NewAdapter(store VectorStore) *Adapter {
	return &Adapter{store: store}
}

// Search implements capability.VectorStore. Index, Namespace, and Filter are
// accepted for interface compatibility but unused: this adapter wraps a
// single flat collection with no per-namespace partitioning.
func (a *Adapter) Search(ctx context.Context, req capability.VectorSearchRequest) (capability.VectorSearchResponse, error) {
	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}

	results, err := a.store.Search(ctx, req.QueryVector, topK)
	if err != nil {
		return capability.VectorSearchResponse{}, fmt.Errorf("rag adapter search: %w", err)
	}

	hits := make([]capability.VectorHit, 0, len(results))
	for _, r := range results {
		hit := capability.VectorHit{
			ID:    r.Document.ID,
			Score: r.Score,
		}
		if req.IncludeMetadata {
			hit.Metadata = r.Document.Metadata
		}
		if req.IncludeVectors {
			hit.Vector = r.Document.Embedding
		}
		hits = append(hits, hit)
	}

	return capability.VectorSearchResponse{Hits: hits}, nil
}

var _ capability.VectorStore = (*Adapter)(nil)
