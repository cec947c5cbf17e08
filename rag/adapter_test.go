package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llmdevops/orchestrator/capability"
)

func TestAdapter_Search_RanksByScoreAndRespectsTopK(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryVectorStore(zap.NewNop())
	require.NoError(t, store.AddDocuments(ctx, []Document{
		{ID: "a", Content: "a", Embedding: []float64{1, 0, 0}, Metadata: map[string]any{"tag": "a"}},
		{ID: "b", Content: "b", Embedding: []float64{0, 1, 0}},
		{ID: "c", Content: "c", Embedding: []float64{0.9, 0.1, 0}},
	}))

	adapter := NewAdapter(store)

	resp, err := adapter.Search(ctx, capability.VectorSearchRequest{
		QueryVector:     []float64{1, 0, 0},
		TopK:            2,
		IncludeMetadata: true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 2)
	assert.Equal(t, "a", resp.Hits[0].ID)
	assert.Equal(t, "c", resp.Hits[1].ID)
	assert.Equal(t, map[string]any{"tag": "a"}, resp.Hits[0].Metadata)
}

func TestAdapter_Search_DefaultsTopKWhenUnset(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryVectorStore(zap.NewNop())
	docs := make([]Document, 0, 15)
	for i := 0; i < 15; i++ {
		docs = append(docs, Document{ID: string(rune('a' + i)), Content: "x", Embedding: []float64{float64(i)}})
	}
	require.NoError(t, store.AddDocuments(ctx, docs))

	adapter := NewAdapter(store)
	resp, err := adapter.Search(ctx, capability.VectorSearchRequest{QueryVector: []float64{0}})
	require.NoError(t, err)
	assert.Len(t, resp.Hits, 10)
}

func TestAdapter_Search_OmitsVectorsAndMetadataUnlessRequested(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryVectorStore(zap.NewNop())
	require.NoError(t, store.AddDocuments(ctx, []Document{
		{ID: "a", Content: "a", Embedding: []float64{1}, Metadata: map[string]any{"k": "v"}},
	}))

	adapter := NewAdapter(store)
	resp, err := adapter.Search(ctx, capability.VectorSearchRequest{QueryVector: []float64{1}, TopK: 1})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Nil(t, resp.Hits[0].Metadata)
	assert.Nil(t, resp.Hits[0].Vector)
}

func TestAdapter_ImplementsCapabilityVectorStore(t *testing.T) {
	var _ capability.VectorStore = (*Adapter)(nil)
}
