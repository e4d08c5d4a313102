package rag

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ragflow/embedding"
	"github.com/BaSui01/ragflow/types"
)

// failingEmbedder 总是失败的嵌入提供者.
type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, *embedding.EmbeddingRequest) (*embedding.EmbeddingResponse, error) {
	return nil, fmt.Errorf("embedding backend unreachable")
}

func (failingEmbedder) EmbedQuery(context.Context, string) ([]float64, error) {
	return nil, fmt.Errorf("embedding backend unreachable")
}

func (failingEmbedder) EmbedDocuments(context.Context, []string) ([][]float64, error) {
	return nil, fmt.Errorf("embedding backend unreachable")
}

func (failingEmbedder) Name() string      { return "failing" }
func (failingEmbedder) Dimensions() int   { return 8 }
func (failingEmbedder) MaxBatchSize() int { return 16 }

func newTestPipeline(embedder embedding.Provider, store VectorStore) *Pipeline {
	cfg := DefaultPipelineConfig()
	cfg.Chunking.ChunkSize = 40
	return NewPipeline(cfg, embedder, store, NewEstimatorTokenizer(), nil)
}

func TestPipeline_IngestSplitsAndPersists(t *testing.T) {
	store := NewInMemoryVectorStore(nil)
	p := newTestPipeline(embedding.NewLocalProvider(32), store)

	text := strings.Repeat("Each sentence in this document carries some meaning. ", 40)
	chunks, err := p.Ingest(context.Background(), &StoreRequest{
		Content:     text,
		UserID:      "u1",
		ContentType: ContentText,
		Metadata:    map[string]any{"source": "unit"},
	})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, c := range chunks {
		assert.Equal(t, "u1", c.UserID)
		assert.NotEmpty(t, c.ID)
		assert.NotEmpty(t, c.Embedding)
		assert.Equal(t, i, c.Metadata["chunk_index"])
		assert.Equal(t, "unit", c.Metadata["source"])
	}

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(chunks), count)
}

func TestPipeline_EmbedFailureLeavesStoreEmpty(t *testing.T) {
	store := NewInMemoryVectorStore(nil)
	p := newTestPipeline(failingEmbedder{}, store)

	_, err := p.Ingest(context.Background(), &StoreRequest{
		Content:     strings.Repeat("some content here. ", 50),
		UserID:      "u1",
		ContentType: ContentText,
	})
	require.Error(t, err)

	// 嵌入失败时不允许任何部分块可见
	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestPipeline_RejectsEmptyAndUnknownContent(t *testing.T) {
	p := newTestPipeline(embedding.NewLocalProvider(8), NewInMemoryVectorStore(nil))

	_, err := p.Ingest(context.Background(), &StoreRequest{
		Content: "   \n ", UserID: "u", ContentType: ContentText,
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.CodeOf(err))

	_, err = p.Ingest(context.Background(), &StoreRequest{
		Content: "hello", UserID: "u", ContentType: "spreadsheet",
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.CodeOf(err))
}

func TestPipeline_ChunkSizeOverride(t *testing.T) {
	store := NewInMemoryVectorStore(nil)
	p := newTestPipeline(embedding.NewLocalProvider(8), store)

	text := strings.Repeat("every word counts in this sentence. ", 30)
	small, err := p.Ingest(context.Background(), &StoreRequest{
		Content: text, UserID: "u", ContentType: ContentText,
		Options: Options{ChunkSize: 20},
	})
	require.NoError(t, err)

	large, err := p.Ingest(context.Background(), &StoreRequest{
		Content: text, UserID: "u", ContentType: ContentText,
		Options: Options{ChunkSize: 200},
	})
	require.NoError(t, err)

	assert.Greater(t, len(small), len(large))
}
