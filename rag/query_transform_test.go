package rag

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ragflow/internal/cache"
)

func newTestCache(t *testing.T) *cache.Manager {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := cache.DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = 0

	mgr, err := cache.NewManager(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

func TestQueryTransformer_ExpandParsesNumberedLines(t *testing.T) {
	gen := &stubGenerator{fallback: "1. how does garbage collection work\n2) golang memory management internals\n3. \"gc pause tuning\""}
	tr := NewQueryTransformer(gen, nil, nil)

	variants, err := tr.Expand(context.Background(), "go gc", 4)
	require.NoError(t, err)
	require.Len(t, variants, 4)

	assert.Equal(t, "go gc", variants[0])
	assert.Equal(t, "how does garbage collection work", variants[1])
	assert.Equal(t, "golang memory management internals", variants[2])
	assert.Equal(t, "gc pause tuning", variants[3])
}

func TestQueryTransformer_ExpandSkipsDuplicatesAndBlanks(t *testing.T) {
	gen := &stubGenerator{fallback: "1. go gc\n2.\n3. garbage collector details"}
	tr := NewQueryTransformer(gen, nil, nil)

	variants, err := tr.Expand(context.Background(), "go gc", 5)
	require.NoError(t, err)

	// 与原查询重复或空白的行被丢弃
	assert.Equal(t, []string{"go gc", "garbage collector details"}, variants)
}

func TestQueryTransformer_ExpandSingleVariantSkipsLLM(t *testing.T) {
	gen := &stubGenerator{}
	tr := NewQueryTransformer(gen, nil, nil)

	variants, err := tr.Expand(context.Background(), "query", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"query"}, variants)
	assert.Zero(t, gen.callCount())
}

func TestQueryTransformer_ExpandFailureKeepsOriginal(t *testing.T) {
	tr := NewQueryTransformer(failingGenerator{}, nil, nil)

	variants, err := tr.Expand(context.Background(), "query", 3)
	require.Error(t, err)
	assert.Equal(t, []string{"query"}, variants)
}

func TestQueryTransformer_ExpandUsesCache(t *testing.T) {
	gen := &stubGenerator{fallback: "1. variant one\n2. variant two"}
	tr := NewQueryTransformer(gen, newTestCache(t), nil)
	ctx := context.Background()

	first, err := tr.Expand(ctx, "cached query", 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, 1, gen.callCount())

	// 第二次命中缓存, 不再调用 LLM
	second, err := tr.Expand(ctx, "cached query", 3)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, gen.callCount())
}

func TestQueryTransformer_HypotheticalDocument(t *testing.T) {
	gen := &stubGenerator{fallback: "  A goroutine is a lightweight thread managed by the Go runtime.  "}
	tr := NewQueryTransformer(gen, nil, nil)

	doc, err := tr.HypotheticalDocument(context.Background(), "what is a goroutine")
	require.NoError(t, err)
	assert.Equal(t, "A goroutine is a lightweight thread managed by the Go runtime.", doc)
}

func TestQueryTransformer_HypotheticalDocumentEmptyIsError(t *testing.T) {
	tr := NewQueryTransformer(&stubGenerator{fallback: "   "}, nil, nil)

	_, err := tr.HypotheticalDocument(context.Background(), "anything")
	require.Error(t, err)
}

func TestQueryTransformer_HypotheticalDocumentUsesCache(t *testing.T) {
	gen := &stubGenerator{fallback: "A hypothetical passage."}
	tr := NewQueryTransformer(gen, newTestCache(t), nil)
	ctx := context.Background()

	first, err := tr.HypotheticalDocument(ctx, "q")
	require.NoError(t, err)
	second, err := tr.HypotheticalDocument(ctx, "q")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, gen.callCount())
}
