package rag

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/BaSui01/ragflow/types"
)

func newTestEngine(t *testing.T, gen *stubGenerator) *Engine {
	t.Helper()
	engine, err := NewEngine(newTestDeps(gen))
	require.NoError(t, err)
	return engine
}

func TestEngine_UnknownModeIsValidationError(t *testing.T) {
	engine := newTestEngine(t, &stubGenerator{})

	_, err := engine.Service("telepathy")
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.CodeOf(err))
	assert.Contains(t, err.Error(), "telepathy")

	// 分发路径折叠进信封, 不返回 Go error
	res, err := engine.Store(context.Background(), &StoreRequest{
		Content: "x", UserID: "u",
		Options: Options{Mode: "telepathy"},
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, string(types.ErrValidation), res.ErrorKind)
}

func TestEngine_EmptyModeDefaultsToSimple(t *testing.T) {
	engine := newTestEngine(t, &stubGenerator{})

	svc, err := engine.Service("")
	require.NoError(t, err)
	assert.Equal(t, ModeSimple, svc.Mode())
}

func TestEngine_InstancesAreReused(t *testing.T) {
	engine := newTestEngine(t, &stubGenerator{})

	first, err := engine.Service(ModeSimple)
	require.NoError(t, err)
	second, err := engine.Service(ModeSimple)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestEngine_AllBuiltinModesConstruct(t *testing.T) {
	engine := newTestEngine(t, &stubGenerator{})

	for _, mode := range []Mode{ModeSimple, ModeCRAG, ModeRaptor, ModeSelfRAG, ModeFusion, ModeHyDE, ModeGraph} {
		svc, err := engine.Service(mode)
		require.NoError(t, err, "mode %s", mode)
		assert.Equal(t, mode, svc.Mode())
	}
}

func TestEngine_RegisterCustomStrategy(t *testing.T) {
	engine := newTestEngine(t, &stubGenerator{})

	require.Error(t, engine.Register("", nil))
	require.Error(t, engine.Register(ModeCustom, nil))

	require.NoError(t, engine.Register(ModeCustom, func(deps Deps) (Service, error) {
		return newBaseStrategy(ModeCustom, deps), nil
	}))

	svc, err := engine.Service(ModeCustom)
	require.NoError(t, err)
	assert.Equal(t, ModeCustom, svc.Mode())
}

func TestEngine_EndToEndStoreRetrieveQuery(t *testing.T) {
	gen := &stubGenerator{fallback: "Machine learning is a subset of artificial intelligence [1]."}
	engine := newTestEngine(t, gen)
	ctx := context.Background()

	content := "Machine Learning is a subset of Artificial Intelligence. " +
		"It focuses on algorithms that improve automatically through experience. " +
		"Deep learning uses neural networks with many layers to model complex patterns. " +
		"Supervised learning trains on labeled examples while unsupervised learning finds structure in unlabeled data."

	stored, err := engine.Store(ctx, &StoreRequest{
		Content: content, UserID: "alice", ContentType: ContentText,
	})
	require.NoError(t, err)
	require.True(t, stored.Success, stored.Error)
	assert.Greater(t, stored.ChunksProcessed, 0)

	retrieved, err := engine.Retrieve(ctx, &RetrieveRequest{
		Query: "What is machine learning?", UserID: "alice",
	})
	require.NoError(t, err)
	require.Empty(t, retrieved.Error)
	assert.Greater(t, retrieved.TotalResults, 0)

	// 其他用户不可见
	other, err := engine.Retrieve(ctx, &RetrieveRequest{
		Query: "What is machine learning?", UserID: "bob",
	})
	require.NoError(t, err)
	assert.Zero(t, other.TotalResults)

	result, err := engine.Query(ctx, &QueryRequest{
		Query: "What is machine learning?", UserID: "alice",
	})
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)
	assert.NotEmpty(t, result.Answer)
	assert.NotNil(t, result.Retrieval)
}

func TestEngine_PurgeRemovesUserData(t *testing.T) {
	engine := newTestEngine(t, &stubGenerator{})
	ctx := context.Background()

	_, err := engine.Purge(ctx, "")
	require.Error(t, err)

	stored, err := engine.Store(ctx, &StoreRequest{
		Content: strings.Repeat("facts about the system. ", 30),
		UserID:  "alice", ContentType: ContentText,
	})
	require.NoError(t, err)
	require.True(t, stored.Success)

	deleted, err := engine.Purge(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, stored.ChunksProcessed, deleted)

	retrieved, err := engine.Retrieve(ctx, &RetrieveRequest{Query: "facts", UserID: "alice"})
	require.NoError(t, err)
	assert.Zero(t, retrieved.TotalResults)
}

func TestEngine_StoreBatch(t *testing.T) {
	engine := newTestEngine(t, &stubGenerator{})
	ctx := context.Background()

	reqs := make([]*StoreRequest, 6)
	for i := range reqs {
		reqs[i] = &StoreRequest{
			Content:     fmt.Sprintf("Document number %d holds its own distinct content for batch ingestion.", i),
			UserID:      "alice",
			ContentType: ContentText,
		}
	}
	// 一条非法请求不拖垮整批
	reqs[3] = &StoreRequest{Content: "orphan", UserID: "", ContentType: ContentText}

	results, err := engine.StoreBatch(ctx, reqs, 3)
	require.NoError(t, err)
	require.Len(t, results, 6)

	for i, res := range results {
		require.NotNil(t, res)
		if i == 3 {
			assert.False(t, res.Success)
			assert.Equal(t, string(types.ErrValidation), res.ErrorKind)
			continue
		}
		assert.True(t, res.Success, "request %d: %s", i, res.Error)
	}
}

func TestEngine_SemanticCacheReusesAnswer(t *testing.T) {
	gen := &stubGenerator{fallback: "Kubernetes schedules containers across a cluster."}

	deps := newTestDeps(gen)
	deps.Config.EnableSemanticCache = true
	deps.Config.SemanticCacheThreshold = 0.93
	engine, err := NewEngine(deps)
	require.NoError(t, err)

	ctx := context.Background()
	svc, err := engine.Service(ModeSimple)
	require.NoError(t, err)
	_, err = mustStore(ctx, svc, "u1", "Kubernetes is a container orchestration platform that schedules workloads across nodes.")
	require.NoError(t, err)

	req := &QueryRequest{Query: "What does Kubernetes do?", UserID: "u1"}

	first, err := engine.Query(ctx, req)
	require.NoError(t, err)
	require.True(t, first.Success)
	callsAfterFirst := gen.callCount()

	second, err := engine.Query(ctx, req)
	require.NoError(t, err)
	require.True(t, second.Success)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, true, second.Metadata["semantic_cache_hit"])
	assert.Equal(t, callsAfterFirst, gen.callCount(), "cached query must not reach the generator")

	// 清理后同一查询重新走完整链路
	_, err = engine.Purge(ctx, "u1")
	require.NoError(t, err)
	third, err := engine.Query(ctx, req)
	require.NoError(t, err)
	assert.NotContains(t, third.Metadata, "semantic_cache_hit")
}

func TestEngine_SemanticCacheIsUserScoped(t *testing.T) {
	gen := &stubGenerator{fallback: "answer"}

	deps := newTestDeps(gen)
	deps.Config.EnableSemanticCache = true
	engine, err := NewEngine(deps)
	require.NoError(t, err)

	ctx := context.Background()
	for _, user := range []string{"alice", "bob"} {
		svc, err := engine.Service(ModeSimple)
		require.NoError(t, err)
		_, err = mustStore(ctx, svc, user, "Shared corpus text about distributed systems and consensus.")
		require.NoError(t, err)
	}

	_, err = engine.Query(ctx, &QueryRequest{Query: "consensus?", UserID: "alice"})
	require.NoError(t, err)

	// bob 的相同查询不应命中 alice 的缓存条目
	res, err := engine.Query(ctx, &QueryRequest{Query: "consensus?", UserID: "bob"})
	require.NoError(t, err)
	assert.NotContains(t, res.Metadata, "semantic_cache_hit")
}

func TestEngine_DispatchEmitsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	engine := newTestEngine(t, &stubGenerator{})
	ctx := context.Background()

	_, err := engine.Store(ctx, &StoreRequest{
		Content: "Observability spans cover every dispatch path of the engine.",
		UserID:  "u", ContentType: ContentText,
	})
	require.NoError(t, err)
	_, err = engine.Query(ctx, &QueryRequest{Query: "dispatch paths", UserID: "u"})
	require.NoError(t, err)

	var storeSpan, querySpan sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		switch s.Name() {
		case "rag.store":
			storeSpan = s
		case "rag.query":
			querySpan = s
		}
	}
	require.NotNil(t, storeSpan)
	require.NotNil(t, querySpan)
	assert.Contains(t, storeSpan.Attributes(), attribute.String("rag.user_id", "u"))
	assert.Contains(t, querySpan.Attributes(), attribute.String("rag.mode", ""))
}

func TestEngine_DispatchSpanMarksEnvelopeFailure(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	engine := newTestEngine(t, &stubGenerator{})
	res, err := engine.Store(context.Background(), &StoreRequest{
		Content: "x", UserID: "u",
		Options: Options{Mode: "telepathy"},
	})
	require.NoError(t, err)
	require.False(t, res.Success)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}
