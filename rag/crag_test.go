package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRAGStrategy_TagsResultsWithQuality(t *testing.T) {
	gen := &stubGenerator{fallback: "expanded retrieval augmented generation query"}
	svc, err := NewCRAGStrategy(newTestDeps(gen))
	require.NoError(t, err)
	ctx := context.Background()

	content := "Retrieval augmented generation combines a vector index with a language model. " +
		"The index returns the most similar passages and the model composes an answer from them, " +
		"citing each passage it used so readers can verify the claims against the 5 original sources."
	stored, err := mustStore(ctx, svc, "u", content)
	require.NoError(t, err)
	require.True(t, stored.Success)

	res, err := svc.Retrieve(ctx, &RetrieveRequest{Query: "retrieval augmented generation", UserID: "u"})
	require.NoError(t, err)
	require.Empty(t, res.Error)

	assert.Contains(t, res.Metadata, "quality_score")
	assert.Contains(t, res.Metadata, "quality_label")
	for _, item := range res.Items {
		assert.NotEmpty(t, item.QualityLabel)
	}
}

func TestCRAGStrategy_CorrectiveRewriteNeverFailsRequest(t *testing.T) {
	// 生成后端完全不可用: 纠错被跳过, 检索本身照常成功
	svc, err := NewCRAGStrategy(newTestDeps(&stubGenerator{fn: func(string) (string, error) {
		return "", assert.AnError
	}}))
	require.NoError(t, err)
	ctx := context.Background()

	stored, err := mustStore(ctx, svc, "u", "thin")
	require.NoError(t, err)
	require.True(t, stored.Success)

	res, err := svc.Retrieve(ctx, &RetrieveRequest{Query: "thin", UserID: "u"})
	require.NoError(t, err)
	require.Empty(t, res.Error)

	assert.Equal(t, false, res.Metadata["corrective_applied"])
	assert.Equal(t, true, res.Metadata["corrective_skipped"])
}

func TestCRAGStrategy_CorrectiveRewriteOnLowQuality(t *testing.T) {
	richDoc := "Distributed consensus protocols such as Raft elect a leader among 5 replicas, " +
		"replicate a log of state machine commands, and commit entries once a majority acknowledges them. " +
		"Raft was published in 2014 and is used by etcd, Consul, and TiKV for fault tolerant coordination."

	gen := &stubGenerator{fallback: "distributed consensus protocols leader election replicated log"}
	svc, err := NewCRAGStrategy(newTestDeps(gen))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = mustStore(ctx, svc, "u", "raft notes")
	require.NoError(t, err)
	_, err = mustStore(ctx, svc, "u", richDoc)
	require.NoError(t, err)

	res, err := svc.Retrieve(ctx, &RetrieveRequest{Query: "raft", UserID: "u"})
	require.NoError(t, err)
	require.Empty(t, res.Error)

	// 初次命中偏向贫瘠文档时触发重写; 无论是否改善, 元数据必须自洽
	applied, ok := res.Metadata["corrective_applied"].(bool)
	require.True(t, ok)
	if applied {
		rewritten, ok := res.Metadata["rewritten_query"].(string)
		require.True(t, ok)
		assert.True(t, strings.Contains(rewritten, "consensus") || rewritten != "")
	}
	assert.GreaterOrEqual(t, gen.callCount(), 0)
}

func TestCRAGStrategy_QueryComposes(t *testing.T) {
	gen := &stubGenerator{fallback: "Answer grounded in the stored passage [1]."}
	svc, err := NewCRAGStrategy(newTestDeps(gen))
	require.NoError(t, err)
	ctx := context.Background()

	content := "Kubernetes schedules containers across a cluster of nodes. The scheduler scores " +
		"each node on resource fit, affinity rules, and 3 other signals before binding the pod."
	_, err = mustStore(ctx, svc, "u", content)
	require.NoError(t, err)

	res, err := svc.Query(ctx, &QueryRequest{Query: "How does Kubernetes schedule pods?", UserID: "u"})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.NotEmpty(t, res.Answer)
	assert.NotNil(t, res.Retrieval)
	assert.Contains(t, res.Retrieval.Metadata, "quality_label")
}
