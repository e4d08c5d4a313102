package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"time"
)

// LocalProvider 是确定性的本地嵌入提供者.
// 它将文本的词袋哈希投影到固定维度向量并做 L2 归一化,
// 不依赖任何外部服务, 适合测试和离线场景.
// 相同词汇的文本产生相近向量, 因此余弦相似度有朴素的语义意义.
type LocalProvider struct {
	name       string
	dimensions int
}

// NewLocalProvider 创建本地嵌入提供者. dimensions 为 0 时默认 256.
func NewLocalProvider(dimensions int) *LocalProvider {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &LocalProvider{
		name:       "local-embedding",
		dimensions: dimensions,
	}
}

func (p *LocalProvider) Name() string      { return p.name }
func (p *LocalProvider) Dimensions() int   { return p.dimensions }
func (p *LocalProvider) MaxBatchSize() int { return 4096 }

// Embed 为给定输入生成嵌入.
func (p *LocalProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dims := req.Dimensions
	if dims <= 0 {
		dims = p.dimensions
	}

	embeddings := make([]EmbeddingData, len(req.Input))
	for i, text := range req.Input {
		embeddings[i] = EmbeddingData{
			Index:     i,
			Embedding: p.project(text, dims),
			Object:    "embedding",
		}
	}

	return &EmbeddingResponse{
		Provider:   p.name,
		Model:      "hash-projection",
		Embeddings: embeddings,
		CreatedAt:  time.Now(),
	}, nil
}

// EmbedQuery 嵌入单个查询.
func (p *LocalProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	resp, err := p.Embed(ctx, &EmbeddingRequest{Input: []string{query}, InputType: InputTypeQuery})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0].Embedding, nil
}

// EmbedDocuments 嵌入多个文档.
func (p *LocalProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	resp, err := p.Embed(ctx, &EmbeddingRequest{Input: documents, InputType: InputTypeDocument})
	if err != nil {
		return nil, err
	}
	result := make([][]float64, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		result[i] = emb.Embedding
	}
	return result, nil
}

// project 将文本投影到 dims 维向量.
// 每个词哈希到一个维度桶并累加权重, 最终整体 L2 归一化.
func (p *LocalProvider) project(text string, dims int) []float64 {
	vec := make([]float64, dims)

	words := strings.Fields(strings.ToLower(text))
	for _, word := range words {
		word = strings.Trim(word, ".,!?;:\"'()[]")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(word))
		sum := h.Sum32()
		idx := int(sum % uint32(dims))
		// 第二个哈希位决定符号, 降低桶冲突的相消偏差
		sign := 1.0
		if (sum>>16)&1 == 1 {
			sign = -1.0
		}
		vec[idx] += sign
	}

	// L2 归一化
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}

	return vec
}
