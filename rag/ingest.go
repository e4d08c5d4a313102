package rag

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/embedding"
	"github.com/BaSui01/ragflow/types"
)

// PipelineConfig 摄取流水线配置.
type PipelineConfig struct {
	Chunking     ChunkingConfig `json:"chunking"`
	EmbedTimeout time.Duration  `json:"embed_timeout"`
	MaxRetries   int            `json:"max_retries"` // 对可重试错误至多重试次数
}

// DefaultPipelineConfig 默认流水线配置.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Chunking:     DefaultChunkingConfig(),
		EmbedTimeout: 30 * time.Second,
		MaxRetries:   1,
	}
}

// Pipeline 所有模式共享的摄取流水线.
// 阶段固定: 规范化校验 → 分块 → 嵌入 → 持久化.
// 嵌入全部成功之前不写入向量存储, 保证无部分可见.
type Pipeline struct {
	config   PipelineConfig
	chunker  *DocumentChunker
	embedder embedding.Provider
	store    VectorStore
	logger   *zap.Logger
}

// NewPipeline 创建摄取流水线.
func NewPipeline(config PipelineConfig, embedder embedding.Provider, store VectorStore, tokenizer Tokenizer, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		config:   config,
		chunker:  NewDocumentChunker(config.Chunking, tokenizer, logger),
		embedder: embedder,
		store:    store,
		logger:   logger.With(zap.String("component", "ingest_pipeline")),
	}
}

// Ingest 执行完整摄取, 返回已持久化的块.
// 任一阶段失败返回错误且不留下可查询的残块.
func (p *Pipeline) Ingest(ctx context.Context, req *StoreRequest) ([]*Chunk, error) {
	text, err := normalize(req.Content, req.ContentType)
	if err != nil {
		return nil, err
	}

	chunker := p.chunker
	if req.Options.ChunkSize > 0 {
		cfg := p.config.Chunking
		cfg.ChunkSize = req.Options.ChunkSize
		chunker = NewDocumentChunker(cfg, p.chunker.tokenizer, p.logger)
	}

	segments := chunker.Split(text)
	if len(segments) == 0 {
		return nil, types.Validation("content produced no chunks")
	}

	// 全量嵌入, 成功后才进入持久化阶段
	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Text
	}

	vectors, err := p.embedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	chunks := make([]*Chunk, len(segments))
	for i, seg := range segments {
		metadata := make(map[string]any, len(req.Metadata)+2)
		for k, v := range req.Metadata {
			metadata[k] = v
		}
		metadata["chunk_index"] = i
		metadata["token_count"] = seg.TokenCount

		chunks[i] = &Chunk{
			ID:          uuid.NewString(),
			UserID:      req.UserID,
			ContentType: req.ContentType,
			RawText:     seg.Text,
			Embedding:   vectors[i],
			Metadata:    metadata,
			CreatedAt:   now,
		}
	}

	// 原子可见: 单次批量写入
	if err := p.store.Upsert(ctx, chunks); err != nil {
		return nil, types.DependencyUnavailable("vector_store", err)
	}

	p.logger.Info("content ingested",
		zap.String("user_id", req.UserID),
		zap.String("content_type", string(req.ContentType)),
		zap.Int("chunks", len(chunks)))

	return chunks, nil
}

// embedBatch 带超时和有界重试的批量嵌入.
func (p *Pipeline) embedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	attempts := p.config.MaxRetries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, types.Timeout("embedding", ctx.Err())
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		embedCtx, cancel := context.WithTimeout(ctx, p.config.EmbedTimeout)
		vectors, err := p.embedder.EmbedDocuments(embedCtx, texts)
		cancel()

		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if !types.IsRetryable(err) {
			break
		}
		p.logger.Warn("embedding failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return nil, lastErr
}

// normalize 按内容类型规范化并校验输入.
// 图片与 PDF 的原始文件由对象存储持有, 这里接收的是已提取的文本.
func normalize(content string, contentType ContentType) (string, error) {
	switch contentType {
	case ContentText, ContentDocument, ContentImage, ContentPDF, "":
	default:
		return "", types.Validation("unsupported content_type: %s", contentType)
	}

	text := strings.TrimSpace(content)
	if text == "" {
		return "", types.Validation("content is empty")
	}

	// 统一换行并剔除不可见控制字符
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.Map(func(r rune) rune {
		if r < 32 && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, text)

	return text, nil
}
