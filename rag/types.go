package rag

import (
	"time"
)

// Mode 标识检索策略.
type Mode string

const (
	ModeSimple  Mode = "simple"
	ModeCRAG    Mode = "crag"
	ModeRaptor  Mode = "raptor"
	ModeSelfRAG Mode = "self_rag"
	ModeFusion  Mode = "rag_fusion"
	ModeHyDE    Mode = "hyde"
	ModeGraph   Mode = "graph"
	ModeCustom  Mode = "custom"
)

// ContentType 标识被摄取内容的类型.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentDocument ContentType = "document"
	ContentImage    ContentType = "image"
	ContentPDF      ContentType = "pdf"
)

// Chunk 是存储的最小检索单元.
// 一旦持久化即不可变, 修正只能产生新块.
type Chunk struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	ContentType ContentType    `json:"content_type"`
	RawText     string         `json:"raw_text"`
	Embedding   []float64      `json:"embedding,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// TreeLevel 标识 RAPTOR 树节点的层级语义.
type TreeLevel string

const (
	LevelLeaf    TreeLevel = "leaf"
	LevelSummary TreeLevel = "summary"
	LevelRoot    TreeLevel = "root"
)

// TreeNode 是 RAPTOR 摘要树的节点.
// 父子图无环, 节点层级严格大于其所有子节点.
type TreeNode struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Level       int       `json:"level"`
	LevelKind   TreeLevel `json:"level_kind"`
	SummaryText string    `json:"summary_text"`
	Embedding   []float64 `json:"embedding,omitempty"`
	ChildIDs    []string  `json:"child_ids,omitempty"`
	ClusterID   string    `json:"cluster_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Entity 知识图谱中的实体.
type Entity struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// Relationship 两个实体之间的有向关系.
// 只引用已存在的实体.
type Relationship struct {
	ID             string  `json:"id"`
	UserID         string  `json:"user_id"`
	SourceEntityID string  `json:"source_entity_id"`
	TargetEntityID string  `json:"target_entity_id"`
	Label          string  `json:"label"`
	Confidence     float64 `json:"confidence"`
}

// QualityLabel 质量评估标签.
type QualityLabel string

const (
	QualityHigh   QualityLabel = "high"
	QualityMedium QualityLabel = "medium"
	QualityLow    QualityLabel = "low"
)

// RetrievalItem 单条检索结果.
// 同一响应内按当前模式的有效分数降序排列
// (存在 FusedScore 时按其排序, 否则按 SimilarityScore).
type RetrievalItem struct {
	Chunk           *Chunk       `json:"chunk"`
	SimilarityScore float64      `json:"similarity_score"`
	Rank            int          `json:"rank"`
	FusedScore      float64      `json:"fused_score,omitempty"`
	QualityLabel    QualityLabel `json:"quality_label,omitempty"`
}

// Citation 把答案中的编号标记映射到块.
type Citation struct {
	Marker  string `json:"marker"`
	ChunkID string `json:"chunk_id"`
	Excerpt string `json:"excerpt,omitempty"`
}

// =============================================================================
// 请求 / 结果信封
// =============================================================================

// Options 每次调用的可选参数. 模式显式携带, 不设全局当前模式.
type Options struct {
	Mode            Mode           `json:"rag_mode,omitempty"`
	ChunkSize       int            `json:"chunk_size,omitempty"`
	TopK            int            `json:"top_k,omitempty"`
	ContextLimit    int            `json:"context_limit,omitempty"`
	EnableCitations bool           `json:"enable_citations,omitempty"`
	Temperature     float64        `json:"temperature,omitempty"`
	MaxIterations   int            `json:"max_iterations,omitempty"`
	NumQueries      int            `json:"num_queries,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// StoreRequest 摄取请求.
type StoreRequest struct {
	Content     string         `json:"content"`
	UserID      string         `json:"user_id"`
	ContentType ContentType    `json:"content_type"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Options     Options        `json:"options,omitempty"`
}

// StoreResult 摄取结果信封.
type StoreResult struct {
	Success         bool           `json:"success"`
	ChunksProcessed int            `json:"chunks_processed"`
	ModeMetadata    map[string]any `json:"mode_metadata,omitempty"`
	Error           string         `json:"error,omitempty"`
	ErrorKind       string         `json:"error_kind,omitempty"`
}

// RetrieveRequest 检索请求.
type RetrieveRequest struct {
	Query   string         `json:"query"`
	UserID  string         `json:"user_id"`
	TopK    int            `json:"top_k,omitempty"`
	Filters map[string]any `json:"filters,omitempty"`
	Options Options        `json:"options,omitempty"`
}

// RetrieveResult 检索结果信封.
type RetrieveResult struct {
	Items        []RetrievalItem `json:"items"`
	TotalResults int             `json:"total_results"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	Error        string          `json:"error,omitempty"`
	ErrorKind    string          `json:"error_kind,omitempty"`
}

// GenerateRequest 生成请求.
// Context 与 RetrievalResult 二选一提供时跳过检索阶段.
type GenerateRequest struct {
	Query           string          `json:"query"`
	UserID          string          `json:"user_id"`
	Context         []string        `json:"context,omitempty"`
	RetrievalResult *RetrieveResult `json:"retrieval_result,omitempty"`
	Options         Options         `json:"options,omitempty"`
}

// GenerateResult 生成结果信封.
type GenerateResult struct {
	Success   bool           `json:"success"`
	Answer    string         `json:"answer"`
	Citations []Citation     `json:"citations,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorKind string         `json:"error_kind,omitempty"`
}

// QueryRequest 检索+生成的组合请求.
type QueryRequest struct {
	Query   string  `json:"query"`
	UserID  string  `json:"user_id"`
	Options Options `json:"options,omitempty"`
}

// QueryResult 组合结果, 同时携带检索明细与最终答案.
type QueryResult struct {
	Success   bool            `json:"success"`
	Answer    string          `json:"answer"`
	Citations []Citation      `json:"citations,omitempty"`
	Retrieval *RetrieveResult `json:"retrieval,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
}
