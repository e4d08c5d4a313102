// Package ragflow provides a top-level convenience entry point for building
// a multi-strategy retrieval engine with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/ragflow"
//
//	client, err := ragflow.New(ragflow.WithConfig(cfg))
//	client, err := ragflow.New(ragflow.WithGenerator(myLLM), ragflow.WithEmbedder(myEmbedder))
//
// 客户端内部组装检索引擎、可选的 Redis 缓存、图谱数据库与遥测,
// 可选依赖初始化失败时降级运行而不是拒绝启动.
package ragflow

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/embedding"
	"github.com/BaSui01/ragflow/generation"
	"github.com/BaSui01/ragflow/internal/cache"
	"github.com/BaSui01/ragflow/internal/database"
	"github.com/BaSui01/ragflow/internal/metrics"
	"github.com/BaSui01/ragflow/internal/telemetry"
	"github.com/BaSui01/ragflow/rag"
	"github.com/BaSui01/ragflow/types"
)

// Client 是引擎的顶层句柄, 持有全部共享基础设施.
type Client struct {
	engine    *rag.Engine
	cache     *cache.Manager
	db        *database.PoolManager
	telemetry *telemetry.Providers
	logger    *zap.Logger
}

// Option 配置 [New] 创建的客户端.
type Option func(*builder)

type builder struct {
	cfg       *config.Config
	logger    *zap.Logger
	embedder  embedding.Provider
	generator generation.Provider
	vector    rag.VectorStore
	graph     rag.GraphStore
	registry  prometheus.Registerer
	metrics   bool
}

// WithConfig 使用给定配置 (默认 config.DefaultConfig).
func WithConfig(cfg *config.Config) Option {
	return func(b *builder) { b.cfg = cfg }
}

// WithLogger 使用外部 logger, 跳过内置日志初始化.
func WithLogger(logger *zap.Logger) Option {
	return func(b *builder) { b.logger = logger }
}

// WithEmbedder 使用外部嵌入提供者.
func WithEmbedder(p embedding.Provider) Option {
	return func(b *builder) { b.embedder = p }
}

// WithGenerator 使用外部生成提供者.
func WithGenerator(p generation.Provider) Option {
	return func(b *builder) { b.generator = p }
}

// WithVectorStore 使用外部向量存储 (默认进程内存储).
func WithVectorStore(store rag.VectorStore) Option {
	return func(b *builder) { b.vector = store }
}

// WithGraphStore 使用外部图存储, 覆盖数据库驱动的默认实现.
func WithGraphStore(store rag.GraphStore) Option {
	return func(b *builder) { b.graph = store }
}

// WithMetrics 启用 Prometheus 指标. registry 为 nil 时使用默认注册表.
func WithMetrics(registry prometheus.Registerer) Option {
	return func(b *builder) {
		b.metrics = true
		b.registry = registry
	}
}

// New 按配置组装客户端.
// 嵌入与生成后端是硬依赖; 缓存、图谱数据库与遥测失败时降级.
func New(opts ...Option) (*Client, error) {
	b := &builder{}
	for _, opt := range opts {
		opt(b)
	}

	cfg := b.cfg
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = NewLogger(cfg.Log)
	}

	embedder := b.embedder
	if embedder == nil {
		if cfg.Embedding.APIKey != "" {
			embedder = embedding.NewOpenAIProvider(embedding.OpenAIConfig{
				APIKey:       cfg.Embedding.APIKey,
				BaseURL:      cfg.Embedding.BaseURL,
				Model:        cfg.Embedding.Model,
				Dimensions:   cfg.Embedding.Dimensions,
				Timeout:      cfg.Embedding.Timeout,
				RateLimitRPS: cfg.Embedding.RateLimitRPS,
			})
		} else {
			// 无凭据时用本地哈希投影嵌入, 适合开发与测试
			dims := cfg.Embedding.Dimensions
			if dims <= 0 {
				dims = 256
			}
			embedder = embedding.NewLocalProvider(dims)
			logger.Info("no embedding credentials, using local provider",
				zap.Int("dimensions", dims))
		}
	}

	generator := b.generator
	if generator == nil {
		if cfg.LLM.APIKey == "" {
			return nil, types.Validation("llm api_key is required when no generator is provided")
		}
		generator = generation.NewOpenAIProvider(generation.OpenAIConfig{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			Model:        cfg.LLM.Model,
			Temperature:  cfg.LLM.Temperature,
			Timeout:      cfg.LLM.Timeout,
			MaxRetries:   cfg.LLM.MaxRetries,
			RateLimitRPS: cfg.LLM.RateLimitRPS,
		})
	}

	vector := b.vector
	if vector == nil {
		vector = rag.NewInMemoryVectorStore(logger)
	}

	client := &Client{logger: logger}

	var cacheMgr *cache.Manager
	if cfg.Redis.Enabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Addr = cfg.Redis.Addr
		cacheCfg.Password = cfg.Redis.Password
		cacheCfg.DB = cfg.Redis.DB
		if cfg.Redis.PoolSize > 0 {
			cacheCfg.PoolSize = cfg.Redis.PoolSize
		}
		if cfg.Redis.MinIdleConns > 0 {
			cacheCfg.MinIdleConns = cfg.Redis.MinIdleConns
		}
		if cfg.Redis.DefaultTTL > 0 {
			cacheCfg.DefaultTTL = cfg.Redis.DefaultTTL
		}

		mgr, err := cache.NewManager(cacheCfg, logger)
		if err != nil {
			logger.Warn("cache unavailable, continuing without it", zap.Error(err))
		} else {
			cacheMgr = mgr
			client.cache = mgr
		}
	}

	graph := b.graph
	if graph == nil && cfg.Database.Driver != "" {
		pool, err := database.Open(cfg.Database, logger)
		if err != nil {
			logger.Warn("graph database unavailable, graph mode will fall back", zap.Error(err))
		} else {
			store, err := rag.NewGormGraphStore(pool)
			if err != nil {
				logger.Warn("graph store init failed, graph mode will fall back", zap.Error(err))
				_ = pool.Close()
			} else {
				graph = store
				client.db = pool
			}
		}
	}

	var collector *metrics.Collector
	if b.metrics {
		collector = metrics.NewCollector("ragflow", b.registry, logger)
	}

	if cfg.Telemetry.Enabled {
		providers, err := telemetry.Init(cfg.Telemetry, logger)
		if err != nil {
			logger.Warn("telemetry init failed, continuing without it", zap.Error(err))
		} else {
			client.telemetry = providers
		}
	}

	engine, err := rag.NewEngine(rag.Deps{
		Config:    cfg.RAG,
		Embedder:  embedder,
		Generator: generator,
		Vector:    vector,
		Graph:     graph,
		Cache:     cacheMgr,
		Metrics:   collector,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	client.engine = engine

	logger.Info("ragflow client initialized",
		zap.String("embedder", embedder.Name()),
		zap.String("generator", generator.Name()),
		zap.Bool("cache", cacheMgr != nil),
		zap.Bool("graph", graph != nil))

	return client, nil
}

// Engine 返回底层策略引擎, 供需要直接分发的调用方使用.
func (c *Client) Engine() *rag.Engine { return c.engine }

// Store 按请求模式摄取内容.
func (c *Client) Store(ctx context.Context, req *rag.StoreRequest) (*rag.StoreResult, error) {
	return c.engine.Store(ctx, req)
}

// StoreBatch 以有界并发批量摄取.
func (c *Client) StoreBatch(ctx context.Context, reqs []*rag.StoreRequest, concurrency int) ([]*rag.StoreResult, error) {
	return c.engine.StoreBatch(ctx, reqs, concurrency)
}

// Retrieve 按请求模式检索.
func (c *Client) Retrieve(ctx context.Context, req *rag.RetrieveRequest) (*rag.RetrieveResult, error) {
	return c.engine.Retrieve(ctx, req)
}

// Generate 按请求模式生成.
func (c *Client) Generate(ctx context.Context, req *rag.GenerateRequest) (*rag.GenerateResult, error) {
	return c.engine.Generate(ctx, req)
}

// Query 按请求模式执行检索加生成.
func (c *Client) Query(ctx context.Context, req *rag.QueryRequest) (*rag.QueryResult, error) {
	return c.engine.Query(ctx, req)
}

// Purge 删除某用户的全部持久数据.
func (c *Client) Purge(ctx context.Context, userID string) (int, error) {
	return c.engine.Purge(ctx, userID)
}

// RegisterStrategy 注册自定义检索策略.
func (c *Client) RegisterStrategy(mode rag.Mode, ctor rag.Constructor) error {
	return c.engine.Register(mode, ctor)
}

// Close 释放缓存、数据库与遥测资源.
func (c *Client) Close(ctx context.Context) error {
	var firstErr error
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			firstErr = err
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.telemetry != nil {
		if err := c.telemetry.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewLogger 按日志配置构建 zap logger.
func NewLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	var zapOpts []zap.Option
	if cfg.EnableCaller {
		zapOpts = append(zapOpts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		zapOpts = append(zapOpts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(zapOpts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
