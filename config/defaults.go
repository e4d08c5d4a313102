// =============================================================================
// 📦 RagFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		LLM:       DefaultLLMConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		RAG:       DefaultRAGConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultLLMConfig 返回默认生成后端配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		APIKey:       "",
		BaseURL:      "https://api.openai.com",
		Model:        "gpt-4o-mini",
		Temperature:  0.7,
		Timeout:      60 * time.Second,
		MaxRetries:   1,
		RateLimitRPS: 10,
	}
}

// DefaultEmbeddingConfig 返回默认嵌入后端配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		APIKey:       "",
		BaseURL:      "https://api.openai.com",
		Model:        "text-embedding-3-small",
		Dimensions:   1536,
		Timeout:      30 * time.Second,
		RateLimitRPS: 20,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DefaultTTL:   30 * time.Minute,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "ragflow",
		Password:        "",
		Name:            "ragflow.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultRAGConfig 返回默认检索引擎配置
func DefaultRAGConfig() RAGConfig {
	return RAGConfig{
		ChunkSize:              400,
		ChunkOverlap:           80,
		TopK:                   5,
		MinScore:               0.3,
		ContextLimit:           4,
		EnableCitations:        true,
		FusionQueries:          3,
		FusionRRFK:             60,
		SelfRAGMaxIterations:   2,
		RaptorClusterThreshold: 6,
		RaptorMaxLevels:        3,
		RaptorLevelsSearched:   2,
		GraphMaxHops:           2,
		EnableSemanticCache:    false,
		SemanticCacheThreshold: 0.93,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "ragflow",
		SampleRate:   1.0,
	}
}
