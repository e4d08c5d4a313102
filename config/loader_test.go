// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 验证 LLM 默认值
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 0.7, cfg.LLM.Temperature)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 1, cfg.LLM.MaxRetries)

	// 验证 Embedding 默认值
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 1536, cfg.Embedding.Dimensions)

	// 验证 RAG 默认值
	assert.Equal(t, 400, cfg.RAG.ChunkSize)
	assert.Equal(t, 5, cfg.RAG.TopK)
	assert.Equal(t, 3, cfg.RAG.FusionQueries)
	assert.Equal(t, 60, cfg.RAG.FusionRRFK)
	assert.Equal(t, 2, cfg.RAG.SelfRAGMaxIterations)
	assert.Equal(t, 2, cfg.RAG.GraphMaxHops)
	assert.True(t, cfg.RAG.EnableCitations)

	// 验证 Redis 默认值
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.False(t, cfg.Redis.Enabled)

	// 验证 Database 默认值
	assert.Equal(t, "sqlite", cfg.Database.Driver)

	// 验证 Log 默认值
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

// --- Loader 测试 ---

func TestDefaultBaseURLsHaveNoVersionSuffix(t *testing.T) {
	cfg := DefaultConfig()

	// 客户端自行追加 /v1/chat/completions 与 /v1/embeddings,
	// 默认地址带 /v1 会拼出重复的版本段
	assert.Equal(t, "https://api.openai.com", cfg.LLM.BaseURL)
	assert.Equal(t, "https://api.openai.com", cfg.Embedding.BaseURL)
}

func TestLoader_LoadDefaults(t *testing.T) {
	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 400, cfg.RAG.ChunkSize)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}

func TestLoader_LoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yamlContent := `
llm:
  model: gpt-4o
  temperature: 0.2
rag:
  chunk_size: 512
  top_k: 8
  fusion_queries: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 0.2, cfg.LLM.Temperature)
	assert.Equal(t, 512, cfg.RAG.ChunkSize)
	assert.Equal(t, 8, cfg.RAG.TopK)
	assert.Equal(t, 5, cfg.RAG.FusionQueries)
	// 未覆盖的值保持默认
	assert.Equal(t, 60, cfg.RAG.FusionRRFK)
}

func TestLoader_LoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 400, cfg.RAG.ChunkSize)
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("RAGFLOW_RAG_CHUNK_SIZE", "256")
	t.Setenv("RAGFLOW_LLM_MODEL", "gpt-4.1")
	t.Setenv("RAGFLOW_LLM_TIMEOUT", "90s")
	t.Setenv("RAGFLOW_REDIS_ENABLED", "true")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 256, cfg.RAG.ChunkSize)
	assert.Equal(t, "gpt-4.1", cfg.LLM.Model)
	assert.Equal(t, 90*time.Second, cfg.LLM.Timeout)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoader_Validator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error { return c.Validate() }).
		Load()
	require.NoError(t, err)
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "zero chunk size",
			mutate:  func(c *Config) { c.RAG.ChunkSize = 0 },
			wantErr: true,
		},
		{
			name:    "overlap exceeds chunk size",
			mutate:  func(c *Config) { c.RAG.ChunkOverlap = c.RAG.ChunkSize },
			wantErr: true,
		},
		{
			name:    "negative top_k",
			mutate:  func(c *Config) { c.RAG.TopK = -1 },
			wantErr: true,
		},
		{
			name:    "temperature out of range",
			mutate:  func(c *Config) { c.LLM.Temperature = 3.0 },
			wantErr: true,
		},
		{
			name:    "zero self-rag iterations",
			mutate:  func(c *Config) { c.RAG.SelfRAGMaxIterations = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
