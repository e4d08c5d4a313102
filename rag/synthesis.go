package rag

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/generation"
	"github.com/BaSui01/ragflow/internal/metrics"
	"github.com/BaSui01/ragflow/types"
)

// NoContextDisclaimer 零上下文时返回的免责声明.
// 策略固定: 无来源时仍返回成功, 不作为错误处理.
const NoContextDisclaimer = "No relevant sources were found in the knowledge base. " +
	"The following answer is generated without retrieved context and may be incomplete."

// SynthesisConfig 合成配置.
type SynthesisConfig struct {
	ContextLimit    int     `json:"context_limit"`    // 参与合成的最大条目数 (3-5)
	EnableCitations bool    `json:"enable_citations"` // 是否插入编号引用
	Temperature     float64 `json:"temperature"`
}

// DefaultSynthesisConfig 默认合成配置.
func DefaultSynthesisConfig() SynthesisConfig {
	return SynthesisConfig{
		ContextLimit:    4,
		EnableCitations: true,
		Temperature:     0.7,
	}
}

// Synthesizer 把检索上下文组装为提示并合成最终答案.
type Synthesizer struct {
	config    SynthesisConfig
	generator generation.Provider
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewSynthesizer 创建合成器.
func NewSynthesizer(config SynthesisConfig, generator generation.Provider, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ContextLimit <= 0 {
		config.ContextLimit = DefaultSynthesisConfig().ContextLimit
	}
	return &Synthesizer{
		config:    config,
		generator: generator,
		logger:    logger.With(zap.String("component", "synthesizer")),
	}
}

// WithMetrics 挂接 LLM 请求用量指标.
func (s *Synthesizer) WithMetrics(m *metrics.Collector) *Synthesizer {
	s.metrics = m
	return s
}

var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

// Synthesize 组装有界上下文并生成答案.
// items 为空时返回带免责声明的成功结果.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, items []RetrievalItem, opts Options) (*GenerateResult, error) {
	limit := s.config.ContextLimit
	if opts.ContextLimit > 0 {
		limit = opts.ContextLimit
	}
	if limit > len(items) {
		limit = len(items)
	}
	items = items[:limit]

	enableCitations := s.config.EnableCitations || opts.EnableCitations

	if len(items) == 0 {
		answer, err := s.complete(ctx, s.noContextPrompt(query), opts)
		if err != nil {
			return failedGenerate(err), nil
		}
		return &GenerateResult{
			Success: true,
			Answer:  NoContextDisclaimer + "\n\n" + answer,
			Metadata: map[string]any{
				"context_used": 0,
				"disclaimer":   true,
			},
		}, nil
	}

	answer, err := s.complete(ctx, s.contextPrompt(query, items, enableCitations), opts)
	if err != nil {
		return failedGenerate(err), nil
	}

	result := &GenerateResult{
		Success: true,
		Answer:  answer,
		Metadata: map[string]any{
			"context_used": len(items),
		},
	}

	if enableCitations {
		result.Citations = extractCitations(answer, items)
	}

	return result, nil
}

func (s *Synthesizer) complete(ctx context.Context, prompt string, opts Options) (string, error) {
	temperature := s.config.Temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}

	start := time.Now()
	resp, err := s.generator.CompleteWithRequest(ctx, &generation.CompletionRequest{
		Prompt:      prompt,
		Temperature: temperature,
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordLLMRequest(s.generator.Name(), "", "error", time.Since(start), 0, 0)
		}
		return "", err
	}
	if s.metrics != nil {
		s.metrics.RecordLLMRequest(resp.Provider, resp.Model, "success", time.Since(start),
			resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}
	return resp.Text, nil
}

func (s *Synthesizer) contextPrompt(query string, items []RetrievalItem, citations bool) string {
	var b strings.Builder
	b.WriteString("Answer the question using the numbered context passages below.\n")
	if citations {
		b.WriteString("When a statement is supported by a passage, cite it inline with its number, e.g. [1].\n")
		b.WriteString("Only cite passages you actually used.\n")
	}
	b.WriteString("\nContext:\n")
	for i, item := range items {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, item.Chunk.RawText)
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n\nAnswer:", query)
	return b.String()
}

func (s *Synthesizer) noContextPrompt(query string) string {
	return fmt.Sprintf("Answer the following question concisely from general knowledge.\n\nQuestion: %s\n\nAnswer:", query)
}

// extractCitations 扫描答案中的编号标记, 只为被实际引用的条目建立映射.
func extractCitations(answer string, items []RetrievalItem) []Citation {
	matches := citationMarker.FindAllStringSubmatch(answer, -1)
	seen := make(map[int]bool)
	var citations []Citation

	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(items) || seen[n] {
			continue
		}
		seen[n] = true

		chunk := items[n-1].Chunk
		excerpt := chunk.RawText
		if runes := []rune(excerpt); len(runes) > 120 {
			excerpt = string(runes[:120])
		}
		citations = append(citations, Citation{
			Marker:  fmt.Sprintf("[%d]", n),
			ChunkID: chunk.ID,
			Excerpt: excerpt,
		})
	}

	return citations
}

// failedGenerate 把生成后端错误折叠进结果信封.
func failedGenerate(err error) *GenerateResult {
	return &GenerateResult{
		Success:   false,
		Error:     err.Error(),
		ErrorKind: string(types.CodeOf(err)),
	}
}
