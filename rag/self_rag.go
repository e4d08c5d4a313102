package rag

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// selfRAGStrategy 自反思生成 (Self-RAG).
// 先生成草稿, 再让 LLM 批判草稿的完整性与忠实度;
// 判定不通过时, 用批判给出的缺失点扩展查询补检一轮,
// 合并新证据后修订草稿, 迭代次数有硬上限.
// 批判、补检或修订失败时保留当前草稿, 不中断请求.
type selfRAGStrategy struct {
	*baseStrategy
	maxIterations int
}

// NewSelfRAGStrategy 创建 self_rag 模式策略.
func NewSelfRAGStrategy(deps Deps) (Service, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	maxIterations := deps.Config.SelfRAGMaxIterations
	if maxIterations <= 0 {
		maxIterations = 2
	}
	return &selfRAGStrategy{
		baseStrategy:  newBaseStrategy(ModeSelfRAG, deps),
		maxIterations: maxIterations,
	}, nil
}

// critique LLM 对草稿的结构化评审结果.
type critique struct {
	Pass    bool
	Score   float64
	Missing string
}

var (
	verdictLine = regexp.MustCompile(`(?im)^VERDICT:\s*(PASS|REVISE)\s*$`)
	scoreLine   = regexp.MustCompile(`(?im)^SCORE:\s*([0-9.]+)\s*$`)
	missingLine = regexp.MustCompile(`(?im)^MISSING:\s*(.+)$`)
)

func (s *selfRAGStrategy) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	result, err := s.baseStrategy.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return result, nil
	}

	maxIterations := s.maxIterations
	if req.Options.MaxIterations > 0 {
		maxIterations = req.Options.MaxIterations
	}

	items, _ := s.contextItems(ctx, req)
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if item.Chunk != nil && item.Chunk.ID != "" {
			seen[item.Chunk.ID] = true
		}
	}

	contextText := joinItemText(items)
	answer := result.Answer
	refined := false
	iterations := 0
	supplemental := 0
	qualityScore := 0.0

	for iterations < maxIterations {
		iterations++

		c, err := s.critiqueDraft(ctx, req.Query, contextText, answer)
		if err != nil {
			s.logger.Warn("批判阶段失败, 保留当前草稿")
			s.recordDegradation("self_critique")
			break
		}
		qualityScore = c.Score
		if c.Pass {
			break
		}

		// 带着缺失点补检一轮, 新证据并入修订上下文
		if c.Missing != "" {
			if fresh := s.retrieveSupplement(ctx, req, c.Missing, seen); len(fresh) > 0 {
				items = append(items, fresh...)
				contextText = joinItemText(items)
				supplemental++
			}
		}

		revised, err := s.refineDraft(ctx, req.Query, contextText, answer, c.Missing)
		if err != nil || strings.TrimSpace(revised) == "" {
			s.recordDegradation("self_refine")
			break
		}
		answer = revised
		refined = true
	}

	result.Answer = answer
	if result.Metadata == nil {
		result.Metadata = make(map[string]any)
	}
	result.Metadata["self_reflection_used"] = true
	result.Metadata["refinement_performed"] = refined
	result.Metadata["iterations"] = iterations
	result.Metadata["supplemental_retrievals"] = supplemental
	result.Metadata["quality_score"] = qualityScore

	if s.deps.Metrics != nil && qualityScore > 0 {
		s.deps.Metrics.RecordQualityScore("self_rag", qualityScore)
	}
	return result, nil
}

// joinItemText 把检索条目拼成批判与修订用素材.
func joinItemText(items []RetrievalItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if item.Chunk != nil {
			parts = append(parts, item.Chunk.RawText)
		}
	}
	return strings.Join(parts, "\n\n")
}

// retrieveSupplement 以"原查询 + 缺失点"扩展查询补检一轮.
// 只返回尚未出现在上下文里的条目; 补检失败静默降级.
func (s *selfRAGStrategy) retrieveSupplement(ctx context.Context, req *GenerateRequest, missing string, seen map[string]bool) []RetrievalItem {
	if req.UserID == "" {
		return nil
	}

	rreq := &RetrieveRequest{
		Query:   req.Query + " " + missing,
		UserID:  req.UserID,
		Options: req.Options,
	}
	extra, errRes := s.retrieveByQueryText(ctx, rreq, rreq.Query)
	if errRes != nil {
		s.recordDegradation("refine_retrieval")
		return nil
	}

	fresh := make([]RetrievalItem, 0, len(extra))
	for _, item := range extra {
		if item.Chunk == nil || seen[item.Chunk.ID] {
			continue
		}
		seen[item.Chunk.ID] = true
		fresh = append(fresh, item)
	}
	return fresh
}

func (s *selfRAGStrategy) critiqueDraft(ctx context.Context, query, contextText, draft string) (*critique, error) {
	prompt := fmt.Sprintf(`Review the following draft answer against the question and the source passages.
Judge whether the draft is complete, accurate, and grounded in the passages.

Question: %s

Passages:
%s

Draft answer:
%s

Respond in exactly this format:
VERDICT: PASS or REVISE
SCORE: a number between 0.0 and 1.0
MISSING: what the draft lacks, or "nothing"`, query, contextText, draft)

	raw, err := s.deps.Generator.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return parseCritique(raw), nil
}

// parseCritique 解析评审输出, 格式不合规时按通过处理以避免无效迭代.
func parseCritique(raw string) *critique {
	c := &critique{Pass: true, Score: 0.5}

	if m := verdictLine.FindStringSubmatch(raw); m != nil {
		c.Pass = strings.EqualFold(m[1], "PASS")
	}
	if m := scoreLine.FindStringSubmatch(raw); m != nil {
		if score, err := strconv.ParseFloat(m[1], 64); err == nil && score >= 0 && score <= 1 {
			c.Score = score
		}
	}
	if m := missingLine.FindStringSubmatch(raw); m != nil {
		missing := strings.TrimSpace(m[1])
		if !strings.EqualFold(missing, "nothing") {
			c.Missing = missing
		}
	}
	return c
}

func (s *selfRAGStrategy) refineDraft(ctx context.Context, query, contextText, draft, missing string) (string, error) {
	prompt := fmt.Sprintf(`Revise the draft answer to address the reviewer's notes.
Stay grounded in the passages, keep existing citation markers like [1], and do not invent facts.

Question: %s

Passages:
%s

Draft answer:
%s

Reviewer notes: %s

Revised answer:`, query, contextText, draft, missing)

	revised, err := s.deps.Generator.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(revised), nil
}

func (s *selfRAGStrategy) Query(ctx context.Context, req *QueryRequest) (*QueryResult, error) {
	return composeQuery(ctx, s, req)
}
