package rag

import (
	"strings"

	"go.uber.org/zap"
)

// ChunkingConfig 分块配置.
type ChunkingConfig struct {
	ChunkSize    int `json:"chunk_size"`     // 块大小（tokens）
	ChunkOverlap int `json:"chunk_overlap"`  // 重叠大小（tokens）
	MinChunkSize int `json:"min_chunk_size"` // 最小块大小
}

// DefaultChunkingConfig 默认分块配置.
// 400 tokens 约覆盖 300-500 个英文单词.
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		ChunkSize:    400,
		ChunkOverlap: 80,
		MinChunkSize: 10,
	}
}

// Segment 分块器产出的文本段.
type Segment struct {
	Text       string `json:"text"`
	StartPos   int    `json:"start_pos"`
	EndPos     int    `json:"end_pos"`
	TokenCount int    `json:"token_count"`
}

// DocumentChunker 文档分块器.
// 在段落/句子边界递归分割, 保持语义完整性.
type DocumentChunker struct {
	config    ChunkingConfig
	tokenizer Tokenizer
	logger    *zap.Logger
}

// NewDocumentChunker 创建文档分块器.
func NewDocumentChunker(config ChunkingConfig, tokenizer Tokenizer, logger *zap.Logger) *DocumentChunker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkingConfig().ChunkSize
	}
	if config.MinChunkSize <= 0 {
		config.MinChunkSize = 1
	}
	if tokenizer == nil {
		tokenizer = NewEstimatorTokenizer()
	}
	return &DocumentChunker{
		config:    config,
		tokenizer: tokenizer,
		logger:    logger,
	}
}

// Split 将文本切分为有界大小的段.
// 分隔符优先级: 段落 > 行 > 句子 > 空格, 逐级递归.
func (c *DocumentChunker) Split(text string) []Segment {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	// 整体已在限制内, 单段返回
	if c.tokenizer.CountTokens(text) <= c.config.ChunkSize {
		return []Segment{{
			Text:       text,
			StartPos:   0,
			EndPos:     len(text),
			TokenCount: c.tokenizer.CountTokens(text),
		}}
	}

	separators := []string{"\n\n", "\n", ". ", "。", "! ", "！", "? ", "？", " "}
	segments := c.recursiveSplit(text, separators, 0)

	if c.config.ChunkOverlap > 0 {
		segments = c.addOverlap(segments, text)
	}

	c.logger.Debug("chunking completed",
		zap.Int("segments", len(segments)),
		zap.Int("chunk_size", c.config.ChunkSize),
		zap.Int("overlap", c.config.ChunkOverlap))

	return segments
}

// recursiveSplit 递归分割.
func (c *DocumentChunker) recursiveSplit(text string, separators []string, startPos int) []Segment {
	if len(separators) == 0 {
		// 最后一级: 按字符分割（句子边界感知）
		return c.splitByCharacters(text, startPos)
	}

	separator := separators[0]
	parts := strings.Split(text, separator)

	var segments []Segment
	current := ""
	currentStart := startPos
	offset := startPos

	flush := func() {
		trimmed := strings.TrimSpace(current)
		if trimmed != "" && c.tokenizer.CountTokens(trimmed) >= c.config.MinChunkSize {
			segments = append(segments, Segment{
				Text:       trimmed,
				StartPos:   currentStart,
				EndPos:     currentStart + len(current),
				TokenCount: c.tokenizer.CountTokens(trimmed),
			})
		}
		current = ""
	}

	for i, part := range parts {
		// 恢复分隔符（除了最后一个）
		if i < len(parts)-1 {
			part += separator
		}

		// 单个 part 超过限制, 递归使用下一级分隔符
		if c.tokenizer.CountTokens(part) > c.config.ChunkSize {
			flush()
			sub := c.recursiveSplit(part, separators[1:], offset)
			segments = append(segments, sub...)
			offset += len(part)
			currentStart = offset
			continue
		}

		test := current + part
		if c.tokenizer.CountTokens(test) <= c.config.ChunkSize {
			current = test
		} else {
			flush()
			currentStart = offset
			current = part
		}
		offset += len(part)
	}

	flush()
	return segments
}

// splitByCharacters 按字符分割（最后手段, 句子边界感知）.
func (c *DocumentChunker) splitByCharacters(text string, startPos int) []Segment {
	var segments []Segment
	runes := []rune(text)

	// 估算每个 token 约 4 个字符
	charsPerChunk := c.config.ChunkSize * 4
	if charsPerChunk <= 0 {
		charsPerChunk = len(runes)
	}

	for i := 0; i < len(runes); i += charsPerChunk {
		end := i + charsPerChunk
		if end > len(runes) {
			end = len(runes)
		}

		chunkText := adjustToSentenceBoundary(string(runes[i:end]))
		trimmed := strings.TrimSpace(chunkText)
		if trimmed == "" {
			continue
		}

		segments = append(segments, Segment{
			Text:       trimmed,
			StartPos:   startPos + i,
			EndPos:     startPos + i + len([]rune(chunkText)),
			TokenCount: c.tokenizer.CountTokens(trimmed),
		})
	}

	return segments
}

// adjustToSentenceBoundary 调整到句子边界, 避免在句子中间分割.
// 只在后半部分查找, 找不到边界时原样返回.
func adjustToSentenceBoundary(text string) string {
	if len(text) == 0 {
		return text
	}

	sentenceEnders := []rune{'.', '。', '!', '！', '?', '？', '\n'}

	runes := []rune(text)
	for i := len(runes) - 1; i >= len(runes)/2; i-- {
		for _, ender := range sentenceEnders {
			if runes[i] == ender {
				return string(runes[:i+1])
			}
		}
	}

	for i := len(runes) - 1; i >= len(runes)/2; i-- {
		if runes[i] == ' ' || runes[i] == '\t' {
			return string(runes[:i])
		}
	}

	return text
}

// addOverlap 从前一段尾部取重叠内容拼接到当前段头部.
func (c *DocumentChunker) addOverlap(segments []Segment, fullText string) []Segment {
	if len(segments) <= 1 {
		return segments
	}

	overlapped := make([]Segment, len(segments))
	overlapChars := c.config.ChunkOverlap * 4 // 估算字符数

	for i := range segments {
		seg := segments[i]

		if i > 0 {
			prev := segments[i-1]
			overlapStart := prev.EndPos - overlapChars
			if overlapStart < prev.StartPos {
				overlapStart = prev.StartPos
			}

			if overlapStart >= 0 && overlapStart < seg.StartPos && seg.StartPos <= len(fullText) {
				overlapText := fullText[overlapStart:seg.StartPos]
				seg.Text = strings.TrimSpace(overlapText + " " + seg.Text)
				seg.StartPos = overlapStart
				seg.TokenCount = c.tokenizer.CountTokens(seg.Text)
			}
		}

		overlapped[i] = seg
	}

	return overlapped
}
