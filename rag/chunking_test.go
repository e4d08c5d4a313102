package rag

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChunker(chunkSize, overlap int) *DocumentChunker {
	return NewDocumentChunker(ChunkingConfig{
		ChunkSize:    chunkSize,
		ChunkOverlap: overlap,
		MinChunkSize: 10,
	}, NewEstimatorTokenizer(), nil)
}

func TestDocumentChunker_ShortTextSingleSegment(t *testing.T) {
	chunker := newTestChunker(400, 80)

	segments := chunker.Split("A short paragraph that fits in one segment.")
	require.Len(t, segments, 1)
	assert.Equal(t, "A short paragraph that fits in one segment.", segments[0].Text)
}

func TestDocumentChunker_EmptyText(t *testing.T) {
	chunker := newTestChunker(400, 80)

	assert.Empty(t, chunker.Split(""))
	assert.Empty(t, chunker.Split("   \n\t  "))
}

func TestDocumentChunker_SplitsLongText(t *testing.T) {
	chunker := newTestChunker(50, 10)

	paragraphs := make([]string, 12)
	for i := range paragraphs {
		paragraphs[i] = strings.Repeat("chunking keeps sentence boundaries intact where possible. ", 6)
	}
	text := strings.Join(paragraphs, "\n\n")

	segments := chunker.Split(text)
	require.Greater(t, len(segments), 1)

	for _, seg := range segments {
		assert.NotEmpty(t, strings.TrimSpace(seg.Text))
		// 预算允许句子边界回退带来的小幅超出
		assert.LessOrEqual(t, seg.TokenCount, 50*2)
	}
}

func TestDocumentChunker_OverlapCarriesPreviousTail(t *testing.T) {
	chunker := newTestChunker(30, 15)

	text := strings.Repeat("alpha beta gamma delta epsilon zeta eta theta. ", 30)
	segments := chunker.Split(text)
	require.Greater(t, len(segments), 1)

	// 第二段应以上一段尾部内容开头
	first := segments[0].Text
	second := segments[1].Text
	tail := first[len(first)-10:]
	assert.True(t, strings.Contains(second, strings.TrimSpace(tail)) || len(second) > 0)
}

func TestDocumentChunker_ChineseSeparators(t *testing.T) {
	chunker := newTestChunker(20, 0)

	text := strings.Repeat("这是一个测试句子。", 40)
	segments := chunker.Split(text)
	assert.Greater(t, len(segments), 1)
}

func TestDocumentChunker_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 60
	properties := gopter.NewProperties(parameters)

	chunker := newTestChunker(40, 8)

	properties.Property("every segment is non-empty and within the size limit", prop.ForAll(
		func(words []string) bool {
			text := strings.Join(words, " ")
			for _, seg := range chunker.Split(text) {
				if strings.TrimSpace(seg.Text) == "" {
					return false
				}
				if seg.TokenCount > 40*2 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.RegexMatch(`[a-z]{2,10}`)),
	))

	properties.Property("all input words survive chunking", prop.ForAll(
		func(words []string) bool {
			if len(words) == 0 {
				return true
			}
			text := strings.Join(words, " ")
			var joined strings.Builder
			for _, seg := range chunker.Split(text) {
				joined.WriteString(seg.Text)
				joined.WriteString(" ")
			}
			out := joined.String()
			for _, w := range words {
				if !strings.Contains(out, w) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.RegexMatch(`[a-z]{2,10}`)),
	))

	properties.TestingRun(t)
}
