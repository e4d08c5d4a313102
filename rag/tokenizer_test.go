package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimatorTokenizer_ASCII(t *testing.T) {
	tok := NewEstimatorTokenizer()

	assert.Equal(t, 0, tok.CountTokens(""))
	assert.Equal(t, 1, tok.CountTokens("hi"))

	// 40 个 ASCII 字符约 10 token
	assert.Equal(t, 10, tok.CountTokens(strings.Repeat("a", 40)))
}

func TestEstimatorTokenizer_CJK(t *testing.T) {
	tok := NewEstimatorTokenizer()

	// 中文字符密度更高: 15 字约 10 token
	assert.Equal(t, 10, tok.CountTokens(strings.Repeat("中", 15)))

	// 混合文本介于两者之间
	mixed := tok.CountTokens("hello 世界")
	assert.Greater(t, mixed, 1)
}

func TestEstimatorTokenizer_ScalesWithLength(t *testing.T) {
	tok := NewEstimatorTokenizer()

	short := tok.CountTokens("one sentence here")
	long := tok.CountTokens(strings.Repeat("one sentence here ", 20))
	assert.Greater(t, long, short*10)
}

func TestNewTiktokenTokenizer_EncodingSelection(t *testing.T) {
	assert.Equal(t, "o200k_base", NewTiktokenTokenizer("gpt-4o-mini", nil).encoding)
	assert.Equal(t, "cl100k_base", NewTiktokenTokenizer("gpt-4", nil).encoding)
	// 前缀匹配
	assert.Equal(t, "cl100k_base", NewTiktokenTokenizer("gpt-4-0613", nil).encoding)
	// 未知模型回退默认编码
	assert.Equal(t, "cl100k_base", NewTiktokenTokenizer("mystery-model", nil).encoding)
}
