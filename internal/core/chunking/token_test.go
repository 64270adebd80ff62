package chunking

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSplitterShortTextSingleChunk(t *testing.T) {
	s, err := NewTokenSplitter(DefaultWindowTokens, DefaultOverlapTokens)
	require.NoError(t, err)

	parts := s.Split("short text")
	require.Len(t, parts, 1)
	assert.Equal(t, "short text", parts[0])
}

func TestTokenSplitterWindowAndOverlap(t *testing.T) {
	s, err := NewTokenSplitter(50, 10)
	require.NoError(t, err)

	var sb strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&sb, "tok%d ", i)
	}

	parts := s.Split(sb.String())
	require.Greater(t, len(parts), 1)

	for _, part := range parts {
		assert.LessOrEqual(t, s.Count(part), 50)
	}

	// 連結すると元テキストを網羅している（オーバーラップ分は重複してよい）
	joined := strings.Join(parts, "")
	assert.Contains(t, joined, "tok0")
	assert.Contains(t, joined, "tok199")
}

func TestTokenSplitterDefaultsOnInvalidConfig(t *testing.T) {
	s, err := NewTokenSplitter(0, -1)
	require.NoError(t, err)

	assert.Equal(t, DefaultWindowTokens, s.window)
	assert.Equal(t, DefaultOverlapTokens, s.overlap)
}

func TestTokenSplitterCountMatchesEncoder(t *testing.T) {
	s, err := NewTokenSplitter(DefaultWindowTokens, DefaultOverlapTokens)
	require.NoError(t, err)

	assert.Greater(t, s.Count("hello world"), 0)
	assert.Equal(t, 0, s.Count(""))
}
