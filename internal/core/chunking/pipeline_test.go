package chunking

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-rag/pkg/models"
)

func newTestPipeline(t *testing.T, opts ...PipelineOption) *Pipeline {
	t.Helper()
	splitter, err := NewTokenSplitter(DefaultWindowTokens, DefaultOverlapTokens)
	require.NoError(t, err)
	return NewPipeline(splitter, opts...)
}

func element(typ models.ElementType, text string) models.Element {
	return models.Element{
		ID:   uuid.New(),
		Type: typ,
		Text: text,
	}
}

func TestBuildChunksHeaderBreadcrumbs(t *testing.T) {
	p := newTestPipeline(t)

	chunks := p.BuildChunks([]models.Element{
		element("h1", "Intro"),
		element(models.ElementTypeText, "Hello world."),
	})

	require.Len(t, chunks, 1)
	assert.Equal(t, models.ChunkLevelSection, chunks[0].Level)
	assert.Contains(t, chunks[0].Text, "Hello world.")
	assert.Equal(t, []string{"Intro"}, chunks[0].HeaderPath)
	assert.Equal(t, p.splitter.Count(chunks[0].Text), chunks[0].TokenCount)
}

func TestBuildChunksHeaderStack(t *testing.T) {
	p := newTestPipeline(t)

	chunks := p.BuildChunks([]models.Element{
		element("h1", "Guide"),
		element(models.ElementTypeText, "intro text"),
		element("h2", "Setup"),
		element(models.ElementTypeText, "setup text"),
		element("h3", "Linux"),
		element(models.ElementTypeText, "linux text"),
		// h2 は h2/h3 を閉じて h1 の下に積み直す
		element("h2", "Usage"),
		element(models.ElementTypeText, "usage text"),
	})

	require.Len(t, chunks, 4)
	assert.Equal(t, []string{"Guide"}, chunks[0].HeaderPath)
	assert.Equal(t, []string{"Guide", "Setup"}, chunks[1].HeaderPath)
	assert.Equal(t, []string{"Guide", "Setup", "Linux"}, chunks[2].HeaderPath)
	assert.Equal(t, []string{"Guide", "Usage"}, chunks[3].HeaderPath)
}

func TestBuildChunksDropsEmptyElements(t *testing.T) {
	p := newTestPipeline(t)

	chunks := p.BuildChunks([]models.Element{
		element(models.ElementTypeText, "   "),
		element(models.ElementTypeText, ""),
		element(models.ElementTypeText, "content"),
	})

	require.Len(t, chunks, 1)
	assert.Equal(t, "content", chunks[0].Text)
}

func TestBuildChunksLongSectionOverlap(t *testing.T) {
	p := newTestPipeline(t)

	// 500トークンを大きく超えるセクションを作る
	var sb strings.Builder
	for i := 0; i < 1500; i++ {
		fmt.Fprintf(&sb, "word%d ", i)
	}

	chunks := p.BuildChunks([]models.Element{
		element("h1", "Long"),
		element(models.ElementTypeText, sb.String()),
	})

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.TokenCount, DefaultWindowTokens)
		assert.Equal(t, []string{"Long"}, c.HeaderPath)
	}
}

func buildMarkdownTable(headers []string, rows int) string {
	var lines []string
	lines = append(lines, "| "+strings.Join(headers, " | ")+" |")

	seps := make([]string, len(headers))
	for i := range seps {
		seps[i] = "---"
	}
	lines = append(lines, "| "+strings.Join(seps, " | ")+" |")

	for i := 0; i < rows; i++ {
		cells := make([]string, len(headers))
		for j := range cells {
			cells[j] = fmt.Sprintf("r%dc%d", i, j)
		}
		lines = append(lines, "| "+strings.Join(cells, " | ")+" |")
	}
	return strings.Join(lines, "\n")
}

func TestBuildChunksSmallTableSingleChunk(t *testing.T) {
	p := newTestPipeline(t)

	tableID := "t1"
	e := element(models.ElementTypeTable, "| A | B |\n| --- | --- |\n| 1 | 2 |")
	e.TableID = &tableID

	chunks := p.BuildChunks([]models.Element{e})

	require.Len(t, chunks, 1)
	assert.Equal(t, models.ChunkLevelTable, chunks[0].Level)
	require.NotNil(t, chunks[0].TableMeta)
	assert.Equal(t, "t1", chunks[0].TableMeta.TableID)
	assert.Equal(t, 1, chunks[0].TableMeta.Rows)
	assert.Equal(t, []string{"A", "B"}, chunks[0].TableMeta.Headers)
}

func TestBuildChunksLargeTableRepeatsHeader(t *testing.T) {
	p := newTestPipeline(t)

	tableID := "big"
	e := element(models.ElementTypeTable, buildMarkdownTable([]string{"Name", "Age"}, 100))
	e.TableID = &tableID

	chunks := p.BuildChunks([]models.Element{e})

	// 100行を40行グループで分割すると 40/40/20 の3チャンク
	require.Len(t, chunks, 3)
	assert.Equal(t, 40, chunks[0].TableMeta.Rows)
	assert.Equal(t, 40, chunks[1].TableMeta.Rows)
	assert.Equal(t, 20, chunks[2].TableMeta.Rows)
	assert.Equal(t, 1, chunks[0].TableMeta.StartRow)
	assert.Equal(t, 40, chunks[0].TableMeta.EndRow)
	assert.Equal(t, 41, chunks[1].TableMeta.StartRow)
	assert.Equal(t, 81, chunks[2].TableMeta.StartRow)
	assert.Equal(t, 100, chunks[2].TableMeta.EndRow)

	// 各チャンクはヘッダー行と区切り行をそのまま含み、単体で自己記述的
	for _, c := range chunks {
		lines := strings.Split(c.Text, "\n")
		assert.Equal(t, "| Name | Age |", lines[0])
		assert.Equal(t, "| --- | --- |", lines[1])
		assert.Contains(t, c.Text, "Name")
		assert.Contains(t, c.Text, "Age")
	}
}

func TestBuildChunksMalformedTableDegrades(t *testing.T) {
	p := newTestPipeline(t)

	e := element(models.ElementTypeTable, "orphan row without header")

	chunks := p.BuildChunks([]models.Element{e})

	// 構造を解釈できないテーブルは残余テキストチャンクとして残す
	require.Len(t, chunks, 1)
	assert.Equal(t, models.ChunkLevelSection, chunks[0].Level)
	assert.Equal(t, "orphan row without header", chunks[0].Text)
}

func TestBuildChunksTablesIndependentOfProse(t *testing.T) {
	p := newTestPipeline(t)

	tableID := "t"
	table := element(models.ElementTypeTable, "| X |\n| --- |\n| 1 |")
	table.TableID = &tableID

	chunks := p.BuildChunks([]models.Element{
		element("h1", "Sec"),
		table,
		element(models.ElementTypeText, "prose"),
	})

	require.Len(t, chunks, 2)
	// 本文チャンクにテーブル内容が混ざらない
	assert.NotContains(t, chunks[0].Text, "| X |")
	assert.Equal(t, models.ChunkLevelTable, chunks[1].Level)
}
