package chunking

import (
	"strings"

	"github.com/google/uuid"

	"github.com/jinford/doc-rag/pkg/models"
)

const (
	// DefaultTableRowGroup は大きなテーブルを分割する際の行グループサイズ
	DefaultTableRowGroup = 40

	// smallTableMaxLines はテーブルを分割せず1チャンクにする行数の上限
	smallTableMaxLines = 3
)

// Pipeline は要素列からトークン制約付き・パンくず付きのチャンク列を構築します。
// I/O を持たず、エラーも返しません。構造が崩れた入力は残余テキストチャンク
// 1件に縮退させ、内容を落としません。
type Pipeline struct {
	splitter *TokenSplitter
	rowGroup int
}

// PipelineOption は Pipeline のオプション設定
type PipelineOption func(*Pipeline)

// WithTableRowGroup はテーブル分割の行グループサイズを上書きする
func WithTableRowGroup(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.rowGroup = n
		}
	}
}

// NewPipeline は新しい Pipeline を作成します
func NewPipeline(splitter *TokenSplitter, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		splitter: splitter,
		rowGroup: DefaultTableRowGroup,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BuildChunks は要素列をチャンク列に変換します。
// テーブルは本文と独立に処理し、本文は見出し分割→トークン分割の順で処理します。
func (p *Pipeline) BuildChunks(elements []models.Element) []Chunk {
	var tables []models.Element
	var prose []models.Element

	for _, e := range elements {
		// 空要素・空白のみの要素は分割前に落とす
		if strings.TrimSpace(e.Text) == "" {
			continue
		}
		if e.Type == models.ElementTypeTable {
			tables = append(tables, e)
		} else {
			prose = append(prose, e)
		}
	}

	chunks := make([]Chunk, 0, len(prose)+len(tables))

	for _, sec := range splitByHeaders(prose) {
		chunks = append(chunks, p.sectionChunks(sec)...)
	}

	for _, table := range tables {
		chunks = append(chunks, p.tableChunks(table)...)
	}

	return chunks
}

// splitByHeaders は見出しスタックを維持しながら要素列をセクションに分割する。
// 新しい見出しは自レベル以上の開いた見出しをすべて閉じてから積む（閉包は一方向）。
// パンくずはスタックの中身そのもの。見出し以外の要素は現在のセクションに付く。
func splitByHeaders(elements []models.Element) []section {
	var sections []section
	var current []models.Element
	var headerPath []string

	for _, e := range elements {
		if e.Type.IsHeader() {
			if len(current) > 0 {
				sections = append(sections, section{
					elements:   current,
					headerPath: append([]string(nil), headerPath...),
				})
			}

			level := e.Type.HeaderLevel()
			for len(headerPath) >= level {
				headerPath = headerPath[:len(headerPath)-1]
			}
			headerPath = append(headerPath, e.Text)

			current = []models.Element{e}
		} else {
			current = append(current, e)
		}
	}

	if len(current) > 0 {
		sections = append(sections, section{
			elements:   current,
			headerPath: append([]string(nil), headerPath...),
		})
	}

	return sections
}

// sectionChunks はセクション本文を連結してトークンウィンドウで分割する
func (p *Pipeline) sectionChunks(sec section) []Chunk {
	texts := make([]string, 0, len(sec.elements))
	for _, e := range sec.elements {
		texts = append(texts, e.Text)
	}
	sectionText := strings.Join(texts, " ")

	var page *int
	var elementID *uuid.UUID
	if len(sec.elements) > 0 {
		first := sec.elements[0]
		page = first.Page
		id := first.ID
		elementID = &id
	}

	parts := p.splitter.Split(sectionText)
	chunks := make([]Chunk, 0, len(parts))
	for _, text := range parts {
		chunks = append(chunks, Chunk{
			Level:      models.ChunkLevelSection,
			HeaderPath: sec.headerPath,
			Text:       text,
			TokenCount: p.splitter.Count(text),
			Page:       page,
			ElementID:  elementID,
		})
	}
	return chunks
}

// tableChunks はテーブル要素をチャンク化する。
// 3行以下は1チャンク。それ以上は行グループに分割し、各チャンクが単体で
// 読めるようヘッダー行と区切り行を毎回繰り返す。
func (p *Pipeline) tableChunks(table models.Element) []Chunk {
	lines := strings.Split(strings.TrimRight(table.Text, "\n"), "\n")

	tableID := ""
	if table.TableID != nil {
		tableID = *table.TableID
	}

	// ヘッダー行と区切り行が揃わないテーブルは残余テキストチャンクに縮退
	if len(lines) < 2 {
		return []Chunk{p.residualChunk(table)}
	}

	if len(lines) <= smallTableMaxLines {
		elemID := table.ID
		return []Chunk{{
			Level:      models.ChunkLevelTable,
			HeaderPath: []string{},
			Text:       table.Text,
			TokenCount: p.splitter.Count(table.Text),
			Page:       table.Page,
			ElementID:  &elemID,
			TableMeta: &models.TableMeta{
				TableID: tableID,
				Rows:    len(lines) - 2,
				Headers: parseHeaderCells(lines[0]),
			},
		}}
	}

	header := lines[0]
	separator := lines[1]
	dataLines := lines[2:]
	headers := parseHeaderCells(header)

	var chunks []Chunk
	for i := 0; i < len(dataLines); i += p.rowGroup {
		end := i + p.rowGroup
		if end > len(dataLines) {
			end = len(dataLines)
		}
		group := dataLines[i:end]

		text := strings.Join(append([]string{header, separator}, group...), "\n")

		elemID := table.ID
		chunks = append(chunks, Chunk{
			Level:      models.ChunkLevelTable,
			HeaderPath: []string{},
			Text:       text,
			TokenCount: p.splitter.Count(text),
			Page:       table.Page,
			ElementID:  &elemID,
			TableMeta: &models.TableMeta{
				TableID:  tableID,
				Rows:     len(group),
				StartRow: i + 1,
				EndRow:   i + len(group),
				Headers:  headers,
			},
		})
	}

	return chunks
}

// residualChunk は構造を解釈できなかった要素をテキストチャンク1件として残す
func (p *Pipeline) residualChunk(e models.Element) Chunk {
	elemID := e.ID
	return Chunk{
		Level:      models.ChunkLevelSection,
		HeaderPath: []string{},
		Text:       e.Text,
		TokenCount: p.splitter.Count(e.Text),
		Page:       e.Page,
		ElementID:  &elemID,
	}
}

// parseHeaderCells は markdown テーブルのヘッダー行からセル名を取り出す
func parseHeaderCells(header string) []string {
	var cells []string
	for _, cell := range strings.Split(header, "|") {
		cell = strings.TrimSpace(cell)
		if cell != "" {
			cells = append(cells, cell)
		}
	}
	return cells
}
