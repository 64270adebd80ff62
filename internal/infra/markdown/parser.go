package markdown

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jinford/doc-rag/internal/core/pipeline"
	"github.com/jinford/doc-rag/pkg/models"
)

// Parser は markdown / プレーンテキストをエレメント列に分解するパーサ。
// Parse は見出し・段落・リスト・コードブロックを、ExtractTables は
// パイプ区切りのテーブルのみを取り出す。
type Parser struct{}

var _ pipeline.Parser = (*Parser)(nil)

func NewParser() *Parser {
	return &Parser{}
}

func supportedMime(mime string) bool {
	switch mime {
	case "text/markdown", "text/plain", "text/x-markdown", "":
		return true
	}
	return false
}

// Parse はテーブル以外のエレメントを抽出順に返す
func (p *Parser) Parse(ctx context.Context, data []byte, mime string) ([]models.Element, error) {
	if !supportedMime(mime) {
		return nil, fmt.Errorf("unsupported mime type: %s", mime)
	}

	var elements []models.Element
	lines := strings.Split(string(data), "\n")

	i := 0
	for i < len(lines) {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			i++

		case strings.HasPrefix(trimmed, "```"):
			block, next := collectFence(lines, i)
			if block != "" {
				elements = append(elements, newElement(models.ElementTypeCode, block))
			}
			i = next

		case headerLevel(trimmed) > 0:
			level := headerLevel(trimmed)
			text := strings.TrimSpace(trimmed[level:])
			elements = append(elements, newElement(models.ElementType(fmt.Sprintf("h%d", level)), text))
			i++

		case isTableLine(trimmed):
			// テーブルは ExtractTables の担当なので読み飛ばす
			for i < len(lines) && isTableLine(strings.TrimSpace(lines[i])) {
				i++
			}

		case isListLine(trimmed):
			var items []string
			for i < len(lines) {
				t := strings.TrimSpace(lines[i])
				if !isListLine(t) {
					break
				}
				items = append(items, t)
				i++
			}
			elements = append(elements, newElement(models.ElementTypeList, strings.Join(items, "\n")))

		default:
			var para []string
			for i < len(lines) {
				t := strings.TrimSpace(lines[i])
				if t == "" || headerLevel(t) > 0 || isTableLine(t) || isListLine(t) || strings.HasPrefix(t, "```") {
					break
				}
				para = append(para, t)
				i++
			}
			elements = append(elements, newElement(models.ElementTypeText, strings.Join(para, "\n")))
		}
	}

	return elements, nil
}

// ExtractTables はパイプ区切りテーブルだけを取り出す。
// 各テーブルには出現順の table_id を振る。
func (p *Parser) ExtractTables(ctx context.Context, data []byte, mime string) ([]models.Element, error) {
	if !supportedMime(mime) {
		return nil, fmt.Errorf("unsupported mime type: %s", mime)
	}

	var tables []models.Element
	lines := strings.Split(string(data), "\n")

	i := 0
	inFence := false
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			i++
			continue
		}
		if inFence || !isTableLine(trimmed) {
			i++
			continue
		}

		var rows []string
		for i < len(lines) {
			t := strings.TrimSpace(lines[i])
			if !isTableLine(t) {
				break
			}
			rows = append(rows, t)
			i++
		}

		tableID := fmt.Sprintf("table-%d", len(tables)+1)
		elem := newElement(models.ElementTypeTable, strings.Join(rows, "\n"))
		elem.TableID = &tableID
		tables = append(tables, elem)
	}

	return tables, nil
}

func newElement(elemType models.ElementType, text string) models.Element {
	return models.Element{
		ID:   uuid.New(),
		Type: elemType,
		Text: text,
	}
}

// collectFence は ``` で始まるコードブロックの中身と次の行番号を返す
func collectFence(lines []string, start int) (string, int) {
	var body []string
	i := start + 1
	for i < len(lines) {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
			i++
			break
		}
		body = append(body, lines[i])
		i++
	}
	return strings.Join(body, "\n"), i
}

// headerLevel は行が ATX 見出しのとき 1〜6 を返す
func headerLevel(line string) int {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0
	}
	if level >= len(line) || line[level] != ' ' {
		return 0
	}
	return level
}

func isTableLine(line string) bool {
	return strings.HasPrefix(line, "|") && strings.Count(line, "|") >= 2
}

func isListLine(line string) bool {
	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") || strings.HasPrefix(line, "+ ") {
		return true
	}
	// 番号付きリスト（"1. " 形式）
	dot := strings.IndexByte(line, '.')
	if dot <= 0 || dot+1 >= len(line) || line[dot+1] != ' ' {
		return false
	}
	for _, r := range line[:dot] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
