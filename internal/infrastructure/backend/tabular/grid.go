package tabular

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/procflow/extractor/internal/core/domain"
)

// Column roles recognized in header rows. Multilingual because procurement
// documents routinely arrive in mixed English/German.
var headerAliases = map[string][]string{
	"description": {"description", "item", "article", "material", "service", "bezeichnung", "beschreibung", "artikel", "leistung", "designation"},
	"quantity":    {"quantity", "qty", "amount", "count", "menge", "anzahl", "stück", "stk"},
	"unit":        {"unit", "uom", "einheit", "me", "mengeneinheit"},
	"category":    {"category", "group", "kategorie", "gruppe", "warengruppe"},
	"position":    {"pos", "pos.", "position", "no", "no.", "nr", "nr.", "#", "item no"},
}

const headerScanDepth = 10

type columnMap struct {
	description int
	quantity    int
	unit        int
	category    int
	position    int
	spec        []int // unmapped columns become specifications
	headers     []string
}

// parseGrid turns a raw cell grid into line items. A grid without a
// recognizable header row is treated as undetectable tabular structure so
// the cascade can move on to a more general backend.
func parseGrid(grid [][]string) ([]domain.LineItem, error) {
	headerIdx, cols := locateHeader(grid)
	if cols == nil {
		return nil, domain.WrapError(domain.ErrUnsupportedFormat, backendID,
			errors.New("no recognizable header row"))
	}

	var items []domain.LineItem
	for _, row := range grid[headerIdx+1:] {
		item, ok := rowToItem(row, cols)
		if ok {
			items = append(items, item)
		}
	}
	return items, nil
}

func locateHeader(grid [][]string) (int, *columnMap) {
	depth := headerScanDepth
	if len(grid) < depth {
		depth = len(grid)
	}
	for i := 0; i < depth; i++ {
		if cols := mapColumns(grid[i]); cols != nil {
			return i, cols
		}
	}
	return 0, nil
}

// mapColumns requires at least a description column to accept a row as
// header; everything else is optional.
func mapColumns(row []string) *columnMap {
	cols := &columnMap{description: -1, quantity: -1, unit: -1, category: -1, position: -1}
	for idx, cell := range row {
		role := roleOf(cell)
		switch role {
		case "description":
			if cols.description < 0 {
				cols.description = idx
			}
		case "quantity":
			if cols.quantity < 0 {
				cols.quantity = idx
			}
		case "unit":
			if cols.unit < 0 {
				cols.unit = idx
			}
		case "category":
			if cols.category < 0 {
				cols.category = idx
			}
		case "position":
			if cols.position < 0 {
				cols.position = idx
			}
		default:
			if strings.TrimSpace(cell) != "" {
				cols.spec = append(cols.spec, idx)
			}
		}
	}
	if cols.description < 0 {
		return nil
	}
	cols.headers = row
	return cols
}

func roleOf(cell string) string {
	normalized := strings.ToLower(strings.TrimSpace(cell))
	if normalized == "" {
		return ""
	}
	for role, aliases := range headerAliases {
		for _, alias := range aliases {
			if normalized == alias || strings.HasPrefix(normalized, alias+" ") {
				return role
			}
		}
	}
	return ""
}

func rowToItem(row []string, cols *columnMap) (domain.LineItem, bool) {
	desc := cellAt(row, cols.description)
	if desc == "" {
		return domain.LineItem{}, false
	}

	item := domain.LineItem{
		Description:    desc,
		Unit:           cellAt(row, cols.unit),
		Category:       cellAt(row, cols.category),
		Specifications: []string{},
	}

	if qty, ok := parseQuantity(cellAt(row, cols.quantity)); ok {
		item.Quantity = &qty
	}

	for _, idx := range cols.spec {
		value := cellAt(row, idx)
		if value == "" {
			continue
		}
		header := cellAt(cols.headers, idx)
		if header != "" {
			item.Specifications = append(item.Specifications, fmt.Sprintf("%s: %s", header, value))
		} else {
			item.Specifications = append(item.Specifications, value)
		}
	}
	return item, true
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func parseQuantity(raw string) (float64, bool) {
	if raw == "" {
		return 0, false
	}
	normalized := strings.ReplaceAll(raw, " ", "")
	// European decimal comma, unless the comma is a thousands separator.
	if strings.Count(normalized, ",") == 1 && !strings.Contains(normalized, ".") {
		normalized = strings.Replace(normalized, ",", ".", 1)
	} else {
		normalized = strings.ReplaceAll(normalized, ",", "")
	}
	f, err := strconv.ParseFloat(normalized, 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	return f, true
}
