package layout

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/procflow/extractor/internal/core/domain"
)

// trailingQtyPattern matches "description ... quantity [unit]" lines,
// optionally led by a position number. Units cover the mixed
// English/German vocabulary of procurement documents.
var trailingQtyPattern = regexp.MustCompile(
	`(?i)^(?:\d{1,4}[.)]?\s+)?(.*?\pL.*?)[\s:]+(\d{1,7}(?:[.,]\d{1,3})?)\s*` +
		`(pcs|pc|stk|st|stück|stueck|set|sets|ea|each|units?|rolls?|m|m2|m²|m3|m³|mm|cm|lfm|kg|t|to|l|ltr|h|std|psch|pauschal)?\.?\s*$`)

var bulletPrefixes = []string{"-", "•", "*", "·", "–"}

// parseLines applies row heuristics to reconstructed text lines.
// Tab-separated lines are treated as table rows; free-form lines must
// end in a quantity to count as an item. Bullet lines attach to the
// preceding item as specifications.
func parseLines(lines []string) []domain.LineItem {
	var items []domain.LineItem
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if spec, ok := bulletSpec(trimmed); ok && len(items) > 0 {
			last := &items[len(items)-1]
			last.Specifications = append(last.Specifications, spec)
			continue
		}

		var item domain.LineItem
		var ok bool
		if strings.Contains(line, "\t") {
			item, ok = cellsToItem(strings.Split(line, "\t"))
		} else {
			item, ok = freeLineToItem(trimmed)
		}
		if ok {
			items = append(items, item)
		}
	}
	return items
}

func bulletSpec(line string) (string, bool) {
	for _, prefix := range bulletPrefixes {
		if strings.HasPrefix(line, prefix) {
			spec := strings.TrimSpace(strings.TrimPrefix(line, prefix))
			return spec, spec != ""
		}
	}
	return "", false
}

// cellsToItem reads a tab-split row: the longest textual cell is the
// description, the first positive numeric cell the quantity, and the
// cell after the quantity the unit. Rows without a quantity are header
// or prose rows and are dropped.
func cellsToItem(cells []string) (domain.LineItem, bool) {
	item := domain.LineItem{Specifications: []string{}}
	qtyIdx := -1
	for i, cell := range cells {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		if qty, ok := parseLineQuantity(cell); ok && item.Quantity == nil {
			item.Quantity = &qty
			qtyIdx = i
			continue
		}
		if i == qtyIdx+1 && qtyIdx >= 0 && item.Unit == "" && looksLikeUnit(cell) {
			item.Unit = cell
			continue
		}
		if len(cell) > len(item.Description) && containsLetter(cell) {
			if item.Description != "" {
				item.Specifications = append(item.Specifications, item.Description)
			}
			item.Description = cell
		} else if containsLetter(cell) {
			item.Specifications = append(item.Specifications, cell)
		}
	}
	if item.Quantity == nil || !plausibleDescription(item.Description) {
		return domain.LineItem{}, false
	}
	return item, true
}

func freeLineToItem(line string) (domain.LineItem, bool) {
	m := trailingQtyPattern.FindStringSubmatch(line)
	if m == nil {
		return domain.LineItem{}, false
	}
	desc := strings.TrimSpace(m[1])
	if !plausibleDescription(desc) {
		return domain.LineItem{}, false
	}
	item := domain.LineItem{
		Description:    desc,
		Unit:           strings.TrimSpace(m[3]),
		Specifications: []string{},
	}
	if qty, ok := parseLineQuantity(m[2]); ok {
		item.Quantity = &qty
	}
	return item, true
}

func parseLineQuantity(raw string) (float64, bool) {
	normalized := strings.Replace(strings.TrimSpace(raw), ",", ".", 1)
	f, err := strconv.ParseFloat(normalized, 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	return f, true
}

func looksLikeUnit(cell string) bool {
	if len(cell) > 12 {
		return false
	}
	for _, r := range cell {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '²' && r != '³' && r != '/' {
			return false
		}
	}
	return containsLetter(cell)
}

func plausibleDescription(desc string) bool {
	return len(desc) >= 4 && containsLetter(desc)
}

func containsLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
