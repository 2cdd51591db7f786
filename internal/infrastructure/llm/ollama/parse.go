package ollama

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/procflow/extractor/internal/core/domain"
)

// wireItem tolerates the shapes local models actually emit: quantity as
// number or string, missing arrays, null fields.
type wireItem struct {
	Description    string   `json:"description"`
	Quantity       any      `json:"quantity"`
	Unit           *string  `json:"unit"`
	Specifications []string `json:"specifications"`
	Category       *string  `json:"category"`
}

func parseLineItems(raw string) ([]domain.LineItem, error) {
	payload := extractJSONObject(raw)

	var envelope struct {
		Items []wireItem `json:"items"`
	}
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		// Some models return a bare array despite the instruction.
		var bare []wireItem
		if arrErr := json.Unmarshal([]byte(extractJSONArray(raw)), &bare); arrErr != nil {
			return nil, fmt.Errorf("parse line items json: %w", err)
		}
		envelope.Items = bare
	}

	items := make([]domain.LineItem, 0, len(envelope.Items))
	for _, w := range envelope.Items {
		desc := strings.TrimSpace(w.Description)
		if desc == "" {
			continue
		}
		item := domain.LineItem{
			Description:    desc,
			Specifications: w.Specifications,
		}
		if item.Specifications == nil {
			item.Specifications = []string{}
		}
		if w.Unit != nil {
			item.Unit = strings.TrimSpace(*w.Unit)
		}
		if w.Category != nil {
			item.Category = strings.TrimSpace(*w.Category)
		}
		if qty, ok := coerceQuantity(w.Quantity); ok {
			item.Quantity = &qty
		}
		items = append(items, item)
	}
	return items, nil
}

func coerceQuantity(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if t > 0 {
			return t, true
		}
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(t, ",", "."))
		if s == "" {
			return 0, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
			return f, true
		}
	}
	return 0, false
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

func extractJSONArray(raw string) string {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
