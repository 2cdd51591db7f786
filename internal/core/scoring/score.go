package scoring

import (
	"strings"
	"unicode/utf8"

	"github.com/procflow/extractor/internal/core/domain"
)

const (
	baseScore          = 0.5
	itemCountBonusMid  = 0.2
	itemCountBonusHigh = 0.1
	itemCountBonusCap  = 0.3
	completenessWeight = 0.2

	minDescriptionLen = 10
)

// Score rates a candidate's completeness and plausibility in [0,1].
// The function is pure and deliberately backend-agnostic: priority order,
// not inflated scores, decides which backend wins ties.
func Score(candidate *domain.ExtractionCandidate) float64 {
	if candidate == nil || len(candidate.Items) == 0 {
		return 0.0
	}

	score := baseScore

	bonus := 0.0
	if len(candidate.Items) >= 3 {
		bonus += itemCountBonusMid
	}
	if len(candidate.Items) >= 5 {
		bonus += itemCountBonusHigh
	}
	if bonus > itemCountBonusCap {
		bonus = itemCountBonusCap
	}
	score += bonus

	score += completeness(candidate.Items) * completenessWeight

	if score > 1.0 {
		score = 1.0
	}
	if score < 0.0 {
		score = 0.0
	}
	return score
}

// completeness averages a per-item checklist ratio: description substantial,
// quantity present.
func completeness(items []domain.LineItem) float64 {
	if len(items) == 0 {
		return 0.0
	}

	total := 0.0
	for _, item := range items {
		satisfied := 0.0
		// Rune count, not bytes: umlauts in German descriptions must not
		// inflate the length check.
		if utf8.RuneCountInString(strings.TrimSpace(item.Description)) > minDescriptionLen {
			satisfied++
		}
		if item.Quantity != nil && *item.Quantity > 0 {
			satisfied++
		}
		total += satisfied / 2.0
	}
	return total / float64(len(items))
}
