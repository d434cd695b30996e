package chunker

import (
	"regexp"
	"sort"
	"strings"
)

// nonToken matches every character that is not an ASCII word character,
// whitespace, or a CJK unified ideograph. Runs are collapsed to one space.
var nonToken = regexp.MustCompile(`[^a-zA-Z0-9_\s\x{4e00}-\x{9fa5}]+`)

// ExtractKeywords returns up to maxKeywords tokens from text, ordered by
// descending frequency with ties broken by first appearance. Tokens of three
// or more runes only. Deterministic for identical input.
func ExtractKeywords(text string, maxKeywords int) []string {
	if maxKeywords <= 0 {
		return nil
	}

	cleaned := nonToken.ReplaceAllString(strings.ToLower(text), " ")

	counts := make(map[string]int)
	var order []string
	for _, word := range strings.Fields(cleaned) {
		if len([]rune(word)) <= 2 {
			continue
		}
		if counts[word] == 0 {
			order = append(order, word)
		}
		counts[word]++
	}

	// Stable sort keeps first-seen order among equal counts.
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	if len(order) > maxKeywords {
		order = order[:maxKeywords]
	}
	return order
}
