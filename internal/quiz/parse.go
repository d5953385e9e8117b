package quiz

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Parse tiers, reported for logging.
const (
	TierNone = iota
	TierDirect
	TierEmbedded
	TierCleaned
)

var (
	embeddedArray = regexp.MustCompile(`\[\s*\{[\s\S]*?\}\s*\]`)
	greedyArray   = regexp.MustCompile(`\[[\s\S]*\]`)
)

// Parse extracts a JSON array of candidate questions from a raw model
// response. It tries the whole response, then the first embedded array of
// objects, then the response with code fences and newlines removed. ok is
// false when no tier yields an array.
func Parse(raw string) (candidates []any, tier int, ok bool) {
	if arr, ok := decodeArray(raw); ok {
		return arr, TierDirect, true
	}

	if m := embeddedArray.FindString(raw); m != "" {
		if arr, ok := decodeArray(m); ok {
			return arr, TierEmbedded, true
		}
	}

	cleaned := strings.ReplaceAll(raw, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.ReplaceAll(cleaned, "\n", " ")
	cleaned = strings.TrimSpace(cleaned)
	if m := greedyArray.FindString(cleaned); m != "" {
		if arr, ok := decodeArray(m); ok {
			return arr, TierCleaned, true
		}
	}

	return nil, TierNone, false
}

func decodeArray(s string) ([]any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	arr, ok := v.([]any)
	return arr, ok
}
