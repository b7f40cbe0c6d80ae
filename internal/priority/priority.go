package priority

import "strings"

// Triage priority levels, totally ordered Low < Medium < High.
const (
	Low    = "low"
	Medium = "medium"
	High   = "high"
)

var order = map[string]int{
	Low:    1,
	Medium: 2,
	High:   3,
}

// Valid reports whether p is one of the three recognized levels.
func Valid(p string) bool {
	_, ok := order[p]
	return ok
}

// Rank returns the ordering rank of p, or 0 for unknown values.
func Rank(p string) int {
	return order[p]
}

// AtLeast reports whether p meets the min threshold. Unknown p ranks below
// Low; an unknown min falls back to High.
func AtLeast(p, min string) bool {
	threshold, ok := order[min]
	if !ok {
		threshold = order[High]
	}
	return order[p] >= threshold
}

// Sanitize lowercases, trims and deduplicates values, keeping only
// recognized priority levels.
func Sanitize(values []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, v := range values {
		p := strings.ToLower(strings.TrimSpace(v))
		if !Valid(p) {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
