package articles

import "github.com/hitoshi/articles/internal/model"

// partitionComparisonStatus splits requested comparison field names into
// those already activated for the feed (per ComparisonRegistry.Find) and
// those that are not yet activated (§4.H step 5).
func partitionComparisonStatus(requested []string, activated []model.ComparisonRegistryRow) (stored, unstored []string) {
	activeSet := make(map[string]bool, len(activated))
	for _, row := range activated {
		activeSet[row.FieldName] = true
	}
	for _, name := range requested {
		if activeSet[name] {
			stored = append(stored, name)
		} else {
			unstored = append(unstored, name)
		}
	}
	return stored, unstored
}

// intersect returns the elements of a that also appear in b.
func intersect(a, b []string) []string {
	bSet := make(map[string]bool, len(b))
	for _, v := range b {
		bSet[v] = true
	}
	var out []string
	for _, v := range a {
		if bSet[v] {
			out = append(out, v)
		}
	}
	return out
}

// union returns the deduplicated concatenation of a and b, preserving a's
// order then b's remaining order.
func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, v := range a {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range b {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
