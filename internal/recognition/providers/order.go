package providers

import "github.com/loqalabs/loqa-dictate/internal/recognition"

// ReconcileOrder merges a saved model order with the currently installed
// models. Saved paths that are no longer installed are dropped, the rest keep
// the user's order, and newly installed models follow in discovery order.
// Entries carry the installed reference so names and types stay current.
func ReconcileOrder(saved []string, installed []recognition.ModelReference) []recognition.ModelReference {
	byPath := make(map[string]recognition.ModelReference, len(installed))
	for _, m := range installed {
		byPath[m.Path] = m
	}
	seen := make(map[string]bool, len(installed))
	out := make([]recognition.ModelReference, 0, len(installed))
	for _, path := range saved {
		m, ok := byPath[path]
		if !ok || seen[path] {
			continue
		}
		seen[path] = true
		out = append(out, m)
	}
	for _, m := range installed {
		if seen[m.Path] {
			continue
		}
		seen[m.Path] = true
		out = append(out, m)
	}
	return out
}

// Paths returns the path of each reference.
func Paths(models []recognition.ModelReference) []string {
	out := make([]string, len(models))
	for i, m := range models {
		out[i] = m.Path
	}
	return out
}
