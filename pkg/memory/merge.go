// pkg/memory/merge.go

// Package memory merges structured extraction output into a user's long-lived
// memory profile.
package memory

// Merge returns a new mapping combining existing with updates.
//
// Keys whose update value is nil are skipped: the existing value survives, and a
// key missing from existing is not added. Nested mappings merge key by key at any
// depth; any other non-nil update value replaces the existing one. Neither input is
// modified, and nil leaves already present in existing are dropped from the result.
func Merge(existing, updates map[string]any) map[string]any {
	out := compact(existing)
	for k, v := range updates {
		if v == nil {
			continue
		}
		if nested, ok := asMap(v); ok {
			prev, _ := asMap(out[k])
			out[k] = Merge(prev, nested)
			continue
		}
		out[k] = v
	}
	return out
}

// compact deep-copies m without nil leaves.
func compact(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		if nested, ok := asMap(v); ok {
			out[k] = compact(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}
