// internal/extraction/normalize.go
package extraction

import "fmt"

// Normalize maps decoded model output onto the canonical Extraction shape.
// Missing sections, nulls, wrong-typed scalars and unknown enum values become
// safe defaults. Only a non-object document, a section that is not an object,
// or a list field that is not a list is rejected with ErrIncompatible.
func Normalize(doc any) (map[string]any, error) {
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: document is %T", ErrIncompatible, doc)
	}
	n := &normalizer{}

	identity := n.section(obj, "identity")
	work := n.section(obj, "work")
	emotional := n.section(obj, "emotional_state")
	relationships := n.section(obj, "relationships")
	preferences := n.section(obj, "preferences")
	safety := n.section(obj, "safety")
	confidence := n.section(obj, "confidence")

	out := map[string]any{
		"identity": map[string]any{
			"name":      optString(identity["name"]),
			"age":       optNumber(identity["age"]),
			"location":  optString(identity["location"]),
			"languages": n.stringList("identity.languages", identity["languages"]),
		},
		"work": map[string]any{
			"job_title": optString(work["job_title"]),
			"industry":  optString(work["industry"]),
			"company":   optString(work["company"]),
		},
		"emotional_state": map[string]any{
			"overall_morale":    morale(emotional["overall_morale"]),
			"dominant_emotions": n.stringList("emotional_state.dominant_emotions", emotional["dominant_emotions"]),
			"stressors":         n.stringList("emotional_state.stressors", emotional["stressors"]),
			"hardships":         n.stringList("emotional_state.hardships", emotional["hardships"]),
			"goals":             n.stringList("emotional_state.goals", emotional["goals"]),
		},
		"relationships": map[string]any{
			"important_people": n.stringList("relationships.important_people", relationships["important_people"]),
		},
		"preferences": map[string]any{
			"values":   n.stringList("preferences.values", preferences["values"]),
			"likes":    n.stringList("preferences.likes", preferences["likes"]),
			"dislikes": n.stringList("preferences.dislikes", preferences["dislikes"]),
		},
		"safety": map[string]any{
			"self_harm_risk": risk(safety["self_harm_risk"]),
			"notes":          optString(safety["notes"]),
		},
		"confidence": map[string]any{
			"identity":        number(confidence["identity"]),
			"work":            number(confidence["work"]),
			"emotional_state": number(confidence["emotional_state"]),
		},
		"source_quotes": n.quotes(obj["source_quotes"]),
	}
	if n.err != nil {
		return nil, n.err
	}
	return out, nil
}

// normalizer keeps the first structural error so the builders above stay flat.
type normalizer struct {
	err error
}

func (n *normalizer) fail(field string, v any) {
	if n.err == nil {
		n.err = fmt.Errorf("%w: %s is %T", ErrIncompatible, field, v)
	}
}

func (n *normalizer) section(obj map[string]any, key string) map[string]any {
	switch v := obj[key].(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return v
	default:
		n.fail(key, v)
		return map[string]any{}
	}
}

func (n *normalizer) stringList(field string, v any) []any {
	switch items := v.(type) {
	case nil:
		return []any{}
	case []any:
		out := make([]any, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		n.fail(field, v)
		return []any{}
	}
}

func (n *normalizer) quotes(v any) []any {
	switch items := v.(type) {
	case nil:
		return []any{}
	case []any:
		out := make([]any, 0, len(items))
		for _, item := range items {
			q, ok := item.(map[string]any)
			if !ok {
				continue
			}
			field, fok := q["field"].(string)
			quote, qok := q["quote"].(string)
			if !fok || !qok {
				continue
			}
			out = append(out, map[string]any{"field": field, "quote": quote})
		}
		return out
	default:
		n.fail("source_quotes", v)
		return []any{}
	}
}

func optString(v any) any {
	if s, ok := v.(string); ok {
		return s
	}
	return nil
}

func optNumber(v any) any {
	if f, ok := v.(float64); ok {
		return f
	}
	return nil
}

func number(v any) float64 {
	f, _ := v.(float64)
	return f
}

func morale(v any) string {
	if s, ok := v.(string); ok && Morale(s).Valid() {
		return s
	}
	return string(MoraleMedium)
}

func risk(v any) string {
	if s, ok := v.(string); ok && Risk(s).Valid() {
		return s
	}
	return string(RiskNone)
}
