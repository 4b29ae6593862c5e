package models

// MergePayload overlays next on base. Nested objects are merged key by key;
// every other value, arrays included, is replaced. Neither input is modified.
func MergePayload(base, next map[string]any) map[string]any {
	out := ClonePayload(base)
	if out == nil {
		out = make(map[string]any, len(next))
	}
	for k, v := range next {
		if nm, ok := v.(map[string]any); ok {
			if bm, ok := out[k].(map[string]any); ok {
				out[k] = MergePayload(bm, nm)
				continue
			}
		}
		out[k] = cloneValue(v)
	}
	return out
}

// ClonePayload deep-copies a decoded JSON object.
func ClonePayload(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return ClonePayload(t)
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}
