// File: internal/manifest/merge.go
// Brief: Recursive deep-merge rules for raw manifest trees.

package manifest

// sequenceKey returns the stable identity of a sequence element, preferring
// "name" over "stackName". Elements without a usable key return "".
func sequenceKey(item any) string {
	m, ok := item.(map[string]any)
	if !ok {
		return ""
	}
	if name, ok := m["name"].(string); ok && name != "" {
		return name
	}
	if stackName, ok := m["stackName"].(string); ok && stackName != "" {
		return stackName
	}
	return ""
}

// mergeSequences merges two sequences. When every element on both sides is a
// mapping with a usable identity key, elements are merged by key: base order
// is preserved, matching elements deep-merge, and new override elements are
// appended in their override-relative order. Any element without a key, or a
// key collision inside the base sequence itself, makes the override sequence
// replace the base wholesale.
func mergeSequences(base, override []any) any {
	if len(base) == 0 {
		return deepCopy(override)
	}
	if len(override) == 0 {
		return deepCopy(base)
	}

	allMappings := true
	for _, item := range base {
		if _, ok := item.(map[string]any); !ok {
			allMappings = false
			break
		}
	}
	if allMappings {
		for _, item := range override {
			if _, ok := item.(map[string]any); !ok {
				allMappings = false
				break
			}
		}
	}
	if !allMappings {
		return deepCopy(override)
	}

	keys := make([]string, 0, len(base))
	byKey := make(map[string]any, len(base))
	for _, item := range base {
		key := sequenceKey(item)
		if key == "" {
			return deepCopy(override)
		}
		if _, dup := byKey[key]; dup {
			return deepCopy(override)
		}
		keys = append(keys, key)
		byKey[key] = deepCopy(item)
	}

	for _, item := range override {
		key := sequenceKey(item)
		if key == "" {
			return deepCopy(override)
		}
		if existing, ok := byKey[key]; ok {
			byKey[key] = deepMerge(existing, item)
		} else {
			byKey[key] = deepCopy(item)
			keys = append(keys, key)
		}
	}

	merged := make([]any, 0, len(keys))
	for _, key := range keys {
		merged = append(merged, byKey[key])
	}
	return merged
}

// deepMerge combines two raw values. Mappings merge key-by-key with matching
// keys recursing, sequences merge via mergeSequences, and everything else
// resolves in favor of the override.
func deepMerge(base, override any) any {
	if baseMap, ok := base.(map[string]any); ok {
		if overrideMap, ok := override.(map[string]any); ok {
			result := make(map[string]any, len(baseMap)+len(overrideMap))
			for k, v := range baseMap {
				result[k] = deepCopy(v)
			}
			for k, v := range overrideMap {
				if existing, present := result[k]; present {
					result[k] = deepMerge(existing, v)
				} else {
					result[k] = deepCopy(v)
				}
			}
			return result
		}
	}
	if baseSeq, ok := base.([]any); ok {
		if overrideSeq, ok := override.([]any); ok {
			return mergeSequences(baseSeq, overrideSeq)
		}
	}
	return deepCopy(override)
}

func deepCopy(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, item := range tv {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, 0, len(tv))
		for _, item := range tv {
			out = append(out, deepCopy(item))
		}
		return out
	default:
		return v
	}
}
