package util

// MergeParams returns a new map holding the keys of base overlaid with the
// keys of overlay. Nested string-keyed maps are merged recursively; any other
// value in overlay replaces the base value wholesale.
func MergeParams(base map[string]interface{}, overlay map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(base)+len(overlay))
	for k, v := range base {
		result[k] = DeepCopyParams(v)
	}
	for k, v := range overlay {
		baseChild, baseOk := result[k].(map[string]interface{})
		overlayChild, overlayOk := v.(map[string]interface{})
		if baseOk && overlayOk {
			result[k] = MergeParams(baseChild, overlayChild)
		} else {
			result[k] = DeepCopyParams(v)
		}
	}
	return result
}

// DeepCopyParams copies arbitrary JSON-shaped values (maps, slices, scalars)
// so that callers can mutate the copy without aliasing the original.
func DeepCopyParams(v interface{}) interface{} {
	switch typed := v.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{}, len(typed))
		for k, child := range typed {
			result[k] = DeepCopyParams(child)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(typed))
		for i, child := range typed {
			result[i] = DeepCopyParams(child)
		}
		return result
	default:
		return v
	}
}
