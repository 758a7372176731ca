package process

// copyMap returns a shallow copy of a payload map. Nil maps copy to empty
// maps so callers can write without nil checks.
func copyMap(m map[string]any) map[string]any {
	dup := make(map[string]any, len(m))
	for k, v := range m {
		dup[k] = v
	}
	return dup
}
