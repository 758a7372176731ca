package process

import (
	"strings"
)

// ResolvePath reads a dot-path from a payload value tree. Missing intermediate
// keys and non-map intermediates report exists=false rather than panicking.
// Array-index path segments are not supported.
func ResolvePath(payload map[string]any, path string) (value any, exists bool) {
	if path == "" {
		return nil, false
	}
	var current any = payload
	for _, segment := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// SetPath writes value at a dot-path in the payload, creating intermediate
// maps as needed. An intermediate that exists but is not a map is replaced.
func SetPath(payload map[string]any, path string, value any) {
	if path == "" {
		return
	}
	segments := strings.Split(path, ".")
	current := payload
	for _, segment := range segments[:len(segments)-1] {
		next, ok := current[segment].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[segment] = next
		}
		current = next
	}
	current[segments[len(segments)-1]] = value
}

// BuildStepInput projects the payload into a step's input. With no input
// mapping the step receives a shallow copy of the payload, so a handler
// mutating its input cannot corrupt the payload. With a mapping, each entry
// reads the payload at the map value's dot-path and writes it into the input
// at the map key's dot-path; unresolvable source paths are skipped.
func BuildStepInput(payload map[string]any, mapping map[string]string) map[string]any {
	if len(mapping) == 0 {
		return copyMap(payload)
	}
	input := map[string]any{}
	for inputPath, payloadPath := range mapping {
		if value, ok := ResolvePath(payload, payloadPath); ok {
			SetPath(input, inputPath, value)
		}
	}
	return input
}

// ApplyStepOutput folds a step's output into the payload and returns the
// resulting payload along with warnings for mapped output paths the output
// did not contain.
//
// With no output mapping the output replaces the payload entirely. This is a
// deliberate simplification carried over from the system's origins, not a
// merge: a step without an output mapping owns the whole payload from that
// point on. With a mapping, only the mapped paths are written: each entry
// reads the output at the map key's dot-path and writes the payload at the
// map value's dot-path.
func ApplyStepOutput(payload, output map[string]any, mapping map[string]string) (map[string]any, []string) {
	if len(mapping) == 0 {
		if output == nil {
			output = map[string]any{}
		}
		return output, nil
	}
	var warnings []string
	for outputPath, payloadPath := range mapping {
		value, ok := ResolvePath(output, outputPath)
		if !ok {
			warnings = append(warnings, "output path "+outputPath+" not present in step output")
			continue
		}
		SetPath(payload, payloadPath, value)
	}
	return payload, warnings
}
