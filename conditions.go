package process

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// EvaluateConditions reports whether every condition holds against the
// payload (logical AND, no OR or grouping). An empty list evaluates true.
// Evaluation never fails: unresolvable fields compare as missing and an
// unrecognized operator evaluates false.
func EvaluateConditions(conditions []Condition, payload map[string]any) bool {
	for _, condition := range conditions {
		if !evaluateCondition(condition, payload) {
			return false
		}
	}
	return true
}

func evaluateCondition(condition Condition, payload map[string]any) bool {
	actual, exists := ResolvePath(payload, condition.Field)

	switch condition.Operator {
	case OperatorEquals:
		return exists && structuralEqual(actual, condition.Value)
	case OperatorNotEquals:
		return !exists || !structuralEqual(actual, condition.Value)
	case OperatorContains:
		return exists && strings.Contains(coerceString(actual), coerceString(condition.Value))
	case OperatorGreaterThan:
		a, aok := coerceNumber(actual)
		b, bok := coerceNumber(condition.Value)
		return exists && aok && bok && a > b
	case OperatorLessThan:
		a, aok := coerceNumber(actual)
		b, bok := coerceNumber(condition.Value)
		return exists && aok && bok && a < b
	default:
		// Unknown operators fail closed.
		return false
	}
}

// structuralEqual compares two values, normalizing numeric types first so
// that an int payload value matches a float64 decoded from JSON.
func structuralEqual(a, b any) bool {
	if an, aok := coerceNumber(a); aok {
		if bn, bok := coerceNumber(b); bok {
			return an == bn
		}
	}
	return reflect.DeepEqual(a, b)
}

func coerceString(value any) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}

func coerceNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
