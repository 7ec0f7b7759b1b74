package metadata

import "fmt"

// Operator represents a comparison operator for filtering.
type Operator string

const (
	// OpEqual represents the equality operator.
	OpEqual Operator = "eq"
	// OpNotEqual represents the inequality operator.
	OpNotEqual Operator = "ne"
	// OpGreaterThan represents the greater-than operator.
	OpGreaterThan Operator = "gt"
	// OpGreaterEqual represents the greater-than-or-equal operator.
	OpGreaterEqual Operator = "gte"
	// OpLessThan represents the less-than operator.
	OpLessThan Operator = "lt"
	// OpLessEqual represents the less-than-or-equal operator.
	OpLessEqual Operator = "lte"
	// OpIn represents membership in a provided sequence.
	OpIn Operator = "in"
)

// Filter represents a single metadata filter condition.
type Filter struct {
	Key      string
	Operator Operator
	Value    Value
}

// Eq builds an equality filter.
func Eq(key string, v Value) Filter { return Filter{Key: key, Operator: OpEqual, Value: v} }

// Ne builds an inequality filter.
func Ne(key string, v Value) Filter { return Filter{Key: key, Operator: OpNotEqual, Value: v} }

// Gt builds a greater-than filter.
func Gt(key string, v Value) Filter { return Filter{Key: key, Operator: OpGreaterThan, Value: v} }

// Gte builds a greater-than-or-equal filter.
func Gte(key string, v Value) Filter { return Filter{Key: key, Operator: OpGreaterEqual, Value: v} }

// Lt builds a less-than filter.
func Lt(key string, v Value) Filter { return Filter{Key: key, Operator: OpLessThan, Value: v} }

// Lte builds a less-than-or-equal filter.
func Lte(key string, v Value) Filter { return Filter{Key: key, Operator: OpLessEqual, Value: v} }

// In builds a membership filter; values is the candidate sequence.
func In(key string, values ...Value) Filter {
	return Filter{Key: key, Operator: OpIn, Value: Array(values...)}
}

// Validate checks the condition is well-formed: known operator, ordering
// operators applied to numbers, and `in` applied to a sequence.
func (f Filter) Validate() error {
	if f.Key == "" {
		return fmt.Errorf("metadata: filter with empty key")
	}
	switch f.Operator {
	case OpEqual, OpNotEqual:
		return nil
	case OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual:
		if !isNumber(f.Value) {
			return fmt.Errorf("metadata: operator %q on key %q requires a numeric value, got %s",
				f.Operator, f.Key, f.Value.Kind)
		}
		return nil
	case OpIn:
		if f.Value.Kind != KindArray {
			return fmt.Errorf("metadata: operator in on key %q requires a sequence, got %s",
				f.Key, f.Value.Kind)
		}
		return nil
	default:
		return fmt.Errorf("metadata: unknown operator %q", f.Operator)
	}
}

// Matches reports whether doc satisfies the condition.
// A missing key never matches, regardless of operator.
func (f Filter) Matches(doc Metadata) bool {
	value, ok := doc[f.Key]
	if !ok {
		return false
	}

	switch f.Operator {
	case OpEqual:
		return compareEqual(value, f.Value)
	case OpNotEqual:
		return !compareEqual(value, f.Value)
	case OpGreaterThan:
		return compareGreater(value, f.Value)
	case OpGreaterEqual:
		return compareGreater(value, f.Value) || compareEqual(value, f.Value)
	case OpLessThan:
		return compareLess(value, f.Value)
	case OpLessEqual:
		return compareLess(value, f.Value) || compareEqual(value, f.Value)
	case OpIn:
		return compareIn(value, f.Value)
	default:
		return false
	}
}

// FilterSet is a conjunction of conditions: every filter must match.
type FilterSet struct {
	Filters []Filter
}

// NewFilterSet creates a filter set from the given conditions.
func NewFilterSet(filters ...Filter) *FilterSet {
	return &FilterSet{Filters: filters}
}

// Validate checks every condition in the set.
func (fs *FilterSet) Validate() error {
	for _, f := range fs.Filters {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Matches reports whether doc satisfies every condition.
func (fs *FilterSet) Matches(doc Metadata) bool {
	if fs == nil {
		return true
	}
	for _, f := range fs.Filters {
		if !f.Matches(doc) {
			return false
		}
	}
	return true
}

func compareEqual(a, b Value) bool {
	if a.Kind == KindNull && b.Kind == KindNull {
		return true
	}
	if a.Kind == KindNull || b.Kind == KindNull {
		return false
	}

	if isNumber(a) && isNumber(b) {
		if a.Kind == KindInt && b.Kind == KindInt {
			return a.I64 == b.I64
		}
		return asFloat64(a) == asFloat64(b)
	}

	if a.Kind != b.Kind {
		return false
	}

	switch a.Kind {
	case KindString:
		return a.S == b.S
	case KindBool:
		return a.B == b.B
	case KindArray:
		if len(a.A) != len(b.A) {
			return false
		}
		for i := range a.A {
			if !compareEqual(a.A[i], b.A[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func compareGreater(a, b Value) bool {
	if !isNumber(a) || !isNumber(b) {
		return false
	}
	return asFloat64(a) > asFloat64(b)
}

func compareLess(a, b Value) bool {
	if !isNumber(a) || !isNumber(b) {
		return false
	}
	return asFloat64(a) < asFloat64(b)
}

func compareIn(a, b Value) bool {
	if b.Kind != KindArray {
		return false
	}
	for _, item := range b.A {
		if compareEqual(a, item) {
			return true
		}
	}
	return false
}

func isNumber(v Value) bool {
	return v.Kind == KindInt || v.Kind == KindFloat
}

func asFloat64(v Value) float64 {
	switch v.Kind {
	case KindInt:
		return float64(v.I64)
	case KindFloat:
		return v.F64
	default:
		return 0
	}
}
