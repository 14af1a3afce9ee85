package metafilter

import (
	"time"
)

// evaluate applies a validated filter to a validated metadata map. Used for
// client-side restriction when push-down is unavailable and by tests.
func evaluate(f *Filter, schema *Schema, metadata map[string]interface{}) bool {
	switch {
	case f.Condition != nil:
		return evaluateCondition(f.Condition, schema, metadata)
	case len(f.And) > 0:
		for _, sub := range f.And {
			if !evaluate(sub, schema, metadata) {
				return false
			}
		}
		return true
	case len(f.Or) > 0:
		for _, sub := range f.Or {
			if evaluate(sub, schema, metadata) {
				return true
			}
		}
		return false
	}
	return true
}

func evaluateCondition(c *Condition, schema *Schema, metadata map[string]interface{}) bool {
	def, ok := schema.Field(c.Field)
	if !ok {
		return false
	}
	raw, present := metadata[c.Field]
	if !present {
		return false
	}
	actual, err := coerceValue(c.Field, raw, def.Type)
	if err != nil {
		return false
	}

	switch c.Op {
	case OpEq:
		expected, err := coerceValue(c.Field, c.Value, def.Type)
		if err != nil {
			return false
		}
		return compare(actual, expected) == 0

	case OpGt, OpGte, OpLt, OpLte:
		expected, err := coerceValue(c.Field, c.Value, def.Type)
		if err != nil {
			return false
		}
		cmp := compare(actual, expected)
		switch c.Op {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}

	case OpIn:
		values, ok := c.Value.([]interface{})
		if !ok {
			return false
		}
		for _, v := range values {
			expected, err := coerceValue(c.Field, v, def.Type)
			if err != nil {
				continue
			}
			if compare(actual, expected) == 0 {
				return true
			}
		}
		return false

	case OpAnyOf:
		tags, ok := actual.([]string)
		if !ok {
			return false
		}
		values, ok := c.Value.([]interface{})
		if !ok {
			return false
		}
		for _, v := range values {
			want, ok := v.(string)
			if !ok {
				continue
			}
			for _, tag := range tags {
				if tag == want {
					return true
				}
			}
		}
		return false
	}
	return false
}

// compare orders two normalized values of the same type.
func compare(a, b interface{}) int {
	switch av := a.(type) {
	case string:
		bv := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case int64:
		bv := b.(int64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case time.Time:
		bv := b.(time.Time)
		switch {
		case av.Before(bv):
			return -1
		case av.After(bv):
			return 1
		default:
			return 0
		}
	}
	return 0
}
