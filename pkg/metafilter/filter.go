package metafilter

import (
	"fmt"
	"time"

	"github.com/twattier/rag-engine/pkg/types"
)

// Op enumerates filter comparison operators.
type Op string

const (
	OpEq    Op = "eq"
	OpGt    Op = "gt"
	OpGte   Op = "gte"
	OpLt    Op = "lt"
	OpLte   Op = "lte"
	OpIn    Op = "in"
	OpAnyOf Op = "any_of" // tags: at least one listed tag present
)

// Filter is a boolean composition of conditions over typed metadata fields.
// Exactly one of Condition, And, Or is set.
type Filter struct {
	Condition *Condition `json:"condition,omitempty"`
	And       []*Filter  `json:"and,omitempty"`
	Or        []*Filter  `json:"or,omitempty"`
}

// Condition compares a metadata field against a value.
type Condition struct {
	Field string      `json:"field"`
	Op    Op          `json:"op"`
	Value interface{} `json:"value"`
}

// Eq builds an equality filter.
func Eq(field string, value interface{}) *Filter {
	return &Filter{Condition: &Condition{Field: field, Op: OpEq, Value: value}}
}

// Range builds a bounded comparison filter.
func Range(field string, op Op, value interface{}) *Filter {
	return &Filter{Condition: &Condition{Field: field, Op: op, Value: value}}
}

// In builds a set-membership filter.
func In(field string, values ...interface{}) *Filter {
	return &Filter{Condition: &Condition{Field: field, Op: OpIn, Value: values}}
}

// AnyTag builds a tags filter matching documents carrying any listed tag.
func AnyTag(field string, tags ...string) *Filter {
	vals := make([]interface{}, len(tags))
	for i, t := range tags {
		vals[i] = t
	}
	return &Filter{Condition: &Condition{Field: field, Op: OpAnyOf, Value: vals}}
}

// And composes filters conjunctively.
func And(filters ...*Filter) *Filter { return &Filter{And: filters} }

// Or composes filters disjunctively.
func Or(filters ...*Filter) *Filter { return &Filter{Or: filters} }

// Validate checks the filter against the schema: every referenced field must
// exist and the operator and value must match the field type.
func (f *Filter) Validate(schema *Schema) error {
	if f == nil {
		return nil
	}
	set := 0
	if f.Condition != nil {
		set++
	}
	if len(f.And) > 0 {
		set++
	}
	if len(f.Or) > 0 {
		set++
	}
	if set != 1 {
		return &types.ValidationError{Reason: "filter must have exactly one of condition, and, or"}
	}

	if f.Condition != nil {
		return f.Condition.validate(schema)
	}
	for _, sub := range f.And {
		if err := sub.Validate(schema); err != nil {
			return err
		}
	}
	for _, sub := range f.Or {
		if err := sub.Validate(schema); err != nil {
			return err
		}
	}
	return nil
}

func (c *Condition) validate(schema *Schema) error {
	def, ok := schema.Field(c.Field)
	if !ok {
		return &types.ValidationError{Field: c.Field, Reason: "unknown metadata field"}
	}

	switch c.Op {
	case OpEq:
		_, err := coerceValue(c.Field, c.Value, def.Type)
		return err
	case OpGt, OpGte, OpLt, OpLte:
		if def.Type != FieldInteger && def.Type != FieldDate {
			return &types.ValidationError{Field: c.Field, Reason: fmt.Sprintf("range operator %q requires integer or date field", c.Op)}
		}
		_, err := coerceValue(c.Field, c.Value, def.Type)
		return err
	case OpIn, OpAnyOf:
		values, ok := c.Value.([]interface{})
		if !ok {
			return &types.ValidationError{Field: c.Field, Reason: fmt.Sprintf("operator %q requires a list value", c.Op)}
		}
		if len(values) == 0 {
			return &types.ValidationError{Field: c.Field, Reason: fmt.Sprintf("operator %q requires a non-empty list", c.Op)}
		}
		elemType := def.Type
		if def.Type == FieldTags {
			if c.Op != OpAnyOf {
				return &types.ValidationError{Field: c.Field, Reason: "tags fields use the any_of operator"}
			}
			elemType = FieldString
		}
		for _, v := range values {
			if _, err := coerceValue(c.Field, v, elemType); err != nil {
				return err
			}
		}
		return nil
	default:
		return &types.ValidationError{Field: c.Field, Reason: fmt.Sprintf("unknown operator %q", c.Op)}
	}
}

// Restriction is the compiled form of a validated filter, consumed by the
// retrieval orchestrator. Predicate/Params carry the store-native push-down;
// Match supports client-side evaluation for stores without push-down.
type Restriction struct {
	// Predicate is a Cypher boolean expression over the document node bound
	// as `d`, e.g. "(d.meta_department = $mf_0 AND d.meta_year >= $mf_1)".
	Predicate string
	// Params holds the predicate parameters.
	Params map[string]interface{}
	// Match evaluates the filter against a validated metadata map.
	Match func(metadata map[string]interface{}) bool
}

// Compile validates the filter and compiles it into a Restriction. A nil
// filter compiles to a nil restriction (no narrowing).
func Compile(f *Filter, schema *Schema) (*Restriction, error) {
	if f == nil {
		return nil, nil
	}
	if err := f.Validate(schema); err != nil {
		return nil, err
	}

	c := &compiler{schema: schema, params: map[string]interface{}{}}
	predicate := c.compile(f)
	filter := f
	return &Restriction{
		Predicate: predicate,
		Params:    c.params,
		Match:     func(metadata map[string]interface{}) bool { return evaluate(filter, schema, metadata) },
	}, nil
}

type compiler struct {
	schema *Schema
	params map[string]interface{}
	next   int
}

func (c *compiler) bind(value interface{}) string {
	name := fmt.Sprintf("mf_%d", c.next)
	c.next++
	c.params[name] = value
	return "$" + name
}

// property maps a metadata field to its document node property. Metadata is
// stored flattened on the document node under a meta_ prefix.
func property(field string) string {
	return "d.meta_" + field
}

func (c *compiler) compile(f *Filter) string {
	switch {
	case f.Condition != nil:
		return c.compileCondition(f.Condition)
	case len(f.And) > 0:
		return c.compileGroup(f.And, " AND ")
	default:
		return c.compileGroup(f.Or, " OR ")
	}
}

func (c *compiler) compileGroup(subs []*Filter, sep string) string {
	clause := "("
	for i, sub := range subs {
		if i > 0 {
			clause += sep
		}
		clause += c.compile(sub)
	}
	return clause + ")"
}

func (c *compiler) compileCondition(cond *Condition) string {
	def, _ := c.schema.Field(cond.Field)
	prop := property(cond.Field)

	switch cond.Op {
	case OpEq:
		v, _ := coerceValue(cond.Field, cond.Value, def.Type)
		return fmt.Sprintf("%s = %s", prop, c.bind(StoreValue(v)))
	case OpGt, OpGte, OpLt, OpLte:
		v, _ := coerceValue(cond.Field, cond.Value, def.Type)
		return fmt.Sprintf("%s %s %s", prop, cypherOp(cond.Op), c.bind(StoreValue(v)))
	case OpIn:
		values := coerceList(cond.Field, cond.Value, def.Type)
		return fmt.Sprintf("%s IN %s", prop, c.bind(values))
	default: // OpAnyOf
		values := coerceList(cond.Field, cond.Value, FieldString)
		return fmt.Sprintf("any(tag IN %s WHERE tag IN %s)", c.bind(values), prop)
	}
}

func cypherOp(op Op) string {
	switch op {
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpLt:
		return "<"
	default:
		return "<="
	}
}

func coerceList(field string, value interface{}, elemType FieldType) []interface{} {
	raw := value.([]interface{})
	out := make([]interface{}, len(raw))
	for i, v := range raw {
		coerced, _ := coerceValue(field, v, elemType)
		out[i] = StoreValue(coerced)
	}
	return out
}

// StoreValue converts normalized metadata values to their stored
// representation; dates are stored as RFC 3339 strings so comparisons stay
// lexicographic.
func StoreValue(v interface{}) interface{} {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339)
	}
	return v
}
