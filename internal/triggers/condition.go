// Package triggers evaluates declarative reveal triggers against an
// engagement snapshot and produces the priority-ordered reveal queue.
//
// Conditions are a recursive tagged variant: a leaf compares one state field
// against a literal, a compound combines children with all / any / not.
// Nothing here returns an error at evaluation time. A malformed leaf is
// logged and evaluates to false so one bad admin edit cannot break the queue.
package triggers

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Operator is a leaf comparison code.
type Operator string

const (
	OpEq          Operator = "eq"
	OpNeq         Operator = "neq"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpIncludes    Operator = "includes"
	OpNotIncludes Operator = "notIncludes"
)

var knownOperators = map[Operator]bool{
	OpEq: true, OpNeq: true, OpGt: true, OpGte: true,
	OpLt: true, OpLte: true, OpIncludes: true, OpNotIncludes: true,
}

// Known reports whether op is a supported operator.
func (op Operator) Known() bool {
	return knownOperators[op]
}

// Condition is either a leaf (Key, Operator, Value) or a compound (All, Any,
// Not). When several shapes are set, All wins, then Any, then Not.
type Condition struct {
	Key      string
	Operator Operator
	Value    interface{}

	All []Condition
	Any []Condition
	Not *Condition
}

// Leaf builds a simple comparison.
func Leaf(key string, op Operator, value interface{}) Condition {
	return Condition{Key: key, Operator: op, Value: value}
}

// All builds an AND node.
func All(children ...Condition) Condition {
	if children == nil {
		children = []Condition{}
	}
	return Condition{All: children}
}

// Any builds an OR node.
func Any(children ...Condition) Condition {
	if children == nil {
		children = []Condition{}
	}
	return Condition{Any: children}
}

// Not negates c.
func Not(c Condition) Condition {
	return Condition{Not: &c}
}

func (c Condition) kind() string {
	switch {
	case c.All != nil:
		return "all"
	case c.Any != nil:
		return "any"
	case c.Not != nil:
		return "not"
	case c.Key != "" || c.Operator != "":
		return "leaf"
	default:
		return "empty"
	}
}

// String renders c compactly, e.g. any(exchangeCount gte 5, minutesActive gte 3).
func (c Condition) String() string {
	switch c.kind() {
	case "all", "any":
		children := c.All
		if c.kind() == "any" {
			children = c.Any
		}
		parts := make([]string, len(children))
		for i, child := range children {
			parts[i] = child.String()
		}
		return c.kind() + "(" + strings.Join(parts, ", ") + ")"
	case "not":
		return "not(" + c.Not.String() + ")"
	case "leaf":
		return fmt.Sprintf("%s %s %v", c.Key, c.Operator, c.Value)
	default:
		return "<empty>"
	}
}

// =============================================================================
// SERIALIZATION
// =============================================================================
//
// Two input shapes are accepted:
//
//	{key: exchangeCount, operator: gte, value: 5}   {all: [...]} {any: [...]} {not: {...}}
//	{field: exchangeCount, value: {gte: 5}}         {AND: [...]} {OR: [...]}  {NOT: {...}}
//
// Output always uses the first shape.

type rawCondition struct {
	Key      string      `json:"key,omitempty" yaml:"key,omitempty"`
	Field    string      `json:"field,omitempty" yaml:"field,omitempty"`
	Operator Operator    `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    interface{} `json:"value,omitempty" yaml:"value,omitempty"`

	All []Condition `json:"all,omitempty" yaml:"all,omitempty"`
	Any []Condition `json:"any,omitempty" yaml:"any,omitempty"`
	Not *Condition  `json:"not,omitempty" yaml:"not,omitempty"`

	LegacyAnd []Condition `json:"AND,omitempty" yaml:"AND,omitempty"`
	LegacyOr  []Condition `json:"OR,omitempty" yaml:"OR,omitempty"`
	LegacyNot *Condition  `json:"NOT,omitempty" yaml:"NOT,omitempty"`
}

type canonicalCondition struct {
	Key      string      `json:"key,omitempty" yaml:"key,omitempty"`
	Operator Operator    `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    interface{} `json:"value,omitempty" yaml:"value,omitempty"`
	All      []Condition `json:"all,omitempty" yaml:"all,omitempty"`
	Any      []Condition `json:"any,omitempty" yaml:"any,omitempty"`
	Not      *Condition  `json:"not,omitempty" yaml:"not,omitempty"`
}

func (r rawCondition) normalize() Condition {
	c := Condition{
		Key:      r.Key,
		Operator: r.Operator,
		Value:    r.Value,
		All:      r.All,
		Any:      r.Any,
		Not:      r.Not,
	}
	if c.All == nil && r.LegacyAnd != nil {
		c.All = r.LegacyAnd
	}
	if c.Any == nil && r.LegacyOr != nil {
		c.Any = r.LegacyOr
	}
	if c.Not == nil && r.LegacyNot != nil {
		c.Not = r.LegacyNot
	}
	if c.Key == "" {
		c.Key = r.Field
	}

	// {field: x, value: {gte: 5}}: the operator lives inside the value map.
	if c.Operator == "" && c.Key != "" {
		if ops, ok := operatorMap(r.Value); ok {
			leaves := make([]Condition, 0, len(ops))
			for _, op := range sortedOps(ops) {
				leaves = append(leaves, Leaf(c.Key, op, ops[op]))
			}
			if len(leaves) == 1 {
				return leaves[0]
			}
			return All(leaves...)
		}
	}
	return c
}

// operatorMap recognizes {op: value} maps in either decoder's map type.
func operatorMap(v interface{}) (map[Operator]interface{}, bool) {
	out := make(map[Operator]interface{})
	switch m := v.(type) {
	case map[string]interface{}:
		for k, val := range m {
			out[Operator(k)] = val
		}
	case map[interface{}]interface{}:
		for k, val := range m {
			out[Operator(fmt.Sprint(k))] = val
		}
	default:
		return nil, false
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

func sortedOps(ops map[Operator]interface{}) []Operator {
	keys := make([]Operator, 0, len(ops))
	for k := range ops {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (c Condition) canonical() canonicalCondition {
	return canonicalCondition{Key: c.Key, Operator: c.Operator, Value: c.Value, All: c.All, Any: c.Any, Not: c.Not}
}

func (c Condition) MarshalJSON() ([]byte, error) {
	// Keep empty compounds distinguishable from an empty leaf.
	if c.All != nil && len(c.All) == 0 {
		return []byte(`{"all":[]}`), nil
	}
	if c.Any != nil && len(c.Any) == 0 {
		return []byte(`{"any":[]}`), nil
	}
	return json.Marshal(c.canonical())
}

func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw rawCondition
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = raw.normalize()
	return nil
}

func (c Condition) MarshalYAML() (interface{}, error) {
	if c.All != nil && len(c.All) == 0 {
		return map[string][]Condition{"all": {}}, nil
	}
	if c.Any != nil && len(c.Any) == 0 {
		return map[string][]Condition{"any": {}}, nil
	}
	return c.canonical(), nil
}

func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	var raw rawCondition
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*c = raw.normalize()
	return nil
}
