package triggers

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"grove/internal/engagement"
	"grove/internal/logging"
)

// Trigger is one declarative reveal rule.
type Trigger struct {
	ID         string                `json:"id" yaml:"id"`
	Reveal     engagement.RevealType `json:"reveal" yaml:"reveal"`
	Priority   int                   `json:"priority" yaml:"priority"`
	Enabled    bool                  `json:"enabled" yaml:"enabled"`
	Conditions Condition             `json:"conditions" yaml:"conditions"`

	// BlockedBy suppresses the trigger while any listed reveal has been shown
	// but not yet acknowledged.
	BlockedBy []engagement.RevealType `json:"blockedBy,omitempty" yaml:"blockedBy,omitempty"`
	// RequiresAcknowledgment holds the trigger back until every listed reveal
	// has been accepted or declined.
	RequiresAcknowledgment []engagement.RevealType `json:"requiresAcknowledgment,omitempty" yaml:"requiresAcknowledgment,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// QueueItem is one entry of the derived reveal queue.
type QueueItem struct {
	Type      engagement.RevealType  `json:"type"`
	Priority  int                    `json:"priority"`
	TriggerID string                 `json:"triggerId"`
	QueuedAt  time.Time              `json:"queuedAt"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Evaluate returns the reveal queue for snap: every enabled trigger whose
// conditions hold and whose reveal has not been shown, ordered by priority
// descending with definition order breaking ties. Items are stamped with the
// snapshot's last activity time so that evaluation stays pure.
func Evaluate(snap engagement.Snapshot, configs []Trigger) []QueueItem {
	fields := FieldsOf(snap)
	queue := make([]QueueItem, 0, len(configs))
	queued := make(map[engagement.RevealType]bool)

	for _, t := range configs {
		if !eligible(t, snap.State, fields) {
			continue
		}
		queue = append(queue, QueueItem{
			Type:      t.Reveal,
			Priority:  t.Priority,
			TriggerID: t.ID,
			QueuedAt:  snap.LastActivityAt,
			Metadata:  cloneMetadata(t.Metadata),
		})
	}

	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].Priority > queue[j].Priority
	})

	// Two triggers for the same reveal collapse to the higher-priority one.
	out := queue[:0]
	for _, item := range queue {
		if queued[item.Type] {
			continue
		}
		queued[item.Type] = true
		out = append(out, item)
	}
	return out
}

func eligible(t Trigger, s engagement.State, fields Fields) bool {
	if !t.Enabled {
		return false
	}
	if s.HasShown(t.Reveal) {
		return false
	}
	for _, r := range t.BlockedBy {
		if s.HasShown(r) && !s.HasAcknowledged(r) {
			return false
		}
	}
	for _, r := range t.RequiresAcknowledgment {
		if !s.HasAcknowledged(r) {
			return false
		}
	}
	return t.Conditions.eval(fields, t.ID)
}

// NextReveal returns the head of queue.
func NextReveal(queue []QueueItem) (QueueItem, bool) {
	if len(queue) == 0 {
		return QueueItem{}, false
	}
	return queue[0], true
}

// MetaImmediateOnEvent is the metadata key naming the event type right after
// which a queued reveal is shown, without waiting for the next exchange.
const MetaImmediateOnEvent = "immediateOnEvent"

// ImmediateFor returns the highest-priority queued reveal flagged to show
// right after event type t.
func ImmediateFor(queue []QueueItem, t engagement.EventType) (QueueItem, bool) {
	for _, item := range queue {
		if v, ok := item.Metadata[MetaImmediateOnEvent].(string); ok && v == string(t) {
			return item, true
		}
	}
	return QueueItem{}, false
}

// ShouldShowReveal reports whether any enabled trigger for r currently fires.
func ShouldShowReveal(r engagement.RevealType, snap engagement.Snapshot, configs []Trigger) bool {
	fields := FieldsOf(snap)
	for _, t := range configs {
		if t.Reveal == r && eligible(t, snap.State, fields) {
			return true
		}
	}
	return false
}

// Matches evaluates c against snap without any trigger gating.
func (c Condition) Matches(snap engagement.Snapshot) bool {
	return c.eval(FieldsOf(snap), "")
}

// =============================================================================
// CONDITION EVALUATION
// =============================================================================

func (c Condition) eval(fields Fields, triggerID string) bool {
	switch c.kind() {
	case "all":
		for _, child := range c.All {
			if !child.eval(fields, triggerID) {
				return false
			}
		}
		return true
	case "any":
		for _, child := range c.Any {
			if child.eval(fields, triggerID) {
				return true
			}
		}
		return false
	case "not":
		return !c.Not.eval(fields, triggerID)
	case "leaf":
		ok, err := c.evalLeaf(fields)
		if err != nil {
			logging.TriggersWarn("trigger %q: condition %s treated as false: %v", triggerID, c, err)
			return false
		}
		return ok
	default:
		logging.TriggersWarn("trigger %q: empty condition treated as false", triggerID)
		return false
	}
}

func (c Condition) evalLeaf(fields Fields) (bool, error) {
	if c.Key == "" {
		return false, fmt.Errorf("missing key")
	}
	if !c.Operator.Known() {
		return false, fmt.Errorf("unknown operator %q", c.Operator)
	}
	actual, ok := fields[c.Key]
	if !ok {
		return false, fmt.Errorf("unknown key %q", c.Key)
	}
	return compare(c.Operator, actual, c.Value)
}

func compare(op Operator, actual, expected interface{}) (bool, error) {
	switch op {
	case OpEq:
		return equal(actual, expected), nil
	case OpNeq:
		return !equal(actual, expected), nil
	case OpGt, OpGte, OpLt, OpLte:
		a, ok := ordinal(actual)
		if !ok {
			return false, fmt.Errorf("%s needs a numeric field, got %T", op, actual)
		}
		b, ok := toFloat(expected)
		if !ok {
			return false, fmt.Errorf("%s needs a numeric value, got %T", op, expected)
		}
		switch op {
		case OpGt:
			return a > b, nil
		case OpGte:
			return a >= b, nil
		case OpLt:
			return a < b, nil
		default:
			return a <= b, nil
		}
	case OpIncludes, OpNotIncludes:
		found, err := includes(actual, expected)
		if err != nil {
			return false, err
		}
		if op == OpNotIncludes {
			return !found, nil
		}
		return found, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

func equal(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case []string:
		bv, ok := toStrings(b)
		return ok && slices.Equal(av, bv)
	}
	return false
}

// ordinal treats a list as its length so "topicsExplored gte 2" works.
func ordinal(v interface{}) (float64, bool) {
	if list, ok := v.([]string); ok {
		return float64(len(list)), true
	}
	return toFloat(v)
}

func includes(actual, expected interface{}) (bool, error) {
	switch av := actual.(type) {
	case []string:
		if want, ok := expected.(string); ok {
			return slices.Contains(av, want), nil
		}
		if wants, ok := toStrings(expected); ok {
			for _, w := range wants {
				if !slices.Contains(av, w) {
					return false, nil
				}
			}
			return true, nil
		}
		return false, fmt.Errorf("includes needs a string value, got %T", expected)
	case string:
		want, ok := expected.(string)
		if !ok {
			return false, fmt.Errorf("includes needs a string value, got %T", expected)
		}
		return strings.Contains(av, want), nil
	case nil:
		return false, nil
	}
	return false, fmt.Errorf("includes needs a list field, got %T", actual)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func toStrings(v interface{}) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func cloneMetadata(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
