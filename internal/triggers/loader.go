package triggers

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"grove/internal/engagement"
	"grove/internal/logging"

	"gopkg.in/yaml.v3"
)

// triggerFile is the wrapped form: {triggers: [...]}.
type triggerFile struct {
	Triggers []Trigger `json:"triggers" yaml:"triggers"`
}

// Load reads trigger configs from a YAML or JSON file. Both a bare list and a
// {triggers: [...]} document are accepted.
func Load(path string) ([]Trigger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read triggers file: %w", err)
	}
	configs, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	for _, issue := range Validate(configs) {
		logging.TriggersWarn("%s: %s", filepath.Base(path), issue)
	}
	logging.Get(logging.CategoryTriggers).Info("Loaded %d triggers from %s", len(configs), filepath.Base(path))
	return configs, nil
}

// Parse decodes trigger configs. ext selects the decoder; ".json" uses
// encoding/json, anything else YAML.
func Parse(data []byte, ext string) ([]Trigger, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return []Trigger{}, nil
	}

	if strings.EqualFold(ext, ".json") {
		if strings.HasPrefix(trimmed, "[") {
			var list []Trigger
			if err := json.Unmarshal(data, &list); err != nil {
				return nil, err
			}
			return list, nil
		}
		var wrapped triggerFile
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, err
		}
		return nonNil(wrapped.Triggers), nil
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
		var list []Trigger
		if err := node.Decode(&list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var wrapped triggerFile
	if err := node.Decode(&wrapped); err != nil {
		return nil, err
	}
	return nonNil(wrapped.Triggers), nil
}

// Save writes configs as YAML.
func Save(path string, configs []Trigger) error {
	data, err := yaml.Marshal(triggerFile{Triggers: configs})
	if err != nil {
		return fmt.Errorf("failed to marshal triggers: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write triggers file: %w", err)
	}
	return nil
}

func nonNil(list []Trigger) []Trigger {
	if list == nil {
		return []Trigger{}
	}
	return list
}

// Issue is one validation finding.
type Issue struct {
	TriggerID string
	Path      string
	Message   string
}

func (i Issue) String() string {
	if i.Path == "" {
		return fmt.Sprintf("trigger %q: %s", i.TriggerID, i.Message)
	}
	return fmt.Sprintf("trigger %q at %s: %s", i.TriggerID, i.Path, i.Message)
}

// Validate reports semantic problems in configs. It never rejects a config:
// the evaluator tolerates everything reported here.
func Validate(configs []Trigger) []Issue {
	var issues []Issue
	seen := make(map[string]bool)
	known := make(map[string]bool)
	for _, k := range FieldKeys() {
		known[k] = true
	}

	for i, t := range configs {
		id := t.ID
		if id == "" {
			id = fmt.Sprintf("#%d", i)
			issues = append(issues, Issue{TriggerID: id, Message: "missing id"})
		} else if seen[id] {
			issues = append(issues, Issue{TriggerID: id, Message: "duplicate id"})
		}
		seen[id] = true

		if !t.Reveal.Valid() {
			issues = append(issues, Issue{TriggerID: id, Message: fmt.Sprintf("unknown reveal %q", t.Reveal)})
		}
		for _, r := range append(append([]engagement.RevealType{}, t.BlockedBy...), t.RequiresAcknowledgment...) {
			if !r.Valid() {
				issues = append(issues, Issue{TriggerID: id, Message: fmt.Sprintf("unknown reveal %q in gating list", r)})
			}
		}
		issues = append(issues, validateCondition(t.Conditions, id, "conditions", known)...)
	}
	return issues
}

func validateCondition(c Condition, id, path string, known map[string]bool) []Issue {
	var issues []Issue
	switch c.kind() {
	case "all":
		for i, child := range c.All {
			issues = append(issues, validateCondition(child, id, fmt.Sprintf("%s.all[%d]", path, i), known)...)
		}
	case "any":
		if len(c.Any) == 0 {
			issues = append(issues, Issue{TriggerID: id, Path: path, Message: "empty any never matches"})
		}
		for i, child := range c.Any {
			issues = append(issues, validateCondition(child, id, fmt.Sprintf("%s.any[%d]", path, i), known)...)
		}
	case "not":
		issues = append(issues, validateCondition(*c.Not, id, path+".not", known)...)
	case "leaf":
		if c.Key == "" {
			issues = append(issues, Issue{TriggerID: id, Path: path, Message: "missing key"})
		} else if !known[c.Key] {
			issues = append(issues, Issue{TriggerID: id, Path: path, Message: fmt.Sprintf("unknown key %q", c.Key)})
		}
		if !c.Operator.Known() {
			issues = append(issues, Issue{TriggerID: id, Path: path, Message: fmt.Sprintf("unknown operator %q", c.Operator)})
		}
	default:
		issues = append(issues, Issue{TriggerID: id, Path: path, Message: "empty condition"})
	}
	return issues
}
