package moments

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"

	"grove/internal/engagement"
	"grove/internal/logging"
)

type momentFile struct {
	Moments []Moment `yaml:"moments" json:"moments"`
}

// Load reads moments from a YAML or JSON file holding either a list or a
// {moments: [...]} document. Invalid moments are logged and skipped.
func Load(path string) ([]Moment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read moments file: %w", err)
	}

	var list []Moment
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = decodeJSON(data, &list)
	} else {
		err = decodeYAML(data, &list)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}

	valid := make([]Moment, 0, len(list))
	for _, m := range list {
		if err := m.Validate(); err != nil {
			logging.Get(logging.CategoryMoments).Warn("%s: skipping moment: %v", filepath.Base(path), err)
			continue
		}
		valid = append(valid, m)
	}
	if dups := duplicates(valid); len(dups) > 0 {
		return nil, fmt.Errorf("%s: duplicate moment ids %v", filepath.Base(path), dups)
	}
	logging.Get(logging.CategoryMoments).Info("Loaded %d moments from %s", len(valid), filepath.Base(path))
	return valid, nil
}

func decodeJSON(data []byte, out *[]Moment) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '[' {
		return json.Unmarshal(trimmed, out)
	}
	var f momentFile
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return err
	}
	*out = f.Moments
	return nil
}

func decodeYAML(data []byte, out *[]Moment) error {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return err
	}
	if len(node.Content) == 0 {
		return nil
	}
	if node.Content[0].Kind == yaml.SequenceNode {
		return node.Content[0].Decode(out)
	}
	var f momentFile
	if err := node.Content[0].Decode(&f); err != nil {
		return err
	}
	*out = f.Moments
	return nil
}

// Validate checks a single moment definition.
func (m Moment) Validate() error {
	var errs []error
	if m.ID == "" {
		errs = append(errs, errors.New("missing id"))
	}
	if !m.Surface.Valid() {
		errs = append(errs, fmt.Errorf("unknown surface %q", m.Surface))
	}
	switch m.Status {
	case "", StatusActive, StatusDraft, StatusArchived:
	default:
		errs = append(errs, fmt.Errorf("unknown status %q", m.Status))
	}
	for _, s := range m.Trigger.Stage {
		if _, err := engagement.ParseStage(s); err != nil {
			errs = append(errs, err)
		}
	}
	if p := m.Trigger.Probability; p != nil && (*p < 0 || *p > 1) {
		errs = append(errs, fmt.Errorf("probability %v outside [0,1]", *p))
	}
	if s := m.Trigger.Schedule; s != nil {
		if s.Cron != "" && !gronx.New().IsValid(s.Cron) {
			errs = append(errs, fmt.Errorf("invalid cron %q", s.Cron))
		}
		if h := s.HoursUTC; h != nil && (h.Start < 0 || h.End > 24 || h.Start >= h.End) {
			errs = append(errs, fmt.Errorf("invalid hour window %d-%d", h.Start, h.End))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("moment %q: %w", m.ID, err)
	}
	return nil
}

func duplicates(list []Moment) []string {
	seen := make(map[string]bool, len(list))
	var dups []string
	for _, m := range list {
		if seen[m.ID] {
			dups = append(dups, m.ID)
		}
		seen[m.ID] = true
	}
	return dups
}

// Save writes moments as YAML.
func Save(path string, list []Moment) error {
	data, err := yaml.Marshal(momentFile{Moments: list})
	if err != nil {
		return fmt.Errorf("failed to marshal moments: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write moments file: %w", err)
	}
	return nil
}
