package contextfields

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"grove/internal/logging"
)

// Library is the prompt pool a session draws from: the static library plus
// prompts generated for this session, minus the ones already used. It is
// safe for concurrent use.
type Library struct {
	mu        sync.RWMutex
	static    []PromptObject
	generated []PromptObject
	used      []string
}

// NewLibrary returns a library over static.
func NewLibrary(static []PromptObject) *Library {
	return &Library{static: slices.Clone(static)}
}

// SetStatic replaces the static prompts, keeping session state.
func (l *Library) SetStatic(static []PromptObject) {
	l.mu.Lock()
	l.static = slices.Clone(static)
	l.mu.Unlock()
}

// AddGenerated merges generated prompts into the session pool. A prompt with
// the ID of one already held replaces it.
func (l *Library) AddGenerated(prompts ...PromptObject) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range prompts {
		if i := slices.IndexFunc(l.generated, func(g PromptObject) bool { return g.ID == p.ID }); i >= 0 {
			l.generated[i] = p
			continue
		}
		l.generated = append(l.generated, p)
	}
}

// All returns static prompts followed by generated ones.
func (l *Library) All() []PromptObject {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]PromptObject, 0, len(l.static)+len(l.generated))
	out = append(out, l.static...)
	return append(out, l.generated...)
}

// Generated returns the session's generated prompts.
func (l *Library) Generated() []PromptObject {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.generated)
}

// Get looks up a prompt by ID.
func (l *Library) Get(id string) (PromptObject, bool) {
	for _, p := range l.All() {
		if p.ID == id {
			return p, true
		}
	}
	return PromptObject{}, false
}

// MarkUsed records that the visitor selected id.
func (l *Library) MarkUsed(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !slices.Contains(l.used, id) {
		l.used = append(l.used, id)
	}
}

// Used returns selected prompt IDs in selection order.
func (l *Library) Used() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.used)
}

// Reset drops generated prompts and the used list.
func (l *Library) Reset() {
	l.mu.Lock()
	l.generated = nil
	l.used = nil
	l.mu.Unlock()
}

// =========================================================================
// Prompt files
// =========================================================================

type promptFile struct {
	Prompts []PromptObject `yaml:"prompts" json:"prompts"`
}

// LoadPrompts reads a prompt library from a YAML or JSON file holding either
// a list or a {prompts: [...]} document. Invalid prompts are logged and
// skipped. Prompts without a status are active; without a source, library.
func LoadPrompts(path string) ([]PromptObject, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}
	list, err := parsePrompts(data, strings.EqualFold(filepath.Ext(path), ".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}

	seen := make(map[string]bool, len(list))
	valid := make([]PromptObject, 0, len(list))
	for _, p := range list {
		if p.Status == "" {
			p.Status = StatusActive
		}
		if p.Source == "" {
			p.Source = SourceLibrary
		}
		if err := p.Validate(); err != nil {
			logging.Get(logging.CategoryRanker).Warn("%s: skipping prompt: %v", filepath.Base(path), err)
			continue
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("%s: duplicate prompt id %q", filepath.Base(path), p.ID)
		}
		seen[p.ID] = true
		valid = append(valid, p)
	}
	logging.Get(logging.CategoryRanker).Info("Loaded %d prompts from %s", len(valid), filepath.Base(path))
	return valid, nil
}

func parsePrompts(data []byte, isJSON bool) ([]PromptObject, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var list []PromptObject
	if isJSON {
		if trimmed[0] == '[' {
			return list, json.Unmarshal(trimmed, &list)
		}
		var doc promptFile
		err := json.Unmarshal(trimmed, &doc)
		return doc.Prompts, err
	}
	if trimmed[0] == '-' || trimmed[0] == '[' {
		return list, yaml.Unmarshal(trimmed, &list)
	}
	var doc promptFile
	err := yaml.Unmarshal(trimmed, &doc)
	return doc.Prompts, err
}

// Validate checks p for the fields scoring relies on.
func (p PromptObject) Validate() error {
	var errs []error
	if p.ID == "" {
		errs = append(errs, errors.New("missing id"))
	}
	if p.Label == "" {
		errs = append(errs, fmt.Errorf("%s: missing label", p.ID))
	}
	switch p.Status {
	case StatusDraft, StatusActive, StatusDeprecated:
	default:
		errs = append(errs, fmt.Errorf("%s: unknown status %q", p.ID, p.Status))
	}
	for _, s := range append(slices.Clone(p.Targeting.Stages), p.Targeting.ExcludeStages...) {
		switch s {
		case StageGenesis, StageExploration, StageSynthesis, StageAdvocacy:
		default:
			errs = append(errs, fmt.Errorf("%s: unknown stage %q", p.ID, s))
		}
	}
	for _, s := range p.Surfaces {
		switch s {
		case SurfaceSuggestion, SurfaceHighlight, SurfaceJourney, SurfaceFollowup:
		default:
			errs = append(errs, fmt.Errorf("%s: unknown surface %q", p.ID, s))
		}
	}
	if w := p.Targeting.EntropyWindow; w != nil && w.Min != nil && w.Max != nil && *w.Min > *w.Max {
		errs = append(errs, fmt.Errorf("%s: entropy window min above max", p.ID))
	}
	return errors.Join(errs...)
}
