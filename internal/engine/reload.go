package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"grove/internal/contextfields"
	"grove/internal/engagement"
	"grove/internal/logging"
	"grove/internal/moments"
	"grove/internal/triggers"
)

// ReloadTriggers replaces the trigger configs from a file. On error the
// current configs stay in effect.
func (e *Engine) ReloadTriggers(path string) error {
	configs, err := triggers.Load(path)
	if err != nil {
		return err
	}
	e.bus.SetTriggers(configs)
	return nil
}

// ReloadPrompts replaces the static prompt library from a file.
func (e *Engine) ReloadPrompts(path string) error {
	prompts, err := contextfields.LoadPrompts(path)
	if err != nil {
		return err
	}
	e.library.SetStatic(prompts)
	return nil
}

// ReloadThresholds replaces the stage thresholds from a file.
func (e *Engine) ReloadThresholds(path string) error {
	t, err := LoadStageThresholds(path)
	if err != nil {
		return err
	}
	e.bus.SetThresholds(t)
	logging.Get(logging.CategoryStage).Info("stage thresholds reloaded from %s", filepath.Base(path))
	return nil
}

// ReloadMoments replaces the moment definitions from a file.
func (e *Engine) ReloadMoments(path string) error {
	list, err := moments.Load(path)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.moments = list
	e.mu.Unlock()
	e.refreshMoments()
	return nil
}

// LoadStageThresholds reads stage thresholds from a YAML or JSON file.
// Omitted fields keep their defaults.
func LoadStageThresholds(path string) (engagement.StageThresholds, error) {
	t := engagement.DefaultStageThresholds()
	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("failed to read thresholds: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &t)
	} else {
		err = yaml.Unmarshal(data, &t)
	}
	if err != nil {
		return engagement.DefaultStageThresholds(), fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return t, nil
}
