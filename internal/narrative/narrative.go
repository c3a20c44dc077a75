// Package narrative holds the narrative collaborator: the content graph the
// engagement engine reads from (personas, journeys, topic hubs) and the
// authoritative active lens.
package narrative

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"grove/internal/entropy"
	"grove/internal/logging"
)

// Persona is a lens the visitor can view the content through.
type Persona struct {
	ID           string `yaml:"id" json:"id"`
	PublicLabel  string `yaml:"publicLabel" json:"publicLabel"`
	Description  string `yaml:"description,omitempty" json:"description,omitempty"`
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	ToneGuidance string `yaml:"toneGuidance,omitempty" json:"toneGuidance,omitempty"`
}

// Journey is a guided thread through the content.
type Journey struct {
	ID               string `yaml:"id" json:"id"`
	Title            string `yaml:"title" json:"title"`
	Description      string `yaml:"description,omitempty" json:"description,omitempty"`
	LinkedHubID      string `yaml:"linkedHubId,omitempty" json:"linkedHubId,omitempty"`
	EstimatedMinutes int    `yaml:"estimatedMinutes,omitempty" json:"estimatedMinutes,omitempty"`
	Status           string `yaml:"status,omitempty" json:"status,omitempty"`
}

// TopicHub routes queries on a topic to expert framing.
type TopicHub struct {
	ID            string   `yaml:"id" json:"id"`
	Title         string   `yaml:"title" json:"title"`
	Tags          []string `yaml:"tags" json:"tags"`
	Priority      int      `yaml:"priority" json:"priority"`
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	PrimarySource string   `yaml:"primarySource,omitempty" json:"primarySource,omitempty"`
	ExpertFraming string   `yaml:"expertFraming,omitempty" json:"expertFraming,omitempty"`
	KeyPoints     []string `yaml:"keyPoints,omitempty" json:"keyPoints,omitempty"`
}

// GlobalSettings is the legacy home of topic hubs.
type GlobalSettings struct {
	NoLensBehavior      string     `yaml:"noLensBehavior,omitempty" json:"noLensBehavior,omitempty"`
	NudgeAfterExchanges int        `yaml:"nudgeAfterExchanges,omitempty" json:"nudgeAfterExchanges,omitempty"`
	TopicHubs           []TopicHub `yaml:"topicHubs,omitempty" json:"topicHubs,omitempty"`
}

// Schema is the narrative document. Journeys, hubs and personas are keyed by
// ID.
type Schema struct {
	Version        string              `yaml:"version" json:"version"`
	GlobalSettings GlobalSettings      `yaml:"globalSettings" json:"globalSettings"`
	Personas       map[string]Persona  `yaml:"personas,omitempty" json:"personas,omitempty"`
	Journeys       map[string]Journey  `yaml:"journeys,omitempty" json:"journeys,omitempty"`
	Hubs           map[string]TopicHub `yaml:"hubs,omitempty" json:"hubs,omitempty"`
}

// Narrative serves a schema and tracks the active lens. It is safe for
// concurrent use.
type Narrative struct {
	mu     sync.RWMutex
	schema Schema
	lens   string
}

// New wraps schema.
func New(schema Schema) *Narrative {
	return &Narrative{schema: schema}
}

// Load reads a narrative document from a YAML or JSON file.
func Load(path string) (*Narrative, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read narrative: %w", err)
	}
	var s Schema
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &s)
	} else {
		err = yaml.Unmarshal(data, &s)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	for id, j := range s.Journeys {
		if j.ID == "" {
			j.ID = id
			s.Journeys[id] = j
		}
	}
	for id, h := range s.Hubs {
		if h.ID == "" {
			h.ID = id
			s.Hubs[id] = h
		}
	}
	for id, p := range s.Personas {
		if p.ID == "" {
			p.ID = id
			s.Personas[id] = p
		}
	}
	n := New(s)
	logging.Boot("narrative %s: %d journeys, %d hubs, %d personas",
		filepath.Base(path), len(s.Journeys), len(n.TopicHubs()), len(s.Personas))
	return n, nil
}

// Replace swaps the schema, keeping the active lens.
func (n *Narrative) Replace(s Schema) {
	n.mu.Lock()
	n.schema = s
	n.mu.Unlock()
}

// TopicHubs returns the schema's hubs, preferring the hubs map over the
// legacy globalSettings.topicHubs list. Hubs are ordered by priority, highest
// first, then by ID.
func (n *Narrative) TopicHubs() []TopicHub {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var hubs []TopicHub
	if len(n.schema.Hubs) > 0 {
		for _, h := range n.schema.Hubs {
			hubs = append(hubs, h)
		}
	} else {
		hubs = append(hubs, n.schema.GlobalSettings.TopicHubs...)
	}
	sort.SliceStable(hubs, func(i, j int) bool {
		if hubs[i].Priority != hubs[j].Priority {
			return hubs[i].Priority > hubs[j].Priority
		}
		return hubs[i].ID < hubs[j].ID
	})
	return hubs
}

// EntropyHubs converts the topic hubs for the entropy detector.
func (n *Narrative) EntropyHubs() []entropy.Hub {
	hubs := n.TopicHubs()
	out := make([]entropy.Hub, len(hubs))
	for i, h := range hubs {
		out[i] = entropy.Hub{ID: h.ID, Tags: h.Tags, Enabled: h.Enabled}
	}
	return out
}

// MatchHub returns the highest-priority enabled hub with a tag contained in
// query.
func (n *Narrative) MatchHub(query string) (TopicHub, bool) {
	lower := strings.ToLower(query)
	for _, h := range n.TopicHubs() {
		if !h.Enabled {
			continue
		}
		for _, tag := range h.Tags {
			if tag != "" && strings.Contains(lower, strings.ToLower(tag)) {
				return h, true
			}
		}
	}
	return TopicHub{}, false
}

// JourneyForHub returns the journey linked to hubID.
func (n *Narrative) JourneyForHub(hubID string) (Journey, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]string, 0, len(n.schema.Journeys))
	for id := range n.schema.Journeys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if j := n.schema.Journeys[id]; j.LinkedHubID == hubID {
			return j, true
		}
	}
	return Journey{}, false
}

// JourneyMap maps hub IDs to the journeys linked to them.
func (n *Narrative) JourneyMap() map[string]string {
	out := make(map[string]string)
	for _, h := range n.TopicHubs() {
		if j, ok := n.JourneyForHub(h.ID); ok {
			out[h.ID] = j.ID
		}
	}
	return out
}

// Journey looks up a journey by ID.
func (n *Narrative) Journey(id string) (Journey, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	j, ok := n.schema.Journeys[id]
	return j, ok
}

// Personas returns the enabled personas ordered by ID.
func (n *Narrative) Personas() []Persona {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var out []Persona
	for _, p := range n.schema.Personas {
		if p.Enabled {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsCustomLens reports whether id is not one of the schema's personas.
func (n *Narrative) IsCustomLens(id string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.schema.Personas[id]
	return id != "" && !ok
}

// ActiveLens returns the selected lens or "".
func (n *Narrative) ActiveLens() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lens
}

// SetActiveLens selects a lens; "" clears the selection. Disabled personas
// cannot be selected.
func (n *Narrative) SetActiveLens(id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.schema.Personas[id]; ok && !p.Enabled {
		return fmt.Errorf("lens %q is disabled", id)
	}
	n.lens = id
	return nil
}
