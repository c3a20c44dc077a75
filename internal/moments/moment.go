// Package moments defines engagement moments: declarative, targeted pieces
// of content (welcome blurbs, overlays, inline cards, toasts) that become
// eligible when the engagement context matches their trigger.
package moments

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Surface is where a moment renders.
type Surface string

const (
	SurfaceOverlay Surface = "overlay"
	SurfaceInline  Surface = "inline"
	SurfaceWelcome Surface = "welcome"
	SurfaceHeader  Surface = "header"
	SurfacePrompt  Surface = "prompt"
	SurfaceToast   Surface = "toast"
)

// Surfaces lists every surface.
var Surfaces = []Surface{SurfaceOverlay, SurfaceInline, SurfaceWelcome, SurfaceHeader, SurfacePrompt, SurfaceToast}

// Valid reports whether s is a known surface.
func (s Surface) Valid() bool {
	for _, known := range Surfaces {
		if s == known {
			return true
		}
	}
	return false
}

// Status values.
const (
	StatusActive   = "active"
	StatusDraft    = "draft"
	StatusArchived = "archived"
)

// DefaultPriority applies when a moment sets none.
const DefaultPriority = 50

// Moment is one targeted piece of content.
type Moment struct {
	ID       string   `yaml:"id" json:"id"`
	Title    string   `yaml:"title" json:"title"`
	Status   string   `yaml:"status,omitempty" json:"status,omitempty"`
	Tags     []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Surface  Surface  `yaml:"surface" json:"surface"`
	Priority *int     `yaml:"priority,omitempty" json:"priority,omitempty"`
	Enabled  *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	// Once moments never show again after MOMENT_SHOWN.
	Once     bool     `yaml:"once,omitempty" json:"once,omitempty"`
	Cooldown Duration `yaml:"cooldown,omitempty" json:"cooldown,omitempty"`
	Trigger  Trigger  `yaml:"trigger" json:"trigger"`
	Content  Content  `yaml:"content" json:"content"`
	Actions  []Action `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// Rank is the moment's priority with the default applied.
func (m Moment) Rank() int {
	if m.Priority == nil {
		return DefaultPriority
	}
	return *m.Priority
}

// IsEnabled reports whether the moment is switched on. Unset means enabled.
func (m Moment) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// IsActive reports whether the moment is published. Unset means active.
func (m Moment) IsActive() bool {
	return m.Status == "" || m.Status == StatusActive
}

// Content is what a moment displays. Variants override heading and body per
// lens.
type Content struct {
	Heading  string             `yaml:"heading,omitempty" json:"heading,omitempty"`
	Body     string             `yaml:"body,omitempty" json:"body,omitempty"`
	Variants map[string]Variant `yaml:"variants,omitempty" json:"variants,omitempty"`
}

type Variant struct {
	Heading string `yaml:"heading,omitempty" json:"heading,omitempty"`
	Body    string `yaml:"body,omitempty" json:"body,omitempty"`
}

// For returns the content as seen through lens.
func (c Content) For(lens string) (heading, body string) {
	heading, body = c.Heading, c.Body
	if v, ok := c.Variants[lens]; ok {
		if v.Heading != "" {
			heading = v.Heading
		}
		if v.Body != "" {
			body = v.Body
		}
	}
	return heading, body
}

// ActionType is what an action does when chosen.
type ActionType string

const (
	ActionAccept       ActionType = "accept"
	ActionDismiss      ActionType = "dismiss"
	ActionNavigate     ActionType = "navigate"
	ActionEmit         ActionType = "emit"
	ActionStartJourney ActionType = "startJourney"
	ActionSelectLens   ActionType = "selectLens"
)

type Action struct {
	ID        string          `yaml:"id" json:"id"`
	Label     string          `yaml:"label" json:"label"`
	Type      ActionType      `yaml:"type" json:"type"`
	Target    string          `yaml:"target,omitempty" json:"target,omitempty"`
	JourneyID string          `yaml:"journeyId,omitempty" json:"journeyId,omitempty"`
	LensID    string          `yaml:"lensId,omitempty" json:"lensId,omitempty"`
	SetFlags  map[string]bool `yaml:"setFlags,omitempty" json:"setFlags,omitempty"`
}

// Range bounds a numeric field. Both ends are inclusive and optional.
type Range struct {
	Min *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty" json:"max,omitempty"`
}

// Contains reports whether v lies in r. A nil range contains everything.
func (r *Range) Contains(v float64) bool {
	if r == nil {
		return true
	}
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

// Between is a convenience constructor for Range.
func Between(min, max float64) *Range {
	return &Range{Min: &min, Max: &max}
}

// AtLeast is a Range with only a lower bound.
func AtLeast(min float64) *Range {
	return &Range{Min: &min}
}

// Selector matches an optional selection such as the active lens. It is
// written as a single ID, a list of IDs (any matches), or null (matches only
// when nothing is selected). An unset selector matches anything.
type Selector struct {
	Set    bool
	Values []string
}

// OneOf builds a selector matching any of ids.
func OneOf(ids ...string) Selector { return Selector{Set: true, Values: ids} }

// NoneSelected builds a selector that matches only an empty selection.
func NoneSelected() Selector { return Selector{Set: true} }

// Matches reports whether actual ("" for none) satisfies s.
func (s Selector) Matches(actual string) bool {
	if !s.Set {
		return true
	}
	if len(s.Values) == 0 {
		return actual == ""
	}
	if actual == "" {
		return false
	}
	for _, v := range s.Values {
		if v == actual {
			return true
		}
	}
	return false
}

func (s Selector) IsZero() bool { return !s.Set }

func (s Selector) MarshalJSON() ([]byte, error) {
	switch {
	case len(s.Values) == 0:
		return []byte("null"), nil
	case len(s.Values) == 1:
		return json.Marshal(s.Values[0])
	}
	return json.Marshal(s.Values)
}

func (s *Selector) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*s = NoneSelected()
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = OneOf(one)
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("selector must be a string, list or null: %w", err)
	}
	*s = OneOf(many...)
	return nil
}

func (s Selector) MarshalYAML() (interface{}, error) {
	switch {
	case len(s.Values) == 0:
		return nil, nil
	case len(s.Values) == 1:
		return s.Values[0], nil
	}
	return s.Values, nil
}

// UnmarshalYAML handles string and list forms. yaml.v3 does not call
// unmarshalers for null; Trigger.UnmarshalYAML covers that case.
func (s *Selector) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.ShortTag() == "!!null" {
			*s = NoneSelected()
			return nil
		}
		*s = OneOf(node.Value)
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := node.Decode(&many); err != nil {
			return err
		}
		*s = OneOf(many...)
		return nil
	}
	return fmt.Errorf("line %d: selector must be a string, list or null", node.Line)
}

// Schedule restricts a moment to calendar windows (UTC).
type Schedule struct {
	// DaysOfWeek uses 0 for Sunday.
	DaysOfWeek []int       `yaml:"daysOfWeek,omitempty" json:"daysOfWeek,omitempty"`
	HoursUTC   *HourWindow `yaml:"hoursUTC,omitempty" json:"hoursUTC,omitempty"`
	// Cron is a five-field cron expression; the moment is eligible during
	// minutes the expression matches.
	Cron string `yaml:"cron,omitempty" json:"cron,omitempty"`
}

// HourWindow is [Start, End) in UTC hours.
type HourWindow struct {
	Start int `yaml:"start" json:"start"`
	End   int `yaml:"end" json:"end"`
}

// Trigger is the eligibility rule of a moment. Stages are OR-ed; every other
// set condition must hold.
type Trigger struct {
	Stage             []string        `yaml:"stage,omitempty" json:"stage,omitempty"`
	ExchangeCount     *Range          `yaml:"exchangeCount,omitempty" json:"exchangeCount,omitempty"`
	JourneysCompleted *Range          `yaml:"journeysCompleted,omitempty" json:"journeysCompleted,omitempty"`
	SproutsCaptured   *Range          `yaml:"sproutsCaptured,omitempty" json:"sproutsCaptured,omitempty"`
	Entropy           *Range          `yaml:"entropy,omitempty" json:"entropy,omitempty"`
	MinutesActive     *Range          `yaml:"minutesActive,omitempty" json:"minutesActive,omitempty"`
	SessionCount      *Range          `yaml:"sessionCount,omitempty" json:"sessionCount,omitempty"`
	Flags             map[string]bool `yaml:"flags,omitempty" json:"flags,omitempty"`
	Lens              Selector        `yaml:"lens,omitempty" json:"lens,omitzero"`
	Journey           Selector        `yaml:"journey,omitempty" json:"journey,omitzero"`
	HasCustomLens     *bool           `yaml:"hasCustomLens,omitempty" json:"hasCustomLens,omitempty"`
	// OnEvent names the engagement event that surfaces this moment reactively.
	OnEvent     string    `yaml:"onEvent,omitempty" json:"onEvent,omitempty"`
	Probability *float64  `yaml:"probability,omitempty" json:"probability,omitempty"`
	Schedule    *Schedule `yaml:"schedule,omitempty" json:"schedule,omitempty"`
}

type triggerAlias Trigger

func (t *Trigger) UnmarshalYAML(node *yaml.Node) error {
	var a triggerAlias
	if err := node.Decode(&a); err != nil {
		return err
	}
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i].Value, node.Content[i+1]
			if val.ShortTag() != "!!null" {
				continue
			}
			switch key {
			case "lens":
				a.Lens = NoneSelected()
			case "journey":
				a.Journey = NoneSelected()
			}
		}
	}
	*t = Trigger(a)
	return nil
}

// Duration is a time.Duration that reads Go duration strings ("90s") or a
// bare number of milliseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var ms float64
	if err := json.Unmarshal(data, &ms); err == nil {
		*d = Duration(time.Duration(ms * float64(time.Millisecond)))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string or milliseconds: %w", err)
	}
	return d.parse(s)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.ShortTag() == "!!int" || node.ShortTag() == "!!float" {
		var ms float64
		if err := node.Decode(&ms); err != nil {
			return err
		}
		*d = Duration(time.Duration(ms * float64(time.Millisecond)))
		return nil
	}
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}
