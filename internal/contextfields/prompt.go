package contextfields

import (
	"slices"
	"time"
)

// Status is a prompt's lifecycle state. Only active prompts are eligible.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"
)

// Source records where a prompt came from.
type Source string

const (
	SourceLibrary   Source = "library"
	SourceGenerated Source = "generated"
	SourceUser      Source = "user"
)

// Surface is where a prompt may be rendered.
type Surface string

const (
	SurfaceSuggestion Surface = "suggestion"
	SurfaceHighlight  Surface = "highlight"
	SurfaceJourney    Surface = "journey"
	SurfaceFollowup   Surface = "followup"
)

// DefaultBaseWeight applies when a prompt sets no base weight.
const DefaultBaseWeight = 50

// TagWelcome marks prompts offered during the genesis welcome phase.
const TagWelcome = "genesis-welcome"

// TopicAffinity weights a prompt's connection to a topic (0..1).
type TopicAffinity struct {
	TopicID string  `yaml:"topicId" json:"topicId"`
	Weight  float64 `yaml:"weight" json:"weight"`
}

// LensAffinity weights a prompt's fit to a lens (0..1).
type LensAffinity struct {
	LensID      string  `yaml:"lensId" json:"lensId"`
	Weight      float64 `yaml:"weight" json:"weight"`
	CustomLabel string  `yaml:"customLabel,omitempty" json:"customLabel,omitempty"`
}

// Window is an inclusive range; nil bounds are open.
type Window struct {
	Min *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty" json:"max,omitempty"`
}

// Contains reports whether v lies inside w. A nil window contains everything.
func (w *Window) Contains(v float64) bool {
	if w == nil {
		return true
	}
	if w.Min != nil && v < *w.Min {
		return false
	}
	if w.Max != nil && v > *w.Max {
		return false
	}
	return true
}

// Targeting declares when a prompt is relevant.
type Targeting struct {
	Stages          []Stage  `yaml:"stages,omitempty" json:"stages,omitempty"`
	ExcludeStages   []Stage  `yaml:"excludeStages,omitempty" json:"excludeStages,omitempty"`
	EntropyWindow   *Window  `yaml:"entropyWindow,omitempty" json:"entropyWindow,omitempty"`
	LensIDs         []string `yaml:"lensIds,omitempty" json:"lensIds,omitempty"`
	ExcludeLenses   []string `yaml:"excludeLenses,omitempty" json:"excludeLenses,omitempty"`
	MomentTriggers  []string `yaml:"momentTriggers,omitempty" json:"momentTriggers,omitempty"`
	RequireMoment   bool     `yaml:"requireMoment,omitempty" json:"requireMoment,omitempty"`
	MinInteractions int      `yaml:"minInteractions,omitempty" json:"minInteractions,omitempty"`
}

// Stats are the prompt's surfaced/selected counters.
type Stats struct {
	Impressions int `yaml:"impressions" json:"impressions"`
	Selections  int `yaml:"selections" json:"selections"`
	Completions int `yaml:"completions" json:"completions"`
}

// GenerationContext records why a generated prompt exists.
type GenerationContext struct {
	SessionID   string    `yaml:"sessionId" json:"sessionId"`
	Rule        string    `yaml:"rule" json:"rule"`
	Stage       Stage     `yaml:"stage" json:"stage"`
	Entropy     float64   `yaml:"entropy" json:"entropy"`
	Exchanges   int       `yaml:"exchangeCount" json:"exchangeCount"`
	GeneratedAt time.Time `yaml:"generatedAt" json:"generatedAt"`
}

// PromptObject is a targetable suggested prompt.
type PromptObject struct {
	ID              string             `yaml:"id" json:"id"`
	Label           string             `yaml:"label" json:"label"`
	Description     string             `yaml:"description,omitempty" json:"description,omitempty"`
	ExecutionPrompt string             `yaml:"executionPrompt" json:"executionPrompt"`
	SystemContext   string             `yaml:"systemContext,omitempty" json:"systemContext,omitempty"`
	Icon            string             `yaml:"icon,omitempty" json:"icon,omitempty"`
	Variant         string             `yaml:"variant,omitempty" json:"variant,omitempty"`
	Tags            []string           `yaml:"tags,omitempty" json:"tags,omitempty"`
	TopicAffinities []TopicAffinity    `yaml:"topicAffinities,omitempty" json:"topicAffinities,omitempty"`
	LensAffinities  []LensAffinity     `yaml:"lensAffinities,omitempty" json:"lensAffinities,omitempty"`
	Targeting       Targeting          `yaml:"targeting" json:"targeting"`
	BaseWeight      *float64           `yaml:"baseWeight,omitempty" json:"baseWeight,omitempty"`
	Status          Status             `yaml:"status" json:"status"`
	Source          Source             `yaml:"source,omitempty" json:"source,omitempty"`
	Surfaces        []Surface          `yaml:"surfaces,omitempty" json:"surfaces,omitempty"`
	Stats           Stats              `yaml:"stats,omitempty" json:"stats,omitzero"`
	GeneratedFrom   *GenerationContext `yaml:"generatedFrom,omitempty" json:"generatedFrom,omitempty"`
}

// Weight returns the base weight, defaulting to DefaultBaseWeight.
func (p PromptObject) Weight() float64 {
	if p.BaseWeight == nil {
		return DefaultBaseWeight
	}
	return *p.BaseWeight
}

// RendersOn reports whether p may appear on s. Prompts without surfaces are
// suggestions only.
func (p PromptObject) RendersOn(s Surface) bool {
	if len(p.Surfaces) == 0 {
		return s == SurfaceSuggestion
	}
	return slices.Contains(p.Surfaces, s)
}

// HasTag reports whether p carries tag.
func (p PromptObject) HasTag(tag string) bool {
	return slices.Contains(p.Tags, tag)
}

func (p PromptObject) lensAffinity(lens string) (float64, bool) {
	for _, a := range p.LensAffinities {
		if a.LensID == lens {
			return a.Weight, true
		}
	}
	return 0, false
}

func floatPtr(v float64) *float64 { return &v }
