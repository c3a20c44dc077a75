// Package engagement defines the engagement state aggregate, the closed set of
// engagement events, the pure state-transition reducer and the stage computer.
//
// Nothing in this package performs I/O. The bus package owns the single live
// State and drives Apply; every other consumer receives a Snapshot.
package engagement

import (
	"math"
	"slices"
	"time"
)

// RevealType identifies a one-shot reveal surfaced to the visitor.
type RevealType string

const (
	RevealSimulation        RevealType = "simulation"
	RevealCustomLensOffer   RevealType = "customLensOffer"
	RevealTerminatorPrompt  RevealType = "terminatorPrompt"
	RevealFounderStory      RevealType = "founderStory"
	RevealConversionCTA     RevealType = "conversionCTA"
	RevealJourneyCompletion RevealType = "journeyCompletion"
)

// AllRevealTypes lists every known reveal in definition order.
var AllRevealTypes = []RevealType{
	RevealSimulation,
	RevealCustomLensOffer,
	RevealTerminatorPrompt,
	RevealFounderStory,
	RevealConversionCTA,
	RevealJourneyCompletion,
}

// Valid reports whether r is a known reveal type.
func (r RevealType) Valid() bool {
	return slices.Contains(AllRevealTypes, r)
}

// ActiveJourney tracks the guided journey the visitor is currently on.
type ActiveJourney struct {
	LensID          string    `json:"lensId"`
	ThreadCardIDs   []string  `json:"threadCardIds"`
	CurrentPosition int       `json:"currentPosition"`
	StartedAt       time.Time `json:"startedAt"`
}

// State is the engagement aggregate. It is only ever replaced, never mutated
// in place: Apply returns a fresh copy.
type State struct {
	SessionID        string    `json:"sessionId"`
	SessionStartedAt time.Time `json:"sessionStartedAt"`
	LastActivityAt   time.Time `json:"lastActivityAt"`

	ExchangeCount      int `json:"exchangeCount"`
	TotalExchangeCount int `json:"totalExchangeCount"`
	JourneysCompleted  int `json:"journeysCompleted"`
	JourneysStarted    int `json:"journeysStarted"`
	SproutsCaptured    int `json:"sproutsCaptured"`
	VisitCount         int `json:"visitCount"`
	PivotsClicked      int `json:"pivotsClicked"`

	TopicsExplored []string `json:"topicsExplored"`
	CardsVisited   []string `json:"cardsVisited"`
	HubsVisited    []string `json:"hubsVisited"`

	RevealsShown        []RevealType `json:"revealsShown"`
	RevealsAcknowledged []RevealType `json:"revealsAcknowledged"`

	// Denormalized lens selection; the narrative collaborator is authoritative.
	ActiveLensID       *string `json:"activeLensId"`
	HasCustomLens      bool    `json:"hasCustomLens"`
	CurrentArchetypeID *string `json:"currentArchetypeId"`

	TerminatorModeUnlocked bool `json:"terminatorModeUnlocked"`
	TerminatorModeActive   bool `json:"terminatorModeActive"`

	ActiveJourney *ActiveJourney `json:"activeJourney"`

	// Derived fields written by the entropy detector and moment evaluator.
	ComputedEntropy float64  `json:"computedEntropy"`
	ActiveMoments   []string `json:"activeMoments"`

	Flags           map[string]bool      `json:"flags,omitempty"`
	MomentLastShown map[string]time.Time `json:"momentLastShown,omitempty"`
}

// DefaultState returns the zero-progress state for a new session.
func DefaultState(sessionID string, now time.Time) State {
	return State{
		SessionID:           sessionID,
		SessionStartedAt:    now,
		LastActivityAt:      now,
		VisitCount:          1,
		TopicsExplored:      []string{},
		CardsVisited:        []string{},
		HubsVisited:         []string{},
		RevealsShown:        []RevealType{},
		RevealsAcknowledged: []RevealType{},
		ActiveMoments:       []string{},
	}
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.TopicsExplored = cloneSlice(s.TopicsExplored)
	out.CardsVisited = cloneSlice(s.CardsVisited)
	out.HubsVisited = cloneSlice(s.HubsVisited)
	out.RevealsShown = cloneSlice(s.RevealsShown)
	out.RevealsAcknowledged = cloneSlice(s.RevealsAcknowledged)
	out.ActiveMoments = cloneSlice(s.ActiveMoments)
	out.ActiveLensID = clonePtr(s.ActiveLensID)
	out.CurrentArchetypeID = clonePtr(s.CurrentArchetypeID)
	if s.ActiveJourney != nil {
		j := *s.ActiveJourney
		j.ThreadCardIDs = cloneSlice(s.ActiveJourney.ThreadCardIDs)
		out.ActiveJourney = &j
	}
	if s.Flags != nil {
		out.Flags = make(map[string]bool, len(s.Flags))
		for k, v := range s.Flags {
			out.Flags[k] = v
		}
	}
	if s.MomentLastShown != nil {
		out.MomentLastShown = make(map[string]time.Time, len(s.MomentLastShown))
		for k, v := range s.MomentLastShown {
			out.MomentLastShown[k] = v
		}
	}
	return out
}

// Normalize repairs a state decoded from storage: nil collections become
// empty and counter invariants are restored.
func (s State) Normalize() State {
	out := s.Clone()
	if out.TopicsExplored == nil {
		out.TopicsExplored = []string{}
	}
	if out.CardsVisited == nil {
		out.CardsVisited = []string{}
	}
	if out.HubsVisited == nil {
		out.HubsVisited = []string{}
	}
	if out.RevealsShown == nil {
		out.RevealsShown = []RevealType{}
	}
	if out.RevealsAcknowledged == nil {
		out.RevealsAcknowledged = []RevealType{}
	}
	if out.ActiveMoments == nil {
		out.ActiveMoments = []string{}
	}
	if out.TotalExchangeCount < out.ExchangeCount {
		out.TotalExchangeCount = out.ExchangeCount
	}
	acked := out.RevealsAcknowledged[:0]
	for _, r := range out.RevealsAcknowledged {
		if slices.Contains(out.RevealsShown, r) {
			acked = append(acked, r)
		}
	}
	out.RevealsAcknowledged = acked
	if out.VisitCount < 1 {
		out.VisitCount = 1
	}
	return out
}

// LensID returns the active lens or "" when none is selected.
func (s State) LensID() string {
	if s.ActiveLensID == nil {
		return ""
	}
	return *s.ActiveLensID
}

// HasShown reports whether r has been surfaced in this session.
func (s State) HasShown(r RevealType) bool {
	return slices.Contains(s.RevealsShown, r)
}

// HasAcknowledged reports whether r was accepted or declined.
func (s State) HasAcknowledged(r RevealType) bool {
	return slices.Contains(s.RevealsAcknowledged, r)
}

// MinutesActive derives elapsed session minutes from timestamps. It is never
// accumulated, so missed ticks cannot cause drift.
func (s State) MinutesActive(now time.Time) int {
	if s.SessionStartedAt.IsZero() || now.Before(s.SessionStartedAt) {
		return 0
	}
	return int(math.Floor(now.Sub(s.SessionStartedAt).Minutes()))
}

// Snapshot is a read-only view of State with derived values filled in.
type Snapshot struct {
	State
	MinutesActive int   `json:"minutesActive"`
	Stage         Stage `json:"stage"`
}

// Snap produces a Snapshot of s evaluated at now.
func (s State) Snap(now time.Time, thresholds StageThresholds) Snapshot {
	return Snapshot{
		State:         s.Clone(),
		MinutesActive: s.MinutesActive(now),
		Stage:         ComputeSessionStage(s.Counters(), thresholds),
	}
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// StringPtr is a helper for optional string fields.
func StringPtr(s string) *string {
	return &s
}
