// Package contextfields targets prompts at a visitor by projecting engagement
// state into four dimensions (stage, entropy, lens, moments) and scoring
// authored and generated prompts against that projection.
package contextfields

import (
	"slices"

	"grove/internal/engagement"
	"grove/internal/entropy"
)

// Stage is the context-field name for an engagement stage.
type Stage string

const (
	StageGenesis     Stage = "genesis"
	StageExploration Stage = "exploration"
	StageSynthesis   Stage = "synthesis"
	StageAdvocacy    Stage = "advocacy"
)

// StageOf maps a session stage to its context stage.
func StageOf(s engagement.Stage) Stage {
	return Stage(s.ContextStage())
}

// ContextState is the aggregated targeting context. It owns no state of its
// own; build a fresh one from the bus whenever its sources change.
type ContextState struct {
	SessionID        string   `json:"sessionId"`
	Stage            Stage    `json:"stage"`
	Entropy          float64  `json:"entropy"`
	ActiveLensID     string   `json:"activeLensId,omitempty"`
	ActiveMoments    []string `json:"activeMoments"`
	InteractionCount int      `json:"interactionCount"`
	TopicsExplored   []string `json:"topicsExplored"`
	SproutsCaptured  int      `json:"sproutsCaptured"`
	OffTopicCount    int      `json:"offTopicCount"`
	PromptsSelected  []string `json:"promptsSelected"`
}

// Aggregate projects a bus snapshot and entropy throttle into a ContextState.
// activeLens is the narrative's authoritative lens; when it is empty the
// lens recorded on the engagement state is used.
func Aggregate(snap engagement.Snapshot, es entropy.State, activeLens string) ContextState {
	lens := activeLens
	if lens == "" {
		lens = snap.LensID()
	}
	return ContextState{
		SessionID:        snap.SessionID,
		Stage:            StageOf(snap.Stage),
		Entropy:          snap.ComputedEntropy,
		ActiveLensID:     lens,
		ActiveMoments:    slices.Clone(snap.ActiveMoments),
		InteractionCount: snap.ExchangeCount,
		TopicsExplored:   slices.Clone(snap.TopicsExplored),
		SproutsCaptured:  snap.SproutsCaptured,
		OffTopicCount:    es.OffTopicCount,
	}
}

// WithSelected returns a copy of c that records ids as already selected.
func (c ContextState) WithSelected(ids []string) ContextState {
	c.PromptsSelected = slices.Clone(ids)
	return c
}

func (c ContextState) hasMoment(id string) bool {
	return slices.Contains(c.ActiveMoments, id)
}

func (c ContextState) explored(topic string) bool {
	return slices.Contains(c.TopicsExplored, topic)
}
