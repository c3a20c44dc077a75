package triggers

import (
	"sort"

	"grove/internal/engagement"
)

// Fields is the flat view of an engagement snapshot that conditions are
// evaluated against. Numbers are float64, collections are []string, and an
// unset optional string is nil.
type Fields map[string]interface{}

// FieldsOf projects snap onto the condition key space.
func FieldsOf(snap engagement.Snapshot) Fields {
	s := snap.State
	f := Fields{
		"exchangeCount":          float64(s.ExchangeCount),
		"totalExchangeCount":     float64(s.TotalExchangeCount),
		"journeysCompleted":      float64(s.JourneysCompleted),
		"journeysStarted":        float64(s.JourneysStarted),
		"topicsExplored":         cloneStrings(s.TopicsExplored),
		"cardsVisited":           cloneStrings(s.CardsVisited),
		"hubsVisited":            cloneStrings(s.HubsVisited),
		"minutesActive":          float64(snap.MinutesActive),
		"hasCustomLens":          s.HasCustomLens,
		"revealsShown":           revealStrings(s.RevealsShown),
		"revealsAcknowledged":    revealStrings(s.RevealsAcknowledged),
		"terminatorModeUnlocked": s.TerminatorModeUnlocked,
		"terminatorModeActive":   s.TerminatorModeActive,
		"sproutsCaptured":        float64(s.SproutsCaptured),
		"visitCount":             float64(s.VisitCount),
		"pivotsClicked":          float64(s.PivotsClicked),
		"computedEntropy":        s.ComputedEntropy,
		"activeMoments":          cloneStrings(s.ActiveMoments),
		"stage":                  snap.Stage.String(),
		"activeLensId":           nil,
		"currentArchetypeId":     nil,
	}
	if s.ActiveLensID != nil {
		f["activeLensId"] = *s.ActiveLensID
	}
	if s.CurrentArchetypeID != nil {
		f["currentArchetypeId"] = *s.CurrentArchetypeID
	}
	return f
}

// FieldKeys lists every key a condition may reference, sorted.
func FieldKeys() []string {
	f := FieldsOf(engagement.Snapshot{})
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func revealStrings(in []engagement.RevealType) []string {
	out := make([]string, len(in))
	for i, r := range in {
		out[i] = string(r)
	}
	return out
}
