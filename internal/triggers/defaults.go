package triggers

import "grove/internal/engagement"

// DefaultTriggers returns the stock reveal rules.
func DefaultTriggers() []Trigger {
	simulation := []engagement.RevealType{engagement.RevealSimulation}
	return []Trigger{
		{
			ID:       "simulation-reveal",
			Reveal:   engagement.RevealSimulation,
			Priority: 100,
			Enabled:  true,
			Conditions: Any(
				Leaf("journeysCompleted", OpGte, 1),
				Leaf("exchangeCount", OpGte, 5),
				Leaf("minutesActive", OpGte, 3),
			),
		},
		{
			ID:                     "custom-lens-offer",
			Reveal:                 engagement.RevealCustomLensOffer,
			Priority:               90,
			Enabled:                true,
			Conditions:             All(Leaf("hasCustomLens", OpEq, false)),
			RequiresAcknowledgment: simulation,
		},
		{
			ID:       "terminator-prompt",
			Reveal:   engagement.RevealTerminatorPrompt,
			Priority: 80,
			Enabled:  true,
			Conditions: Any(
				Leaf("hasCustomLens", OpEq, true),
				Leaf("minutesActive", OpGte, 10),
			),
			RequiresAcknowledgment: simulation,
		},
		{
			ID:       "founder-story",
			Reveal:   engagement.RevealFounderStory,
			Priority: 70,
			Enabled:  true,
			Conditions: Any(
				Leaf("terminatorModeActive", OpEq, true),
				Leaf("minutesActive", OpGte, 15),
				Leaf("journeysCompleted", OpGte, 2),
			),
			RequiresAcknowledgment: simulation,
		},
		{
			ID:         "journey-completion",
			Reveal:     engagement.RevealJourneyCompletion,
			Priority:   95,
			Enabled:    true,
			Conditions: All(Leaf("journeysCompleted", OpGt, 0)),
			Metadata:   map[string]interface{}{MetaImmediateOnEvent: string(engagement.EventJourneyCompleted)},
		},
		{
			ID:         "conversion-cta",
			Reveal:     engagement.RevealConversionCTA,
			Priority:   60,
			Enabled:    true,
			Conditions: All(Leaf("minutesActive", OpGte, 20)),
			RequiresAcknowledgment: []engagement.RevealType{
				engagement.RevealSimulation,
				engagement.RevealFounderStory,
			},
		},
	}
}
