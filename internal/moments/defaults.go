package moments

import "time"

// DefaultMoments returns the built-in moment set.
func DefaultMoments() []Moment {
	yes := true
	high, mid := 80, 60
	return []Moment{
		{
			ID:      "welcome-arrival",
			Title:   "First visit welcome",
			Surface: SurfaceWelcome,
			Trigger: Trigger{
				Stage:        []string{"ARRIVAL"},
				SessionCount: Between(1, 1),
			},
			Content: Content{
				Heading: "Welcome to the Grove",
				Body:    "Ask the Terminal anything about distributed AI infrastructure.",
				Variants: map[string]Variant{
					"engineer": {Body: "Ask how the hybrid local/cloud split actually routes work."},
					"academic": {Body: "Ask where the knowledge commons meets attribution."},
				},
			},
		},
		{
			ID:      "welcome-returning",
			Title:   "Returning visitor welcome",
			Surface: SurfaceWelcome,
			Trigger: Trigger{SessionCount: AtLeast(2)},
			Content: Content{Heading: "Welcome back", Body: "Pick up where you left off."},
		},
		{
			ID:       "lens-nudge",
			Title:    "Try a lens",
			Surface:  SurfaceInline,
			Priority: &mid,
			Trigger: Trigger{
				ExchangeCount: AtLeast(2),
				Lens:          NoneSelected(),
			},
			Content: Content{Heading: "See it through a lens", Body: "Choose a perspective to tailor the conversation."},
			Actions: []Action{{ID: "pick-lens", Label: "Choose a lens", Type: ActionNavigate, Target: "lenses"}},
		},
		{
			ID:       "drift-journey-offer",
			Title:    "Offer a guided journey when the conversation drifts",
			Surface:  SurfacePrompt,
			Priority: &high,
			Cooldown: Duration(10 * time.Minute),
			Trigger: Trigger{
				Entropy:       &Range{Min: floatPtr(0.7)},
				ExchangeCount: AtLeast(3),
			},
			Content: Content{Heading: "Want a guided path?", Body: "A structured journey might help connect these threads."},
			Actions: []Action{
				{ID: "start", Label: "Start the journey", Type: ActionStartJourney},
				{ID: "later", Label: "Not now", Type: ActionDismiss},
			},
		},
		{
			ID:      "first-sprout",
			Title:   "First sprout captured",
			Surface: SurfaceToast,
			Once:    true,
			Trigger: Trigger{SproutsCaptured: Between(1, 1)},
			Content: Content{Body: "Your first sprout is planted."},
		},
		{
			ID:      "custom-lens-badge",
			Title:   "Custom lens badge",
			Surface: SurfaceHeader,
			Trigger: Trigger{HasCustomLens: &yes},
			Content: Content{Body: "Custom lens"},
		},
		{
			ID:      "journey-complete",
			Title:   "Journey completed",
			Surface: SurfaceOverlay,
			Trigger: Trigger{OnEvent: "JOURNEY_COMPLETED"},
			Content: Content{Heading: "Journey complete", Body: "You walked the whole thread."},
		},
	}
}

func floatPtr(v float64) *float64 { return &v }
