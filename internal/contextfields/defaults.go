package contextfields

// DefaultPrompts returns the built-in prompt library used when no prompts
// file is configured.
func DefaultPrompts() []PromptObject {
	prompts := []PromptObject{
		{
			ID:              "welcome-what-is-grove",
			Label:           "What is the Grove, in one minute?",
			ExecutionPrompt: "Give me a one-minute overview of the Grove and why it matters.",
			Tags:            []string{TagWelcome, "orientation"},
			Targeting:       Targeting{Stages: []Stage{StageGenesis}},
			BaseWeight:      floatPtr(80),
		},
		{
			ID:              "welcome-why-now",
			Label:           "Why does this matter right now?",
			ExecutionPrompt: "Why is the question of who owns AI infrastructure urgent right now?",
			Tags:            []string{TagWelcome, "stakes"},
			TopicAffinities: []TopicAffinity{{TopicID: "infrastructure-bet", Weight: 0.6}},
			Targeting:       Targeting{Stages: []Stage{StageGenesis, StageExploration}, MinInteractions: 1},
			BaseWeight:      floatPtr(60),
		},
		{
			ID:              "ratchet-basics",
			Label:           "How fast do local models catch up?",
			ExecutionPrompt: "Walk me through the Ratchet Effect and the 21-month lag between frontier and local models.",
			Tags:            []string{"ratchet"},
			TopicAffinities: []TopicAffinity{{TopicID: "ratchet-effect", Weight: 1.0}},
			LensAffinities:  []LensAffinity{{LensID: "engineer", Weight: 0.8}, {LensID: "family-office", Weight: 0.5}},
			Targeting:       Targeting{ExcludeStages: []Stage{StageGenesis}},
		},
		{
			ID:              "engineer-architecture",
			Label:           "Show me the hybrid architecture",
			ExecutionPrompt: "Describe the local/cloud hybrid architecture at an implementation level.",
			Tags:            []string{"architecture"},
			TopicAffinities: []TopicAffinity{{TopicID: "technical-arch", Weight: 1.0}},
			LensAffinities:  []LensAffinity{{LensID: "engineer", Weight: 1.0}},
			Targeting:       Targeting{LensIDs: []string{"engineer", "academic"}, MinInteractions: 2},
			BaseWeight:      floatPtr(70),
		},
		{
			ID:              "drift-back-on-track",
			Label:           "Bring me back to the core idea",
			ExecutionPrompt: "We've wandered a bit. Connect what I asked back to the Grove's core thesis.",
			Tags:            []string{"stabilization"},
			Targeting: Targeting{
				Stages:        []Stage{StageExploration, StageSynthesis},
				EntropyWindow: &Window{Min: floatPtr(0.7)},
			},
			BaseWeight: floatPtr(75),
		},
		{
			ID:              "journey-offer",
			Label:           "Take a guided journey",
			ExecutionPrompt: "Suggest a guided journey that fits what I've been asking about.",
			Tags:            []string{"journey"},
			Surfaces:        []Surface{SurfaceSuggestion, SurfaceJourney},
			Targeting: Targeting{
				MomentTriggers: []string{"drift-journey-offer"},
				RequireMoment:  true,
			},
		},
		{
			ID:              "advocacy-share",
			Label:           "How can I help the Grove grow?",
			ExecutionPrompt: "What are the concrete ways someone like me can contribute to the Grove?",
			Tags:            []string{"advocacy"},
			LensAffinities:  []LensAffinity{{LensID: "concerned-citizen", Weight: 0.9}},
			Targeting:       Targeting{Stages: []Stage{StageSynthesis, StageAdvocacy}},
			BaseWeight:      floatPtr(65),
		},
	}
	for i := range prompts {
		prompts[i].Status = StatusActive
		prompts[i].Source = SourceLibrary
	}
	return prompts
}
