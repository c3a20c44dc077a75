package narrative

// DefaultSchema returns the built-in narrative: the stock personas, the three
// guided journeys and the stock topic hubs in the legacy globalSettings slot.
func DefaultSchema() Schema {
	return Schema{
		Version: "2.1",
		GlobalSettings: GlobalSettings{
			NoLensBehavior:      "nudge-after-exchanges",
			NudgeAfterExchanges: 3,
			TopicHubs:           defaultHubs(),
		},
		Personas: map[string]Persona{
			"freestyle":         {ID: "freestyle", PublicLabel: "Freestyle", Description: "Explore freely without a specific lens", Enabled: true},
			"concerned-citizen": {ID: "concerned-citizen", PublicLabel: "Concerned Citizen", Description: "Worried about Big Tech's grip on AI", Enabled: true},
			"academic":          {ID: "academic", PublicLabel: "Academic", Description: "Research, university, or policy", Enabled: true},
			"engineer":          {ID: "engineer", PublicLabel: "Engineer", Description: "How it actually works", Enabled: true},
			"geopolitical":      {ID: "geopolitical", PublicLabel: "Geopolitical Analyst", Description: "Power, nations, and systemic risk", Enabled: true},
			"big-ai-exec":       {ID: "big-ai-exec", PublicLabel: "Big AI / Tech Exec", Description: "Works at a major tech company or AI lab", Enabled: true},
			"family-office":     {ID: "family-office", PublicLabel: "Family Office / Investor", Description: "Evaluates opportunities", Enabled: true},
		},
		Journeys: map[string]Journey{
			"ratchet":    {ID: "ratchet", Title: "The Ratchet", LinkedHubID: "ratchet-effect", EstimatedMinutes: 8, Status: "active"},
			"stakes":     {ID: "stakes", Title: "The Stakes", LinkedHubID: "infrastructure-bet", EstimatedMinutes: 10, Status: "active"},
			"simulation": {ID: "simulation", Title: "The Simulation", LinkedHubID: "meta-philosophy", EstimatedMinutes: 6, Status: "active"},
		},
	}
}

func defaultHubs() []TopicHub {
	return []TopicHub{
		{ID: "ratchet-effect", Title: "The Ratchet Effect", Priority: 8, Enabled: true,
			Tags: []string{"ratchet", "capability propagation", "frontier to edge", "21 months", "seven month", "7 month"},
			ExpertFraming: "Explain the Ratchet Effect: frontier capability doubles every 7 months and local models follow about 21 months behind."},
		{ID: "infrastructure-bet", Title: "The $380B Infrastructure Bet", Priority: 8, Enabled: true,
			Tags: []string{"$380 billion", "hyperscaler", "datacenter", "infrastructure bet", "data center", "big tech spending"},
			ExpertFraming: "Explain the scale of annual hyperscaler AI infrastructure spending and what it means for ownership."},
		{ID: "cognitive-split", Title: "The Cognitive Split", Priority: 7, Enabled: true,
			Tags: []string{"cognitive split", "hierarchical reasoning", "two-phase", "procedural strategic", "constant hum", "breakthrough"},
			ExpertFraming: "Explain how routine local cognition is separated from cloud-assisted breakthrough moments."},
		{ID: "observer-dynamic", Title: "The Observer Dynamic", Priority: 7, Enabled: true,
			Tags: []string{"observer", "gardener", "simulation", "diary", "diaries", "asymmetric knowledge", "dramatic irony", "theology", "agent experience", "watching", "village"},
			ExpertFraming: "Explain the asymmetric relationship between the observers and the agents of the village."},
		{ID: "meta-philosophy", Title: "You Are Already Here", Priority: 6, Enabled: true,
			Tags: []string{"meta", "architecture", "inside", "already here", "recursive", "experience", "understanding", "terminal is grove", "proof of concept", "demonstration"},
			ExpertFraming: "Explain that the Terminal itself is a demonstration of the architecture being described."},
		{ID: "diary-system", Title: "The Diary System", Priority: 6, Enabled: true,
			Tags: []string{"diary", "diaries", "memory", "narrative", "voice", "character", "engagement", "tamagotchi", "newswire"},
			ExpertFraming: "Explain how agent diaries give the village memory and voice."},
		{ID: "technical-arch", Title: "Technical Architecture", Priority: 5, Enabled: true,
			Tags: []string{"technical", "architecture", "implementation", "distributed", "NATS", "CRDT", "hybrid", "local model", "cloud"},
			ExpertFraming: "Explain the distributed hybrid architecture at an implementation level."},
		{ID: "governance", Title: "Governance & Knowledge Commons", Priority: 5, Enabled: true,
			Tags: []string{"governance", "foundation", "knowledge commons", "open source", "contributor", "efficiency tax", "sustainability"},
			ExpertFraming: "Explain how the foundation, the efficiency tax and the knowledge commons sustain the network."},
	}
}
