package entropy

// State is the persisted throttle for journey injection. Results themselves
// are never stored.
type State struct {
	LastScore             float64        `json:"lastScore"`
	LastClassification    Classification `json:"lastClassification"`
	InjectionCount        int            `json:"injectionCount"`
	CooldownRemaining     int            `json:"cooldownRemaining"`
	LastInjectionExchange int            `json:"lastInjectionExchange"`
	LastInjectedCluster   string         `json:"lastInjectedCluster,omitempty"`
	DismissCounts         map[string]int `json:"dismissCounts,omitempty"`
	OffTopicCount         int            `json:"offTopicCount"`
}

// DefaultState is the throttle at session start.
func DefaultState() State {
	return State{LastClassification: ClassLow}
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	if s.DismissCounts != nil {
		out.DismissCounts = make(map[string]int, len(s.DismissCounts))
		for k, v := range s.DismissCounts {
			out.DismissCounts[k] = v
		}
	}
	return out
}

// ShouldInject reports whether a journey suggestion may be injected for r.
func (d *Detector) ShouldInject(r Result, s State) bool {
	if r.DominantCluster == nil {
		return false
	}
	if r.Score <= d.thresholds.Inject {
		return false
	}
	if s.CooldownRemaining > 0 {
		return false
	}
	if s.InjectionCount >= d.limits.MaxInjectionsPerSession {
		return false
	}
	return s.DismissCounts[*r.DominantCluster] < d.limits.DismissCap
}

// UpdateState records r. When injected is true the cooldown restarts;
// otherwise an active cooldown counts down by one exchange.
func (d *Detector) UpdateState(s State, r Result, injected bool, exchangeCount int) State {
	out := s.Clone()
	out.LastScore = r.Score
	out.LastClassification = r.Classification
	if r.IsOffTopic {
		out.OffTopicCount++
	}

	if injected {
		out.InjectionCount++
		out.CooldownRemaining = d.limits.CooldownExchanges
		out.LastInjectionExchange = exchangeCount
		out.LastInjectedCluster = r.Dominant()
		return out
	}
	if out.CooldownRemaining > 0 {
		out.CooldownRemaining--
	}
	return out
}

// Dismiss records that the visitor waved away the last injected suggestion.
// The cluster's dismiss count grows and a shorter cooldown applies.
func (d *Detector) Dismiss(s State) State {
	out := s.Clone()
	if out.LastInjectedCluster != "" {
		if out.DismissCounts == nil {
			out.DismissCounts = make(map[string]int)
		}
		out.DismissCounts[out.LastInjectedCluster]++
	}
	out.CooldownRemaining = d.limits.DismissCooldownExchanges
	return out
}
