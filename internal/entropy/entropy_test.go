package entropy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func user(texts ...string) []Message {
	out := make([]Message, len(texts))
	for i, t := range texts {
		out[i] = Message{Role: "user", Text: t}
	}
	return out
}

func ptr(s string) *string { return &s }

func TestCalculate_UnrecognizedTopicIsOffTopic(t *testing.T) {
	r := Calculate("Tell me about quantum computing", nil, nil, 5)

	assert.Equal(t, 1.0, r.Score)
	assert.True(t, r.IsOffTopic)
	assert.Nil(t, r.DominantCluster)
	assert.Nil(t, r.SuggestedJourney)
	assert.Equal(t, ClassHigh, r.Classification)
}

func TestCalculate_StayingOnTopic(t *testing.T) {
	d := NewDetector()
	r := d.Calculate("why does the ratchet keep doubling?", user("how does the ratchet work?"), 4)

	assert.InDelta(t, 0.0, r.Score, 1e-9)
	assert.Equal(t, ClassLow, r.Classification)
	assert.False(t, r.IsOffTopic)
	require.NotNil(t, r.DominantCluster)
	assert.Equal(t, "ratchet", *r.DominantCluster)
	require.NotNil(t, r.SuggestedJourney)
	assert.Equal(t, "ratchet", *r.SuggestedJourney)
}

func TestCalculate_NoJourneyForNewVisitors(t *testing.T) {
	r := NewDetector().Calculate("why does the ratchet keep doubling?", nil, 1)
	assert.Equal(t, "ratchet", r.Dominant())
	assert.Nil(t, r.SuggestedJourney)
}

func TestCalculate_ThrashingRaisesScore(t *testing.T) {
	d := NewDetector()
	history := user("the ratchet effect", "who pays the capex?")
	r := d.Calculate("what about the gardener and the observer?", history, 2)

	assert.Equal(t, "observer", r.Dominant())
	assert.InDelta(t, 0.4, r.Score, 1e-9)
	assert.Equal(t, ClassMedium, r.Classification)
	assert.False(t, r.IsOffTopic)
}

func TestCalculate_TieGoesToMostRecentCluster(t *testing.T) {
	r := NewDetector().Calculate("ratchet", user("capex"), 0)
	assert.Equal(t, "ratchet", r.Dominant())
}

func TestCalculate_ModelMessagesIgnored(t *testing.T) {
	history := []Message{
		{Role: "user", Text: "the ratchet"},
		{Role: "model", Text: "capex capex hyperscaler datacenter billion"},
	}
	r := NewDetector().Calculate("ratchet frontier", history, 0)
	assert.Equal(t, "ratchet", r.Dominant())
}

func TestCalculate_WindowIsBounded(t *testing.T) {
	history := user("capex billion hyperscaler", "capex billion hyperscaler")
	for i := 0; i < 6; i++ {
		history = append(history, Message{Role: "user", Text: "the ratchet"})
	}
	r := NewDetector().Calculate("the ratchet", history, 0)
	assert.Equal(t, "ratchet", r.Dominant(), "messages outside the window do not count")
	assert.InDelta(t, 0.0, r.Score, 1e-9)
}

func TestCalculate_EmptyMessageIsNeutral(t *testing.T) {
	r := NewDetector().Calculate("   ", user("ratchet"), 10)
	assert.Equal(t, Neutral(), r)
}

func TestCalculate_HubsAndMatchedTags(t *testing.T) {
	hubs := []Hub{
		{ID: "ratchet-effect", Tags: []string{"ratchet", "capability propagation", "21 months", "frontier to edge"}, Enabled: true},
		{ID: "dormant", Tags: []string{"ratchet"}, Enabled: false},
	}
	d := NewDetector(WithHubs(hubs), WithJourneys(map[string]string{"ratchet-effect": "ratchet"}))
	r := d.Calculate("the ratchet moves frontier to edge in 21 months via capability propagation", nil, 5)

	assert.Equal(t, []string{"ratchet", "capability propagation", "21 months"}, r.MatchedTags, "capped at three, hub order")
	assert.NotContains(t, r.MatchedTags, "dormant")

	j, ok := d.JourneyForCluster("ratchet-effect")
	assert.True(t, ok)
	assert.Equal(t, "ratchet", j)
}

func TestCalculate_CustomMatcher(t *testing.T) {
	semantic := MatcherFunc(func(text string, clusters []Cluster) map[string]float64 {
		if strings.Contains(text, "qubit") {
			return map[string]float64{"architecture": 1}
		}
		return nil
	})
	r := NewDetector(WithMatcher(semantic)).Calculate("qubit error rates", nil, 3)
	assert.Equal(t, "architecture", r.Dominant())
	require.NotNil(t, r.SuggestedJourney)
	assert.Equal(t, "stakes", *r.SuggestedJourney)
}

func TestCalculate_Deterministic(t *testing.T) {
	d := NewDetector()
	history := user("capex", "ratchet", "observer village", "hybrid cloud")
	first := d.Calculate("village governance network", history, 4)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, d.Calculate("village governance network", history, 4))
	}
}

func TestShouldInject(t *testing.T) {
	d := NewDetector()
	hot := Result{Score: 0.9, DominantCluster: ptr("economics"), IsOffTopic: true, Classification: ClassHigh}

	assert.True(t, d.ShouldInject(hot, DefaultState()))
	assert.False(t, d.ShouldInject(Result{Score: 0.7, DominantCluster: ptr("economics")}, DefaultState()), "must exceed threshold")
	assert.False(t, d.ShouldInject(Result{Score: 1}, DefaultState()), "nothing to suggest without a cluster")

	s := DefaultState()
	s.CooldownRemaining = 1
	assert.False(t, d.ShouldInject(hot, s))
}

func TestInjectionLifecycle(t *testing.T) {
	d := NewDetector()
	hot := Result{Score: 0.9, DominantCluster: ptr("economics"), IsOffTopic: true, Classification: ClassHigh}

	s := d.UpdateState(DefaultState(), hot, true, 4)
	assert.Equal(t, 1, s.InjectionCount)
	assert.Equal(t, 5, s.CooldownRemaining)
	assert.Equal(t, 4, s.LastInjectionExchange)
	assert.Equal(t, "economics", s.LastInjectedCluster)
	assert.Equal(t, 1, s.OffTopicCount)
	assert.False(t, d.ShouldInject(hot, s))

	calm := Result{Score: 0.1, Classification: ClassLow}
	for i := 0; i < 5; i++ {
		s = d.UpdateState(s, calm, false, 5+i)
	}
	assert.Equal(t, 0, s.CooldownRemaining)
	assert.Equal(t, 0.1, s.LastScore)
	assert.True(t, d.ShouldInject(hot, s))

	s = d.UpdateState(s, hot, true, 10)
	for i := 0; i < 5; i++ {
		s = d.UpdateState(s, calm, false, 11+i)
	}
	assert.False(t, d.ShouldInject(hot, s), "session injection cap reached")
}

func TestDismissSilencesCluster(t *testing.T) {
	d := NewDetector()
	hot := Result{Score: 0.95, DominantCluster: ptr("observer")}

	s := d.UpdateState(DefaultState(), hot, true, 3)
	s = d.Dismiss(s)
	assert.Equal(t, 2, s.CooldownRemaining, "dismiss applies the shorter cooldown")
	assert.Equal(t, 1, s.DismissCounts["observer"])

	s.InjectionCount = 0
	s.CooldownRemaining = 0
	s = d.Dismiss(s)
	s.CooldownRemaining = 0
	assert.Equal(t, 2, s.DismissCounts["observer"])
	assert.False(t, d.ShouldInject(hot, s), "two dismissals silence the cluster")
	assert.True(t, d.ShouldInject(Result{Score: 0.95, DominantCluster: ptr("ratchet")}, s))
}

func TestStateCloneIsDeep(t *testing.T) {
	s := DefaultState()
	s.DismissCounts = map[string]int{"a": 1}
	c := s.Clone()
	c.DismissCounts["a"] = 5
	assert.Equal(t, 1, s.DismissCounts["a"])
}
