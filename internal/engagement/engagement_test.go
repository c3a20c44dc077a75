package engagement

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func apply(s State, payloads ...Payload) State {
	for i, p := range payloads {
		s = Apply(s, NewEvent(p, s.SessionID, t0.Add(time.Duration(i+1)*time.Second)))
	}
	return s
}

func TestScenario_ThreeExchangesReachOriented(t *testing.T) {
	s := apply(DefaultState("s1", t0), ExchangeSent{}, ExchangeSent{}, ExchangeSent{})

	assert.Equal(t, 3, s.ExchangeCount)
	assert.Equal(t, 3, s.TotalExchangeCount)
	assert.Equal(t, StageOriented, ComputeSessionStage(s.Counters(), DefaultStageThresholds()))
}

func TestScenario_LensSelectionResetsConversation(t *testing.T) {
	s := DefaultState("s1", t0)
	for i := 0; i < 5; i++ {
		s = apply(s, ExchangeSent{Query: "q"})
	}
	s = apply(s, LensSelected{LensID: "engineer", ArchetypeID: "builder"})

	assert.Equal(t, 0, s.ExchangeCount)
	assert.Equal(t, 5, s.TotalExchangeCount)
	assert.Equal(t, "engineer", s.LensID())
	require.NotNil(t, s.CurrentArchetypeID)
	assert.Equal(t, "builder", *s.CurrentArchetypeID)
	assert.False(t, s.HasCustomLens)

	s = apply(s, LensSelected{LensID: "custom-1", IsCustom: true}, LensSelected{LensID: "academic"})
	assert.True(t, s.HasCustomLens, "custom lens flag is sticky")
	assert.Nil(t, s.CurrentArchetypeID)
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	s := DefaultState("s1", t0)
	s.TopicsExplored = append(s.TopicsExplored, "ratchet")
	before := s.Clone()

	_ = apply(s, TopicExplored{TopicID: "economics"}, CardVisited{CardID: "c1"},
		MomentShown{MomentID: "welcome"}, LensSelected{LensID: "x"})

	if diff := cmp.Diff(before, s); diff != "" {
		t.Errorf("input state mutated (-before +after):\n%s", diff)
	}
}

func TestApply_TopicExplorationIsIdempotent(t *testing.T) {
	s := apply(DefaultState("s1", t0), TopicExplored{TopicID: "ratchet"})
	require.Len(t, s.TopicsExplored, 1)
	first := s.LastActivityAt

	s = Apply(s, NewEvent(TopicExplored{TopicID: "ratchet"}, "s1", t0.Add(time.Hour)))
	assert.Len(t, s.TopicsExplored, 1)
	assert.True(t, s.LastActivityAt.After(first), "activity still recorded")
}

func TestApply_RevealLifecycle(t *testing.T) {
	s := DefaultState("s1", t0)

	s = apply(s, RevealDismissed{RevealType: RevealSimulation, Action: ActionAccepted})
	assert.Empty(t, s.RevealsAcknowledged, "acknowledging an unseen reveal is ignored")

	s = apply(s,
		RevealShown{RevealType: RevealSimulation},
		RevealShown{RevealType: RevealSimulation},
		RevealDismissed{RevealType: RevealSimulation, Action: ActionDismissed},
	)
	assert.Equal(t, []RevealType{RevealSimulation}, s.RevealsShown)
	assert.Empty(t, s.RevealsAcknowledged, "a plain dismiss is not an acknowledgment")

	s = apply(s, RevealDismissed{RevealType: RevealSimulation, Action: ActionDeclined})
	assert.Equal(t, []RevealType{RevealSimulation}, s.RevealsAcknowledged)

	s = apply(s,
		RevealShown{RevealType: RevealTerminatorPrompt},
		RevealDismissed{RevealType: RevealTerminatorPrompt, Action: ActionAccepted},
	)
	assert.True(t, s.TerminatorModeUnlocked)
	assert.True(t, s.TerminatorModeActive)
}

func TestApply_JourneysAndCards(t *testing.T) {
	s := apply(DefaultState("s1", t0),
		CardVisited{CardID: "intro"},
		JourneyStarted{LensID: "engineer", ThreadLength: 3},
		CardVisited{CardID: "c1"},
		CardVisited{CardID: "c2"},
		CardVisited{CardID: "c1"},
	)
	assert.Equal(t, []string{"intro", "c1", "c2"}, s.CardsVisited)
	require.NotNil(t, s.ActiveJourney)
	assert.Equal(t, 3, s.ActiveJourney.CurrentPosition)
	assert.Equal(t, 1, s.JourneysStarted)

	s = apply(s, JourneyCompleted{LensID: "engineer", CardsVisited: 3})
	assert.Nil(t, s.ActiveJourney)
	assert.Equal(t, 1, s.JourneysCompleted)
}

func TestApply_MomentsHubsPivotsSprouts(t *testing.T) {
	s := apply(DefaultState("s1", t0),
		MomentShown{MomentID: "welcome"},
		MomentActioned{MomentID: "welcome", ActionID: "go"},
		MomentDismissed{MomentID: "nudge"},
		HubVisited{HubID: "ratchet-effect"},
		HubVisited{HubID: "ratchet-effect"},
		PivotClicked{},
		SproutCaptured{SproutID: "sp1"},
	)
	assert.True(t, s.Flags[MomentFlag("welcome", "shown")])
	assert.True(t, s.Flags["moment_welcome_actioned"])
	assert.True(t, s.Flags["moment_nudge_dismissed"])
	assert.Equal(t, t0.Add(time.Second), s.MomentLastShown["welcome"])
	assert.Equal(t, []string{"ratchet-effect"}, s.HubsVisited)
	assert.Equal(t, 1, s.PivotsClicked)
	assert.Equal(t, 1, s.SproutsCaptured)
	assert.Equal(t, StageEngaged, ComputeSessionStage(s.Counters(), DefaultStageThresholds()))
}

// randomPayload draws from the full event set.
func randomPayload(r *rand.Rand) Payload {
	reveals := AllRevealTypes
	actions := []RevealAction{ActionAccepted, ActionDeclined, ActionDismissed}
	switch r.Intn(9) {
	case 0, 1, 2:
		return ExchangeSent{}
	case 3:
		return LensSelected{LensID: "l", IsCustom: r.Intn(2) == 0}
	case 4:
		return TopicExplored{TopicID: string(rune('a' + r.Intn(4)))}
	case 5:
		return RevealShown{RevealType: reveals[r.Intn(len(reveals))]}
	case 6:
		return RevealDismissed{RevealType: reveals[r.Intn(len(reveals))], Action: actions[r.Intn(3)]}
	case 7:
		return SproutCaptured{SproutID: "s"}
	default:
		return JourneyCompleted{LensID: "l"}
	}
}

func TestInvariants_HoldForRandomSequences(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for run := 0; run < 200; run++ {
		s := DefaultState("s", t0)
		for step := 0; step < 60; step++ {
			s = apply(s, randomPayload(r))
			require.LessOrEqual(t, s.ExchangeCount, s.TotalExchangeCount)
			for _, ack := range s.RevealsAcknowledged {
				require.True(t, s.HasShown(ack), "acknowledged %s without showing it", ack)
			}
		}
	}
}

func TestComputeSessionStage(t *testing.T) {
	th := DefaultStageThresholds()
	tests := []struct {
		name string
		c    Counters
		want Stage
	}{
		{"fresh", Counters{Visits: 1}, StageArrival},
		{"three exchanges", Counters{Exchanges: 3, Visits: 1}, StageOriented},
		{"returning visitor", Counters{Visits: 2}, StageOriented},
		{"two topics", Counters{Topics: 2}, StageExploring},
		{"five exchanges", Counters{Exchanges: 5}, StageExploring},
		{"one sprout", Counters{Sprouts: 1}, StageEngaged},
		{"loyal visitor", Counters{Visits: 3, TotalExchanges: 15}, StageEngaged},
		{"visits without depth", Counters{Visits: 3, TotalExchanges: 14}, StageOriented},
		{"exploring and engaged", Counters{Exchanges: 9, Topics: 4, Sprouts: 2}, StageEngaged},
		{"negative counts", Counters{Exchanges: -4, Visits: -1}, StageArrival},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeSessionStage(tt.c, th))
		})
	}
}

func TestComputeSessionStage_FractionalThresholds(t *testing.T) {
	th := DefaultStageThresholds()
	th.Oriented.MinExchanges = 1
	assert.Equal(t, StageOriented, ComputeSessionStage(Counters{Exchanges: 1.5}, th))

	th.Oriented.MinExchanges = 1.6
	assert.Equal(t, StageArrival, ComputeSessionStage(Counters{Exchanges: 1.5}, th))
}

func TestComputeSessionStage_Monotonic(t *testing.T) {
	th := DefaultStageThresholds()
	r := rand.New(rand.NewSource(7))
	draw := func() Counters {
		return Counters{
			Exchanges:      float64(r.Intn(8)),
			TotalExchanges: float64(r.Intn(20)),
			Topics:         float64(r.Intn(4)),
			Visits:         float64(r.Intn(5)),
			Sprouts:        float64(r.Intn(2)),
		}
	}
	for i := 0; i < 2000; i++ {
		b := draw()
		a := Counters{
			Exchanges:      b.Exchanges + float64(r.Intn(3)),
			TotalExchanges: b.TotalExchanges + float64(r.Intn(3)),
			Topics:         b.Topics + float64(r.Intn(2)),
			Visits:         b.Visits + float64(r.Intn(2)),
			Sprouts:        b.Sprouts + float64(r.Intn(2)),
		}
		require.GreaterOrEqual(t, ComputeSessionStage(a, th), ComputeSessionStage(b, th), "a=%+v b=%+v", a, b)
	}
}

func TestComputeMomentStage(t *testing.T) {
	th := DefaultMomentThresholds()
	assert.Equal(t, StageArrival, ComputeMomentStage(0, th))
	assert.Equal(t, StageOriented, ComputeMomentStage(1, th))
	assert.Equal(t, StageOriented, ComputeMomentStage(2, th))
	assert.Equal(t, StageExploring, ComputeMomentStage(3, th))
	assert.Equal(t, StageEngaged, ComputeMomentStage(6, th))

	// Same exchange count, different question: session stage still needs 3.
	assert.Equal(t, StageArrival, ComputeSessionStage(Counters{Exchanges: 1}, DefaultStageThresholds()))
}

func TestStageNames(t *testing.T) {
	assert.Equal(t, "ENGAGED", StageEngaged.String())
	assert.Equal(t, "synthesis", StageExploring.ContextStage())

	st, err := ParseStage("exploration")
	require.NoError(t, err)
	assert.Equal(t, StageOriented, st)

	_, err = ParseStage("bored")
	assert.Error(t, err)

	data, err := json.Marshal(map[string]Stage{"s": StageExploring})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"EXPLORING"}`, string(data))
}

func TestEventJSON(t *testing.T) {
	events := []Event{
		NewEvent(ExchangeSent{Query: "what is the ratchet?", ResponseLength: 120}, "s1", t0),
		NewEvent(LensSelected{LensID: "engineer", IsCustom: true}, "s1", t0.Add(time.Minute)),
		NewEvent(PivotClicked{}, "s1", t0.Add(2*time.Minute)),
	}
	data, err := json.Marshal(events)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"EXCHANGE_SENT"`)
	assert.Contains(t, string(data), `"sessionId":"s1"`)

	var decoded []Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	if diff := cmp.Diff(events, decoded); diff != "" {
		t.Errorf("history decode mismatch (-want +got):\n%s", diff)
	}

	var bad Event
	assert.Error(t, json.Unmarshal([]byte(`{"type":"TELEPORTED","payload":{}}`), &bad))
}

func TestPayloadValidation(t *testing.T) {
	assert.NoError(t, ExchangeSent{}.Validate())
	assert.ErrorIs(t, ExchangeSent{ResponseLength: -1}.Validate(), ErrInvalidPayload)
	assert.ErrorIs(t, TopicExplored{}.Validate(), ErrInvalidPayload)
	assert.ErrorIs(t, RevealShown{RevealType: "confetti"}.Validate(), ErrInvalidPayload)
	assert.ErrorIs(t, RevealDismissed{RevealType: RevealSimulation, Action: "shrug"}.Validate(), ErrInvalidPayload)
	assert.ErrorIs(t, LensSelected{}.Validate(), ErrInvalidPayload)
	assert.ErrorIs(t, TimeMilestone{}.Validate(), ErrInvalidPayload)
}

func TestNormalize(t *testing.T) {
	s := State{ExchangeCount: 4, TotalExchangeCount: 2,
		RevealsShown:        []RevealType{RevealSimulation},
		RevealsAcknowledged: []RevealType{RevealSimulation, RevealFounderStory}}
	n := s.Normalize()
	assert.Equal(t, 4, n.TotalExchangeCount)
	assert.Equal(t, []RevealType{RevealSimulation}, n.RevealsAcknowledged)
	assert.Equal(t, 1, n.VisitCount)
	assert.NotNil(t, n.TopicsExplored)
	assert.Len(t, s.RevealsAcknowledged, 2, "normalize works on a copy")
}

func TestMinutesActiveIsDerived(t *testing.T) {
	s := DefaultState("s1", t0)
	assert.Equal(t, 0, s.MinutesActive(t0.Add(59*time.Second)))
	assert.Equal(t, 7, s.MinutesActive(t0.Add(7*time.Minute+30*time.Second)))
	assert.Equal(t, 0, s.MinutesActive(t0.Add(-time.Minute)))

	snap := s.Snap(t0.Add(12*time.Minute), DefaultStageThresholds())
	assert.Equal(t, 12, snap.MinutesActive)
	assert.Equal(t, StageArrival, snap.Stage)
}
