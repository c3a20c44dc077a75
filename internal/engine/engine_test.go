package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"grove/internal/config"
	"grove/internal/contextfields"
	"grove/internal/engagement"
	"grove/internal/moments"
	"grove/internal/narrative"
	"grove/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"))
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newEngine(t *testing.T, mutate ...func(*Options)) (*Engine, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: t0}
	n := 0
	opts := Options{
		Store:       storage.NewMemory(),
		Narrative:   narrative.New(narrative.Schema{}),
		Synchronous: true,
		Clock:       clock.Now,
		NewSessionID: func() string {
			n++
			return fmt.Sprintf("session-%d", n)
		},
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	e := New(opts)
	t.Cleanup(e.Close)
	return e, clock
}

func promptIDs(scored []contextfields.ScoredPrompt) []string {
	out := make([]string, len(scored))
	for i, sp := range scored {
		out[i] = sp.Prompt.ID
	}
	return out
}

func TestRecordExchange_UpdatesStateAndEntropy(t *testing.T) {
	e, _ := newEngine(t)

	for range 3 {
		e.RecordExchange("tell me about the ratchet", "an answer")
	}

	snap := e.Bus().State()
	assert.Equal(t, 3, snap.ExchangeCount)
	assert.Equal(t, 3, snap.TotalExchangeCount)
	assert.Equal(t, engagement.StageOriented, snap.Stage)

	es := e.Bus().EntropyState()
	assert.Equal(t, snap.ComputedEntropy, es.LastScore)
	assert.Zero(t, es.InjectionCount)
	assert.Len(t, e.Bus().History(), 3)
}

func TestRecordExchange_InjectsJourneyOnDrift(t *testing.T) {
	var turns []Turn
	e, _ := newEngine(t, func(o *Options) {
		o.OnTurn = func(tr Turn) { turns = append(turns, tr) }
	})

	first := e.RecordExchange("ratchet doubling", "ok")
	assert.False(t, first.Injected)
	e.RecordExchange("ratchet capability", "ok")
	turn := e.RecordExchange("what is the datacenter story", "ok")

	require.Len(t, turns, 3)
	assert.InDelta(t, 0.8, turn.Entropy.Score, 1e-9)
	assert.True(t, turn.Entropy.IsOffTopic)
	require.True(t, turn.Injected)
	require.NotNil(t, turn.SuggestedJourney)
	assert.Equal(t, "ratchet", turn.SuggestedJourney.ID)
	assert.Equal(t, engagement.StageExploring, turn.ConversationStage)
	assert.Contains(t, turn.ActiveMoments, "drift-journey-offer")
	assert.Equal(t, turn.ActiveMoments, e.Bus().State().ActiveMoments)

	es := e.Bus().EntropyState()
	assert.Equal(t, 1, es.InjectionCount)
	assert.Equal(t, 5, es.CooldownRemaining)
	assert.Equal(t, "ratchet", es.LastInjectedCluster)
	assert.Equal(t, 1, es.OffTopicCount)

	// Cooldown holds the next drift back.
	again := e.RecordExchange("datacenter rent", "ok")
	assert.False(t, again.Injected)

	e.DismissInjection()
	es = e.Bus().EntropyState()
	assert.Equal(t, 1, es.DismissCounts["ratchet"])
	assert.Equal(t, 2, es.CooldownRemaining)
}

func TestRecordExchange_RecordsHubVisits(t *testing.T) {
	schema := narrative.Schema{
		Hubs: map[string]narrative.TopicHub{
			"infra": {ID: "infra", Title: "Infrastructure", Tags: []string{"gpu"}, Enabled: true},
		},
	}
	e, _ := newEngine(t, func(o *Options) { o.Narrative = narrative.New(schema) })

	e.RecordExchange("Why do GPU prices matter?", "because")
	e.RecordExchange("More on gpu supply", "sure")

	assert.Equal(t, []string{"infra"}, e.Bus().State().HubsVisited)
	var types []engagement.EventType
	for _, ev := range e.Bus().History() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []engagement.EventType{
		engagement.EventExchangeSent, engagement.EventHubVisited, engagement.EventExchangeSent,
	}, types)
}

func TestSelectLens(t *testing.T) {
	e, _ := newEngine(t)
	for range 4 {
		e.RecordExchange("ratchet", "ok")
	}

	require.NoError(t, e.SelectLens("engineer"))
	assert.Equal(t, "engineer", e.Narrative().ActiveLens())

	snap := e.Bus().State()
	assert.Zero(t, snap.ExchangeCount)
	assert.Equal(t, 4, snap.TotalExchangeCount)
	assert.True(t, snap.HasCustomLens)

	ctx := e.Context()
	assert.Equal(t, "engineer", ctx.ActiveLensID)
	assert.Zero(t, ctx.InteractionCount)

	assert.Error(t, e.SelectLens(""))
}

func TestContextPrefersNarrativeLens(t *testing.T) {
	e, _ := newEngine(t)
	e.Bus().Emit(engagement.LensSelected{LensID: "stale"})
	require.NoError(t, e.Narrative().SetActiveLens("fresh"))

	assert.Equal(t, "fresh", e.Context().ActiveLensID)
}

func TestPrompts(t *testing.T) {
	e, _ := newEngine(t)

	welcome := e.WelcomePrompts()
	require.Len(t, welcome, 1)
	assert.True(t, welcome[0].Prompt.HasTag(contextfields.TagWelcome))

	e.RecordExchange("ratchet", "ok")
	e.RecordExchange("ratchet", "ok")

	generated := e.Library().Generated()
	require.NotEmpty(t, generated)
	assert.True(t, strings.HasPrefix(generated[0].ID, "gen-explore-"))

	next := e.NextPrompts(contextfields.SurfaceSuggestion)
	require.NotEmpty(t, next)
	assert.LessOrEqual(t, len(next), contextfields.DefaultMaxPrompts)

	picked, err := e.SelectPrompt(next[0].Prompt.ID)
	require.NoError(t, err)
	assert.Contains(t, e.Context().PromptsSelected, picked.ID)
	assert.NotContains(t, promptIDs(e.NextPrompts(contextfields.SurfaceSuggestion)), picked.ID)

	_, err = e.SelectPrompt("nope")
	assert.ErrorContains(t, err, "unknown prompt")
}

func TestLookAheadFillsLibrary(t *testing.T) {
	e, _ := newEngine(t, func(o *Options) { o.Synchronous = false })

	e.RecordExchange("ratchet", "ok")
	e.WaitPrompts()
	assert.NotEmpty(t, e.Library().Generated())
}

func TestMomentsFollowState(t *testing.T) {
	e, _ := newEngine(t)
	assert.Contains(t, e.Bus().State().ActiveMoments, "welcome-arrival")

	welcome := e.EligibleMoments(moments.SurfaceWelcome)
	require.NotEmpty(t, welcome)
	require.NoError(t, e.ShowMoment(welcome[0].ID))

	shown := e.Bus().State()
	assert.True(t, shown.Flags[moments.ShownFlag(welcome[0].ID)])
	assert.Error(t, e.ShowMoment("missing"))
}

func TestCompleteJourneySurfacesReactions(t *testing.T) {
	e, _ := newEngine(t)

	for _, m := range e.EligibleMoments(moments.SurfaceOverlay) {
		assert.NotEqual(t, "journey-complete", m.ID)
	}

	r := e.CompleteJourney("ratchet", 12, 4)
	require.Len(t, r.Moments, 1)
	assert.Equal(t, "journey-complete", r.Moments[0].ID)
	require.Len(t, r.Reveals, 1)
	assert.Equal(t, engagement.RevealJourneyCompletion, r.Reveals[0].Type)
	assert.Equal(t, 1, e.Bus().State().JourneysCompleted)

	assert.True(t, e.TakeReactions().Empty())
	assert.True(t, e.RecordExchange("ratchet", "ok").Reactions.Empty())

	e.Bus().Emit(engagement.JourneyCompleted{LensID: "ratchet"})
	assert.Len(t, e.TakeReactions().Moments, 1)
}

func TestTickFiresMilestones(t *testing.T) {
	e, clock := newEngine(t)
	clock.Advance(4 * time.Minute)

	assert.Equal(t, []int{3}, e.Tick())
	assert.Empty(t, e.Tick())
}

func TestReset(t *testing.T) {
	e, _ := newEngine(t)
	e.RecordExchange("ratchet", "ok")
	e.RecordExchange("ratchet", "ok")
	require.NoError(t, e.SelectLens("engineer"))
	_, err := e.SelectPrompt("ratchet-basics")
	require.NoError(t, err)
	before := e.Bus().State().SessionID

	e.Reset()

	snap := e.Bus().State()
	assert.NotEqual(t, before, snap.SessionID)
	assert.Zero(t, snap.TotalExchangeCount)
	assert.Empty(t, e.Narrative().ActiveLens())
	assert.Empty(t, e.Library().Generated())
	assert.Empty(t, e.Context().PromptsSelected)
	assert.Zero(t, e.Bus().EntropyState().InjectionCount)
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	e, _ := newEngine(t)

	triggersPath := filepath.Join(dir, "triggers.yaml")
	require.NoError(t, os.WriteFile(triggersPath, []byte(`
triggers:
  - id: instant-simulation
    reveal: simulation
    priority: 1
    enabled: true
    conditions:
      key: exchangeCount
      operator: gte
      value: 0
`), 0o644))
	require.NoError(t, e.ReloadTriggers(triggersPath))
	require.Len(t, e.Bus().Triggers(), 1)
	require.Len(t, e.Bus().RevealQueue(), 1)

	thresholdsPath := filepath.Join(dir, "thresholds.yaml")
	require.NoError(t, os.WriteFile(thresholdsPath, []byte("oriented:\n  min_exchanges: 1\n"), 0o644))
	require.NoError(t, e.ReloadThresholds(thresholdsPath))
	e.RecordExchange("ratchet", "ok")
	assert.Equal(t, engagement.StageOriented, e.Bus().State().Stage)
	assert.Equal(t, 2.0, e.Bus().Thresholds().Oriented.MinVisits)

	promptsPath := filepath.Join(dir, "prompts.yaml")
	require.NoError(t, os.WriteFile(promptsPath, []byte(`
prompts:
  - id: only-one
    label: The only prompt
`), 0o644))
	require.NoError(t, e.ReloadPrompts(promptsPath))
	_, ok := e.Library().Get("only-one")
	assert.True(t, ok)
	_, ok = e.Library().Get("ratchet-basics")
	assert.False(t, ok)

	momentsPath := filepath.Join(dir, "moments.yaml")
	require.NoError(t, os.WriteFile(momentsPath, []byte(`
- id: always
  title: Always on
  surface: header
  trigger: {}
`), 0o644))
	require.NoError(t, e.ReloadMoments(momentsPath))
	assert.Equal(t, []string{"always"}, e.Bus().State().ActiveMoments)

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("oriented: ["), 0o644))
	assert.Error(t, e.ReloadThresholds(broken))
	assert.Error(t, e.ReloadTriggers(filepath.Join(dir, "missing.yaml")))
	assert.Len(t, e.Bus().Triggers(), 1)
}

func TestBootPersistsAcrossRestarts(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, config.WorkspaceDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, config.WorkspaceDir, "thresholds.yaml"),
		[]byte("oriented:\n  min_exchanges: 1\n"), 0o644))

	cfg := config.DefaultConfig()
	cfg.Storage.Path = ".grove/state"
	cfg.Files.Thresholds = ".grove/thresholds.yaml"

	var failures int
	e, err := Boot(cfg, root, Hooks{PersistError: func(string, error) { failures++ }})
	require.NoError(t, err)
	e.RecordExchange("ratchet", "ok")
	assert.Equal(t, engagement.StageOriented, e.Bus().State().Stage)
	e.Close()

	reopened, err := Boot(cfg, root, Hooks{})
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 1, reopened.Bus().State().ExchangeCount)
	assert.Zero(t, failures)
	assert.DirExists(t, filepath.Join(root, ".grove", "state"))
}

func TestBootRejectsBadFiles(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = "memory"
	cfg.Files.Prompts = "missing.yaml"

	_, err := Boot(cfg, t.TempDir(), Hooks{})
	assert.Error(t, err)

	cfg.Files.Prompts = ""
	cfg.Storage.Backend = "carrier-pigeon"
	_, err = Boot(cfg, t.TempDir(), Hooks{})
	assert.ErrorContains(t, err, "unknown storage backend")
}
