// Package engine wires the engagement bus to its derived-state producers:
// the entropy detector, the moment evaluator, the prompt ranker and the
// prompt generator. Adapters (CLI, TUI) talk to an Engine rather than to the
// individual packages.
package engine

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"grove/internal/bus"
	"grove/internal/contextfields"
	"grove/internal/engagement"
	"grove/internal/entropy"
	"grove/internal/logging"
	"grove/internal/moments"
	"grove/internal/narrative"
	"grove/internal/storage"
	"grove/internal/triggers"
)

// chatWindowLimit bounds the retained chat turns. The detector only reads
// the last WindowSize visitor messages; the rest is headroom.
const chatWindowLimit = 64

// Options configures New. Zero values select defaults.
type Options struct {
	Store            storage.Store
	Triggers         []triggers.Trigger
	StageThresholds  *engagement.StageThresholds
	MomentThresholds *engagement.MomentThresholds
	HistoryLimit     int
	SessionTimeout   time.Duration

	Narrative *narrative.Narrative
	// Moments defaults to moments.DefaultMoments when nil.
	Moments []moments.Moment
	// Prompts defaults to contextfields.DefaultPrompts when nil.
	Prompts []contextfields.PromptObject

	Weights    *contextfields.Weights
	MaxPrompts int
	MinScore   float64

	EntropyThresholds *entropy.Thresholds
	EntropyLimits     *entropy.Limits
	Matcher           entropy.Matcher

	GeneratorTTL time.Duration
	// Synchronous runs prompt generation inline instead of on the look-ahead
	// goroutine.
	Synchronous bool

	Clock            func() time.Time
	NewSessionID     func() string
	PersistErrorHook func(key string, err error)
	// OnTurn observes every recorded exchange.
	OnTurn func(Turn)
}

// Turn is the outcome of one recorded exchange.
type Turn struct {
	Entropy          entropy.Result
	Injected         bool
	SuggestedJourney *narrative.Journey
	Stage            engagement.Stage
	// ConversationStage is the local momentum of the current conversation,
	// from the moment thresholds.
	ConversationStage engagement.Stage
	Reveal            *triggers.QueueItem
	ActiveMoments     []string
	// Reactions holds what the turn's events surfaced at once.
	Reactions Reactions
}

// Reactions are surfaced immediately by an event rather than on the next
// evaluation: moments keyed to the event type, and queued reveals whose
// trigger asks to show right after it.
type Reactions struct {
	Moments []moments.Moment
	Reveals []triggers.QueueItem
}

// Empty reports whether nothing was surfaced.
func (r Reactions) Empty() bool {
	return len(r.Moments) == 0 && len(r.Reveals) == 0
}

// Engine is the composition root used by adapters.
type Engine struct {
	bus       *bus.Bus
	narrative *narrative.Narrative
	detector  *entropy.Detector
	library   *contextfields.Library
	generator *contextfields.Generator
	lookAhead *contextfields.LookAhead

	weights          contextfields.Weights
	maxPrompts       int
	minScore         float64
	momentThresholds engagement.MomentThresholds
	synchronous      bool
	now              func() time.Time
	onTurn           func(Turn)
	ownedStore       storage.Store

	mu        sync.Mutex // guards moments, window and reactions
	moments   []moments.Moment
	window    []entropy.Message
	reactions Reactions
	unreact   func()

	// turnMu serializes RecordExchange so the entropy throttle sees turns in
	// order.
	turnMu sync.Mutex
}

// New opens the bus and wires the collaborators.
func New(opts Options) *Engine {
	e := &Engine{
		narrative:   opts.Narrative,
		weights:     contextfields.DefaultWeights(),
		maxPrompts:  opts.MaxPrompts,
		minScore:    opts.MinScore,
		synchronous: opts.Synchronous,
		now:         opts.Clock,
		onTurn:      opts.OnTurn,
		moments:     opts.Moments,

		momentThresholds: engagement.DefaultMomentThresholds(),
	}
	if e.narrative == nil {
		e.narrative = narrative.New(narrative.DefaultSchema())
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.moments == nil {
		e.moments = moments.DefaultMoments()
	}
	if opts.Weights != nil {
		e.weights = *opts.Weights
	}
	if opts.MomentThresholds != nil {
		e.momentThresholds = *opts.MomentThresholds
	}

	detectorOpts := []entropy.Option{
		entropy.WithHubs(e.narrative.EntropyHubs()),
		entropy.WithJourneys(e.narrative.JourneyMap()),
		entropy.WithMatcher(opts.Matcher),
	}
	if opts.EntropyThresholds != nil {
		detectorOpts = append(detectorOpts, entropy.WithThresholds(*opts.EntropyThresholds))
	}
	if opts.EntropyLimits != nil {
		detectorOpts = append(detectorOpts, entropy.WithLimits(*opts.EntropyLimits))
	}
	e.detector = entropy.NewDetector(detectorOpts...)

	prompts := opts.Prompts
	if prompts == nil {
		prompts = contextfields.DefaultPrompts()
	}
	e.library = contextfields.NewLibrary(prompts)
	e.generator = contextfields.NewGenerator(opts.GeneratorTTL, contextfields.WithGeneratorClock(e.now))
	e.lookAhead = contextfields.NewLookAhead(e.generator, e.library)

	e.bus = bus.Open(bus.Options{
		Store:            opts.Store,
		Triggers:         opts.Triggers,
		Thresholds:       opts.StageThresholds,
		HistoryLimit:     opts.HistoryLimit,
		SessionTimeout:   opts.SessionTimeout,
		Clock:            e.now,
		NewSessionID:     opts.NewSessionID,
		PersistErrorHook: opts.PersistErrorHook,
	})

	if lens := e.bus.State().LensID(); lens != "" && e.narrative.ActiveLens() == "" {
		if err := e.narrative.SetActiveLens(lens); err != nil {
			logging.Get(logging.CategoryBoot).Warn("restored lens %q not selectable: %v", lens, err)
		}
	}
	e.unreact = e.bus.OnEvent(e.react)
	e.refreshMoments()
	return e
}

// Bus exposes the engagement bus for subscribers and direct emits.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// Narrative returns the narrative collaborator.
func (e *Engine) Narrative() *narrative.Narrative { return e.narrative }

// Detector returns the entropy detector.
func (e *Engine) Detector() *entropy.Detector { return e.detector }

// Library returns the prompt library.
func (e *Engine) Library() *contextfields.Library { return e.library }

// =============================================================================
// MESSAGE PIPELINE
// =============================================================================

// RecordExchange runs one visitor message and its response through the
// pipeline: score entropy over the chat window, emit EXCHANGE_SENT (and
// HUB_VISITED when the message lands on a topic hub), decide on a journey
// injection, refresh the active moments and request look-ahead prompts.
func (e *Engine) RecordExchange(query, response string) Turn {
	e.turnMu.Lock()
	defer e.turnMu.Unlock()

	timer := logging.StartTimer(logging.CategoryEntropy, "RecordExchange")
	defer timer.StopWithThreshold(50 * time.Millisecond)

	before := e.bus.State()
	window := e.chatWindow()
	// Scored against the count this exchange will produce.
	result := e.detector.Calculate(query, window, before.ExchangeCount+1)

	e.bus.Emit(engagement.ExchangeSent{Query: query, ResponseLength: len(response)})
	if hub, ok := e.narrative.MatchHub(query); ok && !slices.Contains(before.HubsVisited, hub.ID) {
		e.bus.Emit(engagement.HubVisited{HubID: hub.ID})
	}
	e.appendWindow(query, response)

	after := e.bus.State()
	es := e.bus.EntropyState()
	injected := result.SuggestedJourney != nil && e.detector.ShouldInject(result, es)
	e.bus.ApplyEntropy(e.detector.UpdateState(es, result, injected, after.ExchangeCount), result.Score)

	turn := Turn{
		Entropy:           result,
		Injected:          injected,
		Stage:             after.Stage,
		ConversationStage: engagement.ComputeMomentStage(float64(after.ExchangeCount), e.momentThresholds),
		ActiveMoments:     e.refreshMoments(),
		Reactions:         e.TakeReactions(),
	}
	if injected {
		j, ok := e.narrative.Journey(*result.SuggestedJourney)
		if !ok {
			j = narrative.Journey{ID: *result.SuggestedJourney, Title: *result.SuggestedJourney}
		}
		turn.SuggestedJourney = &j
		logging.Get(logging.CategoryEntropy).Info("injecting journey %s (score %.2f, cluster %s)",
			j.ID, result.Score, result.Dominant())
	}
	if next, ok := triggers.NextReveal(e.bus.RevealQueue()); ok {
		turn.Reveal = &next
	}

	e.requestPrompts()
	if e.onTurn != nil {
		e.onTurn(turn)
	}
	return turn
}

// DismissInjection records that the visitor waved away the last suggested
// journey.
func (e *Engine) DismissInjection() {
	es := e.detector.Dismiss(e.bus.EntropyState())
	e.bus.ApplyEntropy(es, e.bus.State().ComputedEntropy)
}

func (e *Engine) chatWindow() []entropy.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.window)
}

func (e *Engine) appendWindow(query, response string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.window = append(e.window,
		entropy.Message{Role: "user", Text: query},
		entropy.Message{Role: "model", Text: response},
	)
	if over := len(e.window) - chatWindowLimit; over > 0 {
		e.window = slices.Clone(e.window[over:])
	}
}

func (e *Engine) clearWindow() {
	e.mu.Lock()
	e.window = nil
	e.mu.Unlock()
}

// =============================================================================
// VISITOR ACTIONS
// =============================================================================

// SelectLens makes id the active lens and starts a fresh conversation.
func (e *Engine) SelectLens(id string) error {
	if id == "" {
		return errors.New("lens id is required")
	}
	if err := e.narrative.SetActiveLens(id); err != nil {
		return err
	}
	e.bus.Emit(engagement.LensSelected{LensID: id, IsCustom: e.narrative.IsCustomLens(id)})
	e.clearWindow()
	// The interaction count restarts at zero, so earlier look-ahead requests
	// must not shadow the new conversation.
	e.lookAhead.Reset()
	e.refreshMoments()
	e.requestPrompts()
	return nil
}

// ExploreTopic records a topic the visitor opened.
func (e *Engine) ExploreTopic(id, label string) {
	e.bus.Emit(engagement.TopicExplored{TopicID: id, TopicLabel: label})
	e.refreshMoments()
}

// CaptureSprout records a saved insight.
func (e *Engine) CaptureSprout(id string, tags ...string) {
	e.bus.Emit(engagement.SproutCaptured{SproutID: id, Tags: tags})
	e.refreshMoments()
}

// CompleteJourney records a finished guided journey and returns what the
// completion surfaced.
func (e *Engine) CompleteJourney(lensID string, minutes float64, cards int) Reactions {
	e.bus.Emit(engagement.JourneyCompleted{LensID: lensID, DurationMinutes: minutes, CardsVisited: cards})
	e.refreshMoments()
	return e.TakeReactions()
}

// Tick emits due time milestones and re-evaluates time-dependent moments.
func (e *Engine) Tick() []int {
	fired := e.bus.Tick()
	e.refreshMoments()
	return fired
}

// Reset starts a new session and forgets session-scoped prompts.
func (e *Engine) Reset() {
	e.lookAhead.Reset()
	e.lookAhead.Wait()
	if err := e.narrative.SetActiveLens(""); err != nil {
		logging.Get(logging.CategoryBus).Warn("clearing lens: %v", err)
	}
	e.bus.Reset()
	e.library.Reset()
	e.generator.Invalidate()
	e.clearWindow()
	e.TakeReactions()
	e.refreshMoments()
}

// Close waits for in-flight generation and closes the bus, and the store
// when Boot opened it.
func (e *Engine) Close() {
	if e.unreact != nil {
		e.unreact()
	}
	e.lookAhead.Close()
	e.bus.Close()
	if e.ownedStore != nil {
		if err := e.ownedStore.Close(); err != nil {
			logging.StoreWarn("close store: %v", err)
		}
	}
}

// =============================================================================
// CONTEXT AND PROMPTS
// =============================================================================

// Context aggregates the current targeting context. The narrative's lens wins
// over the copy held in the engagement state.
func (e *Engine) Context() contextfields.ContextState {
	ctx := contextfields.Aggregate(e.bus.State(), e.bus.EntropyState(), e.narrative.ActiveLens())
	return ctx.WithSelected(e.library.Used())
}

// NextPrompts ranks the library for surface ("" for any surface).
func (e *Engine) NextPrompts(surface contextfields.Surface) []contextfields.ScoredPrompt {
	return contextfields.SelectScored(e.library.All(), e.Context(), contextfields.SelectOptions{
		MaxPrompts: e.maxPrompts,
		MinScore:   e.minScore,
		Weights:    &e.weights,
		Surface:    surface,
	})
}

// WelcomePrompts returns the navigation prompt for the current turn.
func (e *Engine) WelcomePrompts() []contextfields.ScoredPrompt {
	return contextfields.SelectWelcome(e.library.All(), e.Context(), &e.weights)
}

// SelectPrompt marks a prompt as used and returns it. Used prompts are not
// offered again this session.
func (e *Engine) SelectPrompt(id string) (contextfields.PromptObject, error) {
	p, ok := e.library.Get(id)
	if !ok {
		return contextfields.PromptObject{}, fmt.Errorf("unknown prompt %q", id)
	}
	e.library.MarkUsed(id)
	logging.Get(logging.CategoryRanker).Info("prompt selected: %s", id)
	return p, nil
}

// WaitPrompts blocks until in-flight look-ahead generation has landed.
func (e *Engine) WaitPrompts() {
	e.lookAhead.Wait()
}

func (e *Engine) requestPrompts() {
	ctx := e.Context()
	if e.synchronous {
		e.library.AddGenerated(e.generator.Generate(ctx)...)
		return
	}
	e.lookAhead.Request(ctx)
}

// =============================================================================
// MOMENTS
// =============================================================================

// EligibleMoments returns the moments that may render on surface now.
func (e *Engine) EligibleMoments(surface moments.Surface) []moments.Moment {
	return moments.Eligible(e.momentList(), e.momentContext(), surface, e.now())
}

// ShowMoment records that a moment was rendered.
func (e *Engine) ShowMoment(id string) error {
	for _, m := range e.momentList() {
		if m.ID == id {
			e.bus.Emit(engagement.MomentShown{MomentID: id, Surface: string(m.Surface)})
			e.refreshMoments()
			return nil
		}
	}
	return fmt.Errorf("unknown moment %q", id)
}

func (e *Engine) momentList() []moments.Moment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.moments
}

func (e *Engine) momentContext() moments.Context {
	ctx := moments.ContextOf(e.bus.State())
	if lens := e.narrative.ActiveLens(); lens != "" {
		ctx.ActiveLens = lens
	}
	return ctx
}

// refreshMoments recomputes the active moments and stores them on the bus
// when they changed.
func (e *Engine) refreshMoments() []string {
	ids := moments.ActiveIDs(e.momentList(), e.momentContext(), e.now())
	if ids == nil {
		ids = []string{}
	}
	if !slices.Equal(ids, e.bus.State().ActiveMoments) {
		e.bus.SetActiveMoments(ids)
		logging.Get(logging.CategoryMoments).Debug("active moments: %v", ids)
	}
	return ids
}

// TakeReactions returns the reactions collected since the last call and
// clears them.
func (e *Engine) TakeReactions() Reactions {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.reactions
	e.reactions = Reactions{}
	return r
}

// react runs on the bus's event notification. It must not emit.
func (e *Engine) react(ev engagement.Event) {
	reactive := moments.OnEvent(e.momentList(), e.momentContext(), ev.Type, e.now())
	reveal, immediate := triggers.ImmediateFor(e.bus.RevealQueue(), ev.Type)
	if len(reactive) == 0 && !immediate {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.reactions.Moments = append(e.reactions.Moments, reactive...)
	if immediate && !slices.ContainsFunc(e.reactions.Reveals, func(q triggers.QueueItem) bool { return q.Type == reveal.Type }) {
		e.reactions.Reveals = append(e.reactions.Reveals, reveal)
	}
	logging.Get(logging.CategoryMoments).Debug("%s surfaced %d moments, immediate reveal %v", ev.Type, len(reactive), immediate)
}
