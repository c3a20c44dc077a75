// Package bus implements the engagement bus: the single owner of the live
// engagement state. Every change enters through Emit, is applied by the pure
// reducer, re-derives the reveal queue, is persisted best-effort, and is then
// announced to subscribers.
//
// Emits are serialized. Handlers run synchronously on the emitting goroutine
// after the new state is committed, so a read right after Emit returns sees
// the post-transition state. Handlers may read from the bus but must not call
// Emit, Reset, SetTriggers, SetThresholds, ApplyEntropy or SetActiveMoments;
// those calls would deadlock.
package bus

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"grove/internal/engagement"
	"grove/internal/entropy"
	"grove/internal/logging"
	"grove/internal/storage"
	"grove/internal/triggers"
)

// Persisted keys.
const (
	KeyState   = "engagement-state"
	KeyHistory = "event-history"
	KeyEntropy = "entropy-state"
)

const (
	DefaultHistoryLimit   = 50
	DefaultSessionTimeout = 30 * time.Minute
)

// Milestones are the session ages, in minutes, at which Tick emits
// TIME_MILESTONE.
var Milestones = []int{3, 5, 10, 15, 20, 30}

type (
	EventHandler       func(engagement.Event)
	StateHandler       func(engagement.Snapshot)
	RevealQueueHandler func([]triggers.QueueItem)
)

// Options configures Open. Zero values select defaults.
type Options struct {
	Store storage.Store
	// Triggers defaults to triggers.DefaultTriggers when nil.
	Triggers   []triggers.Trigger
	Thresholds *engagement.StageThresholds
	// HistoryLimit caps the in-memory and persisted event log.
	HistoryLimit int
	// SessionTimeout is the inactivity gap after which a stored state starts
	// a new session. Negative disables the check.
	SessionTimeout time.Duration
	Clock          func() time.Time
	NewSessionID   func() string
	// PersistErrorHook observes storage failures, which are otherwise only
	// logged.
	PersistErrorHook func(key string, err error)
}

// Bus owns the engagement state.
type Bus struct {
	emitMu sync.Mutex // serializes transitions and notification

	mu         sync.RWMutex // guards the fields below for readers
	state      engagement.State
	entropy    entropy.State
	history    []engagement.Event
	queue      []triggers.QueueItem
	rules      []triggers.Trigger
	thresholds engagement.StageThresholds
	closed     bool

	subMu         sync.Mutex
	nextSub       int
	eventSubs     []subscriber[EventHandler]
	stateSubs     []subscriber[StateHandler]
	revealSubs    []subscriber[RevealQueueHandler]
	store         storage.Store
	historyLimit  int
	timeout       time.Duration
	now           func() time.Time
	newSessionID  func() string
	onPersistFail func(key string, err error)
}

type subscriber[H any] struct {
	id int
	fn H
}

// Open restores state from opts.Store (or starts fresh) and returns a ready
// bus. Storage problems never fail Open: unreadable keys fall back to
// defaults and are logged.
func Open(opts Options) *Bus {
	b := &Bus{
		store:         opts.Store,
		historyLimit:  opts.HistoryLimit,
		timeout:       opts.SessionTimeout,
		now:           opts.Clock,
		newSessionID:  opts.NewSessionID,
		onPersistFail: opts.PersistErrorHook,
		rules:         opts.Triggers,
		thresholds:    engagement.DefaultStageThresholds(),
	}
	if b.store == nil {
		b.store = storage.NewMemory()
	}
	if b.historyLimit <= 0 {
		b.historyLimit = DefaultHistoryLimit
	}
	if b.timeout == 0 {
		b.timeout = DefaultSessionTimeout
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.newSessionID == nil {
		b.newSessionID = uuid.NewString
	}
	if b.rules == nil {
		b.rules = triggers.DefaultTriggers()
	}
	if opts.Thresholds != nil {
		b.thresholds = *opts.Thresholds
	}

	b.restore()
	return b
}

// Emit applies p to the state. Pointer payloads are applied by value.
// Invalid payloads are logged and dropped; a closed bus ignores the call.
func (b *Bus) Emit(p engagement.Payload) {
	p = engagement.Deref(p)
	if p == nil {
		logging.BusWarn("emit with nil payload ignored")
		return
	}
	if err := p.Validate(); err != nil {
		logging.BusWarn("dropping %s: %v", p.EventType(), err)
		return
	}

	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	now := b.now()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		logging.BusDebug("emit %s on closed bus ignored", p.EventType())
		return
	}
	ev := engagement.NewEvent(p, b.state.SessionID, now)
	b.history = append(b.history, ev)
	if over := len(b.history) - b.historyLimit; over > 0 {
		b.history = append([]engagement.Event(nil), b.history[over:]...)
	}
	b.state = engagement.Apply(b.state, ev)
	snap := b.state.Snap(now, b.thresholds)
	b.queue = triggers.Evaluate(snap, b.rules)
	queue := cloneQueue(b.queue)
	b.mu.Unlock()

	logging.BusDebug("%s -> stage=%s exchanges=%d/%d queue=%d",
		ev.Type, snap.Stage, snap.ExchangeCount, snap.TotalExchangeCount, len(queue))

	b.persist(KeyHistory, KeyState)
	b.notifyEvent(ev)
	b.notifyState(snap)
	b.notifyQueue(queue)
}

// State returns a snapshot of the current state with minutesActive and stage
// derived at the current time.
func (b *Bus) State() engagement.Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.Snap(b.now(), b.thresholds)
}

// History returns the retained events, oldest first.
func (b *Bus) History() []engagement.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]engagement.Event(nil), b.history...)
}

// RevealQueue returns the reveal queue as of the last transition.
func (b *Bus) RevealQueue() []triggers.QueueItem {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return cloneQueue(b.queue)
}

// AcknowledgeReveal records the visitor's response to a reveal.
func (b *Bus) AcknowledgeReveal(r engagement.RevealType, action engagement.RevealAction) {
	b.Emit(engagement.RevealDismissed{RevealType: r, Action: action})
}

// EntropyState returns the persisted injection throttle.
func (b *Bus) EntropyState() entropy.State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.entropy.Clone()
}

// Triggers returns the active trigger configs.
func (b *Bus) Triggers() []triggers.Trigger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]triggers.Trigger(nil), b.rules...)
}

// Thresholds returns the active stage thresholds.
func (b *Bus) Thresholds() engagement.StageThresholds {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.thresholds
}

// SetTriggers replaces the trigger configs and re-derives the queue.
func (b *Bus) SetTriggers(rules []triggers.Trigger) {
	if rules == nil {
		rules = []triggers.Trigger{}
	}
	b.update(func() {
		b.rules = append([]triggers.Trigger(nil), rules...)
	})
	logging.Bus("triggers replaced: %d configs", len(rules))
}

// SetThresholds replaces the stage thresholds.
func (b *Bus) SetThresholds(t engagement.StageThresholds) {
	b.update(func() { b.thresholds = t })
}

// ApplyEntropy stores the detector's throttle state and the latest score.
func (b *Bus) ApplyEntropy(es entropy.State, score float64) {
	b.update(func() {
		b.entropy = es.Clone()
		b.state.ComputedEntropy = score
	}, KeyEntropy, KeyState)
}

// SetActiveMoments records which moments are currently eligible.
func (b *Bus) SetActiveMoments(ids []string) {
	b.update(func() {
		b.state.ActiveMoments = append([]string{}, ids...)
	}, KeyState)
}

// update runs a derived-field or configuration change through the same
// commit, persist and notify path as Emit, minus the event.
func (b *Bus) update(mutate func(), keys ...string) {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	now := b.now()
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	mutate()
	snap := b.state.Snap(now, b.thresholds)
	b.queue = triggers.Evaluate(snap, b.rules)
	queue := cloneQueue(b.queue)
	b.mu.Unlock()

	b.persist(keys...)
	b.notifyState(snap)
	b.notifyQueue(queue)
}

// Reset starts over with a fresh session: default state, new session ID, empty
// history and entropy throttle. All persisted keys are overwritten.
func (b *Bus) Reset() {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	now := b.now()
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.state = engagement.DefaultState(b.newSessionID(), now)
	b.history = []engagement.Event{}
	b.entropy = entropy.DefaultState()
	snap := b.state.Snap(now, b.thresholds)
	b.queue = triggers.Evaluate(snap, b.rules)
	queue := cloneQueue(b.queue)
	b.mu.Unlock()

	logging.Bus("reset: new session %s", snap.SessionID)
	b.persist(KeyState, KeyHistory, KeyEntropy)
	b.notifyState(snap)
	b.notifyQueue(queue)
}

// Tick emits TIME_MILESTONE for every milestone the session has reached but
// not yet recorded, and refreshes the time-dependent reveal queue. It returns
// the milestones emitted. Callers drive it from their own timer.
func (b *Bus) Tick() []int {
	snap := b.State()
	var fired []int
	for _, m := range Milestones {
		if snap.MinutesActive >= m && !snap.Flags[engagement.MilestoneFlag(m)] {
			b.Emit(engagement.TimeMilestone{Minutes: m})
			fired = append(fired, m)
		}
	}
	if len(fired) == 0 {
		b.refreshQueue()
	}
	return fired
}

// refreshQueue re-evaluates triggers and notifies reveal handlers only when
// the queue changed.
func (b *Bus) refreshQueue() {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	next := triggers.Evaluate(b.state.Snap(b.now(), b.thresholds), b.rules)
	changed := !sameQueue(b.queue, next)
	b.queue = next
	queue := cloneQueue(next)
	b.mu.Unlock()

	if changed {
		b.notifyQueue(queue)
	}
}

// Close stops the bus. Later emits are ignored and subscribers are dropped.
// The store is owned by the caller and is not closed.
func (b *Bus) Close() {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.subMu.Lock()
	b.eventSubs, b.stateSubs, b.revealSubs = nil, nil, nil
	b.subMu.Unlock()
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// OnEvent registers h for every accepted event. The returned func unsubscribes.
func (b *Bus) OnEvent(h EventHandler) func() {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	id := b.nextID()
	b.eventSubs = append(b.eventSubs, subscriber[EventHandler]{id: id, fn: h})
	return func() { b.unsubscribe(id) }
}

// OnStateChange registers h for every committed state.
func (b *Bus) OnStateChange(h StateHandler) func() {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	id := b.nextID()
	b.stateSubs = append(b.stateSubs, subscriber[StateHandler]{id: id, fn: h})
	return func() { b.unsubscribe(id) }
}

// OnRevealQueueChange registers h for every re-derived reveal queue.
func (b *Bus) OnRevealQueueChange(h RevealQueueHandler) func() {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	id := b.nextID()
	b.revealSubs = append(b.revealSubs, subscriber[RevealQueueHandler]{id: id, fn: h})
	return func() { b.unsubscribe(id) }
}

func (b *Bus) nextID() int {
	b.nextSub++
	return b.nextSub
}

func (b *Bus) unsubscribe(id int) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.eventSubs = without(b.eventSubs, id)
	b.stateSubs = without(b.stateSubs, id)
	b.revealSubs = without(b.revealSubs, id)
}

func without[H any](subs []subscriber[H], id int) []subscriber[H] {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

func (b *Bus) notifyEvent(ev engagement.Event) {
	b.subMu.Lock()
	subs := append([]subscriber[EventHandler](nil), b.eventSubs...)
	b.subMu.Unlock()
	for _, s := range subs {
		s.fn(ev)
	}
}

func (b *Bus) notifyState(snap engagement.Snapshot) {
	b.subMu.Lock()
	subs := append([]subscriber[StateHandler](nil), b.stateSubs...)
	b.subMu.Unlock()
	for _, s := range subs {
		s.fn(engagement.Snapshot{State: snap.Clone(), MinutesActive: snap.MinutesActive, Stage: snap.Stage})
	}
}

func (b *Bus) notifyQueue(queue []triggers.QueueItem) {
	b.subMu.Lock()
	subs := append([]subscriber[RevealQueueHandler](nil), b.revealSubs...)
	b.subMu.Unlock()
	for _, s := range subs {
		s.fn(cloneQueue(queue))
	}
}

func cloneQueue(q []triggers.QueueItem) []triggers.QueueItem {
	out := make([]triggers.QueueItem, len(q))
	copy(out, q)
	return out
}

func sameQueue(a, b []triggers.QueueItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type != b[i].Type || a[i].Priority != b[i].Priority || a[i].TriggerID != b[i].TriggerID {
			return false
		}
	}
	return true
}

func isMilestoneFlag(key string) bool {
	return strings.HasPrefix(key, "milestone_")
}
