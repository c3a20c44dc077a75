package moments

import (
	"fmt"
	"hash/fnv"
	"slices"
	"sort"
	"time"

	"github.com/adhocore/gronx"

	"grove/internal/engagement"
	"grove/internal/logging"
)

// Context is the engagement snapshot a moment trigger is evaluated against.
type Context struct {
	SessionID         string
	Stage             engagement.Stage
	ExchangeCount     int
	JourneysCompleted int
	SproutsCaptured   int
	TopicsExplored    []string
	Entropy           float64
	MinutesActive     int
	SessionCount      int
	// ActiveLens and ActiveJourney are "" when nothing is selected.
	ActiveLens    string
	ActiveJourney string
	HasCustomLens bool
	Flags         map[string]bool
	LastShown     map[string]time.Time
}

// ContextOf projects an engagement snapshot into a moment context.
func ContextOf(snap engagement.Snapshot) Context {
	ctx := Context{
		SessionID:         snap.SessionID,
		Stage:             snap.Stage,
		ExchangeCount:     snap.ExchangeCount,
		JourneysCompleted: snap.JourneysCompleted,
		SproutsCaptured:   snap.SproutsCaptured,
		TopicsExplored:    snap.TopicsExplored,
		Entropy:           snap.ComputedEntropy,
		MinutesActive:     snap.MinutesActive,
		SessionCount:      snap.VisitCount,
		ActiveLens:        snap.LensID(),
		HasCustomLens:     snap.HasCustomLens,
		Flags:             snap.Flags,
		LastShown:         snap.MomentLastShown,
	}
	if snap.ActiveJourney != nil {
		ctx.ActiveJourney = snap.ActiveJourney.LensID
	}
	return ctx
}

// Evaluate reports whether t holds in ctx at now. When it does not, reason
// names the first failing condition. seed makes probability gates stable: the
// same seed always lands on the same side of the gate.
func (t Trigger) Evaluate(ctx Context, now time.Time, seed string) (ok bool, reason string) {
	if len(t.Stage) > 0 && !stageListed(t.Stage, ctx.Stage) {
		return false, fmt.Sprintf("stage %s not in %v", ctx.Stage, t.Stage)
	}

	ranges := []struct {
		name  string
		r     *Range
		value float64
	}{
		{"exchangeCount", t.ExchangeCount, float64(ctx.ExchangeCount)},
		{"journeysCompleted", t.JourneysCompleted, float64(ctx.JourneysCompleted)},
		{"sproutsCaptured", t.SproutsCaptured, float64(ctx.SproutsCaptured)},
		{"entropy", t.Entropy, ctx.Entropy},
		{"minutesActive", t.MinutesActive, float64(ctx.MinutesActive)},
		{"sessionCount", t.SessionCount, float64(ctx.SessionCount)},
	}
	for _, rc := range ranges {
		if !rc.r.Contains(rc.value) {
			return false, rc.name + " out of range"
		}
	}

	for _, flag := range sortedKeys(t.Flags) {
		if ctx.Flags[flag] != t.Flags[flag] {
			return false, fmt.Sprintf("flag %s is %v, expected %v", flag, ctx.Flags[flag], t.Flags[flag])
		}
	}

	if !t.Lens.Matches(ctx.ActiveLens) {
		return false, "lens mismatch"
	}
	if !t.Journey.Matches(ctx.ActiveJourney) {
		return false, "journey mismatch"
	}
	if t.HasCustomLens != nil && *t.HasCustomLens != ctx.HasCustomLens {
		return false, "hasCustomLens mismatch"
	}

	if t.Probability != nil && *t.Probability < 1 {
		if roll(seed) >= *t.Probability {
			return false, "probability gate"
		}
	}

	if t.Schedule != nil {
		if ok, reason := t.Schedule.allows(now); !ok {
			return false, reason
		}
	}
	return true, ""
}

func (s *Schedule) allows(now time.Time) (bool, string) {
	utc := now.UTC()
	if len(s.DaysOfWeek) > 0 && !slices.Contains(s.DaysOfWeek, int(utc.Weekday())) {
		return false, "not scheduled today"
	}
	if s.HoursUTC != nil {
		h := utc.Hour()
		if h < s.HoursUTC.Start || h >= s.HoursUTC.End {
			return false, "outside scheduled hours"
		}
	}
	if s.Cron != "" {
		gron := gronx.New()
		due, err := gron.IsDue(s.Cron, utc)
		if err != nil {
			logging.Get(logging.CategoryMoments).Warn("invalid cron %q treated as not due: %v", s.Cron, err)
			return false, "invalid cron"
		}
		if !due {
			return false, "cron not due"
		}
	}
	return true, ""
}

// roll maps seed to a stable value in [0,1). FNV alone leaves the high bits
// nearly unchanged when only trailing bytes differ, so the sum is finalized
// with the murmur3 fmix64 avalanche.
func roll(seed string) float64 {
	h := fnv.New64a()
	h.Write([]byte(seed))
	return float64(fmix64(h.Sum64())>>11) / float64(1<<53)
}

func fmix64(k uint64) uint64 {
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	k *= 0xc4ceb9fe1a85ec53
	k ^= k >> 33
	return k
}

// ShownFlag is the flag recorded when a moment is shown.
func ShownFlag(id string) string {
	return engagement.MomentFlag(id, "shown")
}

// Eligible returns the moments for surface whose trigger holds, highest
// priority first. Equal priorities keep definition order. Reactive (onEvent)
// moments only surface through OnEvent.
func Eligible(all []Moment, ctx Context, surface Surface, now time.Time) []Moment {
	var out []Moment
	for _, m := range all {
		if m.Surface != surface || m.Trigger.OnEvent != "" {
			continue
		}
		if ok, reason := Check(m, ctx, now); !ok {
			logging.Get(logging.CategoryMoments).Debug("%s ineligible: %s", m.ID, reason)
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank() > out[j].Rank() })
	return out
}

// Check applies every gate of m in order: enabled, status, cooldown, once,
// then the trigger.
func Check(m Moment, ctx Context, now time.Time) (bool, string) {
	if !m.IsEnabled() {
		return false, "disabled"
	}
	if !m.IsActive() {
		return false, "status " + m.Status
	}
	if cd := m.Cooldown.Std(); cd > 0 {
		if last, ok := ctx.LastShown[m.ID]; ok && now.Sub(last) < cd {
			return false, "cooling down"
		}
	}
	if m.Once && ctx.Flags[ShownFlag(m.ID)] {
		return false, "already shown"
	}
	return m.Trigger.Evaluate(ctx, now, ctx.SessionID+":"+m.ID)
}

// Top returns the highest-priority eligible moment for surface.
func Top(all []Moment, ctx Context, surface Surface, now time.Time) (Moment, bool) {
	eligible := Eligible(all, ctx, surface, now)
	if len(eligible) == 0 {
		return Moment{}, false
	}
	return eligible[0], true
}

// ActiveIDs returns the IDs of every eligible moment across all surfaces,
// highest priority first. Reactive (onEvent) moments are left to OnEvent.
func ActiveIDs(all []Moment, ctx Context, now time.Time) []string {
	var active []Moment
	for _, m := range all {
		if m.Trigger.OnEvent != "" {
			continue
		}
		if ok, _ := Check(m, ctx, now); ok {
			active = append(active, m)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].Rank() > active[j].Rank() })
	ids := make([]string, len(active))
	for i, m := range active {
		ids[i] = m.ID
	}
	return ids
}

// OnEvent returns the moments that react to event type t and are otherwise
// eligible, highest priority first.
func OnEvent(all []Moment, ctx Context, t engagement.EventType, now time.Time) []Moment {
	var out []Moment
	for _, m := range all {
		if m.Trigger.OnEvent != string(t) {
			continue
		}
		if ok, _ := Check(m, ctx, now); ok {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank() > out[j].Rank() })
	return out
}

func stageListed(names []string, stage engagement.Stage) bool {
	for _, name := range names {
		if s, err := engagement.ParseStage(name); err == nil && s == stage {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
