package bus

import (
	"errors"
	"maps"
	"time"

	"grove/internal/engagement"
	"grove/internal/entropy"
	"grove/internal/logging"
	"grove/internal/storage"
	"grove/internal/triggers"
)

// restore populates the bus from its store. It runs once, before the bus is
// shared, so it needs no locking.
func (b *Bus) restore() {
	now := b.now()
	dirty := false

	var st engagement.State
	if ok := b.load(KeyState, &st); ok {
		st = st.Normalize()
	} else {
		st = engagement.DefaultState(b.newSessionID(), now)
		dirty = true
	}
	if st.SessionID == "" {
		st.SessionID = b.newSessionID()
		dirty = true
	}
	if st.SessionStartedAt.IsZero() {
		st.SessionStartedAt = now
	}
	if st.LastActivityAt.IsZero() {
		st.LastActivityAt = st.SessionStartedAt
	}

	if b.timeout > 0 && now.Sub(st.LastActivityAt) > b.timeout {
		prev, idle := st.SessionID, now.Sub(st.LastActivityAt)
		st = b.rollSession(st, now)
		logging.Bus("session %s idle for %s, starting %s (visit %d)",
			prev, idle.Round(time.Second), st.SessionID, st.VisitCount)
		dirty = true
	}

	legacy, ok, err := storage.TakeLegacyTelemetry(b.store)
	switch {
	case err != nil:
		logging.StoreWarn("legacy telemetry: %v", err)
	case ok:
		st = legacy.MergeInto(st)
		logging.Bus("merged legacy telemetry: total=%d visits=%d topics=%d",
			st.TotalExchangeCount, st.VisitCount, len(st.TopicsExplored))
		dirty = true
	}
	b.state = st

	var history []engagement.Event
	if b.load(KeyHistory, &history) {
		if over := len(history) - b.historyLimit; over > 0 {
			history = history[over:]
		}
		b.history = history
	} else {
		b.history = []engagement.Event{}
	}

	es := entropy.DefaultState()
	if !b.load(KeyEntropy, &es) {
		es = entropy.DefaultState()
	}
	b.entropy = es

	b.queue = triggers.Evaluate(b.state.Snap(now, b.thresholds), b.rules)
	if dirty {
		b.persist(KeyState)
	}
}

// rollSession starts a new session on top of s. Lifetime counters carry over;
// session-scoped ones start again.
func (b *Bus) rollSession(s engagement.State, now time.Time) engagement.State {
	out := s.Clone()
	out.SessionID = b.newSessionID()
	out.SessionStartedAt = now
	out.LastActivityAt = now
	out.ExchangeCount = 0
	out.VisitCount++
	maps.DeleteFunc(out.Flags, func(k string, _ bool) bool { return isMilestoneFlag(k) })
	return out
}

// load decodes key into out. It reports false when the key is absent or
// unreadable; the caller then falls back to defaults.
func (b *Bus) load(key string, out interface{}) bool {
	raw, err := b.store.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false
	}
	if err != nil {
		logging.StoreWarn("read %s: %v", key, err)
		b.reportPersistError(key, err)
		return false
	}
	res, err := storage.Decode(raw, out)
	if err != nil {
		logging.StoreWarn("discarding malformed %s: %v", key, err)
		return false
	}
	if res.WasMigrated {
		logging.StoreDebug("%s migrated v%d -> v%d", key, res.FromVersion, res.ToVersion)
	}
	return true
}

// persist writes the named keys. Failures are logged and reported to the
// hook; they never reach the caller.
func (b *Bus) persist(keys ...string) {
	b.mu.RLock()
	values := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		switch k {
		case KeyState:
			values[k] = b.state.Clone()
		case KeyHistory:
			values[k] = append([]engagement.Event{}, b.history...)
		case KeyEntropy:
			values[k] = b.entropy.Clone()
		}
	}
	b.mu.RUnlock()

	now := b.now()
	for _, k := range keys {
		v, ok := values[k]
		if !ok {
			continue
		}
		data, err := storage.Encode(v, now)
		if err == nil {
			err = b.store.Put(k, data)
		}
		if err != nil {
			logging.StoreWarn("persist %s: %v", k, err)
			b.reportPersistError(k, err)
		}
	}
}

func (b *Bus) reportPersistError(key string, err error) {
	if b.onPersistFail != nil {
		b.onPersistFail(key, err)
	}
}
