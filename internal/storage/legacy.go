package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"grove/internal/engagement"
)

// LegacyTelemetryKey held lifetime counters before the engagement bus
// existed.
const LegacyTelemetryKey = "grove-telemetry"

// LegacyTelemetry is the shape of the old telemetry record.
type LegacyTelemetry struct {
	TotalExchangeCount int      `json:"totalExchangeCount"`
	SproutsCaptured    int      `json:"sproutsCaptured"`
	VisitCount         int      `json:"visitCount"`
	AllTopicsExplored  []string `json:"allTopicsExplored"`
}

// MergeInto folds the legacy counters into s, keeping the larger of each
// counter and the union of topics.
func (l LegacyTelemetry) MergeInto(s engagement.State) engagement.State {
	out := s.Clone()
	out.TotalExchangeCount = max(out.TotalExchangeCount, l.TotalExchangeCount)
	out.SproutsCaptured = max(out.SproutsCaptured, l.SproutsCaptured)
	out.VisitCount = max(out.VisitCount, l.VisitCount, 1)
	for _, t := range l.AllTopicsExplored {
		if t != "" && !slices.Contains(out.TopicsExplored, t) {
			out.TopicsExplored = append(out.TopicsExplored, t)
		}
	}
	return out
}

// TakeLegacyTelemetry reads and deletes the legacy record. ok is false when
// there is nothing to merge. A record that fails to parse is still deleted.
func TakeLegacyTelemetry(st Store) (LegacyTelemetry, bool, error) {
	raw, err := st.Get(LegacyTelemetryKey)
	if errors.Is(err, ErrNotFound) {
		return LegacyTelemetry{}, false, nil
	}
	if err != nil {
		return LegacyTelemetry{}, false, err
	}

	var l LegacyTelemetry
	parseErr := json.Unmarshal(raw, &l)
	if err := st.Delete(LegacyTelemetryKey); err != nil {
		return LegacyTelemetry{}, false, fmt.Errorf("failed to remove legacy telemetry: %w", err)
	}
	if parseErr != nil {
		return LegacyTelemetry{}, false, fmt.Errorf("malformed legacy telemetry: %w", parseErr)
	}
	return l, true, nil
}
