package engagement

import (
	"fmt"
	"strings"
)

// Stage is the ordinal engagement stage of a session.
type Stage int

const (
	StageArrival Stage = iota
	StageOriented
	StageExploring
	StageEngaged
)

var stageNames = [...]string{"ARRIVAL", "ORIENTED", "EXPLORING", "ENGAGED"}

// contextStageNames maps session stages onto context-field stage names.
var contextStageNames = [...]string{"genesis", "exploration", "synthesis", "advocacy"}

func (s Stage) String() string {
	if s < StageArrival || s > StageEngaged {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// ContextStage returns the context-fields name for s.
func (s Stage) ContextStage() string {
	if s < StageArrival || s > StageEngaged {
		return contextStageNames[0]
	}
	return contextStageNames[s]
}

// ParseStage accepts either the session name (ENGAGED) or the context name
// (advocacy), case-insensitively.
func ParseStage(name string) (Stage, error) {
	for i := range stageNames {
		if strings.EqualFold(name, stageNames[i]) || strings.EqualFold(name, contextStageNames[i]) {
			return Stage(i), nil
		}
	}
	return StageArrival, fmt.Errorf("unknown stage %q", name)
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(b []byte) error {
	parsed, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Counters are the stage inputs. Values are float64 so that thresholds and
// counts are compared literally, including fractional or negative values.
type Counters struct {
	Exchanges      float64
	TotalExchanges float64
	Topics         float64
	Visits         float64
	Sprouts        float64
}

// Counters extracts the stage inputs from s.
func (s State) Counters() Counters {
	return Counters{
		Exchanges:      float64(s.ExchangeCount),
		TotalExchanges: float64(s.TotalExchangeCount),
		Topics:         float64(len(s.TopicsExplored)),
		Visits:         float64(s.VisitCount),
		Sprouts:        float64(s.SproutsCaptured),
	}
}

// OrientedThresholds gate the ORIENTED stage (either condition).
type OrientedThresholds struct {
	MinExchanges float64 `yaml:"min_exchanges" json:"minExchanges"`
	MinVisits    float64 `yaml:"min_visits" json:"minVisits"`
}

// ExploringThresholds gate the EXPLORING stage (either condition).
type ExploringThresholds struct {
	MinExchanges float64 `yaml:"min_exchanges" json:"minExchanges"`
	MinTopics    float64 `yaml:"min_topics" json:"minTopics"`
}

// EngagedThresholds gate ENGAGED: sprouts, or visits and total exchanges together.
type EngagedThresholds struct {
	MinSprouts        float64 `yaml:"min_sprouts" json:"minSprouts"`
	MinVisits         float64 `yaml:"min_visits" json:"minVisits"`
	MinTotalExchanges float64 `yaml:"min_total_exchanges" json:"minTotalExchanges"`
}

// StageThresholds configures the session stage curve.
type StageThresholds struct {
	Oriented  OrientedThresholds  `yaml:"oriented" json:"oriented"`
	Exploring ExploringThresholds `yaml:"exploring" json:"exploring"`
	Engaged   EngagedThresholds   `yaml:"engaged" json:"engaged"`
}

// DefaultStageThresholds returns the default engagement curve.
func DefaultStageThresholds() StageThresholds {
	return StageThresholds{
		Oriented:  OrientedThresholds{MinExchanges: 3, MinVisits: 2},
		Exploring: ExploringThresholds{MinExchanges: 5, MinTopics: 2},
		Engaged:   EngagedThresholds{MinSprouts: 1, MinVisits: 3, MinTotalExchanges: 15},
	}
}

// ComputeSessionStage maps counters to a stage. Stages are checked from the
// highest down, so a state meeting several stages gets the highest one.
func ComputeSessionStage(c Counters, t StageThresholds) Stage {
	switch {
	case c.Sprouts >= t.Engaged.MinSprouts ||
		(c.Visits >= t.Engaged.MinVisits && c.TotalExchanges >= t.Engaged.MinTotalExchanges):
		return StageEngaged
	case c.Exchanges >= t.Exploring.MinExchanges || c.Topics >= t.Exploring.MinTopics:
		return StageExploring
	case c.Exchanges >= t.Oriented.MinExchanges || c.Visits >= t.Oriented.MinVisits:
		return StageOriented
	default:
		return StageArrival
	}
}

// MomentThresholds are the exchange counts at which the local conversational
// stage advances. ARRIVAL starts at Arrival exchanges.
type MomentThresholds struct {
	Arrival   float64 `yaml:"arrival" json:"arrival"`
	Oriented  float64 `yaml:"oriented" json:"oriented"`
	Exploring float64 `yaml:"exploring" json:"exploring"`
	Engaged   float64 `yaml:"engaged" json:"engaged"`
}

// DefaultMomentThresholds returns 0/1/3/6.
func DefaultMomentThresholds() MomentThresholds {
	return MomentThresholds{Arrival: 0, Oriented: 1, Exploring: 3, Engaged: 6}
}

// ComputeMomentStage maps the exchange count of the current conversation to a
// stage: local conversational momentum, not session maturity.
func ComputeMomentStage(exchangeCount float64, t MomentThresholds) Stage {
	switch {
	case exchangeCount >= t.Engaged:
		return StageEngaged
	case exchangeCount >= t.Exploring:
		return StageExploring
	case exchangeCount >= t.Oriented:
		return StageOriented
	default:
		return StageArrival
	}
}
